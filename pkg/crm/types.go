package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/eshaffer321/crmreports-go/internal/auth"
	"github.com/eshaffer321/crmreports-go/internal/tokenstore"
	"github.com/eshaffer321/crmreports-go/internal/types"
)

// Session types
type (
	Credential   = types.Credential
	Identity     = types.Identity
	RetryConfig  = types.RetryConfig
	Hooks        = types.Hooks
	SessionState = auth.State
	SessionEvent = auth.Event
	TokenStore   = tokenstore.Store
)

// Session states
const (
	StateAnonymous      = auth.StateAnonymous
	StateAuthenticating = auth.StateAuthenticating
	StateActive         = auth.StateActive
	StateRefreshing     = auth.StateRefreshing
	StateExpired        = auth.StateExpired
)

// ID is an identifier the server may send as a number or a string
type ID string

// UnmarshalJSON accepts strings, numbers and null
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", data)
	}
	*id = ID(n.String())
	return nil
}

// String returns the id
func (id ID) String() string {
	return string(id)
}

// AgentRef identifies an agent. Some endpoints send only the name.
type AgentRef struct {
	ID         ID      `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email,omitempty"`
	Target     float64 `json:"target,omitempty"`
	TargetMode string  `json:"target_mode,omitempty"`
}

// UnmarshalJSON accepts an agent object or a bare name
func (a *AgentRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = AgentRef{Name: name}
		return nil
	}
	type plain AgentRef
	return json.Unmarshal(data, (*plain)(a))
}

// CampaignRef identifies a campaign
type CampaignRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// UnmarshalJSON accepts a campaign object or a bare name
func (c *CampaignRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*c = CampaignRef{Name: name}
		return nil
	}
	type plain CampaignRef
	return json.Unmarshal(data, (*plain)(c))
}

// AgentRow is one row of the all-agents report
type AgentRow struct {
	Agent       AgentRef `json:"agent"`
	FollowUp    int      `json:"followUp"`
	CallBack    int      `json:"callBack"`
	Appointment int      `json:"appointment"`
	NoAnswer    int      `json:"noAnswer"`
	Converted   int      `json:"converted"`
}

// CampaignRow is one row of the all-campaigns report
type CampaignRow struct {
	Campaign     CampaignRef `json:"campaign"`
	FollowUp     int         `json:"followUp"`
	CallBack     int         `json:"callBack"`
	Appointment  int         `json:"appointment"`
	NoAnswer     int         `json:"noAnswer"`
	Converted    int         `json:"converted"`
	TotalDeposit float64     `json:"totalDeposit"`
}

// TopPerformer is a dashboard leaderboard entry
type TopPerformer struct {
	Agent     AgentRef `json:"agent"`
	FollowUp  int      `json:"followUp"`
	CallBack  int      `json:"callBack"`
	Converted int      `json:"converted"`
}

// Stat keys reported by the latest-stats endpoint
const (
	StatFollowUp = "follow up"
	StatCallBack = "call back"
	StatNoAnswer = "no answer"
)

// StatsSummary holds this period's and last period's counters
type StatsSummary struct {
	Current map[string]interface{} `json:"current"`
	Prev    map[string]interface{} `json:"prev"`
}

// MonthlyPoint is one month of call activity
type MonthlyPoint struct {
	Month    string `json:"month"`
	CallBack int    `json:"callBack"`
	FollowUp int    `json:"followUp"`
	NoAnswer int    `json:"noAnswer"`
}

// AchievedPoint is one day of sales and retention deposits
type AchievedPoint struct {
	Date      string  `json:"date"`
	Sales     float64 `json:"sales"`
	Retention float64 `json:"retention"`
}

// AchievedSummary aggregates achieved points
type AchievedSummary struct {
	Sales            float64 `json:"sales"`
	Retention        float64 `json:"retention"`
	AverageSales     float64 `json:"averageSales"`
	AverageRetention float64 `json:"averageRetention"`
}

// UserTargets is one user's monthly targets against what they achieved
type UserTargets struct {
	UserInfo  UserInfo       `json:"userInfo"`
	ChartData []*TargetPoint `json:"chartData"`
}

// UserInfo identifies the user a target chart belongs to
type UserInfo struct {
	Username string `json:"username"`
	UserID   ID     `json:"userId"`
}

// TargetPoint is one month of a target chart
type TargetPoint struct {
	Month    string  `json:"month"`
	Targets  float64 `json:"targets"`
	Achieved float64 `json:"achieved"`
}

// RecentDeposit is an entry of the running bonus feed
type RecentDeposit struct {
	ID        ID       `json:"id"`
	Agent     AgentRef `json:"agent"`
	Amount    float64  `json:"amount"`
	DateAdded Date     `json:"dateAdded"`
}

// Graph is the team hierarchy
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Node is a hierarchy member. Fields other than id, type and data are kept in Extra.
type Node struct {
	ID    ID                         `json:"id"`
	Type  string                     `json:"type,omitempty"`
	Data  map[string]interface{}     `json:"data,omitempty"`
	Extra map[string]json.RawMessage `json:"-"`
}

// Edge links a manager to a report. Unknown fields are kept in Extra.
type Edge struct {
	ID     ID                         `json:"id,omitempty"`
	Source ID                         `json:"source"`
	Target ID                         `json:"target"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON normalises the id and keeps unknown fields
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	if err := json.Unmarshal(data, (*plain)(n)); err != nil {
		return err
	}
	extra, err := extraFields(data, "id", "type", "data")
	if err != nil {
		return err
	}
	n.Extra = extra
	return nil
}

// MarshalJSON writes the known fields and Extra back out
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	return mergeExtra(plain(n), n.Extra)
}

// UnmarshalJSON normalises ids and keeps unknown fields
func (e *Edge) UnmarshalJSON(data []byte) error {
	type plain Edge
	if err := json.Unmarshal(data, (*plain)(e)); err != nil {
		return err
	}
	extra, err := extraFields(data, "id", "source", "target")
	if err != nil {
		return err
	}
	e.Extra = extra
	return nil
}

// MarshalJSON writes the known fields and Extra back out
func (e Edge) MarshalJSON() ([]byte, error) {
	type plain Edge
	return mergeExtra(plain(e), e.Extra)
}

// Roots returns the nodes no edge points at, in node order
func (g *Graph) Roots() []*Node {
	targets := make(map[ID]bool, len(g.Edges))
	for _, e := range g.Edges {
		targets[e.Target] = true
	}
	var roots []*Node
	for _, n := range g.Nodes {
		if !targets[n.ID] {
			roots = append(roots, n)
		}
	}
	return roots
}

// Children returns the targets of edges leaving id, in edge order
func (g *Graph) Children(id ID) []ID {
	var out []ID
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e.Target)
		}
	}
	return out
}

func extraFields(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func mergeExtra(v interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return base, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(base, &all); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, known := all[k]; !known {
			all[k] = raw
		}
	}
	return json.Marshal(all)
}

// decodeRows accepts rows as a JSON array or as an object keyed by id.
// Object rows come back ordered by key, numerically when every key is a number.
func decodeRows[T any](payload json.RawMessage) ([]*T, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return []*T{}, nil
	}

	if payload[0] == '[' {
		var rows []*T
		if err := json.Unmarshal(payload, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var keyed map[string]*T
	if err := json.Unmarshal(payload, &keyed); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(keyed))
	numeric := true
	for k := range keyed {
		keys = append(keys, k)
		if _, err := strconv.ParseFloat(k, 64); err != nil {
			numeric = false
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseFloat(keys[i], 64)
			b, _ := strconv.ParseFloat(keys[j], 64)
			return a < b
		}
		return keys[i] < keys[j]
	})

	rows := make([]*T, 0, len(keys))
	for _, k := range keys {
		if keyed[k] != nil {
			rows = append(rows, keyed[k])
		}
	}
	return rows, nil
}
