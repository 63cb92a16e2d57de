package routes

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var routesFS embed.FS

// AuthMode says whether a route carries the bearer token
type AuthMode string

const (
	AuthBearer AuthMode = "bearer"
	AuthNone   AuthMode = "none"
)

// Route names
const (
	TokenObtain         = "token_obtain"
	TokenRefresh        = "token_refresh"
	TaskResult          = "task_result"
	ReportsAllAgents    = "reports_all_agents"
	ReportsAllCampaigns = "reports_all_campaigns"
	Hierarchy           = "hierarchy"
	Performer           = "performer"
	LatestStats         = "latest_stats"
	MonthlyStatus       = "monthly_status"
	ChartAchieved       = "chart_achieved"
	ChartTargets        = "chart_targets"
	RecentRunningBonus  = "recent_running_bonus"
)

// Route describes one backend endpoint
type Route struct {
	Name     string   `yaml:"name"`
	Method   string   `yaml:"method"`
	Path     string   `yaml:"path"`
	Auth     AuthMode `yaml:"auth"`
	Async    bool     `yaml:"async"`
	Envelope string   `yaml:"envelope"`
}

// Expand substitutes {name} placeholders with path-escaped values
func (r *Route) Expand(params map[string]string) string {
	path := r.Path
	for k, v := range params {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	return path
}

// Table is a parsed routing table
type Table struct {
	routes map[string]*Route
	order  []string
}

// Get returns the named route
func (t *Table) Get(name string) (*Route, error) {
	r, ok := t.routes[name]
	if !ok {
		return nil, fmt.Errorf("unknown route %q", name)
	}
	return r, nil
}

// MustGet returns the named route and panics if it is missing
func (t *Table) MustGet(name string) *Route {
	r, err := t.Get(name)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns every route in file order
func (t *Table) List() []*Route {
	out := make([]*Route, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.routes[name])
	}
	return out
}

// Parse decodes a routing table; unknown fields are rejected
func Parse(data []byte) (*Table, error) {
	var doc struct {
		Routes []*Route `yaml:"routes"`
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse routes: %w", err)
	}

	t := &Table{routes: make(map[string]*Route, len(doc.Routes))}
	for _, r := range doc.Routes {
		if err := validate(r); err != nil {
			return nil, err
		}
		if _, dup := t.routes[r.Name]; dup {
			return nil, fmt.Errorf("duplicate route %q", r.Name)
		}
		t.routes[r.Name] = r
		t.order = append(t.order, r.Name)
	}

	return t, nil
}

func validate(r *Route) error {
	if r.Name == "" {
		return fmt.Errorf("route without name")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("route %q: path must start with /", r.Name)
	}
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("route %q: unsupported method %q", r.Name, r.Method)
	}
	// every route must be classified explicitly
	switch r.Auth {
	case AuthBearer, AuthNone:
	default:
		return fmt.Errorf("route %q: auth must be %q or %q", r.Name, AuthBearer, AuthNone)
	}
	if r.Envelope != "" && r.Envelope != "data" {
		return fmt.Errorf("route %q: unsupported envelope %q", r.Name, r.Envelope)
	}
	return nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the embedded routing table, parsed once
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		data, err := routesFS.ReadFile("routes.yaml")
		if err != nil {
			defaultErr = fmt.Errorf("failed to load routes: %w", err)
			return
		}
		defaultTable, defaultErr = Parse(data)
	})
	return defaultTable, defaultErr
}

// MustDefault returns the embedded table and panics on error (for initialization)
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(fmt.Sprintf("failed to load routing table: %v", err))
	}
	return t
}
