package main

import (
	"context"
	"fmt"
	"time"

	"github.com/eshaffer321/crmreports-go/pkg/crm"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// crmTools holds the CRM client and implements all tool handlers
type crmTools struct {
	client *crm.Client
}

var now = time.Now

// RangeInput selects the days a report covers
type RangeInput struct {
	StartDate string `json:"startDate,omitempty" jsonschema:"First day in YYYY-MM-DD format (optional, defaults to 30 days ago)"`
	EndDate   string `json:"endDate,omitempty" jsonschema:"Last day in YYYY-MM-DD format (optional, defaults to today)"`
}

func (in RangeInput) dateRange() (crm.DateRange, error) {
	r := crm.LastDays(30, now())
	if in.StartDate != "" {
		d, err := crm.ParseDate(in.StartDate)
		if err != nil {
			return r, fmt.Errorf("invalid startDate: %w", err)
		}
		r.From = d
	}
	if in.EndDate != "" {
		d, err := crm.ParseDate(in.EndDate)
		if err != nil {
			return r, fmt.Errorf("invalid endDate: %w", err)
		}
		r.To = d
	}
	return r, r.Validate()
}

type AgentEntry struct {
	AgentID     string `json:"agentId" jsonschema:"Agent ID"`
	Agent       string `json:"agent" jsonschema:"Agent name"`
	FollowUp    int    `json:"followUp" jsonschema:"Follow-ups logged"`
	CallBack    int    `json:"callBack" jsonschema:"Callbacks logged"`
	Appointment int    `json:"appointment" jsonschema:"Appointments booked"`
	NoAnswer    int    `json:"noAnswer" jsonschema:"Calls without answer"`
	Converted   int    `json:"converted" jsonschema:"Leads converted"`
}

type GetAgentReportOutput struct {
	StartDate string       `json:"startDate" jsonschema:"First day covered"`
	EndDate   string       `json:"endDate" jsonschema:"Last day covered"`
	Agents    []AgentEntry `json:"agents" jsonschema:"One row per agent"`
	Count     int          `json:"count" jsonschema:"Number of agents"`
}

func (t *crmTools) GetAgentReport(ctx context.Context, req *mcp.CallToolRequest, input RangeInput) (*mcp.CallToolResult, GetAgentReportOutput, error) {
	r, err := input.dateRange()
	if err != nil {
		return nil, GetAgentReportOutput{}, err
	}

	rows, err := t.client.Reports.Agents(ctx, r)
	if err != nil {
		return nil, GetAgentReportOutput{}, fmt.Errorf("failed to run agent report: %w", err)
	}

	entries := make([]AgentEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, AgentEntry{
			AgentID:     row.Agent.ID.String(),
			Agent:       row.Agent.Name,
			FollowUp:    row.FollowUp,
			CallBack:    row.CallBack,
			Appointment: row.Appointment,
			NoAnswer:    row.NoAnswer,
			Converted:   row.Converted,
		})
	}

	return nil, GetAgentReportOutput{
		StartDate: r.From.String(),
		EndDate:   r.To.String(),
		Agents:    entries,
		Count:     len(entries),
	}, nil
}

type CampaignEntry struct {
	Campaign     string  `json:"campaign" jsonschema:"Campaign name"`
	FollowUp     int     `json:"followUp" jsonschema:"Follow-ups logged"`
	CallBack     int     `json:"callBack" jsonschema:"Callbacks logged"`
	Appointment  int     `json:"appointment" jsonschema:"Appointments booked"`
	NoAnswer     int     `json:"noAnswer" jsonschema:"Calls without answer"`
	Converted    int     `json:"converted" jsonschema:"Leads converted"`
	TotalDeposit float64 `json:"totalDeposit" jsonschema:"Sum of deposits"`
}

type GetCampaignReportOutput struct {
	StartDate string          `json:"startDate" jsonschema:"First day covered"`
	EndDate   string          `json:"endDate" jsonschema:"Last day covered"`
	Campaigns []CampaignEntry `json:"campaigns" jsonschema:"One row per campaign"`
	Count     int             `json:"count" jsonschema:"Number of campaigns"`
}

func (t *crmTools) GetCampaignReport(ctx context.Context, req *mcp.CallToolRequest, input RangeInput) (*mcp.CallToolResult, GetCampaignReportOutput, error) {
	r, err := input.dateRange()
	if err != nil {
		return nil, GetCampaignReportOutput{}, err
	}

	rows, err := t.client.Reports.Campaigns(ctx, r)
	if err != nil {
		return nil, GetCampaignReportOutput{}, fmt.Errorf("failed to run campaign report: %w", err)
	}

	entries := make([]CampaignEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, CampaignEntry{
			Campaign:     row.Campaign.Name,
			FollowUp:     row.FollowUp,
			CallBack:     row.CallBack,
			Appointment:  row.Appointment,
			NoAnswer:     row.NoAnswer,
			Converted:    row.Converted,
			TotalDeposit: row.TotalDeposit,
		})
	}

	return nil, GetCampaignReportOutput{
		StartDate: r.From.String(),
		EndDate:   r.To.String(),
		Campaigns: entries,
		Count:     len(entries),
	}, nil
}

// CountInput limits leaderboard style widgets
type CountInput struct {
	Count int `json:"count,omitempty" jsonschema:"Number of entries (default: 5)"`
}

type PerformerEntry struct {
	Agent      string  `json:"agent" jsonschema:"Agent name"`
	Email      string  `json:"email,omitempty" jsonschema:"Agent email"`
	Target     float64 `json:"target" jsonschema:"Agent target"`
	TargetMode string  `json:"targetMode,omitempty" jsonschema:"How the target is measured"`
	FollowUp   int     `json:"followUp" jsonschema:"Follow-ups logged"`
	CallBack   int     `json:"callBack" jsonschema:"Callbacks logged"`
	Converted  int     `json:"converted" jsonschema:"Leads converted"`
}

type GetTopPerformersOutput struct {
	Performers []PerformerEntry `json:"performers" jsonschema:"Best agents first"`
	Count      int              `json:"count" jsonschema:"Number of performers"`
}

func (t *crmTools) GetTopPerformers(ctx context.Context, req *mcp.CallToolRequest, input CountInput) (*mcp.CallToolResult, GetTopPerformersOutput, error) {
	performers, err := t.client.Dashboard.TopPerformers(ctx, input.Count)
	if err != nil {
		return nil, GetTopPerformersOutput{}, fmt.Errorf("failed to fetch top performers: %w", err)
	}

	entries := make([]PerformerEntry, 0, len(performers))
	for _, p := range performers {
		entries = append(entries, PerformerEntry{
			Agent:      p.Agent.Name,
			Email:      p.Agent.Email,
			Target:     p.Agent.Target,
			TargetMode: p.Agent.TargetMode,
			FollowUp:   p.FollowUp,
			CallBack:   p.CallBack,
			Converted:  p.Converted,
		})
	}

	return nil, GetTopPerformersOutput{Performers: entries, Count: len(entries)}, nil
}

type StatEntry struct {
	Stat     string `json:"stat" jsonschema:"Stat name"`
	Current  string `json:"current" jsonschema:"Value this period"`
	Previous string `json:"previous" jsonschema:"Value last period"`
	Change   string `json:"change" jsonschema:"Signed percentage change"`
}

type GetLatestStatsOutput struct {
	Stats []StatEntry `json:"stats" jsonschema:"One entry per stat"`
}

func (t *crmTools) GetLatestStats(ctx context.Context, req *mcp.CallToolRequest, input CountInput) (*mcp.CallToolResult, GetLatestStatsOutput, error) {
	stats, err := t.client.Dashboard.LatestStats(ctx, input.Count)
	if err != nil {
		return nil, GetLatestStatsOutput{}, fmt.Errorf("failed to fetch latest stats: %w", err)
	}

	var entries []StatEntry
	for _, key := range []string{crm.StatFollowUp, crm.StatCallBack, crm.StatNoAnswer} {
		entries = append(entries, StatEntry{
			Stat:     key,
			Current:  stats.Display(key, false),
			Previous: stats.Display(key, true),
			Change:   stats.PercentageChange(key),
		})
	}

	return nil, GetLatestStatsOutput{Stats: entries}, nil
}

type GetMonthlyStatusInput struct {
	// No input parameters needed
}

type MonthEntry struct {
	Month    string   `json:"month" jsonschema:"Month name"`
	CallBack int      `json:"callBack" jsonschema:"Callbacks logged"`
	FollowUp int      `json:"followUp" jsonschema:"Follow-ups logged"`
	Change   *float64 `json:"change,omitempty" jsonschema:"Percentage change of callbacks plus follow-ups from the previous month"`
}

type GetMonthlyStatusOutput struct {
	Months []MonthEntry `json:"months" jsonschema:"Oldest month first"`
}

func (t *crmTools) GetMonthlyStatus(ctx context.Context, req *mcp.CallToolRequest, input GetMonthlyStatusInput) (*mcp.CallToolResult, GetMonthlyStatusOutput, error) {
	points, err := t.client.Dashboard.MonthlyStatus(ctx)
	if err != nil {
		return nil, GetMonthlyStatusOutput{}, fmt.Errorf("failed to fetch monthly status: %w", err)
	}

	entries := make([]MonthEntry, 0, len(points))
	for _, p := range points {
		entry := MonthEntry{Month: p.Month, CallBack: p.CallBack, FollowUp: p.FollowUp}
		if change, ok := crm.MonthlyTrend(points, p.Month); ok {
			entry.Change = &change
		}
		entries = append(entries, entry)
	}

	return nil, GetMonthlyStatusOutput{Months: entries}, nil
}

type GetAchievedSummaryInput struct {
	// No input parameters needed
}

type AchievedEntry struct {
	Date      string  `json:"date" jsonschema:"Day"`
	Sales     float64 `json:"sales" jsonschema:"Sales deposits"`
	Retention float64 `json:"retention" jsonschema:"Retention deposits"`
}

type GetAchievedSummaryOutput struct {
	Days             []AchievedEntry `json:"days" jsonschema:"Deposits per day"`
	Sales            float64         `json:"sales" jsonschema:"Total sales"`
	Retention        float64         `json:"retention" jsonschema:"Total retention"`
	AverageSales     float64         `json:"averageSales" jsonschema:"Average sales per day"`
	AverageRetention float64         `json:"averageRetention" jsonschema:"Average retention per day"`
}

func (t *crmTools) GetAchievedSummary(ctx context.Context, req *mcp.CallToolRequest, input GetAchievedSummaryInput) (*mcp.CallToolResult, GetAchievedSummaryOutput, error) {
	points, err := t.client.Dashboard.AchievedChart(ctx)
	if err != nil {
		return nil, GetAchievedSummaryOutput{}, fmt.Errorf("failed to fetch achieved chart: %w", err)
	}

	totals := crm.AchievedTotals(points)
	out := GetAchievedSummaryOutput{
		Days:             make([]AchievedEntry, 0, len(points)),
		Sales:            totals.Sales,
		Retention:        totals.Retention,
		AverageSales:     totals.AverageSales,
		AverageRetention: totals.AverageRetention,
	}
	for _, p := range points {
		out.Days = append(out.Days, AchievedEntry{Date: p.Date, Sales: p.Sales, Retention: p.Retention})
	}

	return nil, out, nil
}

type GetRecentDepositsInput struct {
	// No input parameters needed
}

type DepositEntry struct {
	ID     string  `json:"id" jsonschema:"Deposit ID"`
	Agent  string  `json:"agent" jsonschema:"Agent name"`
	Amount float64 `json:"amount" jsonschema:"Deposit amount"`
	Date   string  `json:"date" jsonschema:"Day the deposit was added"`
}

type GetRecentDepositsOutput struct {
	Deposits []DepositEntry `json:"deposits" jsonschema:"Most recent first"`
	Count    int            `json:"count" jsonschema:"Number of deposits"`
}

func (t *crmTools) GetRecentDeposits(ctx context.Context, req *mcp.CallToolRequest, input GetRecentDepositsInput) (*mcp.CallToolResult, GetRecentDepositsOutput, error) {
	deposits, err := t.client.Dashboard.RecentDeposits(ctx)
	if err != nil {
		return nil, GetRecentDepositsOutput{}, fmt.Errorf("failed to fetch recent deposits: %w", err)
	}

	entries := make([]DepositEntry, 0, len(deposits))
	for _, d := range deposits {
		entries = append(entries, DepositEntry{
			ID:     d.ID.String(),
			Agent:  d.Agent.Name,
			Amount: d.Amount,
			Date:   d.DateAdded.String(),
		})
	}

	return nil, GetRecentDepositsOutput{Deposits: entries, Count: len(entries)}, nil
}

type GetHierarchyInput struct {
	// No input parameters needed
}

type MemberEntry struct {
	ID      string   `json:"id" jsonschema:"Member ID"`
	Label   string   `json:"label,omitempty" jsonschema:"Display label"`
	Type    string   `json:"type,omitempty" jsonschema:"Node type"`
	Reports []string `json:"reports,omitempty" jsonschema:"IDs of direct reports"`
}

type GetHierarchyOutput struct {
	Members []MemberEntry `json:"members" jsonschema:"Every member of the hierarchy"`
	Roots   []string      `json:"roots" jsonschema:"IDs of members nobody manages"`
}

func (t *crmTools) GetHierarchy(ctx context.Context, req *mcp.CallToolRequest, input GetHierarchyInput) (*mcp.CallToolResult, GetHierarchyOutput, error) {
	graph, err := t.client.Hierarchy.Get(ctx)
	if err != nil {
		return nil, GetHierarchyOutput{}, fmt.Errorf("failed to fetch hierarchy: %w", err)
	}

	out := GetHierarchyOutput{
		Members: make([]MemberEntry, 0, len(graph.Nodes)),
		Roots:   []string{},
	}
	for _, n := range graph.Nodes {
		entry := MemberEntry{ID: n.ID.String(), Type: n.Type}
		if label, ok := n.Data["label"].(string); ok {
			entry.Label = label
		}
		for _, child := range graph.Children(n.ID) {
			entry.Reports = append(entry.Reports, child.String())
		}
		out.Members = append(out.Members, entry)
	}
	for _, root := range graph.Roots() {
		out.Roots = append(out.Roots, root.ID.String())
	}

	return nil, out, nil
}
