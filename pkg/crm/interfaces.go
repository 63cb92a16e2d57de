package crm

import (
	"context"
	"encoding/json"
)

// SessionService handles login and the token lifecycle
type SessionService interface {
	// Login exchanges a username and password for a session
	Login(ctx context.Context, username, password string) (*Identity, error)

	// Logout drops the session; calling it without a session is a no-op
	Logout()

	// Refresh exchanges the refresh token now
	Refresh(ctx context.Context) error

	// Identity returns the decoded identity of the current session
	Identity() (*Identity, bool)

	// State returns the session lifecycle state
	State() SessionState

	// Subscribe registers a listener for session events
	Subscribe(listener func(SessionEvent)) (unsubscribe func())

	// Start runs the background refresh loop until stop is called or ctx ends
	Start(ctx context.Context) (stop func())

	// Ready is closed once the startup refresh has resolved
	Ready() <-chan struct{}
}

// ReportService runs the detailed reports
type ReportService interface {
	// Agents returns per-agent activity for the range
	Agents(ctx context.Context, r DateRange) ([]*AgentRow, error)

	// Campaigns returns per-campaign activity and deposits for the range
	Campaigns(ctx context.Context, r DateRange) ([]*CampaignRow, error)
}

// DashboardService reads the dashboard widgets
type DashboardService interface {
	// TopPerformers returns the best agents; count defaults to 5
	TopPerformers(ctx context.Context, count int) ([]*TopPerformer, error)

	// LatestStats returns current and previous period counters; count defaults to 5
	LatestStats(ctx context.Context, count int) (*StatsSummary, error)

	// MonthlyStatus returns call activity per month
	MonthlyStatus(ctx context.Context) ([]*MonthlyPoint, error)

	// AchievedChart returns sales and retention per day
	AchievedChart(ctx context.Context) ([]*AchievedPoint, error)

	// UserTargets returns target charts per user
	UserTargets(ctx context.Context) ([]*UserTargets, error)

	// RecentDeposits returns the running bonus feed
	RecentDeposits(ctx context.Context) ([]*RecentDeposit, error)
}

// HierarchyService reads the team hierarchy
type HierarchyService interface {
	// Get returns the hierarchy graph
	Get(ctx context.Context) (*Graph, error)
}

// TaskService resolves report tasks directly
type TaskService interface {
	// Resolve polls a task until its result is ready
	Resolve(ctx context.Context, taskID string) (json.RawMessage, error)
}
