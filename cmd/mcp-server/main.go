package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eshaffer321/crmreports-go/pkg/crm"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient(ctx)
	if err != nil {
		log.Fatalf("failed to initialize CRM client: %v", err)
	}
	defer client.Close()

	// Keep the session alive for as long as the server runs
	client.Session.Start(ctx)

	impl := &mcp.Implementation{
		Name:    "crm-reports",
		Version: "1.0.0",
	}

	server := mcp.NewServer(impl, nil)

	registerTools(server, client)

	// Run server over stdio transport
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// newClient builds a client from CRM_* variables. A stored session in
// CRM_TOKEN_FILE is reused; otherwise CRM_USERNAME and CRM_PASSWORD log in.
func newClient(ctx context.Context) (*crm.Client, error) {
	opts := &crm.ClientOptions{
		BaseURL:   os.Getenv("CRM_URL"),
		TokenFile: os.Getenv("CRM_TOKEN_FILE"),
		SentryDSN: os.Getenv("SENTRY_DSN"),
	}

	client, err := crm.NewClient(opts)
	if err != nil {
		return nil, err
	}

	if client.Session.State() == crm.StateActive {
		return client, nil
	}

	username, password := os.Getenv("CRM_USERNAME"), os.Getenv("CRM_PASSWORD")
	if username == "" || password == "" {
		client.Close()
		return nil, errors.New("CRM_USERNAME and CRM_PASSWORD are required when CRM_TOKEN_FILE holds no session")
	}
	if _, err := client.Session.Login(ctx, username, password); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func registerTools(server *mcp.Server, client *crm.Client) {
	tools := &crmTools{client: client}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_agent_report",
		Description: "Run the all-agents report for a date range. Returns per-agent follow-ups, callbacks, appointments, no-answers and conversions.",
	}, tools.GetAgentReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_campaign_report",
		Description: "Run the all-campaigns report for a date range. Returns per-campaign activity counters and total deposits.",
	}, tools.GetCampaignReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_top_performers",
		Description: "Get the dashboard leaderboard of agents with their targets and conversions.",
	}, tools.GetTopPerformers)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_latest_stats",
		Description: "Get follow-up, callback and no-answer counts for the current and previous period with the percentage change.",
	}, tools.GetLatestStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_monthly_status",
		Description: "Get callbacks and follow-ups per month with the change from the previous month.",
	}, tools.GetMonthlyStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_achieved_summary",
		Description: "Get daily sales and retention deposits with totals and averages.",
	}, tools.GetAchievedSummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_recent_deposits",
		Description: "Get the running bonus feed of recent deposits.",
	}, tools.GetRecentDeposits)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_hierarchy",
		Description: "Get the team hierarchy as a list of members and manager-to-report links.",
	}, tools.GetHierarchy)
}
