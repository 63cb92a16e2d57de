package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/pkg/crm"
	"github.com/google/renameio/v2"
)

// ValidatorConfig holds configuration for the validator
type ValidatorConfig struct {
	BaseURL   string
	TokenFile string
	OutputDir string
	Verbose   bool
	Timeout   time.Duration
	Checks    []string
}

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Check    string        `json:"check"`
	Route    string        `json:"route"`
	Passed   bool          `json:"passed"`
	Result   interface{}   `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ValidationReport represents the full validation report
type ValidationReport struct {
	Timestamp   time.Time          `json:"timestamp"`
	BaseURL     string             `json:"base_url"`
	TotalTests  int                `json:"total_tests"`
	Passed      int                `json:"passed"`
	Failed      int                `json:"failed"`
	SuccessRate float64            `json:"success_rate"`
	Results     []ValidationResult `json:"results"`
}

func main() {
	config := parseFlags()

	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	client, err := crm.NewClient(&crm.ClientOptions{
		BaseURL:   config.BaseURL,
		TokenFile: config.TokenFile,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if client.Session.State() != crm.StateActive {
		log.Fatalf("No session in %s; run `crmreport login` first", config.TokenFile)
	}

	validator := NewValidator(config, client, http.DefaultClient)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	report := validator.Run(ctx)

	reportPath := filepath.Join(config.OutputDir, fmt.Sprintf("validation_report_%d.json", time.Now().Unix()))
	if err := saveReport(report, reportPath); err != nil {
		log.Fatalf("Failed to save report: %v", err)
	}

	printSummary(report)

	// Exit with non-zero if any check failed
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() *ValidatorConfig {
	config := &ValidatorConfig{}

	flag.StringVar(&config.BaseURL, "url", envOr("CRM_URL", crm.DefaultBaseURL), "CRM API base URL")
	flag.StringVar(&config.TokenFile, "token-file", os.Getenv("CRM_TOKEN_FILE"), "Token file written by crmreport login")
	flag.StringVar(&config.OutputDir, "output", "./validation_results", "Output directory for results")
	flag.BoolVar(&config.Verbose, "verbose", false, "Verbose output")
	flag.DurationVar(&config.Timeout, "timeout", 5*time.Minute, "Overall time limit")

	checkList := flag.String("checks", "", "Comma-separated list of checks to run (empty for all)")

	flag.Parse()

	if *checkList != "" {
		config.Checks = strings.Split(*checkList, ",")
	}

	return config
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// operation runs one client call and summarises what came back
type operation struct {
	route string
	run   func(ctx context.Context, c *crm.Client) (interface{}, error)
}

var operations = map[string]operation{
	"agents_report": {routes.ReportsAllAgents, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		rows, err := c.Reports.Agents(ctx, crm.LastDays(7, time.Now()))
		return count(len(rows)), err
	}},
	"campaigns_report": {routes.ReportsAllCampaigns, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		rows, err := c.Reports.Campaigns(ctx, crm.LastDays(7, time.Now()))
		return count(len(rows)), err
	}},
	"top_performers": {routes.Performer, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		rows, err := c.Dashboard.TopPerformers(ctx, 0)
		return count(len(rows)), err
	}},
	"latest_stats": {routes.LatestStats, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		stats, err := c.Dashboard.LatestStats(ctx, 0)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			crm.StatFollowUp: stats.PercentageChange(crm.StatFollowUp),
			crm.StatCallBack: stats.PercentageChange(crm.StatCallBack),
			crm.StatNoAnswer: stats.PercentageChange(crm.StatNoAnswer),
		}, nil
	}},
	"monthly_status": {routes.MonthlyStatus, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		rows, err := c.Dashboard.MonthlyStatus(ctx)
		return count(len(rows)), err
	}},
	"achieved_chart": {routes.ChartAchieved, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		rows, err := c.Dashboard.AchievedChart(ctx)
		return crm.AchievedTotals(rows), err
	}},
	"user_targets": {routes.ChartTargets, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		rows, err := c.Dashboard.UserTargets(ctx)
		return count(len(rows)), err
	}},
	"recent_deposits": {routes.RecentRunningBonus, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		rows, err := c.Dashboard.RecentDeposits(ctx)
		return count(len(rows)), err
	}},
	"hierarchy": {routes.Hierarchy, func(ctx context.Context, c *crm.Client) (interface{}, error) {
		graph, err := c.Hierarchy.Get(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"nodes": len(graph.Nodes), "edges": len(graph.Edges), "roots": len(graph.Roots())}, nil
	}},
}

func count(n int) map[string]int {
	return map[string]int{"count": n}
}

// Validator checks a live backend against the routing table
type Validator struct {
	config *ValidatorConfig
	client *crm.Client
	http   *http.Client
	routes *routes.Table
}

// NewValidator creates a new validator
func NewValidator(config *ValidatorConfig, client *crm.Client, httpClient *http.Client) *Validator {
	return &Validator{
		config: config,
		client: client,
		http:   httpClient,
		routes: routes.MustDefault(),
	}
}

// checks lists the anonymous probe for every bearer route followed by every operation
func (v *Validator) checks() []string {
	if len(v.config.Checks) > 0 {
		return v.config.Checks
	}

	var names []string
	for _, r := range v.routes.List() {
		if r.Auth == routes.AuthBearer {
			names = append(names, "anonymous:"+r.Name)
		}
	}
	for _, r := range v.routes.List() {
		for name, op := range operations {
			if op.route == r.Name {
				names = append(names, name)
			}
		}
	}
	return names
}

// Run executes the validation checks
func (v *Validator) Run(ctx context.Context) *ValidationReport {
	report := &ValidationReport{
		Timestamp: time.Now(),
		BaseURL:   v.config.BaseURL,
		Results:   make([]ValidationResult, 0),
	}

	for _, check := range v.checks() {
		if v.config.Verbose {
			fmt.Printf("Checking %s...\n", check)
		}

		result := v.runCheck(ctx, check)
		report.Results = append(report.Results, result)

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	report.TotalTests = len(report.Results)
	if report.TotalTests > 0 {
		report.SuccessRate = float64(report.Passed) / float64(report.TotalTests) * 100
	}

	return report
}

func (v *Validator) runCheck(ctx context.Context, check string) ValidationResult {
	start := time.Now()
	result := ValidationResult{Check: check}

	if name, ok := strings.CutPrefix(check, "anonymous:"); ok {
		result.Route = name
		status, err := v.probeAnonymous(ctx, name)
		switch {
		case err != nil:
			result.Error = err.Error()
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			result.Passed = true
			result.Result = map[string]int{"status": status}
		default:
			result.Error = fmt.Sprintf("route answered %d without a token, want 401 or 403", status)
		}
		result.Duration = time.Since(start)
		return result
	}

	op, ok := operations[check]
	if !ok {
		result.Error = fmt.Sprintf("unknown check: %s", check)
		return result
	}
	result.Route = op.route

	out, err := op.run(ctx, v.client)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Passed = true
		result.Result = out
	}
	result.Duration = time.Since(start)

	if !result.Passed && v.config.Verbose {
		fmt.Printf("  %s failed: %s\n", check, result.Error)
	}

	return result
}

// probeAnonymous sends one request without Authorization and returns the status
func (v *Validator) probeAnonymous(ctx context.Context, name string) (int, error) {
	route, err := v.routes.Get(name)
	if err != nil {
		return 0, err
	}
	if strings.Contains(route.Path, "{") {
		return 0, fmt.Errorf("route %s needs path parameters", name)
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, strings.TrimRight(v.config.BaseURL, "/")+route.Path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", crm.UserAgent)

	resp, err := v.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func saveReport(report *ValidationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

func printSummary(report *ValidationReport) {
	fmt.Println("\n=== Validation Report ===")
	fmt.Printf("Backend: %s\n", report.BaseURL)
	fmt.Printf("Total Checks: %d\n", report.TotalTests)
	fmt.Printf("Passed: %d\n", report.Passed)
	fmt.Printf("Failed: %d\n", report.Failed)
	fmt.Printf("Success Rate: %.1f%%\n", report.SuccessRate)

	for _, r := range report.Results {
		if !r.Passed {
			fmt.Printf("  FAIL %-28s %s\n", r.Check, r.Error)
		}
	}
}
