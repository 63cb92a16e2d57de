// Command crmreport runs CRM reports and dashboard queries from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eshaffer321/crmreports-go/internal/config"
	"github.com/eshaffer321/crmreports-go/internal/log"
	"github.com/eshaffer321/crmreports-go/pkg/crm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once the root has loaded config
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	client *crm.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "crmreport",
		Short:         "Query CRM reports and dashboards",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.client != nil {
				a.client.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("CRM_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newSessionCmd(a),
		newReportCmd(a),
		newDashboardCmd(a),
		newHierarchyCmd(a),
		newTaskCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "crmreport"})
	logger := log.NewAdapter(log.WithComponent("cli"))

	client, err := crm.NewClient(cfg.ClientOptions(logger))
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}
	a.client = client
	return nil
}

// exitCode maps auth failures to 2 so scripts can prompt for a new login
func exitCode(err error) int {
	if crm.IsAuthError(err) {
		return 2
	}
	return 1
}
