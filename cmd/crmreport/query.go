package main

import (
	"context"
	"time"

	"github.com/eshaffer321/crmreports-go/pkg/crm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var timeNow = time.Now

func newReportCmd(a *app) *cobra.Command {
	var from, to string
	var days int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run a detailed report over a date range",
	}
	cmd.PersistentFlags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.PersistentFlags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	cmd.PersistentFlags().IntVar(&days, "days", 30, "range length when --from is not set")

	dateRange := func() (crm.DateRange, error) {
		r := crm.LastDays(days, timeNow())
		if from != "" {
			d, err := crm.ParseDate(from)
			if err != nil {
				return r, err
			}
			r.From = d
		}
		if to != "" {
			d, err := crm.ParseDate(to)
			if err != nil {
				return r, err
			}
			r.To = d
		}
		return r, r.Validate()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "agents",
		Short: "Activity per agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := dateRange()
			if err != nil {
				return err
			}
			rows, err := a.client.Reports.Agents(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "campaigns",
		Short: "Activity and deposits per campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := dateRange()
			if err != nil {
				return err
			}
			rows, err := a.client.Reports.Campaigns(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	})

	return cmd
}

func newDashboardCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Read dashboard widgets",
	}
	cmd.PersistentFlags().IntVar(&count, "count", 5, "entries for performers and stats")

	widget := func(use, short string, fetch func(cmd *cobra.Command) (interface{}, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := fetch(cmd)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			},
		}
	}

	cmd.AddCommand(
		widget("performers", "Top performers", func(cmd *cobra.Command) (interface{}, error) {
			return a.client.Dashboard.TopPerformers(cmd.Context(), count)
		}),
		widget("stats", "Latest stats with change from the previous period", func(cmd *cobra.Command) (interface{}, error) {
			stats, err := a.client.Dashboard.LatestStats(cmd.Context(), count)
			if err != nil {
				return nil, err
			}
			changes := map[string]string{}
			for _, key := range []string{crm.StatFollowUp, crm.StatCallBack, crm.StatNoAnswer} {
				changes[key] = stats.PercentageChange(key)
			}
			return map[string]interface{}{"current": stats.Current, "prev": stats.Prev, "change": changes}, nil
		}),
		widget("monthly", "Call activity per month", func(cmd *cobra.Command) (interface{}, error) {
			return a.client.Dashboard.MonthlyStatus(cmd.Context())
		}),
		widget("achieved", "Sales and retention totals", func(cmd *cobra.Command) (interface{}, error) {
			points, err := a.client.Dashboard.AchievedChart(cmd.Context())
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"points": points, "summary": crm.AchievedTotals(points)}, nil
		}),
		widget("targets", "Targets against achieved per user", func(cmd *cobra.Command) (interface{}, error) {
			return a.client.Dashboard.UserTargets(cmd.Context())
		}),
		widget("deposits", "Recent running bonus deposits", func(cmd *cobra.Command) (interface{}, error) {
			return a.client.Dashboard.RecentDeposits(cmd.Context())
		}),
	)
	return cmd
}

func newHierarchyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hierarchy",
		Short: "Print the team hierarchy graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := a.client.Hierarchy.Get(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), graph)
		},
	}
}

func newTaskCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "task <id>",
		Short: "Poll a report task until its result is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			payload, err := a.client.Tasks.Resolve(ctx, args[0])
			if err != nil {
				if crm.IsTaskError(err) {
					return errors.Wrapf(err, "task %s", args[0])
				}
				return err
			}
			return printRaw(cmd.OutOrStdout(), payload)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits indefinitely)")
	return cmd
}
