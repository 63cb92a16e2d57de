package crm

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/transport"
	"github.com/pkg/errors"
)

const defaultWidgetCount = 5

// dashboardService implements the DashboardService interface
type dashboardService struct {
	client *Client
}

// TopPerformers returns the leaderboard
func (s *dashboardService) TopPerformers(ctx context.Context, count int) ([]*TopPerformer, error) {
	payload, err := s.client.run(ctx, &transport.Request{
		Route: routes.Performer,
		Query: countQuery(count),
	})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[TopPerformer](payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode top performers")
	}
	return rows, nil
}

// LatestStats returns the current and previous period counters
func (s *dashboardService) LatestStats(ctx context.Context, count int) (*StatsSummary, error) {
	payload, err := s.client.run(ctx, &transport.Request{
		Route: routes.LatestStats,
		Query: countQuery(count),
	})
	if err != nil {
		return nil, err
	}

	summary := &StatsSummary{}
	if err := json.Unmarshal(payload, summary); err != nil {
		return nil, errors.Wrap(err, "failed to decode latest stats")
	}
	if summary.Current == nil {
		summary.Current = map[string]interface{}{}
	}
	if summary.Prev == nil {
		summary.Prev = map[string]interface{}{}
	}
	return summary, nil
}

// MonthlyStatus returns call activity per month
func (s *dashboardService) MonthlyStatus(ctx context.Context) ([]*MonthlyPoint, error) {
	payload, err := s.client.run(ctx, &transport.Request{Route: routes.MonthlyStatus})
	if err != nil {
		return nil, err
	}

	var points []*MonthlyPoint
	if err := json.Unmarshal(payload, &points); err != nil {
		return nil, errors.Wrap(err, "failed to decode monthly status")
	}
	return points, nil
}

// AchievedChart returns sales and retention per day
func (s *dashboardService) AchievedChart(ctx context.Context) ([]*AchievedPoint, error) {
	payload, err := s.client.run(ctx, &transport.Request{Route: routes.ChartAchieved})
	if err != nil {
		return nil, err
	}

	var points []*AchievedPoint
	if err := json.Unmarshal(payload, &points); err != nil {
		return nil, errors.Wrap(err, "failed to decode achieved chart")
	}
	return points, nil
}

// UserTargets returns target charts per user
func (s *dashboardService) UserTargets(ctx context.Context) ([]*UserTargets, error) {
	payload, err := s.client.run(ctx, &transport.Request{Route: routes.ChartTargets})
	if err != nil {
		return nil, err
	}

	var targets []*UserTargets
	if err := json.Unmarshal(payload, &targets); err != nil {
		return nil, errors.Wrap(err, "failed to decode user targets")
	}
	return targets, nil
}

// RecentDeposits returns the running bonus feed. It is answered synchronously.
func (s *dashboardService) RecentDeposits(ctx context.Context) ([]*RecentDeposit, error) {
	var deposits []*RecentDeposit
	if err := s.client.execute(ctx, &transport.Request{Route: routes.RecentRunningBonus}, &deposits); err != nil {
		return nil, err
	}
	return deposits, nil
}

func countQuery(count int) url.Values {
	if count <= 0 {
		count = defaultWidgetCount
	}
	return url.Values{"count": {strconv.Itoa(count)}}
}
