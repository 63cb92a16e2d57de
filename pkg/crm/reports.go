package crm

import (
	"context"
	"net/url"

	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/transport"
	"github.com/pkg/errors"
)

// reportService implements the ReportService interface
type reportService struct {
	client *Client
}

// Agents runs the all-agents report
func (s *reportService) Agents(ctx context.Context, r DateRange) ([]*AgentRow, error) {
	payload, err := s.submit(ctx, routes.ReportsAllAgents, r)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[AgentRow](payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode agent report")
	}
	return rows, nil
}

// Campaigns runs the all-campaigns report
func (s *reportService) Campaigns(ctx context.Context, r DateRange) ([]*CampaignRow, error) {
	payload, err := s.submit(ctx, routes.ReportsAllCampaigns, r)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[CampaignRow](payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode campaign report")
	}
	return rows, nil
}

func (s *reportService) submit(ctx context.Context, route string, r DateRange) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	return s.client.run(ctx, &transport.Request{
		Route: route,
		Query: url.Values{
			"start_date": {r.From.String()},
			"to_date":    {r.To.String()},
		},
	})
}
