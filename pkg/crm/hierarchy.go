package crm

import (
	"context"

	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/transport"
)

// hierarchyService implements the HierarchyService interface
type hierarchyService struct {
	client *Client
}

// Get returns the team hierarchy with string ids
func (s *hierarchyService) Get(ctx context.Context) (*Graph, error) {
	graph := &Graph{}
	if err := s.client.execute(ctx, &transport.Request{Route: routes.Hierarchy}, graph); err != nil {
		return nil, err
	}
	if graph.Nodes == nil {
		graph.Nodes = []*Node{}
	}
	if graph.Edges == nil {
		graph.Edges = []*Edge{}
	}
	return graph, nil
}
