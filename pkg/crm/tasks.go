package crm

import (
	"context"
	"encoding/json"
)

// taskService implements the TaskService interface
type taskService struct {
	client *Client
}

// Resolve polls a task until the server stops answering 202
func (s *taskService) Resolve(ctx context.Context, taskID string) (json.RawMessage, error) {
	return s.client.poller.Resolve(ctx, taskID)
}
