package tasks

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/eshaffer321/crmreports-go/internal/transport"
	"github.com/eshaffer321/crmreports-go/internal/types"
)

// SessionChecker reports whether a session is still held
type SessionChecker interface {
	AccessToken() (string, error)
}

// Composer runs the submit then poll flow for async routes
type Composer struct {
	fetcher Fetcher
	poller  *Poller
	session SessionChecker
	logger  types.Logger
}

// NewComposer creates a composer. session may be nil.
func NewComposer(f Fetcher, p *Poller, session SessionChecker, logger types.Logger) *Composer {
	return &Composer{
		fetcher: f,
		poller:  p,
		session: session,
		logger:  logger,
	}
}

// Run submits req, reads the task id from the response and resolves it.
// A result that arrives after the session was dropped is discarded.
func (c *Composer) Run(ctx context.Context, req *transport.Request) (json.RawMessage, error) {
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	taskID := extractTaskID(resp.Body)
	if taskID == "" {
		return nil, &types.Error{
			Code:       "NO_TASK_ID",
			Message:    types.ErrNoTaskID.Error(),
			StatusCode: resp.StatusCode,
			RequestID:  resp.RequestID,
			Kind:       types.ErrNoTaskID,
		}
	}

	if c.logger != nil {
		c.logger.Debug("Task submitted", "route", req.Route, "taskId", taskID)
	}

	payload, err := c.poller.Resolve(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if c.session != nil {
		if _, err := c.session.AccessToken(); err != nil {
			if c.logger != nil {
				c.logger.Info("Discarding task result for a closed session", "taskId", taskID)
			}
			return nil, err
		}
	}

	return payload, nil
}

// extractTaskID accepts string and numeric task_id values
func extractTaskID(body []byte) string {
	var submit struct {
		TaskID json.RawMessage `json:"task_id"`
	}
	if err := json.Unmarshal(body, &submit); err != nil || len(submit.TaskID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(submit.TaskID, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(submit.TaskID, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String()
		}
	}
	return ""
}
