// Package tasks resolves asynchronous report tasks: it submits the report,
// reads the task id and polls the task endpoint until the result is ready.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/metrics"
	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/transport"
	"github.com/eshaffer321/crmreports-go/internal/types"
	pkgerrors "github.com/pkg/errors"
)

const maxBodyExcerpt = 200

// Fetcher is the part of the transport the poller needs
type Fetcher interface {
	Fetch(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Options configures a poller
type Options struct {
	Interval time.Duration // wait after a 202; defaults to 2s
	Timeout  time.Duration // 0 polls until ctx is done
	Logger   types.Logger
}

// Poller polls the task endpoint until a task leaves the pending state
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	logger   types.Logger

	after func(time.Duration) <-chan time.Time
}

// NewPoller creates a poller
func NewPoller(f Fetcher, opts *Options) *Poller {
	if opts == nil {
		opts = &Options{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = types.DefaultPollInterval
	}
	return &Poller{
		fetcher:  f,
		interval: interval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		after:    time.After,
	}
}

// Resolve polls taskID until the server stops answering 202 and returns the payload
func (p *Poller) Resolve(ctx context.Context, taskID string) (json.RawMessage, error) {
	id := strings.TrimSpace(taskID)
	if id == "" {
		return nil, types.ErrInvalidTaskID
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, p.timeout, types.ErrPollTimeout)
		defer cancel()
	}

	for polls := 1; ; polls++ {
		resp, err := p.fetcher.Fetch(ctx, &transport.Request{
			Route:    routes.TaskResult,
			Params:   map[string]string{"id": id},
			Attempts: 1,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.stopped(ctx, id)
			}
			return nil, p.pollError(id, err)
		}

		if resp.StatusCode == http.StatusAccepted {
			metrics.TaskPollsTotal.WithLabelValues(metrics.PollPending).Inc()
			if p.logger != nil {
				p.logger.Debug("Task pending", "taskId", id, "poll", polls)
			}

			select {
			case <-ctx.Done():
				return nil, p.stopped(ctx, id)
			case <-p.after(p.interval):
			}
			continue
		}

		payload, err := checkPayload(id, resp)
		if err != nil {
			metrics.TaskPollsTotal.WithLabelValues(metrics.PollFailed).Inc()
			if p.logger != nil {
				p.logger.Warn("Task failed", "taskId", id, "status", resp.StatusCode, "error", err)
			}
			return nil, err
		}

		metrics.TaskPollsTotal.WithLabelValues(metrics.PollReady).Inc()
		if p.logger != nil {
			p.logger.Debug("Task ready", "taskId", id, "polls", polls, "size", len(payload))
		}
		return payload, nil
	}
}

// pollError maps a fetch failure. Failures without a response are poll errors,
// rejected statuses mean the task failed.
func (p *Poller) pollError(id string, err error) error {
	if types.IsAuthError(err) {
		return err
	}

	var apiErr *types.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		metrics.TaskPollsTotal.WithLabelValues(metrics.PollFailed).Inc()
		return &types.Error{
			Code:       "TASK_FAILED",
			Message:    fmt.Sprintf("task %s failed with status %d", id, apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			RequestID:  apiErr.RequestID,
			Kind:       types.ErrTaskFailed,
			Err:        err,
		}
	}

	metrics.TaskPollsTotal.WithLabelValues(metrics.PollError).Inc()
	if p.logger != nil {
		p.logger.Warn("Task poll failed", "taskId", id, "error", err)
	}
	return types.WrapError(err, types.ErrPoll, "POLL_ERROR", fmt.Sprintf("polling task %s failed", id))
}

func (p *Poller) stopped(ctx context.Context, id string) error {
	if errors.Is(context.Cause(ctx), types.ErrPollTimeout) {
		metrics.TaskPollsTotal.WithLabelValues(metrics.PollError).Inc()
		return types.NewError(types.ErrPollTimeout, "POLL_TIMEOUT",
			fmt.Sprintf("task %s not ready after %s", id, p.timeout))
	}
	return pkgerrors.Wrapf(ctx.Err(), "polling task %s cancelled", id)
}

// failedStates are task states that mean the result will never arrive
var failedStates = map[string]bool{
	"FAILURE": true,
	"FAILED":  true,
	"ERROR":   true,
	"REVOKED": true,
}

// checkPayload rejects bodies that are not JSON and objects reporting a failed state
func checkPayload(id string, resp *transport.Response) (json.RawMessage, error) {
	body := bytes.TrimSpace(resp.Body)
	if !json.Valid(body) {
		return nil, taskFailed(id, resp, "response is not JSON")
	}

	if len(body) > 0 && body[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err == nil {
			for _, key := range []string{"status", "state"} {
				var state string
				if raw, ok := fields[key]; ok && json.Unmarshal(raw, &state) == nil {
					if failedStates[strings.ToUpper(state)] {
						return nil, taskFailed(id, resp, fmt.Sprintf("task reported %s", state))
					}
				}
			}
		}
	}

	return json.RawMessage(body), nil
}

func taskFailed(id string, resp *transport.Response, reason string) error {
	excerpt := string(resp.Body)
	if len(excerpt) > maxBodyExcerpt {
		excerpt = excerpt[:maxBodyExcerpt] + "..."
	}
	return &types.Error{
		Code:       "TASK_FAILED",
		Message:    fmt.Sprintf("task %s failed: %s", id, reason),
		StatusCode: resp.StatusCode,
		RequestID:  resp.RequestID,
		Details:    map[string]interface{}{"taskId": id, "body": excerpt},
		Kind:       types.ErrTaskFailed,
	}
}
