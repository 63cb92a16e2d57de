package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/metrics"
	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/transport"
	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a mock implementation of Fetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*transport.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func taskRequest(id string) interface{} {
	return mock.MatchedBy(func(req *transport.Request) bool {
		return req.Route == routes.TaskResult && req.Params["id"] == id && req.Attempts == 1
	})
}

func response(status int, body string) *transport.Response {
	return &transport.Response{StatusCode: status, Body: []byte(body)}
}

// recordWaits makes the poller's wait instant and records each requested duration
func recordWaits(p *Poller) *[]time.Duration {
	var waits []time.Duration
	p.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return &waits
}

func TestResolve_PollsUntilReady(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, taskRequest("t-1")).Return(response(http.StatusAccepted, ""), nil).Times(3)
	fetcher.On("Fetch", mock.Anything, taskRequest("t-1")).Return(response(http.StatusOK, `{"value":42}`), nil).Once()

	p := NewPoller(fetcher, nil)
	waits := recordWaits(p)
	pending := testutil.ToFloat64(metrics.TaskPollsTotal.WithLabelValues(metrics.PollPending))

	payload, err := p.Resolve(context.Background(), "t-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":42}`, string(payload))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, *waits)
	fetcher.AssertNumberOfCalls(t, "Fetch", 4)
	assert.Equal(t, pending+3, testutil.ToFloat64(metrics.TaskPollsTotal.WithLabelValues(metrics.PollPending)))
}

func TestResolve_ImmediateResult(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, taskRequest("t-2")).Return(response(http.StatusOK, `[1,2]`), nil).Once()

	p := NewPoller(fetcher, nil)
	waits := recordWaits(p)

	payload, err := p.Resolve(context.Background(), "  t-2 ")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`[1,2]`), payload)
	assert.Empty(t, *waits)
}

func TestResolve_InvalidTaskIDSkipsNetwork(t *testing.T) {
	fetcher := new(MockFetcher)
	p := NewPoller(fetcher, nil)

	for _, id := range []string{"", "   ", "\t\n"} {
		_, err := p.Resolve(context.Background(), id)
		assert.ErrorIs(t, err, types.ErrInvalidTaskID)
		assert.True(t, types.IsTaskError(err))
	}
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestResolve_NetworkFailureIsPollError(t *testing.T) {
	fetcher := new(MockFetcher)
	netErr := &types.Error{Code: "HTTP_ERROR", Kind: types.ErrHTTP, Err: errors.New("connection refused")}
	fetcher.On("Fetch", mock.Anything, taskRequest("t-3")).Return(nil, netErr).Once()

	p := NewPoller(fetcher, nil)
	_, err := p.Resolve(context.Background(), "t-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPoll)
	assert.True(t, types.IsRetryable(err))
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestResolve_FailedTask(t *testing.T) {
	tests := []struct {
		name   string
		resp   *transport.Response
		err    error
		status int
	}{
		{"non-json body", response(http.StatusOK, `<html>oops</html>`), nil, http.StatusOK},
		{"empty body", response(http.StatusOK, ``), nil, http.StatusOK},
		{"failure state", response(http.StatusOK, `{"status":"FAILURE","data":null}`), nil, http.StatusOK},
		{"lowercase state", response(http.StatusOK, `{"state":"revoked"}`), nil, http.StatusOK},
		{"server error", nil, &types.Error{Code: "SERVER_ERROR", StatusCode: 500, Kind: types.ErrHTTP}, http.StatusInternalServerError},
		{"not found", nil, &types.Error{Code: "HTTP_ERROR", StatusCode: 404, Kind: types.ErrHTTP}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := new(MockFetcher)
			if tt.resp != nil {
				fetcher.On("Fetch", mock.Anything, taskRequest("t-4")).Return(tt.resp, nil).Once()
			} else {
				fetcher.On("Fetch", mock.Anything, taskRequest("t-4")).Return(nil, tt.err).Once()
			}

			p := NewPoller(fetcher, nil)
			_, err := p.Resolve(context.Background(), "t-4")
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrTaskFailed)
			assert.False(t, types.IsRetryable(err))

			var apiErr *types.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestResolve_SuccessStateIsPayload(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, taskRequest("t-5")).Return(response(http.StatusOK, `{"status":"SUCCESS","data":{"n":1}}`), nil).Once()

	payload, err := NewPoller(fetcher, nil).Resolve(context.Background(), "t-5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SUCCESS","data":{"n":1}}`, string(payload))
}

func TestResolve_AuthErrorsPassThrough(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, taskRequest("t-6")).Return(nil, types.ErrNotAuthenticated).Once()

	_, err := NewPoller(fetcher, nil).Resolve(context.Background(), "t-6")
	assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	assert.NotErrorIs(t, err, types.ErrPoll)
}

func TestResolve_Cancellation(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, taskRequest("t-7")).Return(response(http.StatusAccepted, ""), nil)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(fetcher, nil)
	p.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	_, err := p.Resolve(ctx, "t-7")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrPollTimeout)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestResolve_Timeout(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, taskRequest("t-8")).Return(response(http.StatusAccepted, ""), nil)

	p := NewPoller(fetcher, &Options{Interval: time.Millisecond, Timeout: 30 * time.Millisecond})

	start := time.Now()
	_, err := p.Resolve(context.Background(), "t-8")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPollTimeout)
	assert.True(t, types.IsTaskError(err))
	assert.Less(t, time.Since(start), time.Second)
}
