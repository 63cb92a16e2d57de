package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeTokens struct {
	mu          sync.Mutex
	token       string
	invalidated []error
}

func (f *fakeTokens) AccessToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return "", types.ErrNotAuthenticated
	}
	return f.token, nil
}

func (f *fakeTokens) Invalidate(reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	f.invalidated = append(f.invalidated, reason)
}

func newTestFetcher(t *testing.T, url string, tokens TokenSource) *Fetcher {
	t.Helper()
	f, err := NewFetcher(tokens, &Options{
		BaseURL: url,
		RetryConfig: &types.RetryConfig{
			MaxAttempts: types.DefaultMaxAttempts,
			RetryWait:   time.Millisecond,
			MaxWait:     5 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return f
}

func TestFetch_AttachesBearerAndRequestID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "/api/reports/all-agents/", r.URL.Path)
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-01-31", r.URL.Query().Get("to_date"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"task_id":"abc"}`))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, &fakeTokens{token: "access-1"})

	var out struct {
		TaskID string `json:"task_id"`
	}
	err := f.Do(context.Background(), &Request{
		Route: routes.ReportsAllAgents,
		Query: url.Values{"start_date": {"2024-01-01"}, "to_date": {"2024-01-31"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.TaskID)
}

func TestFetch_NoBearerOnUnauthenticatedRoutes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, &fakeTokens{token: "access-1"})
	resp, err := f.Fetch(context.Background(), &Request{
		Route:  routes.TaskResult,
		Params: map[string]string{"id": "t-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestFetch_AnonymousFailsBeforeIO(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	for _, tokens := range []TokenSource{nil, &fakeTokens{}} {
		f := newTestFetcher(t, server.URL, tokens)
		err := f.Do(context.Background(), &Request{Route: routes.Hierarchy}, nil)
		assert.ErrorIs(t, err, types.ErrNotAuthenticated)
		assert.True(t, types.IsAuthError(err))
	}
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestFetch_RetryBudget(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		failFirst int32
		wantHits  int32
		wantErr   bool
	}{
		{"default budget exhausted", 0, 100, 3, true},
		{"recovers on last attempt", 0, 2, 3, false},
		{"recovers on second attempt", 0, 1, 2, false},
		{"single attempt", 1, 100, 1, true},
		{"larger per-request budget", 5, 100, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&hits, 1) <= tt.failFirst {
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"detail":"boom"}`))
					return
				}
				_, _ = w.Write([]byte(`[]`))
			}))
			defer server.Close()

			f := newTestFetcher(t, server.URL, &fakeTokens{token: "a"})
			err := f.Do(context.Background(), &Request{Route: routes.Hierarchy, Attempts: tt.attempts}, nil)

			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrHTTP)
			var apiErr *types.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
			assert.NotEmpty(t, apiErr.RequestID)
			assert.Contains(t, err.Error(), "boom")
		})
	}
}

func TestFetch_UnauthorizedIsRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "a"}
	f := newTestFetcher(t, server.URL, tokens)
	err := f.Do(context.Background(), &Request{Route: routes.Hierarchy}, nil)

	assert.ErrorIs(t, err, types.ErrHTTP)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Empty(t, tokens.invalidated)
}

func TestFetch_ForbiddenInvalidatesWithoutRetry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "a"}
	f := newTestFetcher(t, server.URL, tokens)
	err := f.Do(context.Background(), &Request{Route: routes.Hierarchy, Attempts: 5}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrForbidden)
	assert.True(t, types.IsAuthError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	require.Len(t, tokens.invalidated, 1)
	assert.ErrorIs(t, tokens.invalidated[0], types.ErrForbidden)

	// the session is gone, so the next call never reaches the server
	err = f.Do(context.Background(), &Request{Route: routes.Hierarchy}, nil)
	assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetch_ForbiddenAfterRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "a"}
	f := newTestFetcher(t, server.URL, tokens)
	err := f.Do(context.Background(), &Request{Route: routes.Hierarchy}, nil)

	assert.ErrorIs(t, err, types.ErrForbidden)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Len(t, tokens.invalidated, 1)
}

func TestFetch_NetworkErrorSpendsBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	f := newTestFetcher(t, addr, &fakeTokens{token: "a"})
	err := f.Do(context.Background(), &Request{Route: routes.Hierarchy}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHTTP)
	assert.True(t, types.IsRetryable(err))
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestFetch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f, err := NewFetcher(&fakeTokens{token: "a"}, &Options{
		BaseURL:     server.URL,
		RetryConfig: &types.RetryConfig{MaxAttempts: 10, RetryWait: time.Second, MaxWait: time.Second},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = f.Do(ctx, &Request{Route: routes.Hierarchy}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_Hooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var requests, responses int32
	f, err := NewFetcher(&fakeTokens{token: "a"}, &Options{
		BaseURL: server.URL,
		Hooks: &types.Hooks{
			OnRequest:  func(ctx context.Context, req *http.Request) { atomic.AddInt32(&requests, 1) },
			OnResponse: func(ctx context.Context, resp *http.Response, d time.Duration) { atomic.AddInt32(&responses, 1) },
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.Do(context.Background(), &Request{Route: routes.Hierarchy}, nil))
	assert.Equal(t, int32(1), requests)
	assert.Equal(t, int32(1), responses)
}

func TestFetch_RateLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	// burst of one: the second call must wait longer than the deadline
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	f, err := NewFetcher(&fakeTokens{token: "a"}, &Options{BaseURL: server.URL, RateLimiter: limiter})
	require.NoError(t, err)

	require.NoError(t, f.Do(context.Background(), &Request{Route: routes.Hierarchy}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.Do(ctx, &Request{Route: routes.Hierarchy}, nil)
	assert.Error(t, err)
}

func TestFetch_UnknownRoute(t *testing.T) {
	f := newTestFetcher(t, "http://127.0.0.1:1", &fakeTokens{token: "a"})
	err := f.Do(context.Background(), &Request{Route: "nope"}, nil)
	assert.Error(t, err)
}

func TestCheckRetry(t *testing.T) {
	withBudget := func(n int) context.Context {
		return context.WithValue(context.Background(), budgetKey, types.NewRetryBudget(n))
	}

	tests := []struct {
		name   string
		ctx    context.Context
		status int
		err    error
		retry  bool
	}{
		{"ok", withBudget(3), http.StatusOK, nil, false},
		{"accepted", withBudget(3), http.StatusAccepted, nil, false},
		{"forbidden", withBudget(3), http.StatusForbidden, nil, false},
		{"server error with budget", withBudget(3), http.StatusInternalServerError, nil, true},
		{"server error last unit", withBudget(1), http.StatusInternalServerError, nil, false},
		{"transport error", withBudget(2), 0, errors.New("dial"), true},
		{"no budget in context", context.Background(), http.StatusInternalServerError, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.status != 0 {
				resp = &http.Response{StatusCode: tt.status}
			}
			retry, err := checkRetry(tt.ctx, resp, tt.err)
			assert.NoError(t, err)
			assert.Equal(t, tt.retry, retry)
		})
	}

	ctx, cancel := context.WithCancel(withBudget(3))
	cancel()
	retry, err := checkRetry(ctx, nil, errors.New("dial"))
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJitterBackoff_StaysWithinBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 100*time.Millisecond
	for attempt := 0; attempt < 10; attempt++ {
		ceiling := min << attempt
		if ceiling > max {
			ceiling = max
		}
		for i := 0; i < 50; i++ {
			wait := jitterBackoff(min, max, attempt, nil)
			assert.GreaterOrEqual(t, wait, time.Duration(0))
			assert.LessOrEqual(t, wait, ceiling)
		}
	}

	assert.Zero(t, jitterBackoff(0, max, 3, nil))
}

func TestHandleHTTPError_ServerError_IncludesResponseBody(t *testing.T) {
	f := &Fetcher{}

	tests := []struct {
		name          string
		statusCode    int
		responseBody  []byte
		expectedInMsg string
	}{
		{
			name:          "525 SSL Handshake Failed with HTML body",
			statusCode:    525,
			responseBody:  []byte(`<html><body>SSL Handshake Failed</body></html>`),
			expectedInMsg: "525",
		},
		{
			name:          "500 with DRF detail",
			statusCode:    500,
			responseBody:  []byte(`{"detail": "Database connection failed"}`),
			expectedInMsg: "Database connection failed",
		},
		{
			name:          "502 Bad Gateway with empty body",
			statusCode:    502,
			responseBody:  []byte{},
			expectedInMsg: "502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.handleHTTPError(tt.statusCode, tt.responseBody)

			assert.Equal(t, "SERVER_ERROR", err.Code)
			assert.Equal(t, tt.statusCode, err.StatusCode)
			assert.ErrorIs(t, err, types.ErrHTTP)
			assert.Contains(t, err.Error(), tt.expectedInMsg)
		})
	}
}

func TestHandleHTTPError_StatusDescriptions(t *testing.T) {
	f := &Fetcher{}

	tests := []struct {
		statusCode   int
		expectedDesc string
	}{
		{500, "Internal Server Error"},
		{502, "Bad Gateway"},
		{503, "Service Unavailable"},
		{525, "SSL Handshake Failed"},
		{526, "Invalid SSL Certificate"},
	}

	for _, tt := range tests {
		t.Run(tt.expectedDesc, func(t *testing.T) {
			err := f.handleHTTPError(tt.statusCode, []byte(`error page`))
			assert.Contains(t, err.Error(), tt.expectedDesc)
		})
	}
}

func TestHandleHTTPError_ClientErrors(t *testing.T) {
	f := &Fetcher{}

	err := f.handleHTTPError(http.StatusBadRequest, []byte(`{"detail":"start_date is required"}`))
	assert.Equal(t, "BAD_REQUEST", err.Code)
	assert.Equal(t, "start_date is required", err.Message)
	assert.False(t, types.IsRetryable(err))

	err = f.handleHTTPError(http.StatusNotFound, nil)
	assert.Equal(t, "HTTP_ERROR", err.Code)
	assert.Contains(t, err.Error(), "404")

	err = f.handleHTTPError(http.StatusTooManyRequests, nil)
	assert.True(t, types.IsRetryable(err))
}
