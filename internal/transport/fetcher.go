package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/metrics"
	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

const (
	authHeaderKey  = "Authorization"
	requestIDKey   = "X-Request-ID"
	contentType    = "application/json"
	maxErrorDetail = 200
)

// TokenSource supplies the bearer token and is told when the server refuses it
type TokenSource interface {
	AccessToken() (string, error)
	Invalidate(reason error)
}

// RateLimiter blocks until a request may be sent. *rate.Limiter satisfies it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Request describes one call against a named route
type Request struct {
	Route    string
	Params   map[string]string // path placeholders
	Query    url.Values
	Body     interface{}
	Attempts int // overrides the client budget when > 0
}

// Response is a completed 2xx exchange
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// Fetcher sends requests with the session's bearer token and a bounded retry budget
type Fetcher struct {
	baseURL     string
	httpClient  *http.Client
	retryClient *retryablehttp.Client
	headers     map[string]string
	tokens      TokenSource
	retry       *types.RetryConfig
	limiter     RateLimiter
	routes      *routes.Table
	logger      types.Logger
	hooks       *types.Hooks
}

type ctxKey int

const (
	budgetKey ctxKey = iota
	routeKey
)

// NewFetcher creates a fetcher that reads tokens from tokens
func NewFetcher(tokens TokenSource, opts *Options) (*Fetcher, error) {
	if opts == nil {
		opts = &Options{}
	}

	// Set defaults
	if opts.BaseURL == "" {
		opts.BaseURL = types.DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: types.DefaultTimeout,
		}
	}
	if opts.RetryConfig == nil {
		opts.RetryConfig = types.DefaultRetryConfig()
	}
	if opts.Routes == nil {
		table, err := routes.Default()
		if err != nil {
			return nil, err
		}
		opts.Routes = table
	}

	f := &Fetcher{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		tokens:     tokens,
		retry:      opts.RetryConfig,
		limiter:    opts.RateLimiter,
		routes:     opts.Routes,
		logger:     opts.Logger,
		hooks:      opts.Hooks,
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = opts.HTTPClient
	// the per-request budget decides when to stop
	retryClient.RetryMax = math.MaxInt32
	retryClient.RetryWaitMin = opts.RetryConfig.RetryWait
	retryClient.RetryWaitMax = opts.RetryConfig.MaxWait
	retryClient.CheckRetry = checkRetry
	retryClient.Backoff = jitterBackoff
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.RequestLogHook = f.logAttempt
	if opts.Logger != nil {
		retryClient.Logger = &retryLogger{logger: opts.Logger}
	} else {
		retryClient.Logger = nil
	}
	f.retryClient = retryClient

	// Set default headers
	headers := map[string]string{
		"Accept":       contentType,
		"Content-Type": contentType,
		"User-Agent":   types.UserAgent,
	}

	// Merge custom headers
	for k, v := range opts.Headers {
		headers[k] = v
	}
	f.headers = headers

	return f, nil
}

// Do fetches req and decodes a JSON body into result when result is non-nil
func (f *Fetcher) Do(ctx context.Context, req *Request, result interface{}) error {
	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return err
	}

	if result != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return errors.Wrap(err, "failed to unmarshal result")
		}
	}

	return nil
}

// Fetch sends req and returns the raw 2xx response
func (f *Fetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	route, err := f.routes.Get(req.Route)
	if err != nil {
		return nil, err
	}

	// Bearer routes need a session before any I/O
	var token string
	if route.Auth == routes.AuthBearer {
		if f.tokens == nil {
			metrics.FetchResultsTotal.WithLabelValues(route.Name, metrics.OutcomeUnauthenticated).Inc()
			return nil, types.ErrNotAuthenticated
		}
		if token, err = f.tokens.AccessToken(); err != nil || token == "" {
			metrics.FetchResultsTotal.WithLabelValues(route.Name, metrics.OutcomeUnauthenticated).Inc()
			return nil, types.ErrNotAuthenticated
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}

	var body []byte
	if req.Body != nil {
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
	}

	target := f.baseURL + route.Expand(req.Params)
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	attempts := req.Attempts
	if attempts <= 0 {
		attempts = f.retry.MaxAttempts
	}
	reqCtx := context.WithValue(ctx, budgetKey, types.NewRetryBudget(attempts))
	reqCtx = context.WithValue(reqCtx, routeKey, route.Name)

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	httpReq, err := retryablehttp.NewRequestWithContext(reqCtx, route.Method, target, rawBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	// Set headers
	for k, v := range f.headers {
		httpReq.Header.Set(k, v)
	}
	if token != "" {
		httpReq.Header.Set(authHeaderKey, "Bearer "+token)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(requestIDKey, requestID)

	// Call request hook
	if f.hooks != nil && f.hooks.OnRequest != nil {
		f.hooks.OnRequest(ctx, httpReq.Request)
	}

	if f.logger != nil {
		f.logger.Debug("HTTP request", "route", route.Name, "method", route.Method, "path", route.Expand(req.Params), "requestId", requestID)
	}

	start := time.Now()
	resp, err := f.retryClient.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		// the passthrough handler may hand back the last response too
		if resp != nil {
			resp.Body.Close()
		}
		if f.hooks != nil && f.hooks.OnError != nil {
			f.hooks.OnError(ctx, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "request cancelled")
		}
		metrics.FetchResultsTotal.WithLabelValues(route.Name, metrics.OutcomeHTTPError).Inc()
		if f.logger != nil {
			f.logger.Warn("HTTP request failed", "route", route.Name, "requestId", requestID, "error", err)
		}
		return nil, &types.Error{
			Code:      "HTTP_ERROR",
			Message:   fmt.Sprintf("request to %s failed after %d attempts", route.Name, attempts),
			RequestID: requestID,
			Kind:      types.ErrHTTP,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	// Call response hook
	if f.hooks != nil && f.hooks.OnResponse != nil {
		f.hooks.OnResponse(ctx, resp, duration)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if f.logger != nil {
		f.logger.Debug("HTTP response", "route", route.Name, "status", resp.StatusCode, "duration", duration, "size", len(respBody), "requestId", requestID)
	}

	if resp.StatusCode == http.StatusForbidden {
		metrics.FetchResultsTotal.WithLabelValues(route.Name, metrics.OutcomeForbidden).Inc()
		if route.Auth == routes.AuthBearer && f.tokens != nil {
			f.tokens.Invalidate(types.ErrForbidden)
		}
		return nil, &types.Error{
			Code:       "FORBIDDEN",
			Message:    "forbidden",
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Kind:       types.ErrForbidden,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.FetchResultsTotal.WithLabelValues(route.Name, metrics.OutcomeHTTPError).Inc()
		httpErr := f.handleHTTPError(resp.StatusCode, respBody)
		httpErr.RequestID = requestID
		return nil, httpErr
	}

	metrics.FetchResultsTotal.WithLabelValues(route.Name, metrics.OutcomeOK).Inc()

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		RequestID:  requestID,
	}, nil
}

// checkRetry stops on success and on 403; every other failure spends the budget
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && resp != nil {
		if resp.StatusCode == http.StatusForbidden {
			return false, nil
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return false, nil
		}
	}

	budget, ok := ctx.Value(budgetKey).(*types.RetryBudget)
	if !ok {
		return false, nil
	}
	return budget.Spend(), nil
}

// jitterBackoff is exponential backoff with full jitter, honouring Retry-After
func jitterBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if resp.Header.Get("Retry-After") != "" {
			return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		}
	}
	if min <= 0 {
		return 0
	}

	ceiling := float64(min) * math.Pow(2, float64(attemptNum))
	if ceiling > float64(max) || math.IsInf(ceiling, 1) {
		ceiling = float64(max)
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

func (f *Fetcher) logAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	route, _ := req.Context().Value(routeKey).(string)
	metrics.FetchAttemptsTotal.WithLabelValues(route).Inc()
	if attempt > 0 && f.logger != nil {
		f.logger.Debug("Retrying request", "route", route, "attempt", attempt+1)
	}
}

// handleHTTPError maps a non-2xx status that exhausted the budget
func (f *Fetcher) handleHTTPError(statusCode int, body []byte) *types.Error {
	// Try to parse error response
	var errResp struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	_ = json.Unmarshal(body, &errResp)

	msg := errResp.Detail
	if msg == "" {
		msg = errResp.Message
	}
	if msg == "" {
		msg = errResp.Error
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		if msg == "" {
			msg = "unauthorized"
		}
		return &types.Error{
			Code:       "UNAUTHORIZED",
			Message:    fmt.Sprintf("HTTP error: %d: %s", statusCode, msg),
			StatusCode: statusCode,
			Kind:       types.ErrHTTP,
		}
	case statusCode == http.StatusBadRequest:
		return &types.Error{
			Code:       "BAD_REQUEST",
			Message:    msg,
			StatusCode: statusCode,
			Kind:       types.ErrHTTP,
			Details:    map[string]interface{}{"body": excerpt(body)},
		}
	case statusCode >= 500:
		// Create base message with status code and description
		baseMsg := fmt.Sprintf("server error: %d", statusCode)
		if desc := httpStatusDescription(statusCode); desc != "" {
			baseMsg = fmt.Sprintf("server error: %d (%s)", statusCode, desc)
		}

		// Append parsed error message if available
		if msg != "" {
			baseMsg = fmt.Sprintf("%s: %s", baseMsg, msg)
		}

		return &types.Error{
			Code:       "SERVER_ERROR",
			Message:    baseMsg,
			StatusCode: statusCode,
			Kind:       types.ErrHTTP,
		}
	default:
		baseMsg := fmt.Sprintf("HTTP error: %d", statusCode)
		if msg != "" {
			baseMsg = fmt.Sprintf("%s: %s", baseMsg, msg)
		}
		return &types.Error{
			Code:       "HTTP_ERROR",
			Message:    baseMsg,
			StatusCode: statusCode,
			Kind:       types.ErrHTTP,
		}
	}
}

// httpStatusDescription returns a human-readable description for common HTTP status codes.
// Covers the CDN-specific 52x codes a proxied backend can return.
func httpStatusDescription(statusCode int) string {
	descriptions := map[int]string{
		500: "Internal Server Error",
		501: "Not Implemented",
		502: "Bad Gateway",
		503: "Service Unavailable",
		504: "Gateway Timeout",
		520: "Web Server Error",
		521: "Web Server Is Down",
		522: "Connection Timed Out",
		523: "Origin Is Unreachable",
		524: "A Timeout Occurred",
		525: "SSL Handshake Failed",
		526: "Invalid SSL Certificate",
		530: "Origin DNS Error",
	}
	return descriptions[statusCode]
}

// excerpt truncates a body for error details
func excerpt(body []byte) string {
	if len(body) <= maxErrorDetail {
		return string(body)
	}
	return string(body[:maxErrorDetail]) + "..."
}

// Options for the fetcher
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Headers     map[string]string
	RetryConfig *types.RetryConfig
	RateLimiter RateLimiter
	Routes      *routes.Table
	Logger      types.Logger
	Hooks       *types.Hooks
}

// retryLogger adapts our logger to retryablehttp
type retryLogger struct {
	logger types.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}
