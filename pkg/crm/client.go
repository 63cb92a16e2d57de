package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/auth"
	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/tasks"
	"github.com/eshaffer321/crmreports-go/internal/tokenstore"
	"github.com/eshaffer321/crmreports-go/internal/transport"
	internalTypes "github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

const (
	// DefaultBaseURL is the default CRM API base URL
	DefaultBaseURL = internalTypes.DefaultBaseURL

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = internalTypes.DefaultTimeout

	// UserAgent is the user agent string
	UserAgent = internalTypes.UserAgent
)

// Client is the main CRM reporting client
type Client struct {
	// Service interfaces
	Session   SessionService
	Reports   ReportService
	Dashboard DashboardService
	Hierarchy HierarchyService
	Tasks     TaskService

	// Internal fields
	baseURL   string
	transport Transport
	manager   *auth.Manager
	poller    *tasks.Poller
	composer  *tasks.Composer
	routes    *routes.Table
	options   *ClientOptions

	stopMu sync.Mutex
	stops  []func()
}

// ClientOptions configures the client
type ClientOptions struct {
	// BaseURL overrides the default API base URL
	BaseURL string

	// HTTPClient allows using a custom HTTP client
	HTTPClient *http.Client

	// Timeout sets the HTTP client timeout
	Timeout time.Duration

	// TokenFile persists the credential pair at this path
	TokenFile string

	// TokenStore overrides TokenFile with a custom store
	TokenStore TokenStore

	// Logger for debug logging
	Logger Logger

	// RetryConfig configures the retry budget and backoff
	RetryConfig *internalTypes.RetryConfig

	// RateLimiter for rate limiting
	RateLimiter RateLimiter

	// Hooks for observability
	Hooks *internalTypes.Hooks

	// RefreshInterval between background token refreshes
	RefreshInterval time.Duration

	// PollInterval between task polls while a task is pending
	PollInterval time.Duration

	// PollTimeout bounds how long a task is polled; 0 means no limit
	PollTimeout time.Duration

	// SentryDSN enables Sentry error tracking when set
	SentryDSN string

	// SentryOptions allows custom Sentry configuration
	SentryOptions *sentry.ClientOptions
}

// Logger interface for logging
type Logger = internalTypes.Logger

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Transport sends requests against named routes
type Transport interface {
	Fetch(ctx context.Context, req *transport.Request) (*transport.Response, error)
	Do(ctx context.Context, req *transport.Request, result interface{}) error
}

// NewClient creates a new CRM client
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	// Initialize Sentry if DSN is provided
	if opts.SentryDSN != "" || opts.SentryOptions != nil {
		sentryOpts := sentry.ClientOptions{}

		if opts.SentryOptions != nil {
			sentryOpts = *opts.SentryOptions
		}

		// Override DSN if provided separately
		if opts.SentryDSN != "" {
			sentryOpts.Dsn = opts.SentryDSN
		}

		if sentryOpts.Environment == "" {
			sentryOpts.Environment = "production"
		}

		if err := sentry.Init(sentryOpts); err != nil {
			// Log error but don't fail client creation
			if opts.Logger != nil {
				opts.Logger.Error("Failed to initialize Sentry", "error", err)
			}
		}
	}

	// Set defaults
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: DefaultTimeout,
		}
	}

	if opts.Timeout > 0 {
		opts.HTTPClient.Timeout = opts.Timeout
	}

	store := opts.TokenStore
	if store == nil {
		if opts.TokenFile != "" {
			store = tokenstore.NewFileStore(opts.TokenFile, opts.Logger)
		} else {
			store = tokenstore.NewMemoryStore()
		}
	}

	table, err := routes.Default()
	if err != nil {
		return nil, err
	}

	manager, err := auth.NewManager(&auth.Options{
		BaseURL:         opts.BaseURL,
		HTTPClient:      opts.HTTPClient,
		Store:           store,
		Logger:          opts.Logger,
		RefreshInterval: opts.RefreshInterval,
		Routes:          table,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session manager")
	}

	transportOpts := &transport.Options{
		BaseURL:     opts.BaseURL,
		HTTPClient:  opts.HTTPClient,
		RetryConfig: opts.RetryConfig,
		RateLimiter: opts.RateLimiter,
		Routes:      table,
		Logger:      opts.Logger,
		Hooks:       opts.Hooks,
	}
	fetcher, err := transport.NewFetcher(manager, transportOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transport")
	}

	c := &Client{
		baseURL:   opts.BaseURL,
		transport: fetcher,
		manager:   manager,
		routes:    table,
		options:   opts,
	}

	// Initialize services
	c.initServices()

	return c, nil
}

// NewClientWithCredential creates a client holding an existing credential pair
func NewClientWithCredential(baseURL string, cred *Credential) (*Client, error) {
	store := NewMemoryTokenStore()
	if err := store.Save(cred); err != nil {
		return nil, err
	}
	return NewClient(&ClientOptions{
		BaseURL:    baseURL,
		TokenStore: store,
	})
}

// NewMemoryTokenStore returns a store that lives as long as the process
func NewMemoryTokenStore() TokenStore {
	return tokenstore.NewMemoryStore()
}

// NewFileTokenStore returns a store persisting the credential pair at path
func NewFileTokenStore(path string, logger Logger) TokenStore {
	return tokenstore.NewFileStore(path, logger)
}

// initServices initializes all service implementations
func (c *Client) initServices() {
	if c.options == nil {
		c.options = &ClientOptions{}
	}
	if c.routes == nil {
		c.routes = routes.MustDefault()
	}

	c.poller = tasks.NewPoller(c.transport, &tasks.Options{
		Interval: c.options.PollInterval,
		Timeout:  c.options.PollTimeout,
		Logger:   c.options.Logger,
	})

	// a nil *auth.Manager must not become a non-nil interface
	var session tasks.SessionChecker
	if c.manager != nil {
		session = c.manager
	}
	c.composer = tasks.NewComposer(c.transport, c.poller, session, c.options.Logger)

	c.Session = &sessionService{client: c}
	c.Reports = &reportService{client: c}
	c.Dashboard = &dashboardService{client: c}
	c.Hierarchy = &hierarchyService{client: c}
	c.Tasks = &taskService{client: c}
}

// execute performs a synchronous request and decodes the response into result
func (c *Client) execute(ctx context.Context, req *transport.Request, result interface{}) error {
	start := time.Now()
	err := c.transport.Do(ctx, req, result)
	if err != nil {
		c.capture(ctx, req, time.Since(start), err)
	}
	return err
}

// run submits an async report and resolves its task; envelopes are unwrapped
func (c *Client) run(ctx context.Context, req *transport.Request) (json.RawMessage, error) {
	start := time.Now()
	payload, err := c.composer.Run(ctx, req)
	if err != nil {
		c.capture(ctx, req, time.Since(start), err)
		return nil, err
	}

	route, err := c.routes.Get(req.Route)
	if err != nil {
		return nil, err
	}
	if route.Envelope == "data" {
		payload = unwrapData(payload)
	}
	return payload, nil
}

// capture reports an error to Sentry. Auth errors are expected and skipped.
func (c *Client) capture(ctx context.Context, req *transport.Request, duration time.Duration, err error) {
	if internalTypes.IsAuthError(err) || errors.Is(err, context.Canceled) {
		return
	}

	configure := func(scope *sentry.Scope) {
		scope.SetTag("crm.route", req.Route)
		scope.SetContext("crm", map[string]interface{}{
			"route":    req.Route,
			"query":    req.Query.Encode(),
			"duration": duration.String(),
		})
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			configure(scope)
			hub.CaptureException(err)
		})
	} else {
		sentry.WithScope(func(scope *sentry.Scope) {
			configure(scope)
			sentry.CaptureException(err)
		})
	}
}

// Close stops background refresh loops and flushes pending Sentry events
func (c *Client) Close() {
	c.stopMu.Lock()
	stops := c.stops
	c.stops = nil
	c.stopMu.Unlock()

	for _, stop := range stops {
		stop()
	}

	// Flush Sentry events with a 2 second timeout
	sentry.Flush(2 * time.Second)
}

func (c *Client) trackStop(stop func()) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	c.stops = append(c.stops, stop)
}

// unwrapData returns payload.data when payload is an object with a data key
func unwrapData(payload json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil || envelope.Data == nil {
		return payload
	}
	return envelope.Data
}
