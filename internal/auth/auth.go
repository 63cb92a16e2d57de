package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/metrics"
	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/tokenstore"
	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// State is the session lifecycle state
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateRefreshing     State = "refreshing"
	StateExpired        State = "expired"
)

// Event is delivered to subscribers on every session transition
type Event struct {
	State    State
	Identity *types.Identity
	Err      error
}

// Listener receives session events. It must not block.
type Listener func(Event)

// Options configures the session manager
type Options struct {
	BaseURL         string
	HTTPClient      *http.Client
	Store           tokenstore.Store
	Logger          types.Logger
	RefreshInterval time.Duration
	Routes          *routes.Table
}

// Manager owns the process session: the credential pair, the identity
// decoded from it, and the refresh loop. It is the only writer.
type Manager struct {
	baseURL      string
	httpClient   *http.Client
	headers      map[string]string
	store        tokenstore.Store
	logger       types.Logger
	interval     time.Duration
	tokenRoute   *routes.Route
	refreshRoute *routes.Route

	mu       sync.RWMutex
	state    State
	cred     *types.Credential
	identity *types.Identity
	epoch    uint64 // bumped whenever the credential is replaced or dropped

	listenersMu  sync.Mutex
	listeners    map[uint64]Listener
	nextListener uint64

	sfg       singleflight.Group
	ready     chan struct{}
	readyOnce sync.Once
}

// NewManager creates a session manager and restores any persisted credential
func NewManager(opts *Options) (*Manager, error) {
	if opts == nil {
		opts = &Options{}
	}

	table := opts.Routes
	if table == nil {
		var err error
		if table, err = routes.Default(); err != nil {
			return nil, err
		}
	}
	tokenRoute, err := table.Get(routes.TokenObtain)
	if err != nil {
		return nil, err
	}
	refreshRoute, err := table.Get(routes.TokenRefresh)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
			"User-Agent":   types.UserAgent,
		},
		store:        opts.Store,
		logger:       opts.Logger,
		interval:     opts.RefreshInterval,
		tokenRoute:   tokenRoute,
		refreshRoute: refreshRoute,
		state:        StateAnonymous,
		listeners:    make(map[uint64]Listener),
		ready:        make(chan struct{}),
	}

	if m.baseURL == "" {
		m.baseURL = types.DefaultBaseURL
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: types.DefaultTimeout}
	}
	if m.store == nil {
		m.store = tokenstore.NewMemoryStore()
	}
	if m.interval <= 0 {
		m.interval = types.DefaultRefreshInterval
	}

	m.restore()

	return m, nil
}

// restore loads the persisted credential; an undecodable one is discarded
func (m *Manager) restore() {
	cred, ok := m.store.Load()
	if !ok {
		return
	}

	identity, err := DecodeIdentity(cred.Access)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("Discarding persisted credential", "error", err)
		}
		if err := m.store.Clear(); err != nil && m.logger != nil {
			m.logger.Warn("Failed to clear credential store", "error", err)
		}
		return
	}

	m.cred = cred
	m.identity = identity
	m.state = StateActive

	if m.logger != nil {
		m.logger.Info("Session restored", "username", identity.Username)
	}
}

// Login exchanges a username and password for a credential pair
func (m *Manager) Login(ctx context.Context, username, password string) (*types.Credential, error) {
	if username == "" || password == "" {
		return nil, types.NewError(types.ErrLoginFailed, "LOGIN_FAILED", "username and password are required")
	}

	m.mu.Lock()
	m.state = StateAuthenticating
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debug("Login request", "username", username)
	}

	tr, status, err := m.exchange(ctx, m.tokenRoute, map[string]string{
		"username": username,
		"password": password,
	})

	var cred *types.Credential
	var identity *types.Identity
	if err == nil {
		cred = tr.credential()
		if status < 200 || status > 299 {
			err = &types.Error{
				Code:       "LOGIN_FAILED",
				Message:    tr.rejection("login failed", status),
				StatusCode: status,
				Kind:       types.ErrLoginFailed,
			}
		} else if !cred.Complete() {
			err = types.NewError(types.ErrLoginFailed, "LOGIN_FAILED", "token response is missing access or refresh")
		} else if identity, err = DecodeIdentity(cred.Access); err != nil {
			err = types.WrapError(err, types.ErrLoginFailed, "LOGIN_FAILED", "token response carries an unreadable access token")
		}
	} else {
		err = types.WrapError(err, types.ErrLoginFailed, "LOGIN_FAILED", "login request failed")
	}

	if err != nil {
		m.mu.Lock()
		if m.cred != nil {
			m.state = StateActive
		} else {
			m.state = StateAnonymous
		}
		m.mu.Unlock()

		if m.logger != nil {
			m.logger.Warn("Login failed", "username", username, "status", status, "error", err)
		}
		return nil, err
	}

	m.mu.Lock()
	m.cred = cred
	m.identity = identity
	m.state = StateActive
	m.epoch++
	if err := m.store.Save(cred); err != nil && m.logger != nil {
		m.logger.Warn("Failed to persist credential", "error", err)
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("Login successful", "username", identity.Username)
	}
	m.emit(Event{State: StateActive, Identity: copyIdentity(identity)})

	return cred.Clone(), nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one exchange. A rejected refresh expires the session; it is not retried.
// Cancelling ctx returns early but leaves the shared exchange running.
func (m *Manager) Refresh(ctx context.Context) (*types.Credential, error) {
	ch := m.sfg.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.exchangeTimeout())
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "refresh cancelled")
	case res := <-ch:
		if res.Shared && m.logger != nil {
			m.logger.Debug("Joined in-flight refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.Credential).Clone(), nil
	}
}

// exchangeTimeout bounds a detached refresh exchange
func (m *Manager) exchangeTimeout() time.Duration {
	if m.httpClient.Timeout > 0 {
		return m.httpClient.Timeout
	}
	return types.DefaultTimeout
}

func (m *Manager) refresh(ctx context.Context) (*types.Credential, error) {
	m.mu.Lock()
	if m.cred == nil {
		m.mu.Unlock()
		return nil, types.ErrNotAuthenticated
	}
	refreshToken := m.cred.Refresh
	epoch := m.epoch
	m.state = StateRefreshing
	m.mu.Unlock()

	tr, status, err := m.exchange(ctx, m.refreshRoute, map[string]string{"refresh": refreshToken})
	if err != nil && (status == 0 || ctx.Err() != nil) {
		// no complete response arrived; the server has not rejected the token
		m.restoreActive(epoch)
		metrics.SessionRefreshTotal.WithLabelValues(metrics.RefreshError).Inc()
		if m.logger != nil {
			m.logger.Warn("Refresh request failed", "error", err)
		}
		return nil, errors.Wrap(err, "refresh request failed")
	}

	var cred *types.Credential
	var identity *types.Identity
	if err == nil && status == http.StatusOK && tr.Access != "" {
		cred = tr.credential()
		if cred.Refresh == "" {
			cred.Refresh = refreshToken
		}
		identity, err = DecodeIdentity(cred.Access)
	} else if err == nil {
		err = errors.New(tr.rejection("refresh rejected", status))
	}
	if err != nil {
		return nil, m.expire(epoch, status, err)
	}

	m.mu.Lock()
	if m.epoch != epoch || m.cred == nil {
		// logged out or replaced while the exchange was in flight
		current := m.cred.Clone()
		m.mu.Unlock()
		metrics.SessionRefreshTotal.WithLabelValues(metrics.RefreshStale).Inc()
		if current == nil {
			return nil, types.ErrNotAuthenticated
		}
		return current, nil
	}
	m.cred = cred
	m.identity = identity
	m.state = StateActive
	m.epoch++
	if err := m.store.Save(cred); err != nil && m.logger != nil {
		m.logger.Warn("Failed to persist refreshed credential", "error", err)
	}
	m.mu.Unlock()

	metrics.SessionRefreshTotal.WithLabelValues(metrics.RefreshOK).Inc()
	if m.logger != nil {
		m.logger.Debug("Session refreshed", "username", identity.Username, "expiresAt", identity.ExpiresAt)
	}
	m.emit(Event{State: StateActive, Identity: copyIdentity(identity)})

	return cred, nil
}

// expire drops the session after a rejected refresh
func (m *Manager) expire(epoch uint64, status int, cause error) error {
	expired := &types.Error{
		Code:       "SESSION_EXPIRED",
		Message:    "session expired",
		StatusCode: status,
		Kind:       types.ErrSessionExpired,
		Err:        cause,
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		metrics.SessionRefreshTotal.WithLabelValues(metrics.RefreshStale).Inc()
		return expired
	}
	m.state = StateExpired
	m.clearLocked()
	m.state = StateAnonymous
	m.mu.Unlock()

	metrics.SessionRefreshTotal.WithLabelValues(metrics.RefreshExpired).Inc()
	if m.logger != nil {
		m.logger.Warn("Session expired", "status", status, "error", cause)
	}
	m.emit(Event{State: StateExpired, Err: expired})

	return expired
}

// Logout drops the session. Calling it on an anonymous session is a no-op.
func (m *Manager) Logout() {
	m.drop(nil)
}

// Invalidate drops the session because the server refused it
func (m *Manager) Invalidate(reason error) {
	m.drop(reason)
}

func (m *Manager) drop(reason error) {
	m.mu.Lock()
	had := m.cred != nil
	m.clearLocked()
	m.state = StateAnonymous
	m.mu.Unlock()

	if !had {
		return
	}
	if m.logger != nil {
		if reason != nil {
			m.logger.Warn("Session invalidated", "reason", reason)
		} else {
			m.logger.Info("Logged out")
		}
	}
	m.emit(Event{State: StateAnonymous, Err: reason})
}

// clearLocked forgets the credential in memory and on disk; m.mu must be held
func (m *Manager) clearLocked() {
	m.cred = nil
	m.identity = nil
	m.epoch++
	if err := m.store.Clear(); err != nil && m.logger != nil {
		m.logger.Warn("Failed to clear credential store", "error", err)
	}
}

func (m *Manager) restoreActive(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch == epoch && m.cred != nil {
		m.state = StateActive
	}
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Identity returns a copy of the decoded identity
func (m *Manager) Identity() (*types.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil, false
	}
	return copyIdentity(m.identity), true
}

// Credential returns a copy of the current credential
func (m *Manager) Credential() (*types.Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil, false
	}
	return m.cred.Clone(), true
}

// AccessToken returns the bearer token or ErrNotAuthenticated
func (m *Manager) AccessToken() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return "", types.ErrNotAuthenticated
	}
	return m.cred.Access, nil
}

// Subscribe registers a listener and returns its unsubscribe function
func (m *Manager) Subscribe(l Listener) func() {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.listenersMu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.listenersMu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}

// Ready is closed once the startup refresh has resolved
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Run refreshes once at startup when a credential is held, then every
// refresh interval until ctx is done. The ticker only starts after the
// startup refresh has resolved.
func (m *Manager) Run(ctx context.Context) error {
	defer m.markReady()

	if m.hasCredential() {
		if _, err := m.Refresh(ctx); err != nil && m.logger != nil {
			m.logger.Warn("Startup refresh failed", "error", err)
		}
	}
	m.markReady()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !m.hasCredential() {
				continue
			}
			if _, err := m.Refresh(ctx); err != nil && m.logger != nil {
				m.logger.Warn("Scheduled refresh failed", "error", err)
			}
		}
	}
}

// Start runs the refresh loop in the background. The returned stop function
// cancels it and waits for the goroutine to exit.
func (m *Manager) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

func (m *Manager) hasCredential() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred != nil
}

// exchange posts body to a token route. status is 0 when no complete response arrived.
func (m *Manager) exchange(ctx context.Context, route *routes.Route, body interface{}) (*tokenResponse, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, m.baseURL+route.Path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create token request")
	}
	for k, v := range m.headers {
		req.Header.Set(k, v)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "token request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read token response (status %d)", resp.StatusCode)
	}

	if m.logger != nil {
		m.logger.Debug("Token response", "route", route.Name, "status", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "failed to parse token response")
	}

	return &tr, resp.StatusCode, nil
}

func copyIdentity(id *types.Identity) *types.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

// tokenResponse is the token endpoint body
type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Detail  string `json:"detail"`
}

func (tr *tokenResponse) credential() *types.Credential {
	return &types.Credential{Access: tr.Access, Refresh: tr.Refresh}
}

// rejection describes a refused token request, with the server's detail when it sent one
func (tr *tokenResponse) rejection(prefix string, status int) string {
	msg := fmt.Sprintf("%s with status %d", prefix, status)
	if tr.Detail != "" {
		msg += ": " + tr.Detail
	}
	return msg
}
