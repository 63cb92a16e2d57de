package crm

import (
	"context"
)

// sessionService implements the SessionService interface
type sessionService struct {
	client *Client
}

// Login performs authentication and returns the decoded identity
func (s *sessionService) Login(ctx context.Context, username, password string) (*Identity, error) {
	if _, err := s.client.manager.Login(ctx, username, password); err != nil {
		return nil, err
	}
	identity, ok := s.client.manager.Identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return identity, nil
}

// Logout drops the session and the persisted credential
func (s *sessionService) Logout() {
	s.client.manager.Logout()
}

// Refresh exchanges the refresh token now
func (s *sessionService) Refresh(ctx context.Context) error {
	_, err := s.client.manager.Refresh(ctx)
	return err
}

// Identity returns the current identity
func (s *sessionService) Identity() (*Identity, bool) {
	return s.client.manager.Identity()
}

// State returns the session state
func (s *sessionService) State() SessionState {
	return s.client.manager.State()
}

// Subscribe registers a session event listener
func (s *sessionService) Subscribe(listener func(SessionEvent)) func() {
	return s.client.manager.Subscribe(listener)
}

// Start runs the refresh loop; Close stops it too
func (s *sessionService) Start(ctx context.Context) func() {
	stop := s.client.manager.Start(ctx)
	s.client.trackStop(stop)
	return stop
}

// Ready is closed once the startup refresh has resolved
func (s *sessionService) Ready() <-chan struct{} {
	return s.client.manager.Ready()
}
