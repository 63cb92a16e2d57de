// Package tokenstore persists the credential pair between runs.
package tokenstore

import (
	"sync"

	"github.com/eshaffer321/crmreports-go/internal/types"
)

// Store is the local persistence boundary for the credential pair.
// Load never fails: anything unreadable is reported as absent.
type Store interface {
	Load() (*types.Credential, bool)
	Save(cred *types.Credential) error
	Clear() error
}

// MemoryStore keeps the credential in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	cred *types.Credential
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored credential
func (m *MemoryStore) Load() (*types.Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.cred.Complete() {
		return nil, false
	}
	return m.cred.Clone(), true
}

// Save replaces the stored credential
func (m *MemoryStore) Save(cred *types.Credential) error {
	if !cred.Complete() {
		return types.ErrInvalidCredential
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = cred.Clone()
	return nil
}

// Clear removes the stored credential
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}
