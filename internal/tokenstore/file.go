package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// document is the on-disk layout: the pair lives under the authTokens key
type document struct {
	AuthTokens *types.Credential `json:"authTokens"`
}

// FileStore persists the credential as a JSON file
type FileStore struct {
	path   string
	logger types.Logger
	mu     sync.Mutex
}

// NewFileStore creates a store backed by path
func NewFileStore(path string, logger types.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// DefaultPath returns tokens.json under the user config directory
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".crmreports", "tokens.json")
	}
	return filepath.Join(dir, "crmreports", "tokens.json")
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the credential; a missing or malformed file is reported as absent
func (s *FileStore) Load() (*types.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) && s.logger != nil {
			s.logger.Warn("Failed to read credential file", "path", s.path, "error", err)
		}
		return nil, false
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		if s.logger != nil {
			s.logger.Warn("Ignoring malformed credential file", "path", s.path, "error", err)
		}
		return nil, false
	}

	if !doc.AuthTokens.Complete() {
		if s.logger != nil {
			s.logger.Warn("Ignoring partial credential", "path", s.path)
		}
		return nil, false
	}

	return doc.AuthTokens, true
}

// Save atomically replaces the credential file
func (s *FileStore) Save(cred *types.Credential) error {
	if !cred.Complete() {
		return types.ErrInvalidCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrap(err, "failed to create credential directory")
	}

	data, err := json.MarshalIndent(document{AuthTokens: cred}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal credential")
	}

	// temp file, fsync, rename: readers see the old or the new file, never a mix
	if err := renameio.WriteFile(s.path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write credential file")
	}

	if s.logger != nil {
		s.logger.Debug("Credential saved", "path", s.path)
	}

	return nil
}

// Clear removes the credential file
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove credential file")
	}
	return nil
}
