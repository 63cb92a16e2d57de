package tokenstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_LoadAbsentOrMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content *string
	}{
		{"missing file", nil},
		{"empty file", strPtr("")},
		{"not json", strPtr("authTokens=abc")},
		{"json array", strPtr(`["a","b"]`)},
		{"null tokens", strPtr(`{"authTokens": null}`)},
		{"wrong types", strPtr(`{"authTokens": {"access": 1, "refresh": true}}`)},
		{"missing refresh", strPtr(`{"authTokens": {"access": "a"}}`)},
		{"missing access", strPtr(`{"authTokens": {"refresh": "r"}}`)},
		{"empty strings", strPtr(`{"authTokens": {"access": "", "refresh": ""}}`)},
		{"other key", strPtr(`{"tokens": {"access": "a", "refresh": "r"}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "auth.json")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0600))
			}

			store := NewFileStore(path, nil)
			assert.NotPanics(t, func() {
				cred, ok := store.Load()
				assert.False(t, ok)
				assert.Nil(t, cred)
			})
		})
	}
}

func TestFileStore_LoadUnreadableDirectory(t *testing.T) {
	// a directory in place of the file cannot be read as one
	dir := t.TempDir()
	store := NewFileStore(dir, nil)

	cred, ok := store.Load()
	assert.False(t, ok)
	assert.Nil(t, cred)
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auth.json")
	store := NewFileStore(path, nil)

	cred := &types.Credential{Access: "access-1", Refresh: "refresh-1"}
	require.NoError(t, store.Save(cred))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"authTokens"`)

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, cred, loaded)

	require.NoError(t, store.Save(&types.Credential{Access: "access-2", Refresh: "refresh-2"}))
	loaded, ok = store.Load()
	require.True(t, ok)
	assert.Equal(t, "access-2", loaded.Access)

	require.NoError(t, store.Clear())
	_, ok = store.Load()
	assert.False(t, ok)

	// clearing twice is fine
	require.NoError(t, store.Clear())
}

func TestFileStore_SaveRejectsPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store := NewFileStore(path, nil)
	require.NoError(t, store.Save(&types.Credential{Access: "a", Refresh: "r"}))

	err := store.Save(&types.Credential{Access: "only-access"})
	assert.ErrorIs(t, err, types.ErrInvalidCredential)

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "a", loaded.Access, "previous credential untouched")
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	_, ok := store.Load()
	assert.False(t, ok)

	cred := &types.Credential{Access: "a", Refresh: "r"}
	require.NoError(t, store.Save(cred))
	cred.Access = "mutated"

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "a", loaded.Access, "store keeps its own copy")

	assert.ErrorIs(t, store.Save(&types.Credential{Refresh: "r"}), types.ErrInvalidCredential)

	require.NoError(t, store.Clear())
	_, ok = store.Load()
	assert.False(t, ok)
}

func strPtr(s string) *string { return &s }

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	assert.Equal(t, "tokens.json", filepath.Base(path))
	assert.Equal(t, "crmreports", filepath.Base(filepath.Dir(path)))
}
