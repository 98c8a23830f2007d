package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CredentialStore persists credentials across process restarts. The realtime
// channel only reads and clears; the login flow writes.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	Clear(ctx context.Context) error
}

// FileStore keeps credentials in a JSON file readable only by the owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the credentials file.
func (s *FileStore) Load(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	if len(data) == 0 {
		return Credentials{}, ErrNoCredentials
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	if c.Token == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}

// Save writes the credentials file atomically.
func (s *FileStore) Save(ctx context.Context, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

// Clear removes the credentials file. Clearing an empty store is not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
}

// NewMemoryStore returns a store holding c, or an empty store if c is nil.
func NewMemoryStore(c *Credentials) *MemoryStore {
	s := &MemoryStore{}
	if c != nil {
		cp := *c
		s.creds = &cp
	}
	return s
}

// Load returns the stored credentials.
func (s *MemoryStore) Load(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return Credentials{}, ErrNoCredentials
	}
	return *s.creds, nil
}

// Save replaces the stored credentials.
func (s *MemoryStore) Save(ctx context.Context, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &c
	return nil
}

// Clear empties the store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

// BearerToken returns a function yielding the stored token for REST calls.
// No stored credential, or a malformed one, yields an empty token.
func BearerToken(store CredentialStore) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		c, err := store.Load(ctx)
		if errors.Is(err, ErrNoCredentials) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if !c.Valid() {
			return "", nil
		}
		return c.Token, nil
	}
}
