package config

import (
	"fmt"
	"sync"

	"github.com/waabox/agentdeck/internal/domain"
)

// FileStore persists credentials in the [auth] table of the config file.
// The other tables are read back and written unchanged.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore backed by the TOML file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string {
	return s.path
}

// Load returns the stored credentials. AGENTDECK_TOKEN, when set, replaces the
// stored token.
func (s *FileStore) Load() (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := LoadFrom(s.path)
	if err != nil {
		return domain.Credentials{}, err
	}
	return domain.Credentials{Token: cfg.Auth.Token, User: cfg.Auth.User}, nil
}

// Save replaces the stored credentials. Saving empty credentials clears them.
func (s *FileStore) Save(creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := decodeFile(s.path)
	if err != nil {
		return err
	}
	cfg.Auth = AuthConfig{Token: creds.Token, User: creds.User}
	if err := Save(s.path, cfg); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}
