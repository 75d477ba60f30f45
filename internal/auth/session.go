package auth

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/waabox/agentdeck/internal/domain"
)

// Store persists credentials across runs.
type Store interface {
	Load() (domain.Credentials, error)
	Save(creds domain.Credentials) error
}

// Session owns the in-memory token and profile and keeps them in sync with a
// Store. Reads hit memory first and fall back to the store.
type Session struct {
	store  Store
	logger *slog.Logger

	mu            sync.Mutex
	token         string
	user          *domain.Profile
	authenticated bool
	// cleared suppresses the store fallback until the next SetToken, so an
	// environment-provided token does not come back after ClearToken.
	cleared bool
	grant   *GrantRecord
}

// NewSession creates a Session backed by store.
func NewSession(store Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		store:  store,
		logger: logger.With("component", "session"),
	}
}

// Token returns the current bearer token, or "" when none is stored.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" || s.cleared {
		return s.token
	}
	creds, err := s.store.Load()
	if err != nil {
		s.logger.Warn("reading stored credentials", "error", err)
		return ""
	}
	s.token = creds.Token
	if s.user == nil {
		s.user = creds.User
	}
	return s.token
}

// SetToken stores token in memory and persists it immediately.
// A different token drops the cached profile until it is verified again.
// The in-memory value is updated even when persisting fails.
func (s *Session) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token {
		s.user = nil
		s.authenticated = false
	}
	s.token = token
	s.cleared = false
	if err := s.store.Save(domain.Credentials{Token: token, User: s.user}); err != nil {
		return fmt.Errorf("token set but failed to persist: %w", err)
	}
	return nil
}

// ClearToken removes the token and the profile from memory and the store.
// It always succeeds; a store failure is logged.
func (s *Session) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.user = nil
	s.authenticated = false
	s.cleared = true
	if err := s.store.Save(domain.Credentials{}); err != nil {
		s.logger.Warn("clearing stored credentials", "error", err)
	}
}

// User returns the profile of the current session, or nil.
func (s *Session) User() *domain.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user != nil || s.cleared {
		return s.user
	}
	creds, err := s.store.Load()
	if err != nil {
		s.logger.Warn("reading stored credentials", "error", err)
		return nil
	}
	s.user = creds.User
	return s.user
}

// MarkAuthenticated records a successful verification and persists user when
// it is non-nil.
func (s *Session) MarkAuthenticated(user *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authenticated = true
	if user == nil {
		return nil
	}
	s.user = user
	if err := s.store.Save(domain.Credentials{Token: s.token, User: user}); err != nil {
		return fmt.Errorf("profile set but failed to persist: %w", err)
	}
	return nil
}

// Authenticated reports whether the current token has been verified in this
// process.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Grant returns the record of the device grant currently being polled.
func (s *Session) Grant() (GrantRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grant == nil {
		return GrantRecord{}, false
	}
	return *s.grant, true
}

func (s *Session) setGrant(rec GrantRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant = &rec
}

func (s *Session) clearGrant(deviceCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grant != nil && s.grant.DeviceCode == deviceCode {
		s.grant = nil
	}
}

// MemoryStore is a Store that keeps credentials in process memory only.
type MemoryStore struct {
	mu    sync.Mutex
	creds domain.Credentials
	saves int
}

// Load returns the stored credentials.
func (m *MemoryStore) Load() (domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

// Save replaces the stored credentials.
func (m *MemoryStore) Save(creds domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
