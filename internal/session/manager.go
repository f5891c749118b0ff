package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/metrics"
	"github.com/foxzi/reviewdesk/internal/storage"
)

// Themes accepted by SetTheme
var Themes = []string{"light", "dark"}

// SessionStore persists sessions across restarts
type SessionStore interface {
	SaveSession(sess *storage.Session) error
	DeleteSession(token string) error
	LoadSessions(now time.Time) ([]*storage.Session, error)
}

// Manager owns the process-wide session state
type Manager struct {
	validator *Validator
	gw        gateway.Gateway
	store     SessionStore
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*storage.Session
}

// NewManager creates a session manager. store may be nil for memory-only sessions.
func NewManager(validator *Validator, gw gateway.Gateway, store SessionStore, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		validator: validator,
		gw:        gw,
		store:     store,
		ttl:       ttl,
		logger:    logger.With("component", "session"),
		now:       time.Now,
		sessions:  make(map[string]*storage.Session),
	}
}

// Restore loads persisted sessions that have not expired
func (m *Manager) Restore() (int, error) {
	if m.store == nil {
		return 0, nil
	}

	list, err := m.store.LoadSessions(m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	m.mu.Lock()
	for _, s := range list {
		m.sessions[s.Token] = s
	}
	m.mu.Unlock()

	m.logger.Info("sessions restored", "count", len(list))
	return len(list), nil
}

// Login validates the credentials and opens a session
func (m *Manager) Login(ctx context.Context, email, password string) (*storage.Session, error) {
	user, err := m.validator.ValidateCredentials(ctx, email, password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		metrics.IncLogin("invalid")
		return nil, err
	case err != nil:
		metrics.IncLogin("error")
		return nil, err
	}
	metrics.IncLogin("ok")

	now := m.now().UTC()
	sess := &storage.Session{
		Token:     uuid.NewString(),
		User:      *user,
		Theme:     Themes[0],
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.persist(sess); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.Token] = sess
	m.mu.Unlock()

	m.logger.Info("user logged in", "email", user.Email, "role", user.Role)
	return clone(sess), nil
}

// Lookup returns the session for token. Unknown and expired tokens both
// report ErrSessionExpired.
func (m *Manager) Lookup(token string) (*storage.Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionExpired
	}
	if sess.Expired(m.now()) {
		m.drop(token)
		return nil, ErrSessionExpired
	}
	return clone(sess), nil
}

// Logout ends the session
func (m *Manager) Logout(token string) error {
	m.mu.RLock()
	_, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionExpired
	}
	m.drop(token)
	return nil
}

// ChangePassword sends the new password to the credential store and clears
// the first-login flag
func (m *Manager) ChangePassword(ctx context.Context, token, password string) error {
	password = strings.TrimSpace(password)
	if password == "" {
		return ErrInvalidPassword
	}

	sess, err := m.Lookup(token)
	if err != nil {
		return err
	}

	_, err = m.gw.Submit(ctx, gateway.Command{
		Kind: gateway.KindUpdatePassword,
		Fields: map[string]any{
			"id":       sess.User.ID,
			"email":    sess.User.Email,
			"password": password,
		},
	})
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	return m.update(token, func(s *storage.Session) error {
		s.User.IsFirstLogin = false
		return nil
	})
}

// SetTheme stores the display preference of the session
func (m *Manager) SetTheme(token, theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	valid := false
	for _, t := range Themes {
		if t == theme {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s", ErrInvalidTheme, theme)
	}

	return m.update(token, func(s *storage.Session) error {
		s.Theme = theme
		return nil
	})
}

// Authorize returns ErrForbidden unless the session's role may perform action
func Authorize(sess *storage.Session, action string) error {
	if sess == nil || !Permitted(sess.User.Role, action) {
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}
	return nil
}

func (m *Manager) update(token string, fn func(*storage.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[token]
	if !ok || sess.Expired(m.now()) {
		return ErrSessionExpired
	}

	next := clone(sess)
	if err := fn(next); err != nil {
		return err
	}
	if err := m.persist(next); err != nil {
		return err
	}
	m.sessions[token] = next
	return nil
}

func (m *Manager) drop(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	if err := m.store.DeleteSession(token); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("failed to delete session", "error", err)
	}
}

func (m *Manager) persist(sess *storage.Session) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveSession(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func clone(s *storage.Session) *storage.Session {
	out := *s
	return &out
}
