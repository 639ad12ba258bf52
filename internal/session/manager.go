package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/maintconsole/internal/backend"
)

// Session storage keys.
const (
	KeyUser         = "user"
	KeyToken        = "token"
	KeyLastActivity = "lastActivity"
)

// LoginPath is the login entry point views are sent to when the session ends.
const LoginPath = "/login"

// Navigator moves the user to another entry point.
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Manager owns the session keys. It is the TokenSource and the
// AuthFailureHandler of the backend client.
type Manager struct {
	store  Store
	nav    Navigator
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	redirected bool
}

func NewManager(store Store, nav Navigator, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		nav:    nav,
		logger: logger,
		now:    time.Now,
	}
}

// Login stores a fresh credential and re-arms the expiry redirect.
func (m *Manager) Login(user backend.User, token string) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := m.store.Set(KeyUser, string(userJSON)); err != nil {
		return err
	}
	if err := m.store.Set(KeyToken, token); err != nil {
		return err
	}
	if err := m.Touch(); err != nil {
		return err
	}

	m.mu.Lock()
	m.redirected = false
	m.mu.Unlock()
	return nil
}

func (m *Manager) Token() string {
	token, _ := m.store.Get(KeyToken)
	return token
}

// User returns the logged-in user, or nil when there is no session.
func (m *Manager) User() *backend.User {
	raw, ok := m.store.Get(KeyUser)
	if !ok || raw == "" {
		return nil
	}
	var u backend.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil
	}
	return &u
}

func (m *Manager) LoggedIn() bool { return m.Token() != "" }

// LastActivity returns the time of the last recorded user action.
func (m *Manager) LastActivity() (time.Time, bool) {
	raw, ok := m.store.Get(KeyLastActivity)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Touch records user activity.
func (m *Manager) Touch() error {
	return m.store.Set(KeyLastActivity, m.now().UTC().Format(time.RFC3339))
}

// Logout clears the session without navigating.
func (m *Manager) Logout() error {
	return m.store.Delete(KeyUser, KeyToken, KeyLastActivity)
}

// SessionExpired clears every session key and sends the user to the login
// entry point. The redirect happens once per login, however many requests
// fail with an expired credential.
func (m *Manager) SessionExpired() {
	if err := m.store.Delete(KeyUser, KeyToken, KeyLastActivity); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear session")
	}

	m.mu.Lock()
	if m.redirected {
		m.mu.Unlock()
		return
	}
	m.redirected = true
	m.mu.Unlock()

	m.logger.Info().Str("path", LoginPath).Msg("session expired, redirecting to login")
	if m.nav != nil {
		m.nav.Navigate(LoginPath)
	}
}
