// Package auth stores the API token used to talk to the issue service.
package auth

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"
)

// EnvToken overrides any stored token when set.
const EnvToken = "ISSUESYNC_TOKEN"

// ErrNoToken is returned when no token is configured for a host.
var ErrNoToken = errors.New("no API token configured")

// Manager resolves the token for one API host.
type Manager struct {
	host  string
	store *Store
	now   func() time.Time

	mu sync.Mutex
}

// NewManager creates a manager for host backed by store.
func NewManager(host string, store *Store) *Manager {
	return &Manager{host: host, store: store, now: time.Now}
}

// Host returns the API host the manager is bound to.
func (m *Manager) Host() string { return m.host }

// AccessToken returns the token for the host.
// If ISSUESYNC_TOKEN is set, it's used directly.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if token := os.Getenv(EnvToken); token != "" {
		return token, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.store.Load(m.host)
	if err != nil {
		return "", err
	}
	return creds.Token, nil
}

// TokenFunc returns a token provider for HTTP requests. A missing token
// yields an empty string so requests go out anonymously.
func (m *Manager) TokenFunc() func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		token, err := m.AccessToken(ctx)
		if errors.Is(err, ErrNoToken) {
			return "", nil
		}
		return token, err
	}
}

// IsAuthenticated reports whether a token is available.
func (m *Manager) IsAuthenticated() bool {
	token, err := m.AccessToken(context.Background())
	return err == nil && token != ""
}

// Login stores token for the host.
func (m *Manager) Login(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Save(m.host, &Credentials{Token: token, SavedAt: m.now().UTC()})
}

// Logout removes the stored token for the host.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(m.host)
}

// Status describes where the host's token comes from.
type Status struct {
	Host          string     `json:"host"`
	Authenticated bool       `json:"authenticated"`
	Source        string     `json:"source,omitempty"` // "env", "keyring" or "file"
	SavedAt       *time.Time `json:"saved_at,omitempty"`
	Token         string     `json:"token,omitempty"` // masked
}

// Status reports the authentication state without revealing the token.
func (m *Manager) Status() (Status, error) {
	st := Status{Host: m.host}
	if token := os.Getenv(EnvToken); token != "" {
		st.Authenticated = true
		st.Source = "env"
		st.Token = Mask(token)
		return st, nil
	}

	m.mu.Lock()
	creds, err := m.store.Load(m.host)
	m.mu.Unlock()
	if errors.Is(err, ErrNoToken) {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	st.Authenticated = true
	st.Source = m.store.Backend()
	st.Token = Mask(creds.Token)
	if !creds.SavedAt.IsZero() {
		at := creds.SavedAt
		st.SavedAt = &at
	}
	return st, nil
}

// Mask hides all but the last four characters of token.
func Mask(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}
