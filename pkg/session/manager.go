package session

import (
	"context"
	"net/http"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
)

// Manager ties a Store to the session cookie.
type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
}

// NewManager creates a manager using the cookie name and TTL of cfg.
func NewManager(store Store, cfg config.SessionConfig) *Manager {
	name := cfg.CookieName
	if name == "" {
		name = "CQWEB_SESSION"
	}
	return &Manager{store: store, cookieName: name, ttl: cfg.TTL}
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Load returns the session named by the request cookie. A missing cookie,
// a malformed ID or an expired session yields nil without error.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || !validID(cookie.Value) {
		return nil, nil
	}

	s, err := m.store.Get(r.Context(), cookie.Value)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Save stores s and sets the session cookie on w.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Save(ctx, s); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy deletes s and expires the session cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s != nil {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return err
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
