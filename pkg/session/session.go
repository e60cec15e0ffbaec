// Package session provides server-side HTTP sessions. A session is a bag of
// attributes stored under a random ID; the ID travels in a cookie.
//
// Two stores are available: MemoryStore for a single process and
// RedisStore for sessions shared between instances.
//
// Example usage:
//
//	store, err := session.NewStore(ctx, cfg.Session)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	mgr := session.NewManager(store, cfg.Session)
//	s, err := mgr.Load(r)
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
)

// Session is one client session. Attribute values must be JSON encodable;
// after a round trip through a store numbers come back as float64.
type Session struct {
	ID        string         `json:"id"`
	Values    map[string]any `json:"values"`
	CreatedAt time.Time      `json:"created_at"`
}

// New creates an empty session with a fresh ID.
func New() *Session {
	return &Session{
		ID:        uuid.New().String(),
		Values:    make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
}

// Get returns the attribute stored under key.
func (s *Session) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Values[key]
	return v, ok
}

// Has reports whether key is set to a non-nil value.
func (s *Session) Has(key string) bool {
	v, ok := s.Get(key)
	return ok && v != nil
}

// Set stores an attribute.
func (s *Session) Set(key string, value any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = value
}

// Delete removes an attribute.
func (s *Session) Delete(key string) {
	delete(s.Values, key)
}

// Store persists sessions. Get returns a NotFound error for unknown or
// expired IDs.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	// Check implements health.Checker.
	Check(ctx context.Context) error
	Close() error
}

// NewStore creates the store selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(ctx, cfg)
	default:
		return nil, errors.NewPermanent(fmt.Sprintf("unknown session backend %q", cfg.Backend), nil)
	}
}

// Key builds a store key by joining a prefix and parts with colons. Empty
// parts are skipped.
//
//	session.Key("session", id) // "session:3f2a..."
func Key(prefix string, parts ...string) string {
	filtered := make([]string, 0, len(parts)+1)
	if prefix != "" {
		filtered = append(filtered, prefix)
	}
	for _, part := range parts {
		if part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ":")
}

func encode(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.NewPermanent("failed to marshal session", err)
	}
	return data, nil
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.NewPermanent("failed to unmarshal session", err)
	}
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	return &s, nil
}

// validID rejects IDs that are not UUIDs before they reach a store.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
