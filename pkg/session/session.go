// Package session implements the singleton session row and the
// turn-scoped overlays the host (CAST) supplies per message: a
// system-prompt fragment and an environment map (spec.md §3, §4.6,
// §5's "current-turn environment" shared state).
package session

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opencoder-agent/memcore/pkg/ids"
	"github.com/opencoder-agent/memcore/pkg/store"
)

const (
	keyID        = "id"
	keyCreatedAt = "created_at"
)

// Session is the singleton identity row, backed by session_kv.
type Session struct {
	db  *sqlx.DB
	ids *ids.Generator

	mu         sync.RWMutex
	env        map[string]string
	sysOverlay string
}

// New wraps s as a Session. The session identity row is created on
// first connection to a fresh store and never changes afterward.
func New(ctx context.Context, s *store.Store, idGen *ids.Generator) (*Session, error) {
	sess := &Session{db: s.DB, ids: idGen, env: map[string]string{}}
	if err := sess.ensureIdentity(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Session) ensureIdentity(ctx context.Context) error {
	_, err := s.get(ctx, keyID)
	if err == nil {
		return nil
	}
	if !store.IsKind(err, store.KindNotFound) {
		return err
	}

	id := s.ids.Next(ids.KindSession)
	now := time.Now().UTC()
	if err := s.put(ctx, keyID, id); err != nil {
		return err
	}
	return s.put(ctx, keyCreatedAt, now.Format(time.RFC3339Nano))
}

// ID returns the session's permanent identifier.
func (s *Session) ID(ctx context.Context) (string, error) {
	return s.get(ctx, keyID)
}

// CreatedAt returns when the session row was first created.
func (s *Session) CreatedAt(ctx context.Context) (time.Time, error) {
	raw, err := s.get(ctx, keyCreatedAt)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// SetEnvironment replaces the current-turn environment map. Per
// spec.md §5, only the turn coordinator mutates this; tools only read
// it via Environment.
func (s *Session) SetEnvironment(env map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]string, len(env))
	for k, v := range env {
		cp[k] = v
	}
	s.env = cp
}

// Environment returns a copy of the current-turn environment map.
func (s *Session) Environment() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]string, len(s.env))
	for k, v := range s.env {
		cp[k] = v
	}
	return cp
}

// SetSystemPromptOverlay sets the session-scoped overlay text the
// context assembler appends to the system prompt.
func (s *Session) SetSystemPromptOverlay(overlay string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysOverlay = overlay
}

// SystemPromptOverlay returns the current session-scoped overlay, or
// the empty string if none is set.
func (s *Session) SystemPromptOverlay() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sysOverlay
}

func (s *Session) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM session_kv WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return "", store.NewFailure(store.KindNotFound, "session.get", err)
	}
	if err != nil {
		return "", store.NewFailure(store.KindIO, "session.get", err)
	}
	return value, nil
}

func (s *Session) put(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_kv (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now, now)
	if err != nil {
		return store.NewFailure(store.KindIO, "session.put", err)
	}
	return nil
}
