// Package session implements the session orchestrator: the authoritative
// owner of every task session's lifecycle. Sessions persist as one JSON
// record per UUID under the state directory, mutations run under a
// per-session mutex, and every state change is durably written before the
// lock is released.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// ErrNotFound is returned for unknown or unreadable session records. A
// malformed on-disk record is reported as not found rather than surfaced
// as a partial object.
var ErrNotFound = errors.New("session not found")

// Store is a file-per-session record directory with an in-process cache
// keyed by session UUID.
type Store struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*model.Session
}

// NewStore creates a store rooted at dir (created on first save).
func NewStore(dir string) *Store {
	return &Store{dir: dir, cache: map[string]*model.Session{}}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load returns the session with the given UUID. Loads validate the record
// shape; malformed data yields ErrNotFound.
func (s *Store) Load(id string) (*model.Session, error) {
	s.mu.RLock()
	if cached, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return clone(cached), nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, ErrNotFound
	}
	if err := validate(&sess); err != nil {
		return nil, ErrNotFound
	}
	if sess.ID != id {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	s.cache[id] = clone(&sess)
	s.mu.Unlock()
	return &sess, nil
}

// Save persists a session atomically and refreshes the cache. The write
// completes before Save returns; a crash mid-save leaves either the old or
// the new record, never a torn one.
func (s *Store) Save(sess *model.Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := renameio.WriteFile(s.path(sess.ID), data, 0o644); err != nil {
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}

	s.mu.Lock()
	s.cache[sess.ID] = clone(sess)
	s.mu.Unlock()
	return nil
}

// Delete removes a session record and its cache entry.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}

// List returns every loadable session, skipping malformed records.
func (s *Store) List() ([]*model.Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session dir: %w", err)
	}

	var sessions []*model.Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// validate checks the record shape: identity present, a known state, and a
// consistent lifecycle timeline.
func validate(sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session record missing id")
	}
	switch sess.State {
	case model.SessionPending, model.SessionRunning, model.SessionPaused,
		model.SessionCompleted, model.SessionFailed, model.SessionCancelled:
	default:
		return fmt.Errorf("session %s has unknown state %q", sess.ID, sess.State)
	}
	if sess.CreatedAt.IsZero() {
		return fmt.Errorf("session %s missing created_at", sess.ID)
	}
	if sess.StartedAt != nil && sess.StartedAt.Before(sess.CreatedAt) {
		return fmt.Errorf("session %s started before creation", sess.ID)
	}
	if sess.CompletedAt != nil && sess.StartedAt != nil && sess.CompletedAt.Before(*sess.StartedAt) {
		return fmt.Errorf("session %s completed before start", sess.ID)
	}
	return nil
}

func clone(sess *model.Session) *model.Session {
	out := *sess
	out.Messages = append([]model.ConversationMessage(nil), sess.Messages...)
	out.Errors = append([]model.SessionError(nil), sess.Errors...)
	out.Artifacts = append([]string(nil), sess.Artifacts...)
	if sess.StartedAt != nil {
		v := *sess.StartedAt
		out.StartedAt = &v
	}
	if sess.CompletedAt != nil {
		v := *sess.CompletedAt
		out.CompletedAt = &v
	}
	return &out
}
