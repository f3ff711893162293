package sessions

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
)

// InMemoryRepo is a thread-safe in-memory implementation of Repo
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[Key]Session
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[Key]Session),
	}
}

// Upsert creates or updates a session
func (r *InMemoryRepo) Upsert(session Session) error {
	if err := session.Key.Validate(); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "upsert session: %s", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.Key] = session.Clone()
	return nil
}

// Get retrieves a session by key
func (r *InMemoryRepo) Get(key Key) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[key]
	if !ok {
		return Session{}, errors.ErrNotFound
	}
	return session.Clone(), nil
}

// Delete removes a session
func (r *InMemoryRepo) Delete(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, key)
	return nil
}

func (r *InMemoryRepo) DeleteIdle(before time.Time) ([]Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Key
	for key, session := range r.sessions {
		if session.UpdatedAt.Before(before) {
			delete(r.sessions, key)
			removed = append(removed, key)
		}
	}
	return removed, nil
}

func (r *InMemoryRepo) PendingExpired(now time.Time) ([]Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []Key
	for key, session := range r.sessions {
		if session.PendingExpired(now) {
			expired = append(expired, key)
		}
	}
	return expired, nil
}
