package pending

import (
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]Authorization
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory pending authorization repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]Authorization),
	}
}

// Upsert stores or updates a pending authorization
func (r *InMemoryRepo) Upsert(auth Authorization) error {
	if auth.State == "" {
		return fmt.Errorf("state cannot be empty: %w", errors.ErrInvalidRequest)
	}
	if err := auth.Session.Validate(); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "pending authorization: %s", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[auth.State] = auth
	return nil
}

// Consume retrieves and deletes the authorization in one step so that two
// callbacks racing on the same state cannot both succeed.
func (r *InMemoryRepo) Consume(state string, now time.Time) (Authorization, error) {
	if state == "" {
		return Authorization{}, errors.ErrInvalidState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.states[state]
	if !ok {
		return Authorization{}, errors.ErrInvalidState
	}
	delete(r.states, state)

	if !auth.ExpiresAt.IsZero() && !now.Before(auth.ExpiresAt) {
		return Authorization{}, errors.Wrapf(errors.ErrInvalidState, "state expired")
	}
	return auth, nil
}

// Delete removes a pending authorization
func (r *InMemoryRepo) Delete(state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

func (r *InMemoryRepo) DeleteExpired(now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for state, auth := range r.states {
		if !auth.ExpiresAt.IsZero() && !now.Before(auth.ExpiresAt) {
			delete(r.states, state)
			removed++
		}
	}
	return removed, nil
}
