package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
)

// InMemoryStore is a thread-safe in-memory Store. Clears leave a tombstone so
// that a late, older Put cannot resurrect a cleared token.
type InMemoryStore struct {
	mu         sync.RWMutex
	tokens     map[key]Record
	tombstones map[key]time.Time
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tokens:     make(map[key]Record),
		tombstones: make(map[key]time.Time),
	}
}

func (s *InMemoryStore) Get(_ context.Context, userID, providerID string) (*Record, error) {
	if userID == "" || providerID == "" {
		return nil, fmt.Errorf("userID and providerID are required: %w", errors.ErrInvalidRequest)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[key{userID, providerID}]
	if !ok || rec.Expired(NowTimeFunc()) {
		return nil, errors.ErrNotFound
	}
	// Return a copy to prevent external modifications
	return &rec, nil
}

func (s *InMemoryStore) Put(_ context.Context, rec Record) (bool, error) {
	if rec.UserID == "" || rec.ProviderID == "" {
		return false, fmt.Errorf("userID and providerID are required: %w", errors.ErrInvalidRequest)
	}
	if rec.Token == "" {
		return false, fmt.Errorf("token cannot be empty: %w", errors.ErrInvalidRequest)
	}

	k := key{rec.UserID, rec.ProviderID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tokens[k]; ok && rec.WrittenAt.Before(existing.WrittenAt) {
		return false, nil
	}
	if cleared, ok := s.tombstones[k]; ok {
		if rec.WrittenAt.Before(cleared) {
			return false, nil
		}
		delete(s.tombstones, k)
	}
	s.tokens[k] = rec
	return true, nil
}

func (s *InMemoryStore) Clear(_ context.Context, userID, providerID string, at time.Time) error {
	k := key{userID, providerID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tokens[k]; ok {
		if existing.WrittenAt.After(at) {
			return nil
		}
		delete(s.tokens, k)
	}
	if prev, ok := s.tombstones[k]; !ok || at.After(prev) {
		s.tombstones[k] = at
	}
	return nil
}

// PurgeCleared drops clear markers older than before.
func (s *InMemoryStore) PurgeCleared(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.tombstones {
		if at.Before(before) {
			delete(s.tombstones, k)
		}
	}
	return nil
}
