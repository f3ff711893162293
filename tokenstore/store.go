// Package tokenstore maps (user, provider) to the OAuth access token obtained
// for that user. It is the only place tokens are kept.
package tokenstore

import (
	"context"
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Record is one stored token. WrittenAt orders competing writes for the same
// key: a write older than the stored one is ignored.
type Record struct {
	UserID     string
	ProviderID string
	Token      string
	ExpiresAt  *time.Time
	WrittenAt  time.Time
}

// Expired reports whether the record carries an expiry that has passed.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Store is implemented by the in-memory and SQLite token stores.
type Store interface {
	// Get returns errors.ErrNotFound when no live token exists for the key.
	Get(ctx context.Context, userID, providerID string) (*Record, error)

	// Put stores rec unless a newer write for the same key already exists.
	// It reports whether rec was applied.
	Put(ctx context.Context, rec Record) (bool, error)

	// Clear removes the token for the key unless it was written after at.
	Clear(ctx context.Context, userID, providerID string, at time.Time) error
}

// Purger is implemented by stores that keep markers for cleared keys.
type Purger interface {
	PurgeCleared(ctx context.Context, before time.Time) error
}

type key struct {
	userID     string
	providerID string
}
