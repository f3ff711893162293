// Package storetest holds behaviour tests shared by every tokenstore.Store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/tokenstore"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "u1"
	testProvider = "github"
)

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Run exercises newStore against the Store contract.
func Run(t *testing.T, newStore func(t *testing.T) tokenstore.Store) {
	t.Run("get_missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), testUser, testProvider)
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("put_then_get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		applied, err := s.Put(ctx, record("abc123", base, nil))
		require.NoError(t, err)
		require.True(t, applied)

		rec, err := s.Get(ctx, testUser, testProvider)
		require.NoError(t, err)
		require.Equal(t, "abc123", rec.Token)
		require.Nil(t, rec.ExpiresAt)
		require.True(t, base.Equal(rec.WrittenAt))
	})

	t.Run("keys_are_isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Put(ctx, record("abc123", base, nil))
		require.NoError(t, err)

		_, err = s.Get(ctx, "u2", testProvider)
		require.ErrorIs(t, err, errors.ErrNotFound)
		_, err = s.Get(ctx, testUser, "gitlab")
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("older_write_is_ignored", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Put(ctx, record("newer", base.Add(time.Second), nil))
		require.NoError(t, err)

		applied, err := s.Put(ctx, record("older", base, nil))
		require.NoError(t, err)
		require.False(t, applied)

		rec, err := s.Get(ctx, testUser, testProvider)
		require.NoError(t, err)
		require.Equal(t, "newer", rec.Token)
	})

	t.Run("clear_then_late_put_is_ignored", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Put(ctx, record("first", base, nil))
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx, testUser, testProvider, base.Add(2*time.Second)))

		_, err = s.Get(ctx, testUser, testProvider)
		require.ErrorIs(t, err, errors.ErrNotFound)

		applied, err := s.Put(ctx, record("stale", base.Add(time.Second), nil))
		require.NoError(t, err)
		require.False(t, applied)

		applied, err = s.Put(ctx, record("fresh", base.Add(3*time.Second), nil))
		require.NoError(t, err)
		require.True(t, applied)
	})

	t.Run("clear_does_not_remove_newer_token", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Put(ctx, record("newer", base.Add(time.Second), nil))
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx, testUser, testProvider, base))

		rec, err := s.Get(ctx, testUser, testProvider)
		require.NoError(t, err)
		require.Equal(t, "newer", rec.Token)
	})

	t.Run("expired_token_reads_as_absent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		expired := time.Now().Add(-time.Minute)
		_, err := s.Put(ctx, record("short-lived", base, &expired))
		require.NoError(t, err)

		_, err = s.Get(ctx, testUser, testProvider)
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("empty_token_rejected", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Put(context.Background(), record("", base, nil))
		require.ErrorIs(t, err, errors.ErrInvalidRequest)
	})

	t.Run("concurrent_writes_resolve_to_latest_timestamp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = s.Put(ctx, record(fmt.Sprintf("token-%02d", i), base.Add(time.Duration(i)*time.Millisecond), nil))
			}(i)
		}
		wg.Wait()

		rec, err := s.Get(ctx, testUser, testProvider)
		require.NoError(t, err)
		require.Equal(t, "token-19", rec.Token)
	})
}

func record(token string, at time.Time, expiresAt *time.Time) tokenstore.Record {
	return tokenstore.Record{
		UserID:     testUser,
		ProviderID: testProvider,
		Token:      token,
		ExpiresAt:  expiresAt,
		WrittenAt:  at,
	}
}
