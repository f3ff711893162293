// Package turn runs units of work against one session at a time and commits
// their mutations at the turn boundary.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/internal/keylock"
	"github.com/jrsteele09/go-oauth-relay/pending"
	"github.com/jrsteele09/go-oauth-relay/sessions"
	"github.com/jrsteele09/go-oauth-relay/tokenstore"
	"github.com/rs/zerolog/log"
)

// LinkExpiredNotice is queued for a session whose sign-in link expired
// before it was used.
const LinkExpiredNotice = "Your sign-in link has expired. Say \"login\" to get a new one."

// Stores is the shared mutable state a turn may touch.
type Stores struct {
	Sessions sessions.Repo
	Tokens   tokenstore.Store
	Pending  pending.Repo
}

// Coordinator serializes work per session while letting different sessions
// run concurrently.
type Coordinator struct {
	stores        Stores
	locks         *keylock.Locker
	maxSessionAge time.Duration
	nowTime       func() time.Time
}

type Option func(*Coordinator)

// WithNowTime overrides the clock.
func WithNowTime(now func() time.Time) Option {
	return func(c *Coordinator) { c.nowTime = now }
}

// WithMaxSessionAge resets sessions that have been idle for longer than age.
func WithMaxSessionAge(age time.Duration) Option {
	return func(c *Coordinator) { c.maxSessionAge = age }
}

func NewCoordinator(stores Stores, opts ...Option) (*Coordinator, error) {
	if stores.Sessions == nil || stores.Tokens == nil || stores.Pending == nil {
		return nil, fmt.Errorf("[turn NewCoordinator] sessions, tokens and pending stores are required")
	}
	c := &Coordinator{
		stores:  stores,
		locks:   keylock.New(),
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Coordinator) Now() time.Time {
	return c.nowTime()
}

// Run loads (or creates) the session for key and calls fn with a Tx while
// holding the session's lock. When fn returns nil the Tx is committed; any
// error discards every buffered mutation.
func (c *Coordinator) Run(ctx context.Context, key sessions.Key, at time.Time, fn func(ctx context.Context, tx *Tx) error) error {
	if err := key.Validate(); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "turn: %s", err)
	}

	unlock, err := c.locks.Lock(ctx, key.String())
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()

	session, stalePending, err := c.load(key, at)
	if err != nil {
		return err
	}

	tx := newTx(at, session, c.stores.Tokens)
	tx.DeletePending(stalePending)
	if err := fn(ctx, tx); err != nil {
		log.Debug().Err(err).Str("session", key.String()).Msg("turn rolled back")
		return err
	}
	if err := tx.commit(ctx, c.stores); err != nil {
		if errors.Is(err, errors.ErrStaleWrite) {
			log.Info().Str("session", key.String()).Msg("turn superseded by a newer token write, rolled back")
			return err
		}
		log.Error().Err(err).Str("session", key.String()).Msg("turn commit failed")
		return err
	}
	return nil
}

// load returns the session for key. An expired session is replaced by a fresh
// one and the nonce it was holding is returned so the turn can drop it.
func (c *Coordinator) load(key sessions.Key, at time.Time) (sessions.Session, string, error) {
	session, err := c.stores.Sessions.Get(key)
	if errors.Is(err, errors.ErrNotFound) {
		return sessions.New(key, at), "", nil
	}
	if err != nil {
		return sessions.Session{}, "", fmt.Errorf("load session: %w", err)
	}
	if c.maxSessionAge > 0 && at.Sub(session.UpdatedAt) > c.maxSessionAge {
		log.Info().Str("session", key.String()).Msg("session expired, starting fresh")
		return sessions.New(key, at), session.PendingState, nil
	}
	return session, "", nil
}

// Sweep removes expired pending authorizations, idle sessions and stale
// clear markers. Sessions still waiting on an expired nonce are returned to
// Idle with a notice for their next turn.
func (c *Coordinator) Sweep(ctx context.Context) error {
	now := c.nowTime()
	expired, err := c.stores.Pending.DeleteExpired(now)
	if err != nil {
		return fmt.Errorf("sweep pending authorizations: %w", err)
	}
	var idle []sessions.Key
	if c.maxSessionAge > 0 {
		idle, err = c.stores.Sessions.DeleteIdle(now.Add(-c.maxSessionAge))
		if err != nil {
			return fmt.Errorf("sweep sessions: %w", err)
		}
	}
	if p, ok := c.stores.Tokens.(tokenstore.Purger); ok {
		// clear markers only need to outlive turns that could still be in flight
		if err := p.PurgeCleared(ctx, now.Add(-time.Hour)); err != nil {
			return fmt.Errorf("sweep tokens: %w", err)
		}
	}

	// after DeleteIdle so a reset turn cannot revive an idle session
	stale, err := c.stores.Sessions.PendingExpired(now)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	for _, key := range stale {
		err := c.Run(ctx, key, now, func(_ context.Context, tx *Tx) error {
			if tx.Session.PendingExpired(now) {
				tx.DeletePending(tx.Session.PendingState)
				tx.Session.ResetDialog()
				tx.Session.Notify(LinkExpiredNotice)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("sweep expired dialog: %w", err)
		}
	}

	if expired > 0 || len(idle) > 0 || len(stale) > 0 {
		log.Info().Int("pending", expired).Int("sessions", len(idle)).Int("dialogs", len(stale)).Msg("swept expired state")
	}
	return nil
}
