package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/pending"
	"github.com/jrsteele09/go-oauth-relay/sessions"
	"github.com/jrsteele09/go-oauth-relay/tokenstore"
)

type tokenKey struct {
	userID     string
	providerID string
}

type tokenOp struct {
	put   *tokenstore.Record
	clear bool
}

// Tx buffers every mutation a turn makes. Nothing reaches the stores until
// the turn commits; reads through the Tx observe the buffered writes.
type Tx struct {
	// At is when the turn arrived. Token writes are stamped with it so that a
	// superseded turn finishing late cannot overwrite a newer token.
	At      time.Time
	Session sessions.Session

	tokens         tokenstore.Store
	tokenOps       map[tokenKey]tokenOp
	pendingAdds    []pending.Authorization
	pendingDeletes []string
}

func newTx(at time.Time, session sessions.Session, tokens tokenstore.Store) *Tx {
	return &Tx{
		At:       at,
		Session:  session,
		tokens:   tokens,
		tokenOps: make(map[tokenKey]tokenOp),
	}
}

// Token returns the live token for (userID, providerID), honouring writes
// buffered earlier in the turn. errors.ErrNotFound means there is none.
func (tx *Tx) Token(ctx context.Context, userID, providerID string) (*tokenstore.Record, error) {
	if op, ok := tx.tokenOps[tokenKey{userID, providerID}]; ok {
		if op.clear {
			return nil, errors.ErrNotFound
		}
		rec := *op.put
		return &rec, nil
	}
	return tx.tokens.Get(ctx, userID, providerID)
}

func (tx *Tx) PutToken(userID, providerID, token string, expiresAt *time.Time) {
	tx.tokenOps[tokenKey{userID, providerID}] = tokenOp{put: &tokenstore.Record{
		UserID:     userID,
		ProviderID: providerID,
		Token:      token,
		ExpiresAt:  expiresAt,
		WrittenAt:  tx.At,
	}}
}

func (tx *Tx) ClearToken(userID, providerID string) {
	tx.tokenOps[tokenKey{userID, providerID}] = tokenOp{clear: true}
}

func (tx *Tx) AddPending(auth pending.Authorization) {
	tx.pendingAdds = append(tx.pendingAdds, auth)
}

func (tx *Tx) DeletePending(state string) {
	if state != "" {
		tx.pendingDeletes = append(tx.pendingDeletes, state)
	}
}

// commit writes tokens first: when a newer write already holds a key the
// turn fails with errors.ErrStaleWrite before anything else is persisted.
func (tx *Tx) commit(ctx context.Context, stores Stores) error {
	for k, op := range tx.tokenOps {
		if op.clear {
			if err := stores.Tokens.Clear(ctx, k.userID, k.providerID, tx.At); err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			continue
		}
		applied, err := stores.Tokens.Put(ctx, *op.put)
		if err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		if !applied {
			return errors.Wrapf(errors.ErrStaleWrite, "store token for %s", k.providerID)
		}
	}
	for _, state := range tx.pendingDeletes {
		if err := stores.Pending.Delete(state); err != nil {
			return fmt.Errorf("delete pending authorization: %w", err)
		}
	}
	for _, auth := range tx.pendingAdds {
		if err := stores.Pending.Upsert(auth); err != nil {
			return fmt.Errorf("store pending authorization: %w", err)
		}
	}
	tx.Session.UpdatedAt = tx.At
	if err := stores.Sessions.Upsert(tx.Session); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}
