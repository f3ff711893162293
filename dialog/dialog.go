// Package dialog holds the multi-step conversations the router can hand a
// turn to. The OAuth login dialog is the only one today.
package dialog

import (
	"context"

	"github.com/jrsteele09/go-oauth-relay/pending"
	"github.com/jrsteele09/go-oauth-relay/turn"
)

// Dialog is the capability the router drives. Implementations keep their
// progress on tx.Session and must not touch the stores directly.
type Dialog interface {
	// Begin starts the dialog for intent, restarting it if already active.
	Begin(ctx context.Context, tx *turn.Tx, intent pending.Intent) (turn.Response, error)

	// Continue feeds a passthrough message to the active dialog.
	Continue(ctx context.Context, tx *turn.Tx, text string) (turn.Response, error)

	// Cancel abandons the active dialog, if any.
	Cancel(tx *turn.Tx)
}
