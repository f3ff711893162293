package sessions

import (
	"fmt"
	"time"
)

// DialogState is the position of the session's login dialog.
type DialogState string

const (
	DialogIdle             DialogState = "idle"
	DialogAwaitingRedirect DialogState = "awaiting_redirect"
	DialogAwaitingCallback DialogState = "awaiting_callback"
	DialogCompleted        DialogState = "completed"
)

// Key identifies one user in one conversation on one channel. Keying on all
// three keeps a user's dialog and outbox from being observed by anyone else in
// a shared conversation.
type Key struct {
	ChannelID      string
	ConversationID string
	UserID         string
}

func (k Key) Validate() error {
	if k.ChannelID == "" || k.ConversationID == "" || k.UserID == "" {
		return fmt.Errorf("channelID, conversationID and userID are required")
	}
	return nil
}

// String is the lock and map key for the session.
func (k Key) String() string {
	return k.ChannelID + "|" + k.ConversationID + "|" + k.UserID
}

// Session is the conversational context for one user on one channel.
type Session struct {
	Key Key

	// Login dialog. PendingState is the nonce of the outstanding authorization
	// and is only set while the dialog is awaiting the redirect.
	Dialog           DialogState
	PendingState     string
	PendingExpiresAt time.Time
	AuthURL          string

	// Outbox holds messages produced between turns (callback results,
	// resumed intents). They are delivered at the start of the next turn.
	Outbox []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an idle session created at now.
func New(key Key, now time.Time) Session {
	return Session{
		Key:       key,
		Dialog:    DialogIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActiveDialog reports whether a dialog is in progress.
func (s *Session) ActiveDialog() bool {
	return s.Dialog == DialogAwaitingRedirect || s.Dialog == DialogAwaitingCallback
}

// ResetDialog returns the dialog to Idle and forgets any pending nonce.
func (s *Session) ResetDialog() {
	s.Dialog = DialogIdle
	s.PendingState = ""
	s.PendingExpiresAt = time.Time{}
	s.AuthURL = ""
}

// PendingExpired reports whether the session is waiting on a nonce that can
// no longer be redeemed.
func (s *Session) PendingExpired(now time.Time) bool {
	return s.PendingState != "" && !s.PendingExpiresAt.IsZero() && !now.Before(s.PendingExpiresAt)
}

// Notify appends a message to the outbox.
func (s *Session) Notify(text string) {
	s.Outbox = append(s.Outbox, text)
}

// DrainOutbox empties the outbox and returns what it held.
func (s *Session) DrainOutbox() []string {
	out := s.Outbox
	s.Outbox = nil
	return out
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	if s.Outbox != nil {
		s.Outbox = append([]string(nil), s.Outbox...)
	}
	return s
}
