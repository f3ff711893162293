package sessions_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/sessions"
	"github.com/stretchr/testify/require"
)

var testKey = sessions.Key{ChannelID: "webchat", ConversationID: "conv-1", UserID: "u1"}

func TestInMemoryRepo_UpsertGetDelete(t *testing.T) {
	r := sessions.NewInMemoryRepo()
	now := time.Now()

	_, err := r.Get(testKey)
	require.ErrorIs(t, err, errors.ErrNotFound)

	s := sessions.New(testKey, now)
	s.Notify("hello")
	require.NoError(t, r.Upsert(s))

	got, err := r.Get(testKey)
	require.NoError(t, err)
	require.Equal(t, sessions.DialogIdle, got.Dialog)
	require.Equal(t, []string{"hello"}, got.Outbox)

	require.NoError(t, r.Delete(testKey))
	_, err = r.Get(testKey)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestInMemoryRepo_ReturnsCopies(t *testing.T) {
	r := sessions.NewInMemoryRepo()
	s := sessions.New(testKey, time.Now())
	s.Notify("first")
	require.NoError(t, r.Upsert(s))

	got, err := r.Get(testKey)
	require.NoError(t, err)
	got.Outbox[0] = "changed"
	got.Dialog = sessions.DialogAwaitingRedirect

	again, err := r.Get(testKey)
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, again.Outbox)
	require.Equal(t, sessions.DialogIdle, again.Dialog)
}

func TestInMemoryRepo_RejectsIncompleteKey(t *testing.T) {
	r := sessions.NewInMemoryRepo()
	err := r.Upsert(sessions.New(sessions.Key{ConversationID: "c"}, time.Now()))
	require.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestInMemoryRepo_DeleteIdle(t *testing.T) {
	r := sessions.NewInMemoryRepo()
	now := time.Now()

	old := sessions.New(testKey, now.Add(-time.Hour))
	fresh := sessions.New(sessions.Key{ChannelID: "webchat", ConversationID: "conv-2", UserID: "u2"}, now)
	require.NoError(t, r.Upsert(old))
	require.NoError(t, r.Upsert(fresh))

	removed, err := r.DeleteIdle(now.Add(-30 * time.Minute))
	require.NoError(t, err)
	require.Equal(t, []sessions.Key{testKey}, removed)

	_, err = r.Get(fresh.Key)
	require.NoError(t, err)
}

func TestInMemoryRepo_PendingExpired(t *testing.T) {
	r := sessions.NewInMemoryRepo()
	now := time.Now()

	waiting := sessions.New(testKey, now)
	waiting.Dialog = sessions.DialogAwaitingRedirect
	waiting.PendingState = "state-1"
	waiting.PendingExpiresAt = now.Add(15 * time.Minute)
	idle := sessions.New(sessions.Key{ChannelID: "webchat", ConversationID: "conv-2", UserID: "u2"}, now)
	require.NoError(t, r.Upsert(waiting))
	require.NoError(t, r.Upsert(idle))

	expired, err := r.PendingExpired(now.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, expired)

	expired, err = r.PendingExpired(now.Add(15 * time.Minute))
	require.NoError(t, err)
	require.Equal(t, []sessions.Key{testKey}, expired)
}

func TestSession_ResetDialogClearsPendingExpiry(t *testing.T) {
	now := time.Now()
	s := sessions.New(testKey, now)
	s.Dialog = sessions.DialogAwaitingRedirect
	s.PendingState = "state-1"
	s.PendingExpiresAt = now
	require.True(t, s.PendingExpired(now))

	s.ResetDialog()
	require.False(t, s.PendingExpired(now))
	require.True(t, s.PendingExpiresAt.IsZero())
}

func TestSession_DrainOutbox(t *testing.T) {
	s := sessions.New(testKey, time.Now())
	s.Notify("a")
	s.Notify("b")
	require.Equal(t, []string{"a", "b"}, s.DrainOutbox())
	require.Empty(t, s.DrainOutbox())
}
