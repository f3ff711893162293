package bot_test

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-oauth-relay/bot"
	"github.com/jrsteele09/go-oauth-relay/dialog"
	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/oauthclient"
	"github.com/jrsteele09/go-oauth-relay/pending"
	"github.com/jrsteele09/go-oauth-relay/profile"
	"github.com/jrsteele09/go-oauth-relay/sessions"
	"github.com/jrsteele09/go-oauth-relay/tokenstore"
	"github.com/jrsteele09/go-oauth-relay/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProvider = "github"

type fakeExchanger struct{}

func (fakeExchanger) AuthCodeURL(state string) string {
	return "https://provider.example.com/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (fakeExchanger) Exchange(_ context.Context, code string) (*oauthclient.Token, error) {
	if code != "good-code" {
		return nil, errors.ErrInvalidGrant
	}
	return &oauthclient.Token{AccessToken: "abc123"}, nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
	errs     map[string]error
	calls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, accessToken string) (*profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, accessToken)
	if err, ok := f.errs[accessToken]; ok {
		return nil, err
	}
	if p, ok := f.profiles[accessToken]; ok {
		return p, nil
	}
	return nil, errors.ErrUnauthorized
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// countingDialog records how often the router begins a login.
type countingDialog struct {
	dialog.Dialog
	mu     sync.Mutex
	begins int
}

func (c *countingDialog) Begin(ctx context.Context, tx *turn.Tx, intent pending.Intent) (turn.Response, error) {
	c.mu.Lock()
	c.begins++
	c.mu.Unlock()
	return c.Dialog.Begin(ctx, tx, intent)
}

func (c *countingDialog) beginCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begins
}

type testFixture struct {
	sessions *sessions.InMemoryRepo
	tokens   *tokenstore.InMemoryStore
	dialog   *dialog.OAuthDialog
	counting *countingDialog
	fetcher  *fakeFetcher
	router   *bot.Router
	now      time.Time
}

var octocat = &profile.Profile{
	DisplayName: "The Octocat",
	LoginHandle: "octocat",
	Email:       "octocat@example.com",
	Bio:         profile.Unknown,
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		sessions: sessions.NewInMemoryRepo(),
		tokens:   tokenstore.NewInMemoryStore(),
		fetcher: &fakeFetcher{
			profiles: map[string]*profile.Profile{"abc123": octocat},
			errs:     map[string]error{},
		},
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	pendingRepo := pending.NewInMemoryRepo()
	coordinator, err := turn.NewCoordinator(
		turn.Stores{Sessions: f.sessions, Tokens: f.tokens, Pending: pendingRepo},
		turn.WithNowTime(func() time.Time { return f.now }),
	)
	require.NoError(t, err)

	f.dialog, err = dialog.NewOAuthDialog(dialog.Settings{
		ProviderID:   testProvider,
		ProviderName: "GitHub",
		PendingTTL:   15 * time.Minute,
	}, fakeExchanger{}, pendingRepo, coordinator)
	require.NoError(t, err)
	f.counting = &countingDialog{Dialog: f.dialog}

	f.router, err = bot.NewRouter(bot.Settings{ProviderID: testProvider, ProviderName: "GitHub"}, coordinator, f.counting, f.fetcher)
	require.NoError(t, err)
	return f
}

func message(userID, text string) bot.Message {
	return bot.Message{SessionID: "conv-" + userID, UserID: userID, ChannelID: "webchat", Text: text}
}

func (f *testFixture) seedToken(t *testing.T, userID, token string) {
	t.Helper()
	_, err := f.tokens.Put(context.Background(), tokenstore.Record{
		UserID:     userID,
		ProviderID: testProvider,
		Token:      token,
		WrittenAt:  f.now.Add(-time.Minute),
	})
	require.NoError(t, err)
}

func (f *testFixture) hasToken(t *testing.T, userID string) bool {
	t.Helper()
	_, err := f.tokens.Get(context.Background(), userID, testProvider)
	if errors.Is(err, errors.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (f *testFixture) send(t *testing.T, userID, text string) turn.Response {
	t.Helper()
	resp, err := f.router.HandleMessage(context.Background(), message(userID, text))
	require.NoError(t, err)
	return resp
}

func TestHandleMessage_LoginIntent(t *testing.T) {
	tests := []string{"login", "please LOGIN now", "Login"}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			f := setupTestFixture(t)

			resp := f.send(t, "u1", text)
			require.Len(t, resp.Activities, 1)
			require.Equal(t, "Please authenticate with GitHub", resp.Activities[0].Text)
			require.NotNil(t, resp.Activities[0].Action)
			require.Equal(t, "GitHub Login", resp.Activities[0].Action.Title)
			require.Equal(t, 1, f.counting.beginCount())

			s, err := f.sessions.Get(message("u1", text).Key())
			require.NoError(t, err)
			require.Equal(t, sessions.DialogAwaitingRedirect, s.Dialog)
		})
	}
}

func TestHandleMessage_LoginWhenAlreadyLoggedIn(t *testing.T) {
	f := setupTestFixture(t)
	f.seedToken(t, "u1", "abc123")

	resp := f.send(t, "u1", "login")
	require.Equal(t, []string{"You are already logged in."}, resp.Texts())
	require.Equal(t, 0, f.counting.beginCount())
}

func TestHandleMessage_WhoAmIWithToken(t *testing.T) {
	f := setupTestFixture(t)
	f.seedToken(t, "u1", "abc123")

	resp := f.send(t, "u1", "whoami")
	require.Equal(t, []string{"You are logged in.", octocat.String()}, resp.Texts())
	require.Equal(t, []string{"abc123"}, f.fetcher.fetched())
	require.Equal(t, 0, f.counting.beginCount())
}

func TestHandleMessage_WhoAmIWithoutToken(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.send(t, "u1", "whoami")
	require.Equal(t, 1, f.counting.beginCount())
	require.Empty(t, f.fetcher.fetched())
	require.Len(t, resp.Activities, 2)
	require.Equal(t, "Please authenticate with GitHub", resp.Activities[0].Text)
	require.Contains(t, resp.Activities[1].Text, "You are not authenticated.")
}

func TestHandleMessage_NoCrossUserLeakage(t *testing.T) {
	f := setupTestFixture(t)
	f.seedToken(t, "u1", "abc123")

	resp := f.send(t, "u2", "whoami")
	require.Equal(t, 1, f.counting.beginCount())
	require.Empty(t, f.fetcher.fetched())
	require.NotContains(t, resp.Texts(), octocat.String())

	resp = f.send(t, "u2", "login")
	require.NotEqual(t, []string{"You are already logged in."}, resp.Texts())
}

func TestHandleMessage_SameUserDifferentConversationsShareToken(t *testing.T) {
	f := setupTestFixture(t)
	f.seedToken(t, "u1", "abc123")

	msg := bot.Message{SessionID: "another-conversation", UserID: "u1", ChannelID: "teams", Text: "whoami"}
	resp, err := f.router.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, []string{"You are logged in.", octocat.String()}, resp.Texts())
}

func TestHandleMessage_RejectedTokenIsCleared(t *testing.T) {
	f := setupTestFixture(t)
	f.seedToken(t, "u1", "revoked")

	resp := f.send(t, "u1", "whoami")
	require.Len(t, resp.Activities, 1)
	require.Contains(t, resp.Activities[0].Text, "no longer valid")
	require.False(t, f.hasToken(t, "u1"))

	resp = f.send(t, "u1", "login")
	require.Equal(t, "Please authenticate with GitHub", resp.Activities[0].Text)
}

func TestHandleMessage_ProfileFailureKeepsToken(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network", errors.ErrNetwork},
		{"malformed", errors.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.seedToken(t, "u1", "flaky")
			f.fetcher.errs["flaky"] = fmt.Errorf("fetch: %w", tt.err)

			resp := f.send(t, "u1", "whoami")
			require.Equal(t, []string{"Sorry, I could not retrieve your GitHub profile right now."}, resp.Texts())
			require.True(t, f.hasToken(t, "u1"))
		})
	}
}

func TestHandleMessage_WhoAmIResumesAfterCallback(t *testing.T) {
	f := setupTestFixture(t)
	f.send(t, "u1", "whoami")

	s, err := f.sessions.Get(message("u1", "").Key())
	require.NoError(t, err)
	require.NotEmpty(t, s.PendingState)

	completion, err := f.dialog.Complete(context.Background(), s.PendingState, "good-code")
	require.NoError(t, err)
	require.Equal(t, pending.IntentWhoAmI, completion.Intent)
	require.NoError(t, f.router.Resume(context.Background(), completion))
	require.Equal(t, []string{"abc123"}, f.fetcher.fetched())

	resp := f.send(t, "u1", "thanks")
	require.Equal(t, []string{
		"You are now signed in with GitHub.",
		"You are logged in.",
		octocat.String(),
	}, resp.Texts())

	// the outbox is delivered once
	resp = f.send(t, "u1", "thanks")
	require.Empty(t, resp.Activities)
}

func TestResume_LoginIntentOnlyNotifies(t *testing.T) {
	f := setupTestFixture(t)
	f.send(t, "u1", "login")

	s, err := f.sessions.Get(message("u1", "").Key())
	require.NoError(t, err)

	completion, err := f.dialog.Complete(context.Background(), s.PendingState, "good-code")
	require.NoError(t, err)
	require.NoError(t, f.router.Resume(context.Background(), completion))
	require.Empty(t, f.fetcher.fetched())

	resp := f.send(t, "u1", "login")
	require.Equal(t, []string{"You are now signed in with GitHub.", "You are already logged in."}, resp.Texts())
}

func TestHandleMessage_Logout(t *testing.T) {
	f := setupTestFixture(t)
	f.seedToken(t, "u1", "abc123")

	resp := f.send(t, "u1", "logout")
	require.Equal(t, []string{"You have been signed out of GitHub."}, resp.Texts())
	require.False(t, f.hasToken(t, "u1"))
}

func TestHandleMessage_PassthroughToActiveDialog(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.send(t, "u1", "hello")
	require.Empty(t, resp.Activities)

	f.send(t, "u1", "login")
	resp = f.send(t, "u1", "hello")
	require.Len(t, resp.Activities, 1)
	require.NotNil(t, resp.Activities[0].Action)

	resp = f.send(t, "u1", "cancel")
	require.Equal(t, []string{"Sign-in with GitHub cancelled."}, resp.Texts())

	s, err := f.sessions.Get(message("u1", "").Key())
	require.NoError(t, err)
	require.Equal(t, sessions.DialogIdle, s.Dialog)
}

func TestHandleMessage_ExpiredLinkIsNotRepeated(t *testing.T) {
	f := setupTestFixture(t)
	f.send(t, "u1", "login")

	s, err := f.sessions.Get(message("u1", "").Key())
	require.NoError(t, err)
	expiredState := s.PendingState

	f.now = f.now.Add(20 * time.Minute)
	resp := f.send(t, "u1", "hello")
	require.Equal(t, []string{"Your GitHub sign-in link has expired. Say \"login\" to get a new one."}, resp.Texts())
	require.Nil(t, resp.Activities[0].Action)

	s, err = f.sessions.Get(message("u1", "").Key())
	require.NoError(t, err)
	require.Equal(t, sessions.DialogIdle, s.Dialog)
	require.Empty(t, s.AuthURL)

	resp = f.send(t, "u1", "hello")
	require.Empty(t, resp.Activities)

	resp = f.send(t, "u1", "login")
	require.Len(t, resp.Activities, 1)
	require.NotNil(t, resp.Activities[0].Action)
	require.NotContains(t, resp.Activities[0].Action.URL, url.QueryEscape(expiredState))

	s, err = f.sessions.Get(message("u1", "").Key())
	require.NoError(t, err)
	_, err = f.dialog.Complete(context.Background(), s.PendingState, "good-code")
	require.NoError(t, err)
	require.True(t, f.hasToken(t, "u1"))
}

func TestHandleMessage_IncompleteIdentity(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.router.HandleMessage(context.Background(), bot.Message{SessionID: "conv", ChannelID: "webchat", Text: "whoami"})
	require.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestHandleMessage_ConcurrentSessionsStayIsolated(t *testing.T) {
	f := setupTestFixture(t)
	const users = 10
	for i := 0; i < users; i++ {
		token := fmt.Sprintf("token-%d", i)
		f.seedToken(t, fmt.Sprintf("user-%d", i), token)
		f.fetcher.profiles[token] = &profile.Profile{
			DisplayName: profile.Unknown,
			LoginHandle: fmt.Sprintf("login-%d", i),
			Email:       profile.Unknown,
			Bio:         profile.Unknown,
		}
	}

	var wg sync.WaitGroup
	results := make([]turn.Response, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.router.HandleMessage(context.Background(), message(fmt.Sprintf("user-%d", i), "whoami"))
			if !assert.NoError(t, err) {
				return
			}
			results[i] = resp
		}(i)
	}
	wg.Wait()

	for i, resp := range results {
		require.Len(t, resp.Activities, 2)
		require.Contains(t, resp.Activities[1].Text, fmt.Sprintf("Login: login-%d\n", i))
	}
}

func TestNewRouter_MissingDependencies(t *testing.T) {
	_, err := bot.NewRouter(bot.Settings{ProviderID: testProvider}, nil, nil, nil)
	require.Error(t, err)
}
