// Package bot routes inbound conversational messages to the login dialog,
// the token store and the profile fetcher.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-oauth-relay/dialog"
	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/pending"
	"github.com/jrsteele09/go-oauth-relay/profile"
	"github.com/jrsteele09/go-oauth-relay/sessions"
	"github.com/jrsteele09/go-oauth-relay/tokenstore"
	"github.com/jrsteele09/go-oauth-relay/turn"
	"github.com/rs/zerolog/log"
)

// ProfileFetcher reads the user's profile with a bearer token.
type ProfileFetcher interface {
	Fetch(ctx context.Context, accessToken string) (*profile.Profile, error)
}

// Message is the normalized inbound turn.
type Message struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
}

func (m Message) Key() sessions.Key {
	return sessions.Key{ChannelID: m.ChannelID, ConversationID: m.SessionID, UserID: m.UserID}
}

type Settings struct {
	ProviderID   string
	ProviderName string
}

type Router struct {
	settings    Settings
	coordinator *turn.Coordinator
	dialog      dialog.Dialog
	profiles    ProfileFetcher
}

func NewRouter(settings Settings, coordinator *turn.Coordinator, d dialog.Dialog, profiles ProfileFetcher) (*Router, error) {
	if coordinator == nil || d == nil || profiles == nil {
		return nil, fmt.Errorf("[bot NewRouter] coordinator, dialog and profile fetcher are required")
	}
	if settings.ProviderID == "" {
		return nil, fmt.Errorf("[bot NewRouter] provider id is required")
	}
	if settings.ProviderName == "" {
		settings.ProviderName = settings.ProviderID
	}
	return &Router{
		settings:    settings,
		coordinator: coordinator,
		dialog:      d,
		profiles:    profiles,
	}, nil
}

// HandleMessage runs one turn for the message's session. Messages queued
// between turns are delivered first. All session and token changes commit
// together when the turn returns without error.
func (r *Router) HandleMessage(ctx context.Context, msg Message) (turn.Response, error) {
	at := r.coordinator.Now()
	var resp turn.Response
	err := r.coordinator.Run(ctx, msg.Key(), at, func(ctx context.Context, tx *turn.Tx) error {
		resp = turn.Response{}
		for _, text := range tx.Session.DrainOutbox() {
			resp.Say(text)
		}
		out, err := r.route(ctx, tx, msg.Text)
		if err != nil {
			return err
		}
		resp.Append(out)
		return nil
	})
	if err != nil {
		return turn.Response{}, err
	}
	return resp, nil
}

// route matches intents by case-insensitive substring, in order.
func (r *Router) route(ctx context.Context, tx *turn.Tx, text string) (turn.Response, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "login"):
		return r.login(ctx, tx)
	case strings.Contains(lower, "whoami"):
		return r.whoami(ctx, tx)
	case strings.Contains(lower, "logout"):
		return r.logout(tx), nil
	case tx.Session.ActiveDialog():
		return r.dialog.Continue(ctx, tx, text)
	}
	return turn.Response{}, nil
}

func (r *Router) login(ctx context.Context, tx *turn.Tx) (turn.Response, error) {
	rec, err := r.token(ctx, tx)
	if err != nil {
		return turn.Response{}, err
	}
	if rec != nil {
		var resp turn.Response
		resp.Say("You are already logged in.")
		return resp, nil
	}
	return r.dialog.Begin(ctx, tx, pending.IntentLogin)
}

func (r *Router) whoami(ctx context.Context, tx *turn.Tx) (turn.Response, error) {
	var resp turn.Response
	rec, err := r.token(ctx, tx)
	if err != nil {
		return resp, err
	}
	if rec == nil {
		prompt, err := r.dialog.Begin(ctx, tx, pending.IntentWhoAmI)
		if err != nil {
			return resp, err
		}
		resp.Append(prompt)

		// Begin only issues the prompt; the token arrives with the provider
		// redirect, after which the whoami is resumed.
		if rec, err = r.token(ctx, tx); err != nil {
			return resp, err
		}
		if rec == nil {
			resp.Say(fmt.Sprintf("You are not authenticated. Sign in with %s using the link above and I will show your profile once you are done.", r.settings.ProviderName))
			return resp, nil
		}
	}
	resp.Append(r.showProfile(ctx, tx, rec))
	return resp, nil
}

func (r *Router) logout(tx *turn.Tx) turn.Response {
	var resp turn.Response
	tx.ClearToken(tx.Session.Key.UserID, r.settings.ProviderID)
	r.dialog.Cancel(tx)
	resp.Say(fmt.Sprintf("You have been signed out of %s.", r.settings.ProviderName))
	return resp
}

// showProfile turns every fetch outcome into chat messages. A rejected token
// is cleared so the next login starts over.
func (r *Router) showProfile(ctx context.Context, tx *turn.Tx, rec *tokenstore.Record) turn.Response {
	var resp turn.Response
	p, err := r.profiles.Fetch(ctx, rec.Token)
	switch {
	case err == nil:
		resp.Say("You are logged in.")
		resp.Say(p.String())
	case errors.Is(err, errors.ErrUnauthorized):
		tx.ClearToken(rec.UserID, rec.ProviderID)
		log.Info().Str("session", tx.Session.Key.String()).Str("provider", rec.ProviderID).Msg("token rejected, cleared")
		resp.Say(fmt.Sprintf("Your %s sign-in is no longer valid. Say \"login\" to sign in again.", r.settings.ProviderName))
	default:
		log.Warn().Err(err).Str("session", tx.Session.Key.String()).Msg("profile fetch failed")
		resp.Say(fmt.Sprintf("Sorry, I could not retrieve your %s profile right now.", r.settings.ProviderName))
	}
	return resp
}

// Resume finishes the intent that was waiting on a completed authorization.
// Its output is queued for the session's next turn.
func (r *Router) Resume(ctx context.Context, c *dialog.Completion) error {
	if c == nil || c.Intent != pending.IntentWhoAmI {
		return nil
	}
	return r.coordinator.Run(ctx, c.Session, r.coordinator.Now(), func(ctx context.Context, tx *turn.Tx) error {
		rec, err := r.token(ctx, tx)
		if err != nil || rec == nil {
			return err
		}
		for _, text := range r.showProfile(ctx, tx, rec).Texts() {
			tx.Session.Notify(text)
		}
		return nil
	})
}

// token returns nil without error when the user has no live token.
func (r *Router) token(ctx context.Context, tx *turn.Tx) (*tokenstore.Record, error) {
	rec, err := tx.Token(ctx, tx.Session.Key.UserID, r.settings.ProviderID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if rec.Token == "" {
		return nil, nil
	}
	return rec, nil
}
