package dialog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/jrsteele09/go-oauth-relay/oauthclient"
	"github.com/jrsteele09/go-oauth-relay/pending"
	"github.com/jrsteele09/go-oauth-relay/sessions"
	"github.com/jrsteele09/go-oauth-relay/turn"
	"github.com/rs/zerolog/log"
)

// Exchanger is the provider side of the authorization-code flow.
type Exchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauthclient.Token, error)
}

type Settings struct {
	ProviderID   string
	ProviderName string
	PendingTTL   time.Duration
}

// Completion describes a callback that stored a token.
type Completion struct {
	Session sessions.Key
	Intent  pending.Intent
}

// OAuthDialog walks a session through Idle -> AwaitingRedirect ->
// AwaitingCallback -> Completed and back to Idle. Begin runs inside a turn;
// the rest is driven by the provider redirecting to the callback endpoint.
type OAuthDialog struct {
	settings    Settings
	exchanger   Exchanger
	pending     pending.Repo
	coordinator *turn.Coordinator
}

var _ Dialog = (*OAuthDialog)(nil)

func NewOAuthDialog(settings Settings, exchanger Exchanger, pendingRepo pending.Repo, coordinator *turn.Coordinator) (*OAuthDialog, error) {
	if exchanger == nil || pendingRepo == nil || coordinator == nil {
		return nil, fmt.Errorf("[dialog NewOAuthDialog] exchanger, pending repo and coordinator are required")
	}
	if settings.ProviderID == "" {
		return nil, fmt.Errorf("[dialog NewOAuthDialog] provider id is required")
	}
	if settings.ProviderName == "" {
		settings.ProviderName = settings.ProviderID
	}
	if settings.PendingTTL <= 0 {
		settings.PendingTTL = 15 * time.Minute
	}
	return &OAuthDialog{
		settings:    settings,
		exchanger:   exchanger,
		pending:     pendingRepo,
		coordinator: coordinator,
	}, nil
}

func (d *OAuthDialog) Begin(_ context.Context, tx *turn.Tx, intent pending.Intent) (turn.Response, error) {
	var resp turn.Response

	// at most one outstanding nonce per session
	if tx.Session.PendingState != "" {
		tx.DeletePending(tx.Session.PendingState)
	}

	state, err := pending.NewState()
	if err != nil {
		return resp, err
	}
	authURL := d.exchanger.AuthCodeURL(state)
	tx.AddPending(pending.Authorization{
		State:      state,
		Session:    tx.Session.Key,
		ProviderID: d.settings.ProviderID,
		Intent:     intent,
		CreatedAt:  tx.At,
		ExpiresAt:  tx.At.Add(d.settings.PendingTTL),
	})

	d.transition(&tx.Session, sessions.DialogAwaitingRedirect)
	tx.Session.PendingState = state
	tx.Session.PendingExpiresAt = tx.At.Add(d.settings.PendingTTL)
	tx.Session.AuthURL = authURL

	log.Info().
		Str("session", tx.Session.Key.String()).
		Str("provider", d.settings.ProviderID).
		Str("state_hint", pending.Hint(state)).
		Str("intent", string(intent)).
		Msg("login prompt issued")

	resp.SayWithAction(
		fmt.Sprintf("Please authenticate with %s", d.settings.ProviderName),
		fmt.Sprintf("%s Login", d.settings.ProviderName),
		authURL,
	)
	return resp, nil
}

func (d *OAuthDialog) Continue(_ context.Context, tx *turn.Tx, text string) (turn.Response, error) {
	var resp turn.Response
	if tx.Session.Dialog != sessions.DialogAwaitingRedirect {
		return resp, nil
	}
	if tx.Session.PendingExpired(tx.At) {
		d.Cancel(tx)
		resp.Say(fmt.Sprintf("Your %s sign-in link has expired. Say \"login\" to get a new one.", d.settings.ProviderName))
		return resp, nil
	}
	if strings.Contains(strings.ToLower(text), "cancel") {
		d.Cancel(tx)
		resp.Say(fmt.Sprintf("Sign-in with %s cancelled.", d.settings.ProviderName))
		return resp, nil
	}
	resp.SayWithAction(
		fmt.Sprintf("Please finish signing in with %s using the link, or say \"cancel\" to stop.", d.settings.ProviderName),
		fmt.Sprintf("%s Login", d.settings.ProviderName),
		tx.Session.AuthURL,
	)
	return resp, nil
}

func (d *OAuthDialog) Cancel(tx *turn.Tx) {
	if !tx.Session.ActiveDialog() {
		return
	}
	tx.DeletePending(tx.Session.PendingState)
	d.transition(&tx.Session, sessions.DialogIdle)
	tx.Session.ResetDialog()
}

// Complete handles the provider redirect. The nonce is consumed before
// anything else so it can never be replayed, whatever the outcome. Unknown,
// expired or foreign states fail with errors.ErrInvalidState and change
// nothing; a failed exchange fails with errors.ErrAuthExchangeFailed after
// resetting the session and queueing a notice for its next turn. When a newer
// sign-in or sign-out for the user already reached the token store it fails
// with errors.ErrStaleWrite, likewise resetting the session.
func (d *OAuthDialog) Complete(ctx context.Context, state, code string) (*Completion, error) {
	at := d.coordinator.Now()
	auth, err := d.pending.Consume(state, at)
	if err != nil {
		log.Warn().Str("state_hint", pending.Hint(state)).Msg("callback with unknown or expired state")
		return nil, err
	}
	if auth.ProviderID != d.settings.ProviderID {
		return nil, errors.Wrapf(errors.ErrInvalidState, "provider %q", auth.ProviderID)
	}

	var outcome error
	err = d.coordinator.Run(ctx, auth.Session, at, func(ctx context.Context, tx *turn.Tx) error {
		if tx.Session.Dialog != sessions.DialogAwaitingRedirect || tx.Session.PendingState != state {
			return fmt.Errorf("%w: %w", errors.ErrInvalidState, errors.ErrSessionMismatch)
		}

		d.transition(&tx.Session, sessions.DialogAwaitingCallback)
		tx.Session.PendingState = ""
		tx.Session.PendingExpiresAt = time.Time{}
		tx.Session.AuthURL = ""

		tok, err := d.exchanger.Exchange(ctx, code)
		if err != nil {
			d.transition(&tx.Session, sessions.DialogIdle)
			tx.Session.ResetDialog()
			tx.Session.Notify(fmt.Sprintf("Sign-in with %s failed. Say \"login\" to try again.", d.settings.ProviderName))
			outcome = fmt.Errorf("%w: %w", errors.ErrAuthExchangeFailed, err)
			return nil
		}

		tx.PutToken(auth.Session.UserID, d.settings.ProviderID, tok.AccessToken, tok.ExpiresAt)
		d.transition(&tx.Session, sessions.DialogCompleted)
		tx.Session.Notify(fmt.Sprintf("You are now signed in with %s.", d.settings.ProviderName))
		d.transition(&tx.Session, sessions.DialogIdle)
		tx.Session.ResetDialog()
		return nil
	})
	if errors.Is(err, errors.ErrStaleWrite) {
		d.superseded(ctx, auth.Session, state)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		log.Warn().Str("session", auth.Session.String()).Err(outcome).Msg("authorization failed")
		return nil, outcome
	}

	log.Info().Str("session", auth.Session.String()).Str("provider", d.settings.ProviderID).Msg("authorization completed")
	return &Completion{Session: auth.Session, Intent: auth.Intent}, nil
}

// superseded resets a session whose token write lost to a newer sign-in or
// sign-out for the same user.
func (d *OAuthDialog) superseded(ctx context.Context, key sessions.Key, state string) {
	log.Warn().Str("session", key.String()).Str("state_hint", pending.Hint(state)).Msg("authorization superseded by a newer token write")
	err := d.coordinator.Run(ctx, key, d.coordinator.Now(), func(_ context.Context, tx *turn.Tx) error {
		if tx.Session.PendingState != state {
			return nil
		}
		d.transition(&tx.Session, sessions.DialogIdle)
		tx.Session.ResetDialog()
		tx.Session.Notify(fmt.Sprintf("Sign-in with %s was overtaken by a newer change to your account. Say \"login\" to try again.", d.settings.ProviderName))
		return nil
	})
	if err != nil {
		log.Err(err).Str("session", key.String()).Msg("reset superseded dialog")
	}
}

// Abort handles a redirect where the provider reports an error instead of a
// code, such as the user declining consent.
func (d *OAuthDialog) Abort(ctx context.Context, state string) error {
	at := d.coordinator.Now()
	auth, err := d.pending.Consume(state, at)
	if err != nil {
		return err
	}
	return d.coordinator.Run(ctx, auth.Session, at, func(_ context.Context, tx *turn.Tx) error {
		if tx.Session.PendingState != state {
			return fmt.Errorf("%w: %w", errors.ErrInvalidState, errors.ErrSessionMismatch)
		}
		d.transition(&tx.Session, sessions.DialogIdle)
		tx.Session.ResetDialog()
		tx.Session.Notify(fmt.Sprintf("Sign-in with %s was not completed. Say \"login\" to try again.", d.settings.ProviderName))
		return nil
	})
}

func (d *OAuthDialog) transition(s *sessions.Session, to sessions.DialogState) {
	log.Debug().
		Str("session", s.Key.String()).
		Str("from", string(s.Dialog)).
		Str("to", string(to)).
		Msg("dialog transition")
	s.Dialog = to
}
