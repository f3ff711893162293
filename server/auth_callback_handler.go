package server

import (
	"net/http"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/rs/zerolog/log"
)

const (
	msgSignedIn       = "Signed in. You can close this window and return to the conversation."
	msgInvalidState   = "This sign-in link is invalid or has already been used. Start again from the conversation."
	msgMissingParams  = "Missing code or state parameter."
	msgSignInDeclined = "Sign-in was not completed. You can close this window and return to the conversation."
	msgExchangeFailed = "Sign-in could not be completed with the provider. Return to the conversation and try again."
	msgSuperseded     = "Sign-in was overtaken by a newer change to your account. Return to the conversation and try again."
	msgInternal       = "Sign-in could not be completed. Return to the conversation and try again."
)

// OAuthCallbackHandler receives the provider redirect. The response is a
// plain message for the user's browser; nothing from the provider is echoed.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")
		logger := log.With().Str("request_id", requestID(r.Context())).Logger()

		if errorParam != "" {
			logger.Info().Str("error_code", errorParam).Msg("provider returned an authorization error")
			if state != "" {
				if err := s.auth.Abort(r.Context(), state); err != nil && !errors.Is(err, errors.ErrInvalidState) {
					logger.Err(err).Msg("abort login dialog")
				}
			}
			writeText(w, http.StatusBadRequest, msgSignInDeclined)
			return
		}

		if code == "" || state == "" {
			writeText(w, http.StatusBadRequest, msgMissingParams)
			return
		}

		completion, err := s.auth.Complete(r.Context(), state, code)
		switch {
		case err == nil:
		case errors.Is(err, errors.ErrInvalidState):
			writeText(w, http.StatusBadRequest, msgInvalidState)
			return
		case errors.Is(err, errors.ErrStaleWrite):
			writeText(w, http.StatusConflict, msgSuperseded)
			return
		case errors.Is(err, errors.ErrAuthExchangeFailed):
			writeText(w, http.StatusBadGateway, msgExchangeFailed)
			return
		default:
			logger.Err(err).Msg("complete login dialog")
			writeText(w, http.StatusInternalServerError, msgInternal)
			return
		}

		// The token is stored; a failed resume only loses the follow-up message.
		if err := s.router.Resume(r.Context(), completion); err != nil {
			logger.Err(err).Str("session", completion.Session.String()).Msg("resume after sign-in")
		}
		writeText(w, http.StatusOK, msgSignedIn)
	}
}
