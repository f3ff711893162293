package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-oauth-relay/bot"
	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/rs/zerolog/log"
)

const maxMessageBytes = 1 << 20

// MessagesHandler runs one conversational turn per delivery and answers with
// the activities to post back into the conversation.
func (s *Server) MessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg bot.Message
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
			writeJSONError(w, "invalid_request", "Malformed message body", http.StatusBadRequest)
			return
		}
		if msg.SessionID == "" || msg.UserID == "" || msg.ChannelID == "" {
			writeJSONError(w, "invalid_request", "sessionId, userId and channelId are required", http.StatusBadRequest)
			return
		}

		resp, err := s.router.HandleMessage(r.Context(), msg)
		if errors.Is(err, errors.ErrInvalidRequest) {
			writeJSONError(w, "invalid_request", "The message could not be routed", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Err(err).
				Str("request_id", requestID(r.Context())).
				Str("session", msg.Key().String()).
				Msg("turn failed")
			writeJSONError(w, "server_error", "The message could not be processed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
