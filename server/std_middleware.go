package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyRequestID stores the id assigned to the request
	ContextKeyRequestID ContextKey = "request_id"

	headerRequestID = "X-Request-ID"
)

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

// WebhookMiddleware is the chain for the machine-to-machine message endpoint.
func (s *Server) WebhookMiddleware(mw ...func(http.HandlerFunc) http.HandlerFunc) []func(http.HandlerFunc) http.HandlerFunc {
	chainedMiddleWare := []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.WebhookAuthMiddleware,
	}
	return append(chainedMiddleWare, mw...)
}

// BrowserMiddleware is the chain for pages a user's browser lands on.
func (s *Server) BrowserMiddleware(mw ...func(http.HandlerFunc) http.HandlerFunc) []func(http.HandlerFunc) http.HandlerFunc {
	chainedMiddleWare := []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.FrameSecurityMiddleware,
	}
	return append(chainedMiddleWare, mw...)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware tags the request with an id and logs its outcome. Query
// strings are never logged since the callback carries the code and state.
func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(headerRequestID, requestID)
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyRequestID, requestID))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		event := log.Info()
		if rec.status >= http.StatusInternalServerError {
			event = log.Warn()
		}
		path := r.URL.Path
		if s.env == "DEV" {
			path = fmt.Sprintf("%s %s%d%s", path, statusColor(rec.status), rec.status, ResetColor)
		}
		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("request_id", requestID(r.Context())).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func (s *Server) FrameSecurityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Prevent embedding on other sites
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
		// Keep the code and state out of any onward Referer
		w.Header().Set("Referrer-Policy", "no-referrer")
		next(w, r)
	}
}

// WebhookAuthMiddleware requires a valid bearer JWT when a verifier is configured.
func (s *Server) WebhookAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		rawToken, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || rawToken == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="webhook"`)
			writeJSONError(w, "unauthorized", "Missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := s.verifier.Verify(r.Context(), rawToken); err != nil {
			log.Warn().Err(err).Str("request_id", requestID(r.Context())).Msg("webhook token rejected")
			w.Header().Set("WWW-Authenticate", `Bearer realm="webhook", error="invalid_token"`)
			writeJSONError(w, "unauthorized", "Invalid bearer token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}
