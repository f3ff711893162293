// Package server is the HTTP boundary of the relay: the conversational
// webhook, the OAuth callback and a health check.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-oauth-relay/bot"
	"github.com/jrsteele09/go-oauth-relay/dialog"
	"github.com/jrsteele09/go-oauth-relay/internal/config"
	"github.com/jrsteele09/go-oauth-relay/turn"
	"github.com/rs/zerolog/log"
)

// MessageRouter runs conversational turns.
type MessageRouter interface {
	HandleMessage(ctx context.Context, msg bot.Message) (turn.Response, error)
	Resume(ctx context.Context, c *dialog.Completion) error
}

// AuthCompleter finishes or aborts a login dialog from the provider redirect.
type AuthCompleter interface {
	Complete(ctx context.Context, state, code string) (*dialog.Completion, error)
	Abort(ctx context.Context, state string) error
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	router   MessageRouter
	auth     AuthCompleter
	verifier TokenVerifier
}

// New builds the server. A nil verifier leaves the webhook unauthenticated.
func New(cfg config.EnvConfig, router MessageRouter, auth AuthCompleter, verifier TokenVerifier) (*Server, error) {
	if cfg == nil || router == nil || auth == nil {
		return nil, fmt.Errorf("[Server New] config, router and auth completer are required")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		router:   router,
		auth:     auth,
		verifier: verifier,
	}
	if verifier == nil {
		log.Warn().Msg("webhook authentication disabled")
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func colouredMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colouredMethod(method), path)
}
