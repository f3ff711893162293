package server

import "github.com/jrsteele09/go-oauth-relay/internal/config"

// Route path constants
const (
	// Inbound conversational webhook
	RouteMessages = "/api/messages"

	// Provider redirect after consent
	RouteCallback = config.CallbackPath

	RouteHealth = "/healthz"
)
