// Package pending tracks authorizations that have been offered to a user but
// not yet completed. Each one is keyed by the OAuth state nonce and can be
// consumed exactly once.
package pending

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oauth-relay/sessions"
)

const stateLength = 32

// Intent is the router branch that started the authorization and should be
// resumed once it completes.
type Intent string

const (
	IntentLogin  Intent = "login"
	IntentWhoAmI Intent = "whoami"
)

type Authorization struct {
	State      string
	Session    sessions.Key
	ProviderID string
	Intent     Intent
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

type Repo interface {
	Upsert(auth Authorization) error
	// Consume removes and returns the authorization for state. Unknown and
	// expired states both fail with errors.ErrInvalidState.
	Consume(state string, now time.Time) (Authorization, error)
	Delete(state string) error
	DeleteExpired(now time.Time) (int, error)
}

// NewState returns a fresh random nonce suitable for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hint is a short non-secret prefix of a state for log correlation.
func Hint(state string) string {
	if len(state) <= 6 {
		return "***"
	}
	return state[:6] + "..."
}
