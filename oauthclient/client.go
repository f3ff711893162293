// Package oauthclient performs the authorization-code flow against an
// external OAuth provider.
package oauthclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Token is the result of a successful exchange.
type Token struct {
	AccessToken string
	ExpiresAt   *time.Time
}

// Settings is the subset of provider configuration the client needs.
type Settings struct {
	ProviderID   string
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

type Client struct {
	providerID string
	config     oauth2.Config
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func New(s Settings, opts ...Option) (*Client, error) {
	if s.ClientID == "" || s.ClientSecret == "" {
		return nil, fmt.Errorf("[oauthclient New] client credentials are required")
	}
	if s.AuthorizeURL == "" || s.TokenURL == "" {
		return nil, fmt.Errorf("[oauthclient New] authorize and token URLs are required")
	}
	c := &Client{
		providerID: s.ProviderID,
		config: oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			RedirectURL:  s.RedirectURL,
			Scopes:       s.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  s.AuthorizeURL,
				TokenURL: s.TokenURL,
				// One POST carrying client_id and client_secret as form fields.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AuthCodeURL returns the provider's authorization URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token. Codes are single-use so
// a failed exchange is never retried. Failures are one of errors.ErrNetwork,
// errors.ErrInvalidGrant or errors.ErrMalformedResponse.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, fmt.Errorf("empty authorization code: %w", errors.ErrInvalidGrant)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		kind := classify(err)
		ev := log.Warn().Str("provider", c.providerID).Str("kind", kind.Error())
		var re *oauth2.RetrieveError
		if stderrors.As(err, &re) {
			ev = ev.Str("error_code", re.ErrorCode)
			if re.Response != nil {
				ev = ev.Int("status", re.Response.StatusCode)
			}
		}
		ev.Msg("token exchange failed")
		return nil, fmt.Errorf("[oauthclient Exchange] %w", kind)
	}

	t := &Token{AccessToken: tok.AccessToken}
	if !tok.Expiry.IsZero() {
		expiresAt := tok.Expiry.UTC()
		t.ExpiresAt = &expiresAt
	}
	return t, nil
}

// classify maps an oauth2 error onto the taxonomy. The provider's response
// body is deliberately dropped.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) {
		return errors.ErrInvalidGrant
	}
	var ue *url.Error
	var ne net.Error
	if stderrors.As(err, &ue) || stderrors.As(err, &ne) ||
		stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrNetwork
	}
	return errors.ErrMalformedResponse
}
