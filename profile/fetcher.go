// Package profile reads the authenticated user's profile from the provider.
package profile

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Unknown stands in for any field the provider did not return.
const Unknown = "unknown"

const maxBodyBytes = 1 << 20

// Profile is a normalized view of the provider's user record. It is never
// persisted.
type Profile struct {
	DisplayName string
	LoginHandle string
	Email       string
	Bio         string
}

// String renders the profile as a chat message.
func (p Profile) String() string {
	return fmt.Sprintf("Name: %s\nLogin: %s\nEmail: %s\nBio: %s", p.DisplayName, p.LoginHandle, p.Email, p.Bio)
}

type Fetcher struct {
	profileURL string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Fetcher)

// WithHTTPClient sets the base client; the bearer transport wraps it.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

func New(profileURL, userAgent string, opts ...Option) (*Fetcher, error) {
	if profileURL == "" {
		return nil, fmt.Errorf("[profile New] profile URL is required")
	}
	f := &Fetcher{
		profileURL: profileURL,
		userAgent:  userAgent,
		timeout:    10 * time.Second,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch makes one authenticated GET for the profile. Failures are one of
// errors.ErrUnauthorized, errors.ErrNetwork or errors.ErrMalformedResponse.
func (f *Fetcher) Fetch(ctx context.Context, accessToken string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("[profile Fetch] build request: %w", errors.ErrInternal)
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(stripURL(err)).Msg("profile request failed")
		return nil, fmt.Errorf("[profile Fetch] %w", errors.ErrNetwork)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("[profile Fetch] status %d: %w", resp.StatusCode, errors.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		log.Warn().Int("status", resp.StatusCode).Msg("profile endpoint returned an error status")
		return nil, fmt.Errorf("[profile Fetch] status %d: %w", resp.StatusCode, errors.ErrNetwork)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("[profile Fetch] read body: %w", errors.ErrNetwork)
	}
	return parse(body)
}

// parse extracts fields by name without assuming the response shape; any
// field that is missing, null or not a scalar becomes Unknown.
func parse(body []byte) (*Profile, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("[profile parse] invalid JSON: %w", errors.ErrMalformedResponse)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("[profile parse] expected a JSON object: %w", errors.ErrMalformedResponse)
	}
	return &Profile{
		DisplayName: field(doc, "name"),
		LoginHandle: field(doc, "login"),
		Email:       field(doc, "email"),
		Bio:         field(doc, "bio"),
	}, nil
}

func field(doc gjson.Result, name string) string {
	v := doc.Get(name)
	switch v.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return Unknown
}

// stripURL drops the request URL from transport errors before logging.
func stripURL(err error) error {
	var ue interface{ Unwrap() error }
	if stderrors.As(err, &ue) {
		if inner := ue.Unwrap(); inner != nil {
			return inner
		}
	}
	return err
}
