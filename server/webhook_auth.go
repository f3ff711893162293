package server

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oauth-relay/internal/config"
)

// TokenVerifier checks the bearer token a webhook delivery carries.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) error
}

// NewWebhookVerifier picks a verifier from the security settings: an OIDC
// issuer takes precedence over a shared secret. It returns nil when neither
// is configured.
func NewWebhookVerifier(ctx context.Context, cfg config.SecurityConfig) (TokenVerifier, error) {
	switch {
	case cfg.GetWebhookIssuer() != "":
		return NewOIDCVerifier(ctx, cfg.GetWebhookIssuer(), cfg.GetWebhookAudience())
	case cfg.GetWebhookSecret() != "":
		return NewHMACVerifier(cfg.GetWebhookSecret())
	}
	return nil, nil
}

// HMACVerifier accepts HS256/384/512 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("[server NewHMACVerifier] secret is required")
	}
	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}, nil
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) error {
	_, err := v.parser.Parse(rawToken, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("verify webhook token: %w", err)
	}
	return nil
}

// OIDCVerifier accepts tokens from an issuer that publishes its keys through
// OpenID discovery, such as a hosted bot channel.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, audience string) (*OIDCVerifier, error) {
	if audience == "" {
		return nil, fmt.Errorf("[server NewOIDCVerifier] audience is required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("[server NewOIDCVerifier] discover issuer %s: %w", issuer, err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) error {
	if _, err := v.verifier.Verify(ctx, rawToken); err != nil {
		return fmt.Errorf("verify webhook token: %w", err)
	}
	return nil
}
