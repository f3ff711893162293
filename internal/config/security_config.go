package config

import "time"

type SecurityConfig interface {
	GetWebhookSecret() string
	GetWebhookIssuer() string
	GetWebhookAudience() string
	GetTokenEncryptionKey() string
	GetPendingAuthTTL() time.Duration
	GetMaxSessionAge() time.Duration
	GetSweepInterval() time.Duration
}

type Security struct {
	WebhookSecret      string        `env:"WEBHOOK_SECRET"`
	WebhookIssuer      string        `env:"WEBHOOK_ISSUER"`
	WebhookAudience    string        `env:"WEBHOOK_AUDIENCE"`
	TokenEncryptionKey string        `env:"TOKEN_ENCRYPTION_KEY"`
	PendingAuthTTL     time.Duration `env:"PENDING_AUTH_TTL" envDefault:"15m"`
	MaxSessionAge      time.Duration `env:"SESSION_MAX_AGE" envDefault:"30m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

var _ SecurityConfig = Security{}

func (s Security) GetWebhookSecret() string         { return s.WebhookSecret }
func (s Security) GetWebhookIssuer() string         { return s.WebhookIssuer }
func (s Security) GetWebhookAudience() string       { return s.WebhookAudience }
func (s Security) GetTokenEncryptionKey() string    { return s.TokenEncryptionKey }
func (s Security) GetPendingAuthTTL() time.Duration { return s.PendingAuthTTL }
func (s Security) GetMaxSessionAge() time.Duration  { return s.MaxSessionAge }
func (s Security) GetSweepInterval() time.Duration  { return s.SweepInterval }
