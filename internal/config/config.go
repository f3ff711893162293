package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	ProviderConfig
	SecurityConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetDataFolder() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Provider
	Security
	Storage
}

// New loads the configuration from the environment and validates the options
// that have no usable default.
func New() (Config, error) {
	c := mainConfig{}
	if err := env.Parse(&c.Provider); err != nil {
		return nil, fmt.Errorf("[config New] parse provider env: %w", err)
	}
	if err := env.Parse(&c.Security); err != nil {
		return nil, fmt.Errorf("[config New] parse security env: %w", err)
	}
	if err := env.Parse(&c.Storage); err != nil {
		return nil, fmt.Errorf("[config New] parse storage env: %w", err)
	}
	if c.Provider.RedirectURL == "" {
		c.Provider.RedirectURL = c.GetBaseURL() + CallbackPath
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c mainConfig) validate() error {
	var errs []error
	for name, value := range map[string]string{
		"OAUTH_CLIENT_ID":     c.ClientID,
		"OAUTH_CLIENT_SECRET": c.ClientSecret,
		"OAUTH_AUTHORIZE_URL": c.AuthorizeURL,
		"OAUTH_TOKEN_URL":     c.TokenURL,
		"OAUTH_PROFILE_URL":   c.ProfileURL,
		"OAUTH_PROVIDER_ID":   c.ProviderID,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	switch c.Storage.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Security.TokenEncryptionKey == "" {
			errs = append(errs, errors.New("TOKEN_ENCRYPTION_KEY is required when TOKEN_STORE=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("TOKEN_STORE %q is not supported", c.Storage.Backend))
	}
	if (c.WebhookIssuer == "") != (c.WebhookAudience == "") {
		errs = append(errs, errors.New("WEBHOOK_ISSUER and WEBHOOK_AUDIENCE must be set together"))
	}
	return errors.Join(errs...)
}
