package config

// ProviderConfig exposes the external OAuth provider settings. None of the
// identity, endpoints or credentials have built-in values.
type ProviderConfig interface {
	GetProviderID() string
	GetProviderName() string
	GetClientID() string
	GetClientSecret() string
	GetAuthorizeURL() string
	GetTokenURL() string
	GetProfileURL() string
	GetRedirectURL() string
	GetScopes() []string
}

type Provider struct {
	ProviderID   string   `env:"OAUTH_PROVIDER_ID"`
	ProviderName string   `env:"OAUTH_PROVIDER_NAME"`
	ClientID     string   `env:"OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"OAUTH_CLIENT_SECRET"`
	AuthorizeURL string   `env:"OAUTH_AUTHORIZE_URL"`
	TokenURL     string   `env:"OAUTH_TOKEN_URL"`
	ProfileURL   string   `env:"OAUTH_PROFILE_URL"`
	RedirectURL  string   `env:"OAUTH_REDIRECT_URL"`
	Scopes       []string `env:"OAUTH_SCOPES" envSeparator:","`
}

var _ ProviderConfig = Provider{}

func (p Provider) GetProviderID() string { return p.ProviderID }

// GetProviderName is the display name used in prompts, falling back to the id.
func (p Provider) GetProviderName() string {
	if p.ProviderName == "" {
		return p.ProviderID
	}
	return p.ProviderName
}

func (p Provider) GetClientID() string     { return p.ClientID }
func (p Provider) GetClientSecret() string { return p.ClientSecret }
func (p Provider) GetAuthorizeURL() string { return p.AuthorizeURL }
func (p Provider) GetTokenURL() string     { return p.TokenURL }
func (p Provider) GetProfileURL() string   { return p.ProfileURL }
func (p Provider) GetRedirectURL() string  { return p.RedirectURL }

func (p Provider) GetScopes() []string {
	scopes := make([]string, 0, len(p.Scopes))
	for _, s := range p.Scopes {
		if s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
