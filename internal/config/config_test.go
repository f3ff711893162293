package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-oauth-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func setProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OAUTH_PROVIDER_ID", "github")
	t.Setenv("OAUTH_CLIENT_ID", "client-1")
	t.Setenv("OAUTH_CLIENT_SECRET", "secret-1")
	t.Setenv("OAUTH_AUTHORIZE_URL", "https://provider.example.com/authorize")
	t.Setenv("OAUTH_TOKEN_URL", "https://provider.example.com/token")
	t.Setenv("OAUTH_PROFILE_URL", "https://api.provider.example.com/user")
}

func TestNew_Defaults(t *testing.T) {
	setProviderEnv(t)
	t.Setenv("BASE_URL", "https://bot.example.com/")

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, "github", c.GetProviderID())
	require.Equal(t, "github", c.GetProviderName())
	require.Equal(t, "https://bot.example.com/oauth/callback", c.GetRedirectURL())
	require.Equal(t, config.StoreMemory, c.GetTokenStore())
	require.Equal(t, 15*time.Minute, c.GetPendingAuthTTL())
	require.Equal(t, ":8080", c.GetPort())
	require.Empty(t, c.GetScopes())
}

func TestNew_MissingProviderSettings(t *testing.T) {
	for _, name := range []string{"OAUTH_PROVIDER_ID", "OAUTH_CLIENT_ID", "OAUTH_CLIENT_SECRET", "OAUTH_AUTHORIZE_URL", "OAUTH_TOKEN_URL", "OAUTH_PROFILE_URL"} {
		t.Setenv(name, "")
	}
	_, err := config.New()
	require.Error(t, err)
	require.Contains(t, err.Error(), "OAUTH_CLIENT_ID is required")
	require.Contains(t, err.Error(), "OAUTH_TOKEN_URL is required")
	require.Contains(t, err.Error(), "OAUTH_PROVIDER_ID is required")
}

func TestNew_ProviderIdentity(t *testing.T) {
	setProviderEnv(t)
	t.Setenv("OAUTH_PROVIDER_ID", "")

	_, err := config.New()
	require.ErrorContains(t, err, "OAUTH_PROVIDER_ID is required")

	t.Setenv("OAUTH_PROVIDER_ID", "gitlab")
	t.Setenv("OAUTH_PROVIDER_NAME", "GitLab")
	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, "gitlab", c.GetProviderID())
	require.Equal(t, "GitLab", c.GetProviderName())
}

func TestNew_SQLiteRequiresEncryptionKey(t *testing.T) {
	setProviderEnv(t)
	t.Setenv("TOKEN_STORE", "sqlite")

	_, err := config.New()
	require.ErrorContains(t, err, "TOKEN_ENCRYPTION_KEY")

	t.Setenv("TOKEN_ENCRYPTION_KEY", "a-long-secret")
	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, config.StoreSQLite, c.GetTokenStore())
}

func TestNew_Scopes(t *testing.T) {
	setProviderEnv(t)
	t.Setenv("OAUTH_SCOPES", "read:user,user:email")
	t.Setenv("PORT", ":9000")

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, []string{"read:user", "user:email"}, c.GetScopes())
	require.Equal(t, ":9000", c.GetPort())
}

func TestWithTokenStore(t *testing.T) {
	setProviderEnv(t)
	c, err := config.New()
	require.NoError(t, err)

	_, err = config.WithTokenStore(c, "redis")
	require.ErrorContains(t, err, "not supported")

	same, err := config.WithTokenStore(c, "")
	require.NoError(t, err)
	require.Equal(t, config.StoreMemory, same.GetTokenStore())
}
