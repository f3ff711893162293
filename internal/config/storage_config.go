package config

import "path/filepath"

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type StorageConfig interface {
	GetTokenStore() string
	GetTokenStorePath() string
}

type Storage struct {
	Backend string `env:"TOKEN_STORE" envDefault:"memory"`
}

var _ StorageConfig = mainConfig{}

func (c mainConfig) GetTokenStore() string {
	return c.Storage.Backend
}

// GetTokenStorePath is the SQLite file inside the data folder.
func (c mainConfig) GetTokenStorePath() string {
	return filepath.Join(c.GetDataFolder(), "tokens.db")
}

// WithTokenStore returns a copy of cfg using the given backend, used for
// command line overrides.
func WithTokenStore(cfg Config, backend string) (Config, error) {
	c, ok := cfg.(mainConfig)
	if !ok || backend == "" {
		return cfg, nil
	}
	c.Storage.Backend = backend
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}
