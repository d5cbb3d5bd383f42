// Package config loads service configuration from environment variables.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds the full service configuration.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"Session Service"`
	Port    string `env:"PORT" envDefault:"8080"`
	Env     string `env:"ENV" envDefault:"DEV"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// SigningKey is the process-wide HMAC key for access tokens.
	SigningKey string `env:"SIGNING_KEY,required"`
	Issuer     string `env:"TOKEN_ISSUER" envDefault:"go-session-service"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	// RevokeOnLogin controls whether a successful login revokes the
	// identity's previous sessions before issuing the new pair.
	RevokeOnLogin bool `env:"REVOKE_ON_LOGIN" envDefault:"true"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
	SweepRetention time.Duration `env:"SWEEP_RETENTION" envDefault:"720h"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"500"`

	// LedgerBackend selects the refresh token store: memory, redis or
	// postgres.
	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	OIDC OIDCConfig `envPrefix:"OIDC_"`
}

// OIDCConfig configures the optional federated login provider.
type OIDCConfig struct {
	Name         string `env:"NAME"`
	IssuerURL    string `env:"ISSUER_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Enabled reports whether a federated provider is configured.
func (c OIDCConfig) Enabled() bool {
	return c.Name != "" && c.IssuerURL != "" && c.ClientID != ""
}

// New parses configuration from the environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.New] parse env")
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if c.Port != "" && c.Port[0] == ':' {
		return c.Port
	}
	return ":" + c.Port
}
