// Package config holds the application configuration loaded from
// environment variables via koanf.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ClientSecretFile is the default path to the Google OAuth client
// credentials JSON file.
const ClientSecretFile = "data/client_secret.json"

// Config holds the application configuration.
type Config struct {
	// HTTPAddr is the listen address of the HTTP server.
	// Environment variable: MAILSPEND_HTTP_ADDR
	HTTPAddr string `koanf:"MAILSPEND_HTTP_ADDR"`

	// SecretsFilePath is the path to the Google OAuth client secret JSON.
	// Environment variable: MAILSPEND_CLIENT_SECRET
	SecretsFilePath string `koanf:"MAILSPEND_CLIENT_SECRET"`

	// CooldownSeconds is the minimum gap between the end of one import
	// run and the start of the next for the same account.
	// Environment variable: MAILSPEND_IMPORT_COOLDOWN
	CooldownSeconds int `koanf:"MAILSPEND_IMPORT_COOLDOWN"`

	// ImportIntervalMinutes is the periodic import interval for the
	// background daemon. Zero disables the daemon.
	// Environment variable: MAILSPEND_IMPORT_INTERVAL
	ImportIntervalMinutes int `koanf:"MAILSPEND_IMPORT_INTERVAL"`

	// LogLevel is the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Environment variable: LOG_LEVEL
	LogLevel string `koanf:"LOG_LEVEL"`

	// LogJSON enables JSON log output.
	// Environment variable: LOG_JSON
	LogJSON bool `koanf:"LOG_JSON"`

	// Postgres fields decode from the same flat environment map as the
	// rest of the config, so the struct is squashed rather than nested.
	Postgres PostgresConfig `koanf:",squash"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// ConnString builds a pgx connection string with defaults applied.
func (p PostgresConfig) ConnString() string {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, port, p.User, p.Password, p.Database, sslMode,
	)
}

// Cooldown returns the configured cooldown window, defaulting to one
// minute.
func (c Config) Cooldown() time.Duration {
	if c.CooldownSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.SecretsFilePath == "" {
		cfg.SecretsFilePath = ClientSecretFile
	}

	return cfg, nil
}
