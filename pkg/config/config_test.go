package config

import (
	"testing"
	"time"
)

func TestLoad_EnvValues(t *testing.T) {
	t.Setenv("MAILSPEND_HTTP_ADDR", ":9090")
	t.Setenv("MAILSPEND_CLIENT_SECRET", "/etc/mailspend/secret.json")
	t.Setenv("MAILSPEND_IMPORT_COOLDOWN", "120")
	t.Setenv("MAILSPEND_IMPORT_INTERVAL", "15")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_JSON", "true")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_DB", "mailspend")
	t.Setenv("POSTGRES_USER", "svc")
	t.Setenv("POSTGRES_PASSWORD", "hunter2")
	t.Setenv("POSTGRES_SSLMODE", "require")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr: got %q", cfg.HTTPAddr)
	}
	if cfg.SecretsFilePath != "/etc/mailspend/secret.json" {
		t.Errorf("SecretsFilePath: got %q", cfg.SecretsFilePath)
	}
	if cfg.CooldownSeconds != 120 {
		t.Errorf("CooldownSeconds: got %d", cfg.CooldownSeconds)
	}
	if cfg.ImportIntervalMinutes != 15 {
		t.Errorf("ImportIntervalMinutes: got %d", cfg.ImportIntervalMinutes)
	}
	if cfg.LogLevel != "DEBUG" || !cfg.LogJSON {
		t.Errorf("log config: got %q json=%v", cfg.LogLevel, cfg.LogJSON)
	}

	want := PostgresConfig{
		Host:     "db.internal",
		Port:     5433,
		Database: "mailspend",
		User:     "svc",
		Password: "hunter2",
		SSLMode:  "require",
	}
	if cfg.Postgres != want {
		t.Errorf("Postgres: got %+v, want %+v", cfg.Postgres, want)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MAILSPEND_HTTP_ADDR", "")
	t.Setenv("MAILSPEND_CLIENT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr default: got %q", cfg.HTTPAddr)
	}
	if cfg.SecretsFilePath != ClientSecretFile {
		t.Errorf("SecretsFilePath default: got %q", cfg.SecretsFilePath)
	}
}

func TestConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  PostgresConfig
		want string
	}{
		{
			name: "defaults applied",
			cfg:  PostgresConfig{Host: "localhost", Database: "mailspend", User: "svc", Password: "pw"},
			want: "host=localhost port=5432 user=svc password=pw dbname=mailspend sslmode=disable",
		},
		{
			name: "explicit port and sslmode",
			cfg: PostgresConfig{
				Host: "db.internal", Port: 6432, Database: "mailspend",
				User: "svc", Password: "pw", SSLMode: "require",
			},
			want: "host=db.internal port=6432 user=svc password=pw dbname=mailspend sslmode=require",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.ConnString(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCooldown(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{"zero defaults to a minute", 0, time.Minute},
		{"negative defaults to a minute", -5, time.Minute},
		{"explicit value", 90, 90 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{CooldownSeconds: tc.seconds}
			if got := cfg.Cooldown(); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}
