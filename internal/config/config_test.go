package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable applyEnvOverrides reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STORAGE_DRIVER", "DATA_DIR", "SQLITE_PATH", "DATABASE_URL",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_BASE_URL", "ALPACA_DATA_URL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"QUOTE_PROVIDER", "INITIAL_CASH", "KAFKA_BROKERS", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papertrade.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  driver: "postgres"
  data_dir: "/tmp/papertrade/data"
  postgres_url: "postgres://localhost/papertrade"
server:
  host: "127.0.0.1"
  port: 8081
  grpc_port: 9090
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
quotes:
  provider: "alpaca"
  cache_ttl: "30s"
  timeout: "2s"
  rate_limit_per_min: 100
logging:
  level: "debug"
  format: "text"
  file: "/var/log/papertrade.log"
trading:
  initial_cash: "25000.50"
events:
  kafka_brokers: ["k1:9092", "k2:9092"]
  kafka_topic: "trades"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, "postgres")
	}
	if cfg.Storage.PostgresURL != "postgres://localhost/papertrade" {
		t.Errorf("Storage.PostgresURL = %q", cfg.Storage.PostgresURL)
	}
	// Unset keys keep their defaults.
	if cfg.Storage.SQLitePath != "data/papertrade.db" {
		t.Errorf("Storage.SQLitePath = %q, want default", cfg.Storage.SQLitePath)
	}

	// -- Server --
	if cfg.Server.Port != 8081 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server ports = %d/%d, want 8081/9090", cfg.Server.Port, cfg.Server.GRPCPort)
	}

	// -- Quotes --
	if cfg.Quotes.CacheTTL != 30*time.Second {
		t.Errorf("Quotes.CacheTTL = %v, want 30s", cfg.Quotes.CacheTTL)
	}
	if cfg.Quotes.Timeout != 2*time.Second {
		t.Errorf("Quotes.Timeout = %v, want 2s", cfg.Quotes.Timeout)
	}
	if cfg.Quotes.MaxAttempts != 3 {
		t.Errorf("Quotes.MaxAttempts = %d, want default 3", cfg.Quotes.MaxAttempts)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// -- Trading --
	cash, err := cfg.Trading.InitialCashDecimal()
	if err != nil {
		t.Fatalf("InitialCashDecimal: %v", err)
	}
	if cash.String() != "25000.5" {
		t.Errorf("InitialCash = %s, want 25000.5", cash)
	}

	// -- Events --
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaTopic != "trades" {
		t.Errorf("Events = %+v", cfg.Events)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Storage.PostgresURL != "postgres://env/db" {
		t.Errorf("Storage.PostgresURL = %q", cfg.Storage.PostgresURL)
	}
	if strings.Join(cfg.Events.KafkaBrokers, ",") != "a:1,b:2" {
		t.Errorf("Events.KafkaBrokers = %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}

	// Canonical Alpaca names win over ALPACA_*.
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want apca-key", cfg.Alpaca.APIKey)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }, "sqlite_path"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = "postgres" }, "postgres_url"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"alpaca without keys", func(c *Config) { c.Quotes.Provider = "alpaca" }, "alpaca credentials"},
		{"bad simulated price", func(c *Config) {
			c.Quotes.Simulated = map[string]SimulatedQuote{"X": {Price: "-1"}}
		}, "quotes.simulated.X"},
		{"bad initial cash", func(c *Config) { c.Trading.InitialCash = "lots" }, "initial_cash"},
		{"zero initial cash", func(c *Config) { c.Trading.InitialCash = "0" }, "initial_cash"},
		{"kafka without topic", func(c *Config) {
			c.Events.KafkaBrokers = []string{"k:9092"}
			c.Events.KafkaTopic = ""
		}, "kafka_topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() returned nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
