// Package config loads the papertrade configuration from a YAML file and
// applies environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the papertrade service.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Quotes  QuotesConfig  `yaml:"quotes"`
	Logging Logging       `yaml:"logging"`
	Trading TradingConfig `yaml:"trading"`
	Events  EventsConfig  `yaml:"events"`
}

// Storage selects the ledger backend and where it keeps its data.
type Storage struct {
	Driver      string `yaml:"driver"` // sqlite, postgres or memory
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// Server holds network listener configuration. A zero GRPCPort disables the
// gRPC listener.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"` // iex or sip
}

// QuotesConfig controls the quote provider chain.
type QuotesConfig struct {
	Provider        string                    `yaml:"provider"` // alpaca or simulator
	CacheTTL        time.Duration             `yaml:"cache_ttl"`
	CacheSize       int64                     `yaml:"cache_size"`
	Timeout         time.Duration             `yaml:"timeout"`
	MaxAttempts     int                       `yaml:"max_attempts"`
	RateLimitPerMin int                       `yaml:"rate_limit_per_min"`
	Simulated       map[string]SimulatedQuote `yaml:"simulated"`
}

// SimulatedQuote is a fixed quote served by the simulator provider.
type SimulatedQuote struct {
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TradingConfig defines account defaults.
type TradingConfig struct {
	InitialCash string `yaml:"initial_cash"` // decimal string
}

// EventsConfig controls post-commit trade event delivery.
type EventsConfig struct {
	Websocket    bool     `yaml:"websocket"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// ---------------------------------------------------------------------------
// Defaults and validation
// ---------------------------------------------------------------------------

// Default returns a configuration that runs locally with a SQLite ledger and
// simulated quotes.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Driver:     "sqlite",
			DataDir:    "data",
			SQLitePath: "data/papertrade.db",
		},
		Server: Server{Host: "0.0.0.0", Port: 8080},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			Feed:    "iex",
		},
		Quotes: QuotesConfig{
			Provider:        "simulator",
			CacheTTL:        15 * time.Second,
			CacheSize:       10000,
			Timeout:         5 * time.Second,
			MaxAttempts:     3,
			RateLimitPerMin: 200,
		},
		Logging: Logging{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Trading: TradingConfig{InitialCash: "10000"},
		Events:  EventsConfig{Websocket: true, KafkaTopic: "papertrade.trades"},
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort)
	}

	switch c.Quotes.Provider {
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("alpaca credentials are required for the alpaca quote provider")
		}
	case "simulator":
		for sym, q := range c.Quotes.Simulated {
			p, err := decimal.NewFromString(q.Price)
			if err != nil || !p.IsPositive() {
				return fmt.Errorf("quotes.simulated.%s: invalid price %q", sym, q.Price)
			}
		}
	default:
		return fmt.Errorf("unknown quotes.provider %q", c.Quotes.Provider)
	}

	if _, err := c.Trading.InitialCashDecimal(); err != nil {
		return err
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return fmt.Errorf("events.kafka_topic is required when kafka_brokers are set")
	}
	return nil
}

// InitialCashDecimal parses InitialCash. It must be a positive decimal.
func (t TradingConfig) InitialCashDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(t.InitialCash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("trading.initial_cash %q: %w", t.InitialCash, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("trading.initial_cash must be positive, got %s", d)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Default(), then applies environment variable overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("QUOTE_PROVIDER"); v != "" {
		cfg.Quotes.Provider = v
	}
	if v := os.Getenv("INITIAL_CASH"); v != "" {
		cfg.Trading.InitialCash = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = strings.Split(v, ",")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority; canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
