package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"papertrade/internal/api"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/events"
	"papertrade/internal/httpapi"
	"papertrade/internal/quote"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

type ledgerStore interface {
	store.Ledger
	store.AccountStore
	io.Closer
}

func main() {
	_ = godotenv.Load()

	cfgPath := "config/papertrade.yaml"
	if p := os.Getenv("PAPERTRADE_CONFIG"); p != "" {
		cfgPath = p
	}
	if _, err := os.Stat(cfgPath); err != nil {
		cfgPath = ""
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLoggerWithOptions(util.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("papertrade-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	provider, closeQuotes, err := newQuoteProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuotes()

	eng := engine.NewEngine(st, st, provider, logger)
	if eng.InitialCash, err = cfg.Trading.InitialCashDecimal(); err != nil {
		return err
	}

	var (
		pubs   events.Multi
		stream *events.Hub
	)
	if cfg.Events.Websocket {
		stream = events.NewHub(logger)
		go stream.Run(ctx)
		pubs = append(pubs, stream)
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return err
		}
		defer kp.Close()
		pubs = append(pubs, kp)
	}
	if len(pubs) > 0 {
		eng.SetPublisher(pubs)
	}
	defer eng.Close()

	var streamHandler http.Handler
	if stream != nil {
		streamHandler = stream
	}
	handler := httpapi.NewServer(eng, streamHandler, logger).Handler()
	srv := api.NewServer(cfg.Server, handler, api.NewLedgerService(eng), logger)

	logger.Info("papertrade-server starting",
		"storage", cfg.Storage.Driver,
		"quotes", provider.Name(),
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
	)
	return srv.ListenAndServe(ctx)
}

func openStore(ctx context.Context, cfg config.Storage) (ledgerStore, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.PostgresURL)
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
		return store.NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newQuoteProvider builds provider -> Resilient -> Cached.
func newQuoteProvider(cfg *config.Config, logger *slog.Logger) (quote.Provider, func(), error) {
	var base quote.Provider
	switch cfg.Quotes.Provider {
	case "alpaca":
		base = quote.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
	case "simulator", "":
		sim := quote.NewSimulator()
		for sym, q := range cfg.Quotes.Simulated {
			price, err := decimal.NewFromString(q.Price)
			if err != nil {
				return nil, nil, fmt.Errorf("simulated quote %s: %w", sym, err)
			}
			sim.Set(sym, q.Name, price)
		}
		base = sim
	default:
		return nil, nil, fmt.Errorf("unknown quote provider %q", cfg.Quotes.Provider)
	}

	resilient := quote.NewResilient(base, quote.ResilientOptions{
		Timeout:     cfg.Quotes.Timeout,
		MaxAttempts: cfg.Quotes.MaxAttempts,
		PerMinute:   cfg.Quotes.RateLimitPerMin,
	}, logger)
	if cfg.Quotes.CacheTTL <= 0 {
		return resilient, func() {}, nil
	}
	cached, err := quote.NewCached(resilient, cfg.Quotes.CacheSize, cfg.Quotes.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}
