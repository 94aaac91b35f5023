package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"drivechain/config"
	"drivechain/core/feed"
	"drivechain/core/ledger"
	"drivechain/core/notify"
	gwmw "drivechain/gateway/middleware"
	"drivechain/integrations/webhooks"
	"drivechain/internal/passphrase"
	"drivechain/observability/logging"
	"drivechain/observability/metrics"
	telemetry "drivechain/observability/otel"
	"drivechain/services/ledgerd/models"
	"drivechain/services/ledgerd/server"
	"drivechain/storage"
)

const passphraseEnv = "DRIVECHAIN_OWNER_PASS"

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("ledgerd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./ledgerd.toml", "path to ledgerd configuration")
	flag.Parse()

	var opts []config.Option
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		pass, err := passphrase.NewSource(passphraseEnv, passphrase.WithLabel("owner keystore")).Get()
		if err != nil {
			return fmt.Errorf("owner keystore passphrase: %w", err)
		}
		opts = append(opts, config.WithKeystorePassphrase(pass))
	}
	cfg, err := config.Load(cfgPath, opts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logging.WithFile(logging.FileSink{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}))
	}
	logger, logCloser := logging.Setup("ledgerd", cfg.Environment, logOpts...)
	defer closeQuietly(logCloser)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerd",
		Version:     version,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	owner, err := cfg.Owner()
	if err != nil {
		return err
	}
	seed, err := cfg.MultiplierSeed()
	if err != nil {
		return fmt.Errorf("load multiplier seed: %w", err)
	}

	db, err := models.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer closeQuietly(sqlDB)
	}

	journal, closeJournal, err := openJournal(cfg.Feed)
	if err != nil {
		return err
	}
	defer closeQuietly(closeJournal)

	ledgerMetrics := metrics.Ledger()
	notifier := notify.New(
		notify.WithLogger(logger),
		notify.WithMetrics(ledgerMetrics),
		notify.WithObserverTimeout(cfg.Notifier.ObserverTimeout.Duration),
	)
	defer notifier.Close()

	engine, err := ledger.New(ledger.Config{
		Owner:       owner,
		Multipliers: seed,
		Paused:      cfg.PausedModules,
	},
		ledger.WithJournal(journal),
		ledger.WithPublisher(notifier),
		ledger.WithLogger(logger),
		ledger.WithMetrics(ledgerMetrics),
	)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	if cfg.Feed.Replay {
		start := time.Now()
		applied, err := engine.ReplayJournal(journal)
		if err != nil {
			return fmt.Errorf("replay change feed: %w", err)
		}
		logger.Info("change feed replayed",
			slog.Int("events", applied),
			slog.Uint64("head", journal.Head()),
			slog.Uint64("lastRecordId", engine.LastRecordID()),
			slog.Duration("elapsed", time.Since(start)))
	}

	audit := notifier.Subscribe("audit", models.NewAuditRecorder(db))
	defer audit.Unsubscribe()

	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration),
			webhooks.WithLogger(logger),
			webhooks.WithMetrics(ledgerMetrics),
		)
		if err != nil {
			return fmt.Errorf("init webhook dispatcher: %w", err)
		}
		defer dispatcher.Close()
		sub := notifier.Subscribe("webhook", dispatcher)
		defer sub.Unsubscribe()
	}

	srv := server.New(server.Config{
		Engine:   engine,
		Notifier: notifier,
		DB:       db,
		Auth: gwmw.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			TokenTTL:   cfg.Auth.TokenTTL.Duration,
			ClockSkew:  cfg.Auth.LoginSkew.Duration,
		},
		RateLimit: gwmw.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("owner", owner.Hex()),
			slog.Bool("auth", cfg.Auth.Enabled))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		notifier.Flush()
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// openJournal opens the change feed backend named by cfg.
func openJournal(cfg config.FeedConfig) (*feed.Journal, io.Closer, error) {
	var db storage.Database
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "memory":
		db = storage.NewMemDB()
	case "leveldb", "":
		ldb, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open change feed %s: %w", cfg.Path, err)
		}
		db = ldb
	default:
		return nil, nil, fmt.Errorf("unsupported feed backend %q", cfg.Backend)
	}
	journal, err := feed.Open(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return journal, closerFunc(func() error { db.Close(); return nil }), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
