package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/liamashdown/amlwatch/internal/alerts"
	"github.com/liamashdown/amlwatch/internal/api"
	"github.com/liamashdown/amlwatch/internal/blacklist"
	"github.com/liamashdown/amlwatch/internal/bot"
	"github.com/liamashdown/amlwatch/internal/config"
	"github.com/liamashdown/amlwatch/internal/engine"
	"github.com/liamashdown/amlwatch/internal/ledger"
	"github.com/liamashdown/amlwatch/internal/metrics"
	"github.com/liamashdown/amlwatch/internal/ratelimit"
	"github.com/liamashdown/amlwatch/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting amlwatch service...")

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Failed to read .env file")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"blacklist_backend": cfg.BlacklistBackend,
		"ledger_api":        cfg.LedgerAPIBaseURL,
		"chain_id":          cfg.LedgerChainID,
		"default_max_depth": cfg.DefaultMaxDepth,
		"default_max_nodes": cfg.DefaultMaxNodes,
		"alert_mode":        cfg.AlertMode,
	}).Info("Configuration loaded")

	// Initialize blacklist persistence
	repo, ready, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open blacklist repository")
	}
	defer closeRepo()

	store := blacklist.NewStore(repo, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.BlacklistSeedFile != "" {
		if err := blacklist.ImportFile(ctx, store, cfg.BlacklistSeedFile, "seed", log); err != nil {
			log.WithError(err).Fatal("Failed to import blacklist seed")
		}
	}

	// One limiter shared by every ledger call
	limiter := ratelimit.New(cfg.LedgerRPS, cfg.LedgerBurst)
	if err := metrics.RegisterLedgerTokens(limiter.Available); err != nil {
		log.WithError(err).Warn("Failed to register rate limiter gauge")
	}
	ledgerClient := ledger.NewClient(cfg, limiter, log)

	log.Info("Ledger client initialized")

	// Initialize alert sender
	alertSender, closers, err := alerts.FromConfig(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize alert senders")
	}
	defer closeAll(closers, log)

	log.WithFields(logrus.Fields{
		"alert_mode":      cfg.AlertMode,
		"alert_min_level": cfg.AlertMinLevel,
	}).Info("Alert sender initialized")

	eng := engine.New(cfg, store, ledgerClient, alertSender, log)

	// Start HTTP server (API + health + metrics)
	server := api.NewHTTPServer(cfg.HTTPPort, api.NewServer(eng, ready, log).Handler(), cfg.AnalysisTimeout)
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("Starting HTTP server (api + health + metrics)")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	// Optional Telegram front end
	if cfg.TelegramToken != "" {
		tg, err := bot.New(cfg, eng, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to start Telegram bot")
		}
		go func() {
			if err := tg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("Telegram bot stopped")
			}
		}()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		log.Info("Context cancelled, shutting down")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	log.Info("Graceful shutdown complete")
}

// openRepository returns the configured blacklist backend with its readiness
// probe and close function.
func openRepository(cfg *config.Config, log *logrus.Logger) (blacklist.Repository, api.ReadyFunc, func(), error) {
	switch cfg.BlacklistBackend {
	case config.BackendSQL:
		db, err := storage.New(cfg, log)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.AutoMigrate(); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		log.Info("Database migrations complete")
		return db, db.Ping, func() { _ = db.Close() }, nil

	case config.BackendRedis:
		rdb, err := storage.NewRedisRepository(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("Redis connected")
		return rdb, rdb.Ping, func() { _ = rdb.Close() }, nil

	default:
		log.Warn("Using in-memory blacklist; entries are lost on restart")
		return blacklist.NewMemoryRepository(), nil, func() {}, nil
	}
}

func closeAll(closers []io.Closer, log *logrus.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("Failed to close alert sender")
		}
	}
}
