package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/config"
	"trade-journal-go/internal/httpclient"
	"trade-journal-go/internal/journal"
	"trade-journal-go/internal/logger"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/ports"
	"trade-journal-go/internal/queue"
	"trade-journal-go/internal/ratelimit"
	"trade-journal-go/internal/storage"
	"trade-journal-go/internal/syncer"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Open the local durable cache
	cache, err := storage.NewSQLiteCache(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to open local cache", zap.Error(err))
	}

	store, err := storage.NewTradeStore(cache)
	if err != nil {
		log.Fatal("Failed to load cached trades", zap.Error(err))
	}
	log.Info("Trade store ready", zap.Int("cached_trades", store.Len()))

	clock := ports.RealClock{}
	outbox, err := queue.New(cache, clock, log, cfg.Queue.MaxRetryCount, cfg.Queue.RetryDelay())
	if err != nil {
		log.Fatal("Failed to load offline queue", zap.Error(err))
	}

	brokerClient := httpclient.New(cfg.Broker.BaseURL, log,
		httpclient.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.Backoff()),
		httpclient.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Broker.RateLimit), cfg.Broker.RateLimitBurst)),
	)
	persistClient := httpclient.New(cfg.Persistence.BaseURL, log,
		httpclient.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.Backoff()),
	)
	limiter := ratelimit.New(cfg.Limiter.MaxAttempts, cfg.Limiter.Window(), clock)

	orchestrator := syncer.New(brokerClient, persistClient, store, limiter, outbox, log, cfg.Broker.Timeout())

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received")
		cancel()
	}()

	creds := syncer.Credentials{
		Login:    os.Getenv("BROKER_LOGIN"),
		Password: os.Getenv("BROKER_PASSWORD"),
		Server:   os.Getenv("BROKER_SERVER"),
	}

	result := orchestrator.SyncBrokerAccount(ctx, creds, models.SyncWindow{})
	if !result.Success {
		log.Error("Sync failed", zap.String("error", result.Error))
	} else {
		log.Info("Sync result",
			zap.Int("total", result.TotalTrades),
			zap.Int("new", result.NewTrades),
			zap.Int("updated", result.UpdatedTrades),
			zap.String("warning", result.Warning),
		)
	}

	// Flush anything still waiting in the outbox before computing analytics.
	outbox.Drain(ctx)

	snapshot := analytics.ComputeSnapshot(store.All(), journal.NewExtractor(nil))
	log.Info("Analytics snapshot",
		zap.Int("trades", snapshot.Summary.TotalTrades),
		zap.Float64("win_rate", snapshot.Summary.WinRate),
		zap.Float64("total_pnl", snapshot.Summary.TotalPnL),
		zap.Float64("profit_factor", snapshot.Summary.ProfitFactor),
		zap.Float64("max_drawdown", snapshot.Summary.MaxDrawdown),
		zap.Float64("risk_score", snapshot.Risk.Score),
		zap.String("risk_tolerance", string(snapshot.Risk.Tolerance)),
		zap.Int("patterns", len(snapshot.Patterns)),
	)
}
