// Package main wires together the paperlens service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/paperlens/paperlens/internal/api"
	"github.com/paperlens/paperlens/internal/clock/system"
	"github.com/paperlens/paperlens/internal/config"
	"github.com/paperlens/paperlens/internal/dispatcher"
	"github.com/paperlens/paperlens/internal/evaluator/openai"
	"github.com/paperlens/paperlens/internal/feed"
	"github.com/paperlens/paperlens/internal/logging"
	"github.com/paperlens/paperlens/internal/metrics"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/registry"
	"github.com/paperlens/paperlens/internal/storage/memory"
	"github.com/paperlens/paperlens/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clock := system.New()

	var store paper.Store
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pgStore.Close()
		if cfg.DB.EnsureSchema {
			if err := pgStore.EnsureSchema(ctx); err != nil {
				logger.Fatal("schema bootstrap failed", zap.Error(err))
			}
		}
		store = pgStore
		logger.Info("using postgres store")
	} else {
		store = memory.New()
		logger.Warn("db.dsn is empty, using in-memory store; data will not survive restarts")
	}

	fetcher := feed.NewCollyFetcher(feed.FetcherConfig{
		UserAgent:      cfg.Feed.UserAgent,
		RequestTimeout: cfg.FeedTimeout(),
	}, logger.Named("fetcher"))
	gateway := feed.NewGateway(feed.Config{
		BaseURL:         cfg.Feed.BaseURL,
		CacheTTL:        cfg.CacheTTL(),
		MaxFallbackDays: cfg.Feed.MaxFallbackDays,
	}, fetcher, store, clock, logger.Named("feed"))

	evaluator := openai.New(openai.Config{
		APIKey:    cfg.OpenAI.APIKey,
		Model:     cfg.OpenAI.Model,
		BaseURL:   cfg.OpenAI.BaseURL,
		MaxTokens: cfg.OpenAI.MaxTokens,
		Version:   cfg.Eval.Version,
	}, clock)

	disp := dispatcher.New(store, evaluator, registry.New(), clock,
		logger.Named("dispatcher"), cfg.EvalTimeout())

	// repair rows left evaluating by a previous process before serving
	if _, err := disp.Reconcile(ctx, cfg.StaleAfter()); err != nil {
		logger.Error("stale evaluation sweep failed", zap.Error(err))
	}

	if cfg.Feed.RefreshSchedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Feed.RefreshSchedule, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), cfg.FeedTimeout())
			defer cancel()
			if err := gateway.Refresh(refreshCtx); err != nil {
				logger.Warn("scheduled feed refresh failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("invalid feed.refresh_schedule", zap.Error(err))
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("feed refresh scheduled", zap.String("schedule", cfg.Feed.RefreshSchedule))
	}

	apiServer := api.NewServer(store, gateway, disp, logger.Named("api"), cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	disp.Wait()
	logger.Info("shutdown complete")
}
