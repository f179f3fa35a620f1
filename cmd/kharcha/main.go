package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kharcha/internal/amqp"
	"kharcha/internal/auth"
	"kharcha/internal/cache"
	"kharcha/internal/cli"
	apphttp "kharcha/internal/http"
	"kharcha/internal/parser"
	"kharcha/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	// Optional event stream. A missing broker downgrades to local-only
	// operation rather than blocking startup.
	var events *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		events, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, events disabled", "error", err)
			events = nil
		} else {
			logger.Info("AMQP event stream connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	ledger := services.NewLedgerService(repo, events)
	authManager := auth.NewManager(repo, cfg.JWTSecret, cfg.TokenTTL)

	caches := cache.NewManager()

	// Optional AI parser. Without an API key the parse route answers 503.
	var p *parser.Parser
	if cfg.GeminiAPIKey != "" {
		model := parser.NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiModel)
		p = parser.NewParser(model, repo, cfg.ParseCacheSize, cfg.ParseCacheTTL, logger)
		caches.Register(p.Memo())
		logger.Info("AI expense parser enabled", "model", cfg.GeminiModel)
	} else {
		logger.Info("AI expense parser disabled, no API key configured")
	}

	caches.StartCleanup(10 * time.Minute)

	srv := apphttp.NewServer(":"+cfg.Port, authManager, ledger, p)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting kharcha server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
		if err := ledger.Close(); err != nil {
			logger.Error("Ledger close error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
