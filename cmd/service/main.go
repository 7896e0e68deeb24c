// cmd/service/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"collab-sync/internal/analysis"
	"collab-sync/internal/api"
	"collab-sync/internal/config"
	"collab-sync/internal/github"
	"collab-sync/internal/normalize"
	"collab-sync/internal/orchestrator"
	"collab-sync/internal/pipeline"
	"collab-sync/internal/queue"
	"collab-sync/internal/store"
	"collab-sync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	st := store.NewPostgres(dbpool)
	creds := config.Credentials{Default: cfg.GithubToken}
	detector := normalize.NewPatternDetector()
	clients := func(token string) syncer.FetchClient {
		return github.NewClient(token, logger)
	}
	engine := syncer.NewEngine(st, creds, clients, detector, logger)
	svc := analysis.NewService(st, detector, logger)

	workQueue := queue.NewMemory(cfg.QueueSize, logger)
	machine := pipeline.NewMachine(st, workQueue, logger)
	orch := orchestrator.New(st, engine, svc, machine, logger)
	worker := queue.NewWorker(workQueue, orch.Handlers(), cfg.WorkerConcurrency, logger)

	// 6. Start the worker pool, the incremental catch-up loop and the HTTP API
	go worker.Run(ctx)
	go engine.Start(ctx, cfg.SyncInterval)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(st, orch, logger),
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// 7. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	<-ctx.Done()
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
