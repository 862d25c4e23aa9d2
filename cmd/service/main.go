// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repo-grader/internal/api"
	"repo-grader/internal/config"
	"repo-grader/internal/github"
	"repo-grader/internal/grader"
	"repo-grader/internal/ignore"
	"repo-grader/internal/model"
	"repo-grader/internal/urlloader"
	"repo-grader/internal/workspace"
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

	// 4. Initialize application components
	ignoreSet := ignore.NewDefaultSet()
	ghClient := github.NewClient(cfg.GithubToken, ignoreSet, logger)
	agent := grader.NewAgentClient(cfg.AgentURL, cfg.AgentToken, cfg.AgentModel, logger)
	orchestrator := grader.NewOrchestrator(ghClient, agent, cfg.GradingPrompt, cfg.Concurrency, cfg.ItemTimeout, logger)

	wsClient := workspace.NewClient(cfg.WorkspaceToken, logger)
	schemaManager := workspace.NewSchemaManager(wsClient, logger)
	syncEngine := workspace.NewSyncEngine(wsClient, schemaManager, logger)

	service := &batchService{
		orchestrator:  orchestrator,
		syncer:        syncEngine,
		databaseID:    cfg.WorkspaceDatabaseID,
		skipURLColumn: cfg.SkipURLColumn,
		logger:        logger,
	}

	// 5. Optionally run a batch from a CSV of repository URLs at startup
	if cfg.ReposCSVPath != "" {
		go runCSVBatch(ctx, cfg, service, logger)
	}

	// 6. Start the HTTP server
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(service, logger),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 7. Wait for shutdown signal or server failure
	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	return nil
}

// runCSVBatch grades every repository URL found in the configured CSV file.
func runCSVBatch(ctx context.Context, cfg *config.Config, service *batchService, logger *slog.Logger) {
	urls, err := urlloader.NewLoader(logger).LoadFromCSV(cfg.ReposCSVPath)
	if err != nil {
		logger.Error("Failed to load repository URLs", "path", cfg.ReposCSVPath, "error", err)
		return
	}

	refs := make([]model.RepositoryReference, 0, len(urls))
	for _, raw := range urls {
		ref, err := model.ParseRepositoryURL(raw)
		if err != nil {
			logger.Warn("Skipping invalid repository URL", "url", raw, "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		logger.Warn("CSV contained no valid repository URLs", "path", cfg.ReposCSVPath)
		return
	}

	report, stats, err := service.RunBatch(ctx, refs, cfg.Mode, workspace.OverrideAll())
	if err != nil {
		logger.Error("CSV batch failed", "error", err)
		return
	}
	logger.Info("CSV batch complete",
		"total", len(refs),
		"graded", report.SuccessCount,
		"synced", stats.Success,
	)
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
