package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"batchgen/internal/adapter/repo"
	"batchgen/internal/batch"
	"batchgen/internal/export"
	"batchgen/internal/genai"
	"batchgen/internal/http/handlers"
	httpapi "batchgen/internal/http/httpapi"
	"batchgen/internal/infra"
	"batchgen/internal/lifecycle"
	"batchgen/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	groups := repo.NewGroupRepository(runner)
	jobs := repo.NewJobRepository(runner)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	client, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: &http.Client{Timeout: cfg.ExternalCallTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure generation client")
	}

	dispatcher := batch.NewDispatcher(jobs, store, client, logger, batch.DispatcherOptions{
		ChunkMaxBytes:     cfg.ChunkMaxBytes,
		UploadConcurrency: cfg.UploadConcurrency,
	})
	reconciler := batch.NewReconciler(jobs, store, client, logger)
	exporter := export.NewExporter(jobs, store, logger, cfg.ExportConcurrency)
	manager := lifecycle.NewManager(groups, jobs, client, logger, cfg.CleanupMaxAttempts, cfg.ExternalCallTimeout)

	app := &handlers.App{
		Logger:     logger,
		Groups:     groups,
		Jobs:       jobs,
		Dispatcher: dispatcher,
		Reconciler: reconciler,
		Exporter:   exporter,
		Lifecycle:  manager,
	}
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Cut short any cleanup backoff waits; the process is exiting.
	manager.Shutdown()
	logger.Info().Msg("server stopped")
}
