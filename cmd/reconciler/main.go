package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"batchgen/internal/adapter/repo"
	"batchgen/internal/batch"
	"batchgen/internal/domain"
	"batchgen/internal/genai"
	"batchgen/internal/infra"
	"batchgen/internal/storage"
)

// The reconciler daemon sweeps every submitted job on a fixed interval.
// It is safe to run alongside callback-driven reconciliation in the API:
// reconciliation is idempotent and every status write is guarded by the
// expected prior status.
type sweeper struct {
	jobs       domain.JobRepository
	reconciler *batch.Reconciler
	logger     infra.Logger
	interval   time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	jobs := repo.NewJobRepository(runner)

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: failed to configure storage")
	}

	client, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: &http.Client{Timeout: cfg.ExternalCallTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: failed to configure generation client")
	}

	s := &sweeper{
		jobs:       jobs,
		reconciler: batch.NewReconciler(jobs, store, client, logger),
		logger:     logger,
		interval:   cfg.ReconcilePollInterval,
	}

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("reconciler: stopped with error")
	}
	logger.Info().Msg("reconciler: stopped")
}

func (s *sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("reconciler: started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *sweeper) sweep(ctx context.Context) {
	submitted, err := s.jobs.ListByStatus(ctx, domain.JobStatusBatchSubmitted)
	if err != nil {
		s.logger.Error().Err(err).Msg("reconciler: failed to list submitted jobs")
		return
	}
	for i := range submitted {
		job := &submitted[i]
		refreshed, err := s.reconciler.Reconcile(ctx, job.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconciler: round failed")
			continue
		}
		if refreshed.Status != job.Status {
			s.logger.Info().
				Str("job_id", job.ID).
				Str("status", string(refreshed.Status)).
				Int("artifacts", refreshed.Artifacts.Len()).
				Msg("reconciler: job advanced")
		}
	}
}
