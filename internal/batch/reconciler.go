package batch

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"batchgen/internal/domain"
	"batchgen/internal/genai"
	"batchgen/internal/infra"
	"batchgen/internal/storage"
)

// maxResultLineBytes bounds one JSONL result line; inline image payloads are
// base64 so lines run large.
const maxResultLineBytes = 64 * 1024 * 1024

// Reconciler normalizes external completion signals and merges results into
// the job record. It may be invoked any number of times for the same job —
// from the callback endpoint, the reconcile endpoint and the polling daemon
// concurrently — and relies on the deduplicating artifact merge for safety
// rather than mutual exclusion.
type Reconciler struct {
	jobs   domain.JobRepository
	store  storage.ObjectStore
	worker WorkerClient
	logger infra.Logger
}

// NewReconciler wires the reconciliation path.
func NewReconciler(jobs domain.JobRepository, store storage.ObjectStore, worker WorkerClient, logger infra.Logger) *Reconciler {
	return &Reconciler{jobs: jobs, store: store, worker: worker, logger: logger}
}

// Reconcile runs one reconciliation round for the job and returns its
// refreshed state. Jobs not in batch_submitted are returned unchanged; a
// round where every chunk is still pending or running is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusBatchSubmitted {
		return job, nil
	}
	if len(job.BatchRefs) == 0 {
		err := fmt.Errorf("%w: job has no external chunk references", domain.ErrValidation)
		r.fail(ctx, job, err)
		return job, nil
	}

	total := len(job.BatchRefs)
	succeeded := 0
	var chunkErrs []string
	for _, ref := range job.BatchRefs {
		// Chunks harvested in an earlier round are settled; skip the
		// status query and the results round-trip entirely.
		if job.RefCollected(ref) {
			succeeded++
			continue
		}
		status, err := r.worker.GetBatchStatus(ctx, ref)
		if err != nil {
			// Transient by assumption: no state change, the caller
			// retries the whole round.
			return nil, fmt.Errorf("query chunk %s: %w", ref, err)
		}
		switch status.State {
		case genai.StateSucceeded:
			if err := r.collectChunk(ctx, job, status); err != nil {
				return nil, err
			}
			job.MarkRefCollected(ref)
			succeeded++
		case genai.StateFailed, genai.StateCancelled, genai.StateExpired:
			msg := status.ErrorMessage
			if msg == "" {
				msg = string(status.State)
			}
			chunkErrs = append(chunkErrs, fmt.Sprintf("%s: %s", status.Name, msg))
		}
	}

	switch {
	case len(chunkErrs) > 0:
		var cause error
		if succeeded > 0 || len(chunkErrs) < total {
			cause = fmt.Errorf("%w: %d of %d chunks failed: %s", domain.ErrPartialResult, len(chunkErrs), total, strings.Join(chunkErrs, "; "))
		} else {
			cause = fmt.Errorf("%w: %s", domain.ErrExternalService, strings.Join(chunkErrs, "; "))
		}
		r.fail(ctx, job, cause)
	case succeeded == total:
		if err := r.advance(ctx, job, domain.JobStatusCompleted, ""); err != nil {
			return nil, err
		}
		r.logger.Info().
			Str("job_id", job.ID).
			Int("artifacts", job.Artifacts.Len()).
			Msg("reconciler: job completed")
	default:
		// Still pending or running somewhere; persist newly merged
		// artifacts and harvested refs as a batch_submitted
		// self-transition.
		if err := r.advance(ctx, job, domain.JobStatusBatchSubmitted, ""); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// CallbackPayload is the inbound notification the external worker posts.
// Delivery is at-least-once; processing must tolerate repeats.
type CallbackPayload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleCallback consumes an inbound completion notification. The payload
// status is advisory only — the engine re-queries the authoritative chunk
// states, so a repeated or stale notification cannot corrupt merged results.
func (r *Reconciler) HandleCallback(ctx context.Context, payload CallbackPayload) (*domain.Job, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("%w: job_id is required", domain.ErrValidation)
	}
	r.logger.Debug().
		Str("job_id", payload.JobID).
		Str("status", payload.Status).
		Msg("reconciler: callback received")
	return r.Reconcile(ctx, payload.JobID)
}

// collectChunk retrieves the result set of one succeeded chunk and merges
// its artifacts. Results arrive either as a downloadable JSONL file or as
// an inline list; a decode or upload failure for a single item is logged
// and the item skipped, never fatal to the chunk.
func (r *Reconciler) collectChunk(ctx context.Context, job *domain.Job, status *genai.BatchStatus) error {
	if len(status.InlineResponses) > 0 {
		for i := range status.InlineResponses {
			r.mergeResult(ctx, job, &status.InlineResponses[i])
		}
		return nil
	}
	if status.ResponsesFile == "" {
		return fmt.Errorf("%w: chunk %s succeeded without results", domain.ErrExternalService, status.Name)
	}

	body, err := r.worker.DownloadResults(ctx, status.ResponsesFile)
	if err != nil {
		return fmt.Errorf("download results %s: %w", status.ResponsesFile, err)
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), maxResultLineBytes)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		line, err := genai.ParseResultLine([]byte(raw))
		if err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconciler: unparseable result line skipped")
			continue
		}
		r.mergeResult(ctx, job, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read results %s: %v", domain.ErrExternalService, status.ResponsesFile, err)
	}
	return nil
}

// mergeResult decodes one result line, uploads the bytes at the
// deterministic path for its correlation key, and merges the artifact.
// Already-recorded identities are skipped before any storage work.
func (r *Reconciler) mergeResult(ctx context.Context, job *domain.Job, line *genai.BatchResultLine) {
	keyStr := line.CorrelationKey()
	if keyStr == "" {
		r.logger.Warn().Str("job_id", job.ID).Msg("reconciler: result line without correlation key skipped")
		return
	}
	key, err := ParseCorrelationKey(keyStr)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Str("key", keyStr).Msg("reconciler: unrecognized correlation key skipped")
		return
	}
	if line.Error != nil {
		r.logger.Warn().
			Str("job_id", job.ID).
			Str("key", keyStr).
			Str("error", line.Error.Message).
			Msg("reconciler: item-level error reported")
		return
	}

	path := key.ArtifactPath(job.GroupID, job.ID)
	if job.Artifacts.Has(path) {
		return
	}

	mime, b64, ok := line.ImageData()
	if !ok {
		r.logger.Warn().Str("job_id", job.ID).Str("key", keyStr).Msg("reconciler: result carried no image data")
		return
	}
	data, err := genai.DecodeInlineData(b64)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Str("key", keyStr).Msg("reconciler: image decode failed, item skipped")
		return
	}
	if mime == "" {
		mime = "image/png"
	}
	uri, err := r.store.Upload(ctx, path, data, mime)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Str("key", keyStr).Msg("reconciler: artifact upload failed, item skipped")
		return
	}
	job.Artifacts.Merge(domain.ResultArtifact{
		Key:            keyStr,
		URI:            uri,
		SourceIndex:    key.SourceIndex,
		PromptIndex:    key.PromptIndex,
		Ratio:          key.Ratio,
		VariationIndex: key.VariationIndex,
		CreatedAt:      time.Now().UTC(),
	})
}

func (r *Reconciler) advance(ctx context.Context, job *domain.Job, to domain.JobStatus, errMsg string) error {
	expected := job.Status
	if err := job.Transition(to, errMsg); err != nil {
		return err
	}
	return r.jobs.UpdateStatus(ctx, job, expected)
}

func (r *Reconciler) fail(ctx context.Context, job *domain.Job, cause error) {
	if err := r.advance(ctx, job, domain.JobStatusFailed, cause.Error()); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconciler: failed to persist failure")
	}
}
