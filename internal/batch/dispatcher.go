package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"batchgen/internal/domain"
	"batchgen/internal/genai"
	"batchgen/internal/infra"
	"batchgen/internal/storage"
)

// sourceExtensions filters folder listings down to eligible input images.
var sourceExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// DispatcherOptions configures chunking and staging.
type DispatcherOptions struct {
	ChunkMaxBytes     int
	UploadConcurrency int
}

// Dispatcher hands a job's request set to the external worker. It waits only
// for submission acknowledgements, never for generation completion; a
// batch-mode job leaves here as batch_submitted.
type Dispatcher struct {
	jobs   domain.JobRepository
	store  storage.ObjectStore
	worker WorkerClient
	logger infra.Logger
	opts   DispatcherOptions
}

// NewDispatcher wires the submission path.
func NewDispatcher(jobs domain.JobRepository, store storage.ObjectStore, worker WorkerClient, logger infra.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.ChunkMaxBytes <= 0 {
		opts.ChunkMaxBytes = 18 * 1024 * 1024
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 10
	}
	return &Dispatcher{jobs: jobs, store: store, worker: worker, logger: logger, opts: opts}
}

// Submit accepts a queued job and runs it through submission. Direct-mode
// jobs complete (or fail) synchronously; batch-mode jobs end up
// batch_submitted carrying one external reference per chunk.
func (d *Dispatcher) Submit(ctx context.Context, job *domain.Job) error {
	if err := d.advance(ctx, job, domain.JobStatusProcessing, ""); err != nil {
		return err
	}
	return d.dispatch(ctx, job)
}

// Retry re-issues a failed job. Previously staged chunk payloads are reused
// so source bytes are not uploaded twice; only the chunk-creation calls are
// repeated.
func (d *Dispatcher) Retry(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusFailed {
		return fmt.Errorf("%w: job %s is %s, only failed jobs can be retried", domain.ErrValidation, job.ID, job.Status)
	}
	job.BatchRefs = nil
	job.CollectedRefs = nil
	if err := d.advance(ctx, job, domain.JobStatusProcessing, ""); err != nil {
		return err
	}
	return d.dispatch(ctx, job)
}

func (d *Dispatcher) dispatch(ctx context.Context, job *domain.Job) error {
	switch job.Mode {
	case domain.JobModeDirect:
		return d.dispatchDirect(ctx, job)
	case domain.JobModeBatch:
		return d.dispatchBatch(ctx, job)
	default:
		err := fmt.Errorf("%w: unsupported job mode %q", domain.ErrValidation, job.Mode)
		d.fail(ctx, job, err)
		return err
	}
}

// dispatchBatch stages sources, plans chunks, and submits each chunk. Any
// acknowledgement failure fails the whole job with the aggregated error;
// refs already acknowledged stay recorded so cleanup can reclaim them.
func (d *Dispatcher) dispatchBatch(ctx context.Context, job *domain.Job) error {
	sources, err := d.stageSources(ctx, job)
	if err != nil {
		d.fail(ctx, job, err)
		return err
	}

	chunks, err := PlanChunks(PlanInput{
		Params:        job.Params,
		Sources:       sources,
		MaxChunkBytes: d.opts.ChunkMaxBytes,
	})
	if err != nil {
		d.fail(ctx, job, err)
		return err
	}

	var submitErrs []string
	for _, chunk := range chunks {
		ref, err := d.submitChunk(ctx, job, chunk)
		if err != nil {
			submitErrs = append(submitErrs, fmt.Sprintf("chunk %d: %v", chunk.Index, err))
			break
		}
		job.BatchRefs = append(job.BatchRefs, ref)
	}
	if len(submitErrs) > 0 {
		err := fmt.Errorf("%w: %s", domain.ErrExternalService, strings.Join(submitErrs, "; "))
		d.fail(ctx, job, err)
		return err
	}

	if err := d.advance(ctx, job, domain.JobStatusBatchSubmitted, ""); err != nil {
		return err
	}
	d.logger.Info().
		Str("job_id", job.ID).
		Int("chunks", len(chunks)).
		Msg("dispatcher: batch submitted")
	return nil
}

// dispatchDirect performs the generation calls inline and completes the job
// within the request lifetime. Item failures are isolated; the job fails
// only when nothing was produced.
func (d *Dispatcher) dispatchDirect(ctx context.Context, job *domain.Job) error {
	urls, err := d.resolveSources(ctx, job.Params)
	if err != nil {
		d.fail(ctx, job, err)
		return err
	}

	produced := 0
	var itemErrs []string
	for si, srcURL := range urls {
		data, err := d.store.Download(ctx, srcURL)
		if err != nil {
			itemErrs = append(itemErrs, fmt.Sprintf("source %d: %v", si, err))
			continue
		}
		encoded := encodeInline(data)
		for pi, prompt := range job.Params.Prompts {
			for _, ratio := range job.Params.Ratios {
				for vi := 0; vi < job.Params.Variations; vi++ {
					key := CorrelationKey{SourceIndex: si, PromptIndex: pi, Ratio: ratio, VariationIndex: vi}
					if err := d.generateOne(ctx, job, key, encoded, prompt); err != nil {
						itemErrs = append(itemErrs, fmt.Sprintf("%s: %v", key, err))
					} else {
						produced++
					}
				}
			}
		}
	}

	if produced == 0 {
		err := fmt.Errorf("%w: no items generated: %s", domain.ErrExternalService, strings.Join(itemErrs, "; "))
		d.fail(ctx, job, err)
		return err
	}
	for _, msg := range itemErrs {
		d.logger.Warn().Str("job_id", job.ID).Msg("dispatcher: direct item skipped: " + msg)
	}
	return d.advance(ctx, job, domain.JobStatusCompleted, "")
}

func (d *Dispatcher) generateOne(ctx context.Context, job *domain.Job, key CorrelationKey, source *genai.InlineData, prompt string) error {
	request := genai.GenerateContentRequest{
		Contents: []genai.Content{{
			Role: "user",
			Parts: []genai.Part{
				{InlineData: source},
				{Text: prompt},
			},
		}},
		GenerationConfig: &genai.GenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}
	_, data, err := d.worker.GenerateImage(ctx, job.Params.Model, request)
	if err != nil {
		return err
	}
	uri, err := d.store.Upload(ctx, key.ArtifactPath(job.GroupID, job.ID), data, "image/png")
	if err != nil {
		return err
	}
	job.Artifacts.Merge(domain.ResultArtifact{
		Key:            key.String(),
		URI:            uri,
		SourceIndex:    key.SourceIndex,
		PromptIndex:    key.PromptIndex,
		Ratio:          key.Ratio,
		VariationIndex: key.VariationIndex,
		CreatedAt:      time.Now().UTC(),
	})
	return nil
}

// stageSources uploads every source image to the worker's File API once.
// Staged URIs persist on the job; a retry reuses them instead of repeating
// the upload round-trip.
func (d *Dispatcher) stageSources(ctx context.Context, job *domain.Job) ([]SourceRef, error) {
	if len(job.StagedUploads) > 0 {
		refs := make([]SourceRef, len(job.StagedUploads))
		for i, uri := range job.StagedUploads {
			refs[i] = SourceRef{Index: i, FileURI: uri}
		}
		d.logger.Debug().Str("job_id", job.ID).Int("staged", len(refs)).Msg("dispatcher: reusing staged uploads")
		return refs, nil
	}

	urls, err := d.resolveSources(ctx, job.Params)
	if err != nil {
		return nil, err
	}

	refs := make([]SourceRef, len(urls))
	errs := make([]error, len(urls))
	sem := make(chan struct{}, d.opts.UploadConcurrency)
	var wg sync.WaitGroup
	for i, srcURL := range urls {
		wg.Add(1)
		go func(idx int, uri string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data, err := d.store.Download(ctx, uri)
			if err != nil {
				errs[idx] = fmt.Errorf("source %d: %w", idx, err)
				return
			}
			fileURI, err := d.worker.UploadFile(ctx, fmt.Sprintf("source_%s_%d", job.ID, idx), mimeForKey(uri), data)
			if err != nil {
				errs[idx] = fmt.Errorf("stage source %d: %w", idx, err)
				return
			}
			refs[idx] = SourceRef{Index: idx, FileURI: fileURI, MimeType: mimeForKey(uri)}
		}(i, srcURL)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	job.StagedUploads = make([]string, len(refs))
	for i, ref := range refs {
		job.StagedUploads[i] = ref.FileURI
	}
	return refs, nil
}

// resolveSources returns the frozen source list: explicit URLs as given, or
// a folder listing filtered to image extensions. Zero eligible items is a
// hard validation error, never an empty chunk set.
func (d *Dispatcher) resolveSources(ctx context.Context, params domain.JobParams) ([]string, error) {
	if len(params.SourceURLs) > 0 {
		return params.SourceURLs, nil
	}
	uris, err := d.store.List(ctx, params.SourceFolder)
	if err != nil {
		return nil, err
	}
	var eligible []string
	for _, uri := range uris {
		lower := strings.ToLower(uri)
		for _, ext := range sourceExtensions {
			if strings.HasSuffix(lower, ext) {
				eligible = append(eligible, uri)
				break
			}
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no eligible source images under %q", domain.ErrValidation, params.SourceFolder)
	}
	return eligible, nil
}

// submitChunk serializes the chunk as JSONL, stages it, and creates the
// batch. The returned external reference is the only handle the system
// keeps on the chunk.
func (d *Dispatcher) submitChunk(ctx context.Context, job *domain.Job, chunk Chunk) (string, error) {
	var body strings.Builder
	for _, line := range chunk.Lines {
		raw, err := json.Marshal(line)
		if err != nil {
			return "", fmt.Errorf("encode chunk line: %w", err)
		}
		body.Write(raw)
		body.WriteByte('\n')
	}

	displayName := fmt.Sprintf("batch_%s_%d", job.ID, chunk.Index)
	fileURI, err := d.worker.UploadFile(ctx, displayName+".jsonl", "application/jsonl", []byte(body.String()))
	if err != nil {
		return "", err
	}
	ref, err := d.worker.CreateBatch(ctx, job.Params.Model, displayName, fileURI)
	if err != nil {
		return "", err
	}
	d.logger.Debug().
		Str("job_id", job.ID).
		Str("batch", ref).
		Int("requests", len(chunk.Lines)).
		Msg("dispatcher: chunk acknowledged")
	return ref, nil
}

// advance transitions and persists in one step, guarding the row update
// with the previous status.
func (d *Dispatcher) advance(ctx context.Context, job *domain.Job, to domain.JobStatus, errMsg string) error {
	expected := job.Status
	if err := job.Transition(to, errMsg); err != nil {
		return err
	}
	return d.jobs.UpdateStatus(ctx, job, expected)
}

// fail moves the job to failed, capturing the bounded error message. A
// persistence failure here is logged; the original error wins.
func (d *Dispatcher) fail(ctx context.Context, job *domain.Job, cause error) {
	if err := d.advance(ctx, job, domain.JobStatusFailed, cause.Error()); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatcher: failed to persist failure")
	}
}

func encodeInline(data []byte) *genai.InlineData {
	return &genai.InlineData{
		MimeType: "image/jpeg",
		Data:     genai.EncodeInlineData(data),
	}
}

func mimeForKey(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
