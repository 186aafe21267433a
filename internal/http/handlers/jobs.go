package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"batchgen/internal/domain"
)

type jobCreateRequest struct {
	Mode         string   `json:"mode"`
	Prompts      []string `json:"prompts"`
	Prompt       string   `json:"prompt"`
	SourceURLs   []string `json:"source_urls"`
	SourceFolder string   `json:"source_folder"`
	Ratios       []string `json:"ratios"`
	Variations   int      `json:"variations"`
	Resolution   string   `json:"resolution"`
	Model        string   `json:"model"`
}

// JobsCreate validates the configuration once, persists the job as queued,
// and runs it through the dispatcher within the request lifetime. Batch
// jobs come back batch_submitted; direct jobs come back completed or
// failed.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	if _, err := a.Groups.GetByID(r.Context(), groupID); err != nil {
		a.domainError(w, err)
		return
	}

	var req jobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	prompts := req.Prompts
	if len(prompts) == 0 && req.Prompt != "" {
		prompts = []string{req.Prompt}
	}
	params := domain.JobParams{
		Mode:         domain.JobMode(req.Mode),
		Prompts:      prompts,
		SourceURLs:   req.SourceURLs,
		SourceFolder: req.SourceFolder,
		Ratios:       req.Ratios,
		Variations:   req.Variations,
		Resolution:   req.Resolution,
		Model:        req.Model,
	}
	if params.Mode == "" {
		params.Mode = domain.JobModeBatch
	}
	if err := params.Validate(); err != nil {
		a.domainError(w, err)
		return
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Mode:      params.Mode,
		Status:    domain.JobStatusQueued,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: job create failed")
		a.domainError(w, err)
		return
	}

	if err := a.Dispatcher.Submit(r.Context(), job); err != nil {
		// The job row already carries the failure; report it with the
		// job so the caller can inspect and retry.
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("handlers: submission failed")
	}
	a.json(w, http.StatusAccepted, jobDetail(job))
}

func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, jobDetail(job))
}

// JobsReconcile runs one reconciliation round immediately.
func (a *App) JobsReconcile(w http.ResponseWriter, r *http.Request) {
	job, err := a.Reconciler.Reconcile(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.domainError(w, err)
			return
		}
		a.error(w, http.StatusBadGateway, "external_service", err.Error())
		return
	}
	a.json(w, http.StatusOK, jobDetail(job))
}

// JobsRetry re-dispatches a failed job, reusing staged chunk payloads.
func (a *App) JobsRetry(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	if err := a.Dispatcher.Retry(r.Context(), job); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.domainError(w, err)
			return
		}
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("handlers: retry submission failed")
	}
	a.json(w, http.StatusAccepted, jobDetail(job))
}

func (a *App) JobsDelete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := a.Lifecycle.DeleteJob(r.Context(), jobID); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"deleted": jobID})
}

func jobSummary(job *domain.Job) map[string]any {
	return map[string]any{
		"id":         job.ID,
		"mode":       job.Mode,
		"status":     job.Status,
		"artifacts":  job.Artifacts.Len(),
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
}

func jobDetail(job *domain.Job) map[string]any {
	detail := map[string]any{
		"id":            job.ID,
		"group_id":      job.GroupID,
		"mode":          job.Mode,
		"status":        job.Status,
		"batch_refs":    job.BatchRefs,
		"artifacts":     job.Artifacts.List(),
		"created_at":    job.CreatedAt,
		"updated_at":    job.UpdatedAt,
		"completed_at":  job.CompletedAt,
		"error_message": job.ErrorMessage,
		"prompts":       job.Params.Prompts,
		"ratios":        job.Params.Ratios,
		"variations":    job.Params.Variations,
		"model":         job.Params.Model,
	}
	return detail
}
