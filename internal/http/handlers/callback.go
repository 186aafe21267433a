package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"batchgen/internal/batch"
	"batchgen/internal/domain"
)

// GenerationCallback consumes the external worker's completion
// notifications. Delivery is at-least-once; the reconciler re-queries
// authoritative chunk state, so replays and stale statuses are harmless.
func (a *App) GenerationCallback(w http.ResponseWriter, r *http.Request) {
	var payload batch.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Reconciler.HandleCallback(r.Context(), payload)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			a.domainError(w, err)
			return
		}
		// Transient upstream failure: report retryable so the worker
		// redelivers.
		a.error(w, http.StatusServiceUnavailable, "retry_later", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]any{"id": job.ID, "status": job.Status})
}
