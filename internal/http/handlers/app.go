package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"batchgen/internal/batch"
	"batchgen/internal/domain"
	"batchgen/internal/export"
	"batchgen/internal/infra"
	"batchgen/internal/lifecycle"
)

// App is the handler container: repositories for reads, the orchestration
// services for everything that mutates.
type App struct {
	Logger     infra.Logger
	Groups     domain.GroupRepository
	Jobs       domain.JobRepository
	Dispatcher *batch.Dispatcher
	Reconciler *batch.Reconciler
	Exporter   *export.Exporter
	Lifecycle  *lifecycle.Manager
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{"error": slug, "message": message})
}

// domainError maps the error taxonomy onto HTTP responses. Validation and
// not-found surface immediately; anything else is internal.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrExternalService), errors.Is(err, domain.ErrPartialResult):
		a.error(w, http.StatusBadGateway, "external_service", err.Error())
	default:
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
