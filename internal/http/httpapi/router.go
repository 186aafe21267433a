package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"batchgen/internal/http/handlers"
	"batchgen/internal/middleware"
)

// NewRouter builds the API surface.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(app.Logger))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/groups", func(r chi.Router) {
		r.Post("/", app.GroupsCreate)
		r.Get("/{group_id}", app.GroupsGet)
		r.Delete("/{group_id}", app.GroupsDelete)
		r.Post("/{group_id}/jobs", app.JobsCreate)
		r.Get("/{group_id}/export", app.GroupExport)
	})

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/{job_id}", app.JobsGet)
		r.Delete("/{job_id}", app.JobsDelete)
		r.Post("/{job_id}/reconcile", app.JobsReconcile)
		r.Post("/{job_id}/retry", app.JobsRetry)
		r.Get("/{job_id}/export", app.JobExport)
	})

	r.Post("/v1/callbacks/generation", app.GenerationCallback)

	return r
}
