package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"batchgen/internal/export"
)

// JobExport streams an archive of one job's artifacts, or the manifest.
func (a *App) JobExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	mode, err := export.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	entries, err := a.Exporter.JobEntries(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.writeExport(w, r, mode, "job-"+jobID, entries)
}

// GroupExport covers every completed job in the group.
func (a *App) GroupExport(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	mode, err := export.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	if _, err := a.Groups.GetByID(r.Context(), groupID); err != nil {
		a.domainError(w, err)
		return
	}
	entries, err := a.Exporter.GroupEntries(r.Context(), groupID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.writeExport(w, r, mode, "group-"+groupID, entries)
}

func (a *App) writeExport(w http.ResponseWriter, r *http.Request, mode export.Mode, name string, entries []export.ManifestEntry) {
	if mode == export.ModeManifest {
		a.json(w, http.StatusOK, map[string]any{"items": entries, "total": len(entries)})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", name))
	// The failure count is only known once the stream ends, so it rides
	// in a trailer.
	w.Header().Set("Trailer", "X-Export-Failed")
	w.WriteHeader(http.StatusOK)
	result, err := a.Exporter.WriteArchive(r.Context(), w, entries)
	if err != nil {
		// Headers are gone; all that is left is the log line.
		a.Logger.Error().Err(err).Str("export", name).Msg("handlers: archive stream aborted")
		return
	}
	w.Header().Set("X-Export-Failed", fmt.Sprintf("%d", result.Failed))
	a.Logger.Info().
		Str("export", name).
		Int("written", result.Written).
		Int("failed", result.Failed).
		Msg("handlers: export finished")
}
