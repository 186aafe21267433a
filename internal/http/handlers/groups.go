package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"batchgen/internal/domain"
)

type groupCreateRequest struct {
	Name string `json:"name"`
}

type groupResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *App) GroupsCreate(w http.ResponseWriter, r *http.Request) {
	var req groupCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	group := &domain.Group{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Groups.Create(r.Context(), group); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: group create failed")
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusCreated, groupResponse{ID: group.ID, Name: group.Name, CreatedAt: group.CreatedAt})
}

func (a *App) GroupsGet(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	group, err := a.Groups.GetByID(r.Context(), groupID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	jobs, err := a.Jobs.ListByGroup(r.Context(), groupID)
	if err != nil {
		a.Logger.Error().Err(err).Str("group_id", groupID).Msg("handlers: list group jobs failed")
		a.domainError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobSummary(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":         group.ID,
		"name":       group.Name,
		"created_at": group.CreatedAt,
		"jobs":       items,
	})
}

// GroupsDelete cascades to child jobs transactionally; external cleanup is
// already detached by the time the response goes out.
func (a *App) GroupsDelete(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	if err := a.Lifecycle.DeleteGroup(r.Context(), groupID); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"deleted": groupID})
}
