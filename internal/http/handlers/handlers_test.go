package handlers_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"batchgen/internal/batch"
	"batchgen/internal/domain"
	"batchgen/internal/export"
	"batchgen/internal/genai"
	"batchgen/internal/http/handlers"
	"batchgen/internal/http/httpapi"
	"batchgen/internal/lifecycle"
)

type memGroups struct {
	mu     sync.Mutex
	groups map[string]domain.Group
	jobs   *memJobs
}

func (m *memGroups) Create(ctx context.Context, group *domain.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = *group
	return nil
}

func (m *memGroups) GetByID(ctx context.Context, groupID string) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	return &g, nil
}

func (m *memGroups) DeleteCascade(ctx context.Context, groupID string) ([]domain.Job, error) {
	m.mu.Lock()
	if _, ok := m.groups[groupID]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	delete(m.groups, groupID)
	m.mu.Unlock()

	children, _ := m.jobs.ListByGroup(ctx, groupID)
	for _, j := range children {
		_ = m.jobs.Delete(ctx, j.ID)
	}
	return children, nil
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func (m *memJobs) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	copied := j
	return &copied, nil
}

func (m *memJobs) ListByGroup(ctx context.Context, groupID string) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.GroupID == groupID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memJobs) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	return nil, nil
}

func (m *memJobs) UpdateStatus(ctx context.Context, job *domain.Job, expected domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok || stored.Status != expected {
		return fmt.Errorf("job %s not in status %s: %w", job.ID, expected, domain.ErrNotFound)
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	delete(m.jobs, jobID)
	return nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (s *memStore) Download(ctx context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[uri]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", uri, domain.ErrNotFound)
	}
	return data, nil
}

func (s *memStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type stubWorker struct {
	statusErr error
	status    func(batchName string) *genai.BatchStatus
}

func (w *stubWorker) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	return "files/" + displayName, nil
}

func (w *stubWorker) CreateBatch(ctx context.Context, model, displayName, fileURI string) (string, error) {
	return "batches/" + displayName, nil
}

func (w *stubWorker) GetBatchStatus(ctx context.Context, batchName string) (*genai.BatchStatus, error) {
	if w.statusErr != nil {
		return nil, w.statusErr
	}
	if w.status != nil {
		return w.status(batchName), nil
	}
	return &genai.BatchStatus{Name: batchName, State: genai.StateRunning}, nil
}

func (w *stubWorker) DownloadResults(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return nil, errors.New("no downloadable results")
}

func (w *stubWorker) GenerateImage(ctx context.Context, model string, request genai.GenerateContentRequest) (string, []byte, error) {
	return "image/png", []byte("png-bytes"), nil
}

func (w *stubWorker) CancelBatch(ctx context.Context, batchName string) error { return nil }

func (w *stubWorker) DeleteFile(ctx context.Context, fileURI string) error { return nil }

type fixture struct {
	groups  *memGroups
	jobs    *memJobs
	store   *memStore
	worker  *stubWorker
	manager *lifecycle.Manager
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jobs := &memJobs{jobs: make(map[string]domain.Job)}
	groups := &memGroups{groups: make(map[string]domain.Group), jobs: jobs}
	store := &memStore{objects: make(map[string][]byte)}
	worker := &stubWorker{}
	logger := zerolog.Nop()

	manager := lifecycle.NewManager(groups, jobs, worker, logger, 1, 0)
	app := &handlers.App{
		Logger:     logger,
		Groups:     groups,
		Jobs:       jobs,
		Dispatcher: batch.NewDispatcher(jobs, store, worker, logger, batch.DispatcherOptions{}),
		Reconciler: batch.NewReconciler(jobs, store, worker, logger),
		Exporter:   export.NewExporter(jobs, store, logger, 2),
		Lifecycle:  manager,
	}
	return &fixture{
		groups:  groups,
		jobs:    jobs,
		store:   store,
		worker:  worker,
		manager: manager,
		router:  httpapi.NewRouter(app),
	}
}

func (f *fixture) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedGroup(t *testing.T, id string) {
	t.Helper()
	if err := f.groups.Create(context.Background(), &domain.Group{ID: id, Name: "catalog"}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/v1/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGroupCreateAndGet(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/groups", map[string]string{"name": "spring catalog"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("group id missing in response")
	}

	rec = f.request(t, http.MethodGet, "/v1/groups/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["name"] != "spring catalog" {
		t.Fatalf("name = %v", got["name"])
	}
}

func TestGroupCreateRequiresName(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/groups", map[string]string{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGroupGetUnknown(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/v1/groups/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobCreateBatchMode(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	f.store.objects["sources/a.png"] = []byte("image")

	rec := f.request(t, http.MethodPost, "/v1/groups/grp1/jobs", map[string]any{
		"prompt":      "studio product shot",
		"source_urls": []string{"sources/a.png"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != string(domain.JobStatusBatchSubmitted) {
		t.Fatalf("status = %v, want batch_submitted", body["status"])
	}
	refs, _ := body["batch_refs"].([]any)
	if len(refs) != 1 {
		t.Fatalf("batch_refs = %v, want one ref", body["batch_refs"])
	}
}

func TestJobCreateDirectModeCompletes(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	f.store.objects["sources/a.png"] = []byte("image")

	rec := f.request(t, http.MethodPost, "/v1/groups/grp1/jobs", map[string]any{
		"mode":        "direct",
		"prompt":      "studio product shot",
		"source_urls": []string{"sources/a.png"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != string(domain.JobStatusCompleted) {
		t.Fatalf("status = %v, want completed", body["status"])
	}
	artifacts, _ := body["artifacts"].([]any)
	if len(artifacts) != 1 {
		t.Fatalf("artifacts = %v, want one", body["artifacts"])
	}
}

func TestJobCreateValidation(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	rec := f.request(t, http.MethodPost, "/v1/groups/grp1/jobs", map[string]any{
		"prompt": "ok",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestJobCreateUnknownGroup(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/groups/missing/jobs", map[string]any{
		"prompt":      "studio product shot",
		"source_urls": []string{"sources/a.png"},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobGetUnknown(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func seedSubmittedJob(t *testing.T, f *fixture, id string) {
	t.Helper()
	err := f.jobs.Create(context.Background(), &domain.Job{
		ID:      id,
		GroupID: "grp1",
		Mode:    domain.JobModeBatch,
		Status:  domain.JobStatusBatchSubmitted,
		Params: domain.JobParams{
			Mode:       domain.JobModeBatch,
			Prompts:    []string{"studio product shot"},
			SourceURLs: []string{"sources/a.png"},
			Ratios:     []string{"1:1"},
			Variations: 1,
			Model:      domain.DefaultModel,
		},
		BatchRefs: []string{"batches/b0"},
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func TestJobReconcileTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedSubmittedJob(t, f, "job1")
	f.worker.statusErr = errors.New("upstream 503")

	rec := f.request(t, http.MethodPost, "/v1/jobs/job1/reconcile", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	// The job must stay submitted for the next round.
	job, err := f.jobs.GetByID(context.Background(), "job1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.JobStatusBatchSubmitted {
		t.Fatalf("job status = %s, want batch_submitted", job.Status)
	}
}

func TestJobReconcileCompletes(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedSubmittedJob(t, f, "job1")
	f.worker.status = func(batchName string) *genai.BatchStatus {
		return &genai.BatchStatus{
			Name:  batchName,
			State: genai.StateSucceeded,
			InlineResponses: []genai.BatchResultLine{{
				Key: "src0_p0_r1x1_v0",
				Response: &genai.GenerateContentResponse{
					Candidates: []genai.Candidate{{
						Content: genai.Content{Parts: []genai.Part{{
							InlineData: &genai.InlineData{MimeType: "image/png", Data: genai.EncodeInlineData([]byte("png"))},
						}}},
					}},
				},
			}},
		}
	}

	rec := f.request(t, http.MethodPost, "/v1/jobs/job1/reconcile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != string(domain.JobStatusCompleted) {
		t.Fatalf("status = %v, want completed", body["status"])
	}
}

func TestJobRetryRejectsNonFailed(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedSubmittedJob(t, f, "job1")

	rec := f.request(t, http.MethodPost, "/v1/jobs/job1/retry", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestCallbackUnknownJob(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/callbacks/generation", map[string]string{
		"job_id": "missing", "status": "completed",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCallbackMissingJobID(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/callbacks/generation", map[string]string{"status": "completed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCallbackTransientFailureAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedSubmittedJob(t, f, "job1")
	f.worker.statusErr = errors.New("upstream 503")

	rec := f.request(t, http.MethodPost, "/v1/callbacks/generation", map[string]string{
		"job_id": "job1", "status": "completed",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
}

func seedCompletedJob(t *testing.T, f *fixture, id string) {
	t.Helper()
	uri := fmt.Sprintf("groups/grp1/jobs/%s/src0_p0_r1x1_v0.png", id)
	f.store.objects[uri] = []byte("png-bytes")
	err := f.jobs.Create(context.Background(), &domain.Job{
		ID:      id,
		GroupID: "grp1",
		Mode:    domain.JobModeBatch,
		Status:  domain.JobStatusCompleted,
		Artifacts: domain.NewArtifactSet(domain.ResultArtifact{
			Key: "src0_p0_r1x1_v0",
			URI: uri,
		}),
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func TestJobExportManifest(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedCompletedJob(t, f, "job1")

	rec := f.request(t, http.MethodGet, "/v1/jobs/job1/export?mode=manifest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(1) {
		t.Fatalf("total = %v, want 1", body["total"])
	}
}

func TestJobExportArchive(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedCompletedJob(t, f, "job1")

	rec := f.request(t, http.MethodGet, "/v1/jobs/job1/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("zip reader: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "job1/src0_p0_r1x1_v0.png" {
		t.Fatalf("archive entries = %v", zr.File)
	}
}

func TestJobExportBadMode(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/v1/jobs/job1/export?mode=tarball", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGroupExportSkipsUnfinishedJobs(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedCompletedJob(t, f, "job1")
	seedSubmittedJob(t, f, "job2")

	rec := f.request(t, http.MethodGet, "/v1/groups/grp1/export?mode=manifest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(1) {
		t.Fatalf("total = %v, want 1 (submitted job excluded)", body["total"])
	}
}

func TestGroupDeleteCascades(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedSubmittedJob(t, f, "job1")

	rec := f.request(t, http.MethodDelete, "/v1/groups/grp1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	f.manager.Wait()

	if _, err := f.jobs.GetByID(context.Background(), "job1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("child job survived cascade: %v", err)
	}
	rec = f.request(t, http.MethodGet, "/v1/groups/grp1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 after delete", rec.Code)
	}
}

func TestJobDelete(t *testing.T) {
	f := newFixture(t)
	f.seedGroup(t, "grp1")
	seedSubmittedJob(t, f, "job1")

	rec := f.request(t, http.MethodDelete, "/v1/jobs/job1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	f.manager.Wait()
	if _, err := f.jobs.GetByID(context.Background(), "job1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("job survived delete: %v", err)
	}
}
