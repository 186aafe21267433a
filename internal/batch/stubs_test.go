package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"batchgen/internal/domain"
	"batchgen/internal/genai"
)

// memJobs is an in-memory JobRepository enforcing the same conditional
// update semantics as the Postgres implementation.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemJobs(jobs ...domain.Job) *memJobs {
	m := &memJobs{jobs: make(map[string]domain.Job, len(jobs))}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
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
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
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

func (m *memJobs) stored(jobID string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[jobID]
}

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	upErr   error
	downErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), downErr: make(map[string]error)}
}

func (s *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upErr != nil {
		return "", s.upErr
	}
	s.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (s *memStore) Download(ctx context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.downErr[uri]; err != nil {
		return nil, err
	}
	data, ok := s.objects[uri]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", uri, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
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

// fakeWorker implements WorkerClient with overridable behavior per call.
type fakeWorker struct {
	mu          sync.Mutex
	uploads     []string
	batches     []string
	generations int

	uploadFile      func(ctx context.Context, displayName, mimeType string, data []byte) (string, error)
	createBatch     func(ctx context.Context, model, displayName, fileURI string) (string, error)
	getBatchStatus  func(ctx context.Context, batchName string) (*genai.BatchStatus, error)
	downloadResults func(ctx context.Context, fileID string) (io.ReadCloser, error)
	generateImage   func(ctx context.Context, model string, request genai.GenerateContentRequest) (string, []byte, error)
	cancelBatch     func(ctx context.Context, batchName string) error
	deleteFile      func(ctx context.Context, fileURI string) error
}

func (f *fakeWorker) UploadFile(ctx context.Context, displayName, mimeType string, data []byte) (string, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, displayName)
	f.mu.Unlock()
	if f.uploadFile != nil {
		return f.uploadFile(ctx, displayName, mimeType, data)
	}
	return "files/" + displayName, nil
}

func (f *fakeWorker) CreateBatch(ctx context.Context, model, displayName, fileURI string) (string, error) {
	f.mu.Lock()
	f.batches = append(f.batches, displayName)
	f.mu.Unlock()
	if f.createBatch != nil {
		return f.createBatch(ctx, model, displayName, fileURI)
	}
	return "batches/" + displayName, nil
}

func (f *fakeWorker) GetBatchStatus(ctx context.Context, batchName string) (*genai.BatchStatus, error) {
	if f.getBatchStatus != nil {
		return f.getBatchStatus(ctx, batchName)
	}
	return nil, errors.New("status not implemented")
}

func (f *fakeWorker) DownloadResults(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if f.downloadResults != nil {
		return f.downloadResults(ctx, fileID)
	}
	return nil, errors.New("download not implemented")
}

func (f *fakeWorker) GenerateImage(ctx context.Context, model string, request genai.GenerateContentRequest) (string, []byte, error) {
	f.mu.Lock()
	f.generations++
	f.mu.Unlock()
	if f.generateImage != nil {
		return f.generateImage(ctx, model, request)
	}
	return "image/png", []byte("png-bytes"), nil
}

func (f *fakeWorker) CancelBatch(ctx context.Context, batchName string) error {
	if f.cancelBatch != nil {
		return f.cancelBatch(ctx, batchName)
	}
	return nil
}

func (f *fakeWorker) DeleteFile(ctx context.Context, fileURI string) error {
	if f.deleteFile != nil {
		return f.deleteFile(ctx, fileURI)
	}
	return nil
}

func (f *fakeWorker) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}
