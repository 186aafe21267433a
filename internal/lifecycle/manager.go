package lifecycle

import (
	"context"
	"sync"
	"time"

	"batchgen/internal/batch"
	"batchgen/internal/domain"
	"batchgen/internal/infra"
)

// Manager owns group and job deletion. The system-of-record cascade is one
// synchronous transaction; reclaiming external resources happens afterwards
// on a detached task with its own retry budget, and its outcome can never
// roll the deletion back.
type Manager struct {
	groups domain.GroupRepository
	jobs   domain.JobRepository
	worker batch.WorkerClient
	logger infra.Logger

	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager wires the lifecycle path. maxAttempts bounds cleanup retries.
func NewManager(groups domain.GroupRepository, jobs domain.JobRepository, worker batch.WorkerClient, logger infra.Logger, maxAttempts int, timeout time.Duration) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Manager{
		groups:      groups,
		jobs:        jobs,
		worker:      worker,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoff:     2 * time.Second,
		timeout:     timeout,
		stop:        make(chan struct{}),
	}
}

// DeleteGroup removes the group and all child jobs atomically, then
// dispatches best-effort external cleanup for every chunk reference and
// staged upload the deleted jobs held.
func (m *Manager) DeleteGroup(ctx context.Context, groupID string) error {
	jobs, err := m.groups.DeleteCascade(ctx, groupID)
	if err != nil {
		return err
	}
	m.dispatchCleanup(groupID, jobs)
	m.logger.Info().
		Str("group_id", groupID).
		Int("jobs", len(jobs)).
		Msg("lifecycle: group deleted")
	return nil
}

// DeleteJob removes a single job row and reclaims its external resources
// the same way.
func (m *Manager) DeleteJob(ctx context.Context, jobID string) error {
	job, err := m.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if err := m.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	m.dispatchCleanup(job.GroupID, []domain.Job{*job})
	return nil
}

// Wait blocks until all dispatched cleanup tasks finish, including their
// remaining backoff waits.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown interrupts the backoff wait of every pending cleanup task, then
// blocks until they return. References not yet reclaimed are logged and
// abandoned.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// dispatchCleanup hands the deleted jobs' external references to a detached
// goroutine. Deletion has already committed; from here on every failure is
// log-only.
func (m *Manager) dispatchCleanup(groupID string, jobs []domain.Job) {
	var refs, uploads []string
	for _, job := range jobs {
		refs = append(refs, job.BatchRefs...)
		uploads = append(uploads, job.StagedUploads...)
	}
	if len(refs) == 0 && len(uploads) == 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runCleanup(groupID, refs, uploads)
	}()
}

func (m *Manager) runCleanup(groupID string, refs, uploads []string) {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		refs = m.cancelBatches(ctx, refs)
		uploads = m.deleteFiles(ctx, uploads)
		cancel()

		if len(refs) == 0 && len(uploads) == 0 {
			m.logger.Info().Str("group_id", groupID).Msg("lifecycle: external cleanup finished")
			return
		}
		if attempt < m.maxAttempts {
			timer := time.NewTimer(m.backoff * time.Duration(attempt))
			select {
			case <-timer.C:
			case <-m.stop:
				timer.Stop()
				m.logger.Warn().
					Str("group_id", groupID).
					Int("batches_left", len(refs)).
					Int("files_left", len(uploads)).
					Msg("lifecycle: external cleanup interrupted by shutdown")
				return
			}
		}
	}
	m.logger.Warn().
		Str("group_id", groupID).
		Int("batches_left", len(refs)).
		Int("files_left", len(uploads)).
		Msg("lifecycle: external cleanup gave up after retries")
}

// cancelBatches returns the refs that still need cancelling.
func (m *Manager) cancelBatches(ctx context.Context, refs []string) []string {
	var remaining []string
	for _, ref := range refs {
		if err := m.worker.CancelBatch(ctx, ref); err != nil {
			m.logger.Warn().Err(err).Str("batch", ref).Msg("lifecycle: batch cancel failed")
			remaining = append(remaining, ref)
		}
	}
	return remaining
}

// deleteFiles returns the staged uploads that still need deleting.
func (m *Manager) deleteFiles(ctx context.Context, uploads []string) []string {
	var remaining []string
	for _, uri := range uploads {
		if err := m.worker.DeleteFile(ctx, uri); err != nil {
			m.logger.Warn().Err(err).Str("file", uri).Msg("lifecycle: staged file delete failed")
			remaining = append(remaining, uri)
		}
	}
	return remaining
}
