package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"batchgen/internal/domain"
	"batchgen/internal/infra"
	"batchgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository over the SQL runner.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := domain.EncodeParams(job.Params)
	if err != nil {
		return err
	}
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.GroupID,
		job.Mode,
		job.Status,
		params,
		job.BatchRefs,
		job.StagedUploads,
		job.CollectedRefs,
		artifacts,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByGroup returns all jobs owned by the group, oldest first.
func (r *JobRepositoryPG) ListByGroup(ctx context.Context, groupID string) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectJobsByGroup, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListByStatus returns all jobs in the given status, oldest first.
func (r *JobRepositoryPG) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectJobsByStatus, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateStatus persists the job's mutable fields as a single conditional
// update guarded by the expected current status. No row matched means either
// the job is gone or another writer already moved it on; both surface as
// ErrNotFound so the caller re-reads instead of overwriting.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, job *domain.Job, expected domain.JobStatus) error {
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobStatus,
		job.ID,
		expected,
		job.Status,
		job.ErrorMessage,
		job.BatchRefs,
		job.StagedUploads,
		job.CollectedRefs,
		artifacts,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s no longer in status %s", domain.ErrNotFound, job.ID, expected)
	}
	return nil
}

// Delete removes the job row.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteJob, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job          domain.Job
		paramsRaw    []byte
		artifactsRaw []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.GroupID,
		&job.Mode,
		&job.Status,
		&paramsRaw,
		&job.BatchRefs,
		&job.StagedUploads,
		&job.CollectedRefs,
		&artifactsRaw,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	params, err := domain.DecodeParams(paramsRaw)
	if err != nil {
		return nil, err
	}
	job.Params = params
	if len(artifactsRaw) > 0 {
		if err := json.Unmarshal(artifactsRaw, &job.Artifacts); err != nil {
			return nil, fmt.Errorf("decode job artifacts: %w", err)
		}
	}
	return &job, nil
}
