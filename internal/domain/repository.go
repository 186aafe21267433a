package domain

import "context"

// GroupRepository defines persistence for group entities.
type GroupRepository interface {
	Create(ctx context.Context, group *Group) error
	GetByID(ctx context.Context, groupID string) (*Group, error)
	// DeleteCascade removes the group and all child jobs in one
	// transaction, returning the deleted jobs so cleanup can reclaim
	// their external references.
	DeleteCascade(ctx context.Context, groupID string) ([]Job, error)
}

// JobRepository defines persistence for job entities. Status changes go
// through UpdateStatus as single-row conditional updates guarded by the
// expected current status.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByGroup(ctx context.Context, groupID string) ([]Job, error)
	ListByStatus(ctx context.Context, status JobStatus) ([]Job, error)
	// UpdateStatus persists status, error message, batch refs, staged
	// uploads and artifacts when the row still holds the expected status.
	// It returns ErrNotFound when no row matched.
	UpdateStatus(ctx context.Context, job *Job, expected JobStatus) error
	Delete(ctx context.Context, jobID string) error
}
