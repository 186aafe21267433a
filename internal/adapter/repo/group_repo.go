package repo

import (
	"context"
	"fmt"

	"batchgen/internal/domain"
	"batchgen/internal/infra"
	"batchgen/internal/sqlinline"
)

// GroupRepositoryPG implements domain.GroupRepository over the SQL runner.
type GroupRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGroupRepository creates a group repository backed by PostgreSQL.
func NewGroupRepository(sql infra.SQLExecutor) *GroupRepositoryPG {
	return &GroupRepositoryPG{sql: sql}
}

// Create inserts a new group record.
func (r *GroupRepositoryPG) Create(ctx context.Context, group *domain.Group) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertGroup, group.ID, group.Name, group.CreatedAt)
	return err
}

// GetByID fetches a group by its identifier.
func (r *GroupRepositoryPG) GetByID(ctx context.Context, groupID string) (*domain.Group, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectGroup, groupID)
	var group domain.Group
	if err := row.Scan(&group.ID, &group.Name, &group.CreatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

// DeleteCascade removes the group and every child job in one transaction.
// The deleted jobs are returned so the lifecycle manager can hand their
// external references to the asynchronous cleanup task; the transaction
// itself never waits on the external boundary.
func (r *GroupRepositoryPG) DeleteCascade(ctx context.Context, groupID string) ([]domain.Job, error) {
	tx, err := r.sql.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cascade delete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, infra.TrimMarker(sqlinline.QDeleteGroupJobs), groupID)
	if err != nil {
		return nil, fmt.Errorf("delete group jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("scan deleted jobs: %w", err)
	}

	tag, err := tx.Exec(ctx, infra.TrimMarker(sqlinline.QDeleteGroup), groupID)
	if err != nil {
		return nil, fmt.Errorf("delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cascade delete: %w", err)
	}
	return jobs, nil
}

var _ domain.GroupRepository = (*GroupRepositoryPG)(nil)
var _ domain.JobRepository = (*JobRepositoryPG)(nil)
