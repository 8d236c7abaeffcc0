package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/stitchflow/internal/domain"
)

type assignmentRepo struct {
	tx *sql.Tx
}

const assignmentColumns = `id, work_item_id, operator_id, assigned_by, assigned_at, method,
	approval_state, approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	released, released_at`

func (r *assignmentRepo) Create(ctx context.Context, a *domain.Assignment) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.WorkItemID, a.OperatorID, a.AssignedBy, a.AssignedAt, a.Method,
		a.ApprovalState, a.ApprovedBy, a.ApprovedAt, a.RejectedBy, a.RejectedAt,
		a.RejectionReason, a.Released, a.ReleasedAt)
	return err
}

func (r *assignmentRepo) GetActive(ctx context.Context, workItemID string) (*domain.Assignment, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE work_item_id = ? AND released = 0
	`, workItemID)

	a, err := scanAssignment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func scanAssignment(scan func(dest ...any) error) (*domain.Assignment, error) {
	a := &domain.Assignment{}
	var approvedBy, rejectedBy, rejectionReason, assignedBy sql.NullString
	var approvedAt, rejectedAt, releasedAt sql.NullTime

	err := scan(&a.ID, &a.WorkItemID, &a.OperatorID, &assignedBy, &a.AssignedAt, &a.Method,
		&a.ApprovalState, &approvedBy, &approvedAt, &rejectedBy, &rejectedAt,
		&rejectionReason, &a.Released, &releasedAt)
	if err != nil {
		return nil, err
	}

	a.AssignedBy = assignedBy.String
	a.ApprovedBy = approvedBy.String
	a.RejectedBy = rejectedBy.String
	a.RejectionReason = rejectionReason.String
	if approvedAt.Valid {
		a.ApprovedAt = &approvedAt.Time
	}
	if rejectedAt.Valid {
		a.RejectedAt = &rejectedAt.Time
	}
	if releasedAt.Valid {
		a.ReleasedAt = &releasedAt.Time
	}

	return a, nil
}

func (r *assignmentRepo) Update(ctx context.Context, a *domain.Assignment) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE assignments
		SET approval_state = ?, approved_by = ?, approved_at = ?, rejected_by = ?,
			rejected_at = ?, rejection_reason = ?, released = ?, released_at = ?
		WHERE id = ?
	`, a.ApprovalState, a.ApprovedBy, a.ApprovedAt, a.RejectedBy,
		a.RejectedAt, a.RejectionReason, a.Released, a.ReleasedAt, a.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *assignmentRepo) ListByWorkItem(ctx context.Context, workItemID string) ([]*domain.Assignment, error) {
	return r.list(ctx, `work_item_id = ?`, workItemID)
}

func (r *assignmentRepo) ListByOperator(ctx context.Context, operatorID string) ([]*domain.Assignment, error) {
	return r.list(ctx, `operator_id = ? AND released = 0`, operatorID)
}

func (r *assignmentRepo) list(ctx context.Context, filter string, arg string) ([]*domain.Assignment, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE `+filter+` ORDER BY assigned_at, id
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}
