package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/storage"
)

type workItemRepo struct {
	tx *sql.Tx
}

const workItemColumns = `id, lot_id, roll_id, operation_id, operation_name, sequence,
	dependencies_json, machine_type, skill_level, pieces, completed_pieces, status,
	assigned_operator_id, assigned_by, rate, estimated_minutes,
	created_at, started_at, completed_at, updated_at, version`

func (r *workItemRepo) Create(ctx context.Context, item *domain.WorkItem) error {
	depsJSON, err := json.Marshal(item.Dependencies)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO work_items (`+workItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.LotID, item.RollID, item.OperationID, item.OperationName, item.Sequence,
		string(depsJSON), item.MachineType, item.SkillLevel, item.Pieces, item.CompletedPieces,
		item.Status, item.AssignedOperatorID, item.AssignedBy, item.Rate, item.EstimatedMinutes,
		item.CreatedAt, item.StartedAt, item.CompletedAt, item.UpdatedAt, item.Version)
	return err
}

func (r *workItemRepo) CreateBatch(ctx context.Context, items []*domain.WorkItem) error {
	for _, item := range items {
		if err := r.Create(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *workItemRepo) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT `+workItemColumns+` FROM work_items WHERE id = ?
	`, id)

	item, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return item, err
}

// scanWorkItem maps a row onto a WorkItem. scan is row.Scan or rows.Scan.
func scanWorkItem(scan func(dest ...any) error) (*domain.WorkItem, error) {
	item := &domain.WorkItem{}
	var depsJSON string
	var rollID, assignedOperator, assignedBy sql.NullString
	var startedAt, completedAt sql.NullTime

	err := scan(&item.ID, &item.LotID, &rollID, &item.OperationID, &item.OperationName,
		&item.Sequence, &depsJSON, &item.MachineType, &item.SkillLevel, &item.Pieces,
		&item.CompletedPieces, &item.Status, &assignedOperator, &assignedBy,
		&item.Rate, &item.EstimatedMinutes, &item.CreatedAt, &startedAt, &completedAt,
		&item.UpdatedAt, &item.Version)
	if err != nil {
		return nil, err
	}

	item.RollID = rollID.String
	item.AssignedOperatorID = assignedOperator.String
	item.AssignedBy = assignedBy.String
	if startedAt.Valid {
		item.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}

	if depsJSON != "" && depsJSON != "null" {
		if err := json.Unmarshal([]byte(depsJSON), &item.Dependencies); err != nil {
			return nil, err
		}
	}

	return item, nil
}

func (r *workItemRepo) Update(ctx context.Context, item *domain.WorkItem) error {
	depsJSON, err := json.Marshal(item.Dependencies)
	if err != nil {
		return err
	}

	result, err := r.tx.ExecContext(ctx, `
		UPDATE work_items
		SET completed_pieces = ?, status = ?, assigned_operator_id = ?, assigned_by = ?,
			dependencies_json = ?, started_at = ?, completed_at = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`, item.CompletedPieces, item.Status, item.AssignedOperatorID, item.AssignedBy,
		string(depsJSON), item.StartedAt, item.CompletedAt, item.UpdatedAt,
		item.ID, item.Version)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConcurrentModify
	}

	item.Version++
	return nil
}

func (r *workItemRepo) ListByLot(ctx context.Context, lotID string, opts storage.ListOptions) ([]*domain.WorkItem, error) {
	filter := "lot_id = ?"
	args := []any{lotID}
	filter, args = appendFilters(filter, args, opts)

	return r.list(ctx, filter, args, opts)
}

func (r *workItemRepo) ListReady(ctx context.Context, opts storage.ListOptions) ([]*domain.WorkItem, error) {
	filter := "status = ?"
	args := []any{domain.StatusReady}
	filter, args = appendFilters(filter, args, opts)

	return r.list(ctx, filter, args, opts)
}

func appendFilters(filter string, args []any, opts storage.ListOptions) (string, []any) {
	if len(opts.IDs) > 0 {
		placeholders := make([]string, len(opts.IDs))
		for i, id := range opts.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		filter += " AND id IN (" + strings.Join(placeholders, ",") + ")"
	}

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		filter += " AND status IN (" + strings.Join(placeholders, ",") + ")"
	}

	if opts.OperatorID != "" {
		filter += " AND assigned_operator_id = ?"
		args = append(args, opts.OperatorID)
	}

	return filter, args
}

func (r *workItemRepo) list(ctx context.Context, filter string, args []any, opts storage.ListOptions) ([]*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE ` + filter + ` ORDER BY sequence, created_at, id`

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}
