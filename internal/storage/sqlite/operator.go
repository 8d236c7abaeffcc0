package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/example/stitchflow/internal/domain"
)

type operatorRepo struct {
	tx *sql.Tx
}

const operatorColumns = `id, name, capabilities_json, multi_skill, current_load, max_load,
	efficiency, active, created_at, updated_at, version`

func (r *operatorRepo) Create(ctx context.Context, op *domain.Operator) error {
	capsJSON, err := json.Marshal(op.MachineCapabilities)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO operators (`+operatorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.Name, string(capsJSON), op.MultiSkill, op.CurrentLoad, op.MaxLoad,
		op.Efficiency, op.Active, op.CreatedAt, op.UpdatedAt, op.Version)
	return err
}

func (r *operatorRepo) Get(ctx context.Context, id string) (*domain.Operator, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT `+operatorColumns+` FROM operators WHERE id = ?
	`, id)

	op, err := scanOperator(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return op, err
}

func scanOperator(scan func(dest ...any) error) (*domain.Operator, error) {
	op := &domain.Operator{}
	var capsJSON string

	err := scan(&op.ID, &op.Name, &capsJSON, &op.MultiSkill, &op.CurrentLoad, &op.MaxLoad,
		&op.Efficiency, &op.Active, &op.CreatedAt, &op.UpdatedAt, &op.Version)
	if err != nil {
		return nil, err
	}

	if capsJSON != "" && capsJSON != "null" {
		if err := json.Unmarshal([]byte(capsJSON), &op.MachineCapabilities); err != nil {
			return nil, err
		}
	}

	return op, nil
}

func (r *operatorRepo) Update(ctx context.Context, op *domain.Operator) error {
	capsJSON, err := json.Marshal(op.MachineCapabilities)
	if err != nil {
		return err
	}

	result, err := r.tx.ExecContext(ctx, `
		UPDATE operators
		SET name = ?, capabilities_json = ?, multi_skill = ?, max_load = ?, efficiency = ?,
			active = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, op.Name, string(capsJSON), op.MultiSkill, op.MaxLoad, op.Efficiency,
		op.Active, op.UpdatedAt, op.ID, op.Version)
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

	op.Version++
	return nil
}

func (r *operatorRepo) List(ctx context.Context, activeOnly bool) ([]*domain.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY current_load ASC, id`

	rows, err := r.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var operators []*domain.Operator
	for rows.Next() {
		op, err := scanOperator(rows.Scan)
		if err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}

	return operators, rows.Err()
}

// AdjustLoad atomically adds delta to the operator's current load. The load
// counter deliberately bypasses version CAS: it is owned by the matcher and
// adjusted inside the same transaction as the work item status change.
func (r *operatorRepo) AdjustLoad(ctx context.Context, id string, delta int) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE operators
		SET current_load = MAX(0, current_load + ?), updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, delta, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: operator %s", domain.ErrNotFound, id)
	}

	return nil
}
