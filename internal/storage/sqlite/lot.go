package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/example/stitchflow/internal/domain"
)

type lotRepo struct {
	tx *sql.Tx
}

func (r *lotRepo) Create(ctx context.Context, lot *domain.Lot) error {
	rollsJSON, err := json.Marshal(lot.Rolls)
	if err != nil {
		return err
	}

	attrsJSON, err := json.Marshal(lot.Attributes)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO lots (id, template_id, style, total_pieces, rolls_json, per_roll, attributes_json, archived, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, lot.ID, lot.TemplateID, lot.Style, lot.TotalPieces, string(rollsJSON), lot.PerRoll,
		string(attrsJSON), lot.Archived, lot.CreatedAt, lot.UpdatedAt, lot.Version)
	return err
}

func (r *lotRepo) Get(ctx context.Context, id string) (*domain.Lot, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, template_id, style, total_pieces, rolls_json, per_roll, attributes_json, archived, created_at, updated_at, version
		FROM lots WHERE id = ?
	`, id)

	lot := &domain.Lot{}
	var rollsJSON, attrsJSON string

	err := row.Scan(&lot.ID, &lot.TemplateID, &lot.Style, &lot.TotalPieces, &rollsJSON,
		&lot.PerRoll, &attrsJSON, &lot.Archived, &lot.CreatedAt, &lot.UpdatedAt, &lot.Version)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rollsJSON != "" && rollsJSON != "null" {
		if err := json.Unmarshal([]byte(rollsJSON), &lot.Rolls); err != nil {
			return nil, err
		}
	}
	if attrsJSON != "" && attrsJSON != "null" {
		if err := json.Unmarshal([]byte(attrsJSON), &lot.Attributes); err != nil {
			return nil, err
		}
	}
	if lot.Attributes == nil {
		lot.Attributes = make(map[string]any)
	}

	return lot, nil
}

func (r *lotRepo) Update(ctx context.Context, lot *domain.Lot) error {
	rollsJSON, err := json.Marshal(lot.Rolls)
	if err != nil {
		return err
	}

	attrsJSON, err := json.Marshal(lot.Attributes)
	if err != nil {
		return err
	}

	result, err := r.tx.ExecContext(ctx, `
		UPDATE lots
		SET style = ?, total_pieces = ?, rolls_json = ?, per_roll = ?, attributes_json = ?, archived = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, lot.Style, lot.TotalPieces, string(rollsJSON), lot.PerRoll, string(attrsJSON),
		lot.Archived, lot.UpdatedAt, lot.ID, lot.Version)
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

	lot.Version++
	return nil
}

func (r *lotRepo) List(ctx context.Context, includeArchived bool) ([]*domain.Lot, error) {
	query := `
		SELECT id, template_id, style, total_pieces, rolls_json, per_roll, attributes_json, archived, created_at, updated_at, version
		FROM lots`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []*domain.Lot
	for rows.Next() {
		lot := &domain.Lot{}
		var rollsJSON, attrsJSON string

		err := rows.Scan(&lot.ID, &lot.TemplateID, &lot.Style, &lot.TotalPieces, &rollsJSON,
			&lot.PerRoll, &attrsJSON, &lot.Archived, &lot.CreatedAt, &lot.UpdatedAt, &lot.Version)
		if err != nil {
			return nil, err
		}

		if rollsJSON != "" && rollsJSON != "null" {
			if err := json.Unmarshal([]byte(rollsJSON), &lot.Rolls); err != nil {
				return nil, err
			}
		}
		if attrsJSON != "" && attrsJSON != "null" {
			if err := json.Unmarshal([]byte(attrsJSON), &lot.Attributes); err != nil {
				return nil, err
			}
		}
		if lot.Attributes == nil {
			lot.Attributes = make(map[string]any)
		}

		lots = append(lots, lot)
	}

	return lots, rows.Err()
}
