package sqlite

import (
	"context"
	"database/sql"
)

// Migrate runs all database migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Lots table
		`CREATE TABLE IF NOT EXISTS lots (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL,
			style TEXT,
			total_pieces INTEGER NOT NULL,
			rolls_json TEXT,
			per_roll INTEGER NOT NULL DEFAULT 0,
			attributes_json TEXT,
			archived INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,

		// Work items table
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			lot_id TEXT NOT NULL,
			roll_id TEXT,
			operation_id TEXT NOT NULL,
			operation_name TEXT,
			sequence INTEGER NOT NULL DEFAULT 0,
			dependencies_json TEXT,
			machine_type TEXT,
			skill_level INTEGER NOT NULL DEFAULT 0,
			pieces INTEGER NOT NULL,
			completed_pieces INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL DEFAULT 10,
			assigned_operator_id TEXT,
			assigned_by TEXT,
			rate REAL NOT NULL DEFAULT 0,
			estimated_minutes REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (lot_id) REFERENCES lots(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_work_items_lot ON work_items(lot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status)`,

		// Operators table
		`CREATE TABLE IF NOT EXISTS operators (
			id TEXT PRIMARY KEY,
			name TEXT,
			capabilities_json TEXT,
			multi_skill INTEGER NOT NULL DEFAULT 0,
			current_load INTEGER NOT NULL DEFAULT 0,
			max_load INTEGER NOT NULL DEFAULT 0,
			efficiency REAL NOT NULL DEFAULT 1.0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,

		// Assignments table
		`CREATE TABLE IF NOT EXISTS assignments (
			id TEXT PRIMARY KEY,
			work_item_id TEXT NOT NULL,
			operator_id TEXT NOT NULL,
			assigned_by TEXT,
			assigned_at DATETIME NOT NULL,
			method TEXT NOT NULL,
			approval_state INTEGER NOT NULL DEFAULT 10,
			approved_by TEXT,
			approved_at DATETIME,
			rejected_by TEXT,
			rejected_at DATETIME,
			rejection_reason TEXT,
			released INTEGER NOT NULL DEFAULT 0,
			released_at DATETIME,
			FOREIGN KEY (work_item_id) REFERENCES work_items(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_assignments_work_item ON assignments(work_item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_operator ON assignments(operator_id)`,

		// At most one unreleased assignment per work item.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_active
			ON assignments(work_item_id) WHERE released = 0`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
