package sqlite

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/stitchflow/internal/storage"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage instance.
func New(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	// SQLite works best with a single connection for writes; this also
	// keeps :memory: databases coherent across transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStorage{db: db}, nil
}

// Begin starts a new transaction.
func (s *SQLiteStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newUnitOfWork(tx), nil
}

// BeginImmediate starts a write transaction. With _txlock=immediate the
// write lock is taken at BEGIN, so concurrent writers queue on the busy
// timeout instead of failing at commit.
func (s *SQLiteStorage) BeginImmediate(ctx context.Context) (storage.UnitOfWork, error) {
	return s.Begin(ctx)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

// unitOfWork implements the UnitOfWork interface.
type unitOfWork struct {
	tx          *sql.Tx
	lots        *lotRepo
	workItems   *workItemRepo
	operators   *operatorRepo
	assignments *assignmentRepo
}

func newUnitOfWork(tx *sql.Tx) *unitOfWork {
	return &unitOfWork{
		tx:          tx,
		lots:        &lotRepo{tx: tx},
		workItems:   &workItemRepo{tx: tx},
		operators:   &operatorRepo{tx: tx},
		assignments: &assignmentRepo{tx: tx},
	}
}

func (u *unitOfWork) Lots() storage.LotRepository {
	return u.lots
}

func (u *unitOfWork) WorkItems() storage.WorkItemRepository {
	return u.workItems
}

func (u *unitOfWork) Operators() storage.OperatorRepository {
	return u.operators
}

func (u *unitOfWork) Assignments() storage.AssignmentRepository {
	return u.assignments
}

func (u *unitOfWork) Commit() error {
	return u.tx.Commit()
}

func (u *unitOfWork) Rollback() error {
	return u.tx.Rollback()
}
