package storage

import (
	"context"

	"github.com/example/stitchflow/internal/domain"
)

// ListOptions provides filtering options for list operations.
type ListOptions struct {
	// IDs to filter by (empty = all)
	IDs []string

	// Statuses to filter by (empty = all)
	Statuses []domain.Status

	// OperatorID filters work items by assigned operator.
	OperatorID string

	// Pagination
	Limit  int
	Offset int
}

// LotRepository provides access to Lot storage.
type LotRepository interface {
	// Create creates a new Lot.
	Create(ctx context.Context, lot *domain.Lot) error

	// Get retrieves a Lot by ID.
	Get(ctx context.Context, id string) (*domain.Lot, error)

	// Update updates an existing Lot using version CAS.
	Update(ctx context.Context, lot *domain.Lot) error

	// List lists lots, optionally including archived ones.
	List(ctx context.Context, includeArchived bool) ([]*domain.Lot, error)
}

// WorkItemRepository provides access to WorkItem storage.
type WorkItemRepository interface {
	// Create creates a new WorkItem.
	Create(ctx context.Context, item *domain.WorkItem) error

	// CreateBatch creates multiple work items.
	CreateBatch(ctx context.Context, items []*domain.WorkItem) error

	// Get retrieves a WorkItem by ID.
	Get(ctx context.Context, id string) (*domain.WorkItem, error)

	// Update updates an existing WorkItem using version CAS; a stale
	// version returns domain.ErrConcurrentModify and writes nothing.
	Update(ctx context.Context, item *domain.WorkItem) error

	// ListByLot lists work items in a lot with optional filtering.
	ListByLot(ctx context.Context, lotID string, opts ListOptions) ([]*domain.WorkItem, error)

	// ListReady lists assignable work items across lots.
	ListReady(ctx context.Context, opts ListOptions) ([]*domain.WorkItem, error)
}

// OperatorRepository provides access to Operator storage.
type OperatorRepository interface {
	// Create creates a new Operator.
	Create(ctx context.Context, op *domain.Operator) error

	// Get retrieves an Operator by ID.
	Get(ctx context.Context, id string) (*domain.Operator, error)

	// Update updates an existing Operator using version CAS.
	Update(ctx context.Context, op *domain.Operator) error

	// List lists operators, optionally only active ones, ordered by
	// ascending current load.
	List(ctx context.Context, activeOnly bool) ([]*domain.Operator, error)

	// AdjustLoad atomically adds delta to an operator's current load.
	AdjustLoad(ctx context.Context, id string, delta int) error
}

// AssignmentRepository provides access to Assignment storage.
type AssignmentRepository interface {
	// Create appends a new assignment record.
	Create(ctx context.Context, a *domain.Assignment) error

	// GetActive returns the unreleased assignment for a work item, if any.
	GetActive(ctx context.Context, workItemID string) (*domain.Assignment, error)

	// Update updates an assignment record.
	Update(ctx context.Context, a *domain.Assignment) error

	// ListByWorkItem returns the full assignment history of a work item.
	ListByWorkItem(ctx context.Context, workItemID string) ([]*domain.Assignment, error)

	// ListByOperator returns the unreleased assignments of an operator.
	ListByOperator(ctx context.Context, operatorID string) ([]*domain.Assignment, error)
}

// UnitOfWork provides transactional access to all repositories.
type UnitOfWork interface {
	// Repository accessors
	Lots() LotRepository
	WorkItems() WorkItemRepository
	Operators() OperatorRepository
	Assignments() AssignmentRepository

	// Transaction control
	Commit() error
	Rollback() error
}

// Storage provides the main entry point for storage operations.
type Storage interface {
	// Begin starts a read transaction and returns a UnitOfWork.
	Begin(ctx context.Context) (UnitOfWork, error)

	// BeginImmediate starts a write transaction, taking the write lock up
	// front so concurrent writers queue instead of failing mid-commit.
	BeginImmediate(ctx context.Context) (UnitOfWork, error)

	// Close closes the storage connection.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}
