package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/observability"
	"github.com/example/stitchflow/internal/storage"
	"github.com/example/stitchflow/internal/template"
	"github.com/example/stitchflow/pkg/id"
)

// WorkflowService drives work items through their lifecycle: lot creation
// via template expansion, status transitions, and the dependency fan-out
// that promotes pending items to ready when upstream operations complete.
type WorkflowService struct {
	storage  storage.Storage
	catalog  *template.Catalog
	notifier StatusNotifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewWorkflowService creates a WorkflowService. notifier and metrics may be nil.
func NewWorkflowService(store storage.Storage, catalog *template.Catalog, notifier StatusNotifier, metrics *observability.Metrics, logger *slog.Logger) *WorkflowService {
	return &WorkflowService{
		storage:  store,
		catalog:  catalog,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "workflow"),
	}
}

// RollSpec describes one fabric roll at lot creation.
type RollSpec struct {
	Number int
	Pieces int
}

// CreateLotRequest is the request for CreateLot.
type CreateLotRequest struct {
	TemplateID  string
	Style       string
	TotalPieces int
	Rolls       []RollSpec
	// PerRoll expands one work item per operation per roll.
	PerRoll    bool
	Attributes map[string]any
}

// CreateLot expands a template into work items for a new lot and persists
// both atomically.
func (s *WorkflowService) CreateLot(ctx context.Context, req *CreateLotRequest) (*domain.Lot, []*domain.WorkItem, error) {
	if req.TemplateID == "" {
		return nil, nil, fmt.Errorf("%w: template id is required", domain.ErrInvalidArgument)
	}
	if req.TotalPieces <= 0 {
		return nil, nil, fmt.Errorf("%w: total pieces must be positive", domain.ErrInvalidArgument)
	}

	tmpl, err := s.catalog.Get(req.TemplateID)
	if err != nil {
		return nil, nil, err
	}

	lot := domain.NewLot(id.Generate(), req.TemplateID, req.Style, req.TotalPieces)
	lot.PerRoll = req.PerRoll
	if req.Attributes != nil {
		lot.Attributes = req.Attributes
	}

	rollSum := 0
	for _, spec := range req.Rolls {
		if spec.Pieces <= 0 {
			return nil, nil, fmt.Errorf("%w: roll %d has non-positive pieces", domain.ErrInvalidArgument, spec.Number)
		}
		rollSum += spec.Pieces
		lot.Rolls = append(lot.Rolls, domain.Roll{ID: id.GenerateShort(), Number: spec.Number, Pieces: spec.Pieces})
	}
	if req.PerRoll {
		if len(req.Rolls) == 0 {
			return nil, nil, fmt.Errorf("%w: per-roll expansion requires rolls", domain.ErrInvalidArgument)
		}
		if rollSum != req.TotalPieces {
			return nil, nil, fmt.Errorf("%w: roll pieces sum to %d, lot has %d",
				domain.ErrInvariantViolation, rollSum, req.TotalPieces)
		}
	}

	items, err := template.Expand(tmpl, lot)
	if err != nil {
		return nil, nil, err
	}

	uow, err := s.storage.BeginImmediate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.Lots().Create(ctx, lot); err != nil {
		return nil, nil, fmt.Errorf("failed to create lot: %w", err)
	}
	if err := uow.WorkItems().CreateBatch(ctx, items); err != nil {
		return nil, nil, fmt.Errorf("failed to create work items: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info("lot created", "lot_id", lot.ID, "template_id", req.TemplateID,
		"pieces", req.TotalPieces, "work_items", len(items))
	return lot, items, nil
}

// GetLot retrieves a lot by ID.
func (s *WorkflowService) GetLot(ctx context.Context, lotID string) (*domain.Lot, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Lots().Get(ctx, lotID)
}

// ListLots lists lots, optionally including archived ones.
func (s *WorkflowService) ListLots(ctx context.Context, includeArchived bool) ([]*domain.Lot, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Lots().List(ctx, includeArchived)
}

// GetWorkItem retrieves a work item by ID.
func (s *WorkflowService) GetWorkItem(ctx context.Context, workItemID string) (*domain.WorkItem, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.WorkItems().Get(ctx, workItemID)
}

// ListWorkItems lists a lot's work items with optional filtering.
func (s *WorkflowService) ListWorkItems(ctx context.Context, lotID string, opts storage.ListOptions) ([]*domain.WorkItem, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.WorkItems().ListByLot(ctx, lotID, opts)
}

// StartWork moves an assigned item to in-progress. Only the assigned
// operator or a supervisor may start it.
func (s *WorkflowService) StartWork(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	return s.transition(ctx, workItemID, func(item *domain.WorkItem) error {
		if actor.ID != item.AssignedOperatorID && !actor.CanSupervise() {
			return fmt.Errorf("%w: only the assigned operator may start work item %s",
				domain.ErrPermissionDenied, item.ID)
		}
		return item.Start()
	})
}

// RecordProgress updates the completed piece count of an in-progress item.
func (s *WorkflowService) RecordProgress(ctx context.Context, actor domain.Actor, workItemID string, completedPieces int) (*domain.WorkItem, error) {
	return s.transition(ctx, workItemID, func(item *domain.WorkItem) error {
		if actor.ID != item.AssignedOperatorID && !actor.CanSupervise() {
			return fmt.Errorf("%w: only the assigned operator may record progress on %s",
				domain.ErrPermissionDenied, item.ID)
		}
		return item.RecordProgress(completedPieces)
	})
}

// CompleteWork finishes an in-progress item. All pieces must be completed.
// The live assignment is released, the operator's load decremented, and the
// readiness re-scan promotes downstream items whose dependencies are now met.
func (s *WorkflowService) CompleteWork(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	var result *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		item, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}
		if actor.ID != item.AssignedOperatorID && !actor.CanSupervise() {
			return fmt.Errorf("%w: only the assigned operator may complete work item %s",
				domain.ErrPermissionDenied, item.ID)
		}

		oldStatus := item.Status
		if err := item.Complete(); err != nil {
			s.countTransitionFailure(err)
			return err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			return err
		}
		changes = append(changes, statusChange{item.ID, oldStatus, item.Status})

		if err := s.releaseAssignment(ctx, uow, item.ID); err != nil {
			return err
		}

		promoted, err := s.rescanReadiness(ctx, uow, item.LotID)
		if err != nil {
			return err
		}
		changes = append(changes, promoted...)

		if err := s.archiveIfFinished(ctx, uow, item.LotID); err != nil {
			return err
		}

		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TransitionApplied(domain.StatusCompleted.String())
	}
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return result, nil
}

// BlockWork marks a ready or in-progress item blocked (e.g. a quality hold).
func (s *WorkflowService) BlockWork(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	return s.transition(ctx, workItemID, func(item *domain.WorkItem) error {
		return item.SetStatus(domain.StatusBlocked)
	})
}

// UnblockWork returns a blocked item to the ready pool.
func (s *WorkflowService) UnblockWork(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	return s.transition(ctx, workItemID, func(item *domain.WorkItem) error {
		return item.SetStatus(domain.StatusReady)
	})
}

// HoldWork pauses an item. Supervisor-controlled.
func (s *WorkflowService) HoldWork(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	if !actor.CanSupervise() {
		return nil, fmt.Errorf("%w: only supervisors may hold work", domain.ErrPermissionDenied)
	}
	return s.transition(ctx, workItemID, func(item *domain.WorkItem) error {
		return item.SetStatus(domain.StatusOnHold)
	})
}

// ResumeWork releases a held item back to ready. Supervisor-controlled.
func (s *WorkflowService) ResumeWork(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	if !actor.CanSupervise() {
		return nil, fmt.Errorf("%w: only supervisors may resume work", domain.ErrPermissionDenied)
	}
	return s.transition(ctx, workItemID, func(item *domain.WorkItem) error {
		return item.SetStatus(domain.StatusReady)
	})
}

// RejectWork terminally fails an item (e.g. cancelled lot). Supervisor-only.
// Any live assignment is released and the operator's load decremented.
func (s *WorkflowService) RejectWork(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	if !actor.CanSupervise() {
		return nil, fmt.Errorf("%w: only supervisors may reject work", domain.ErrPermissionDenied)
	}

	var result *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		item, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}

		oldStatus := item.Status
		if err := item.SetStatus(domain.StatusRejected); err != nil {
			s.countTransitionFailure(err)
			return err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			return err
		}
		changes = append(changes, statusChange{item.ID, oldStatus, item.Status})

		if err := s.releaseAssignment(ctx, uow, item.ID); err != nil {
			return err
		}

		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TransitionApplied(domain.StatusRejected.String())
	}
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return result, nil
}

// RefreshReadiness runs the dependency fan-out re-scan for a lot directly.
// It is idempotent: running it twice in a row yields the same state.
func (s *WorkflowService) RefreshReadiness(ctx context.Context, lotID string) (int, error) {
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		promoted, err := s.rescanReadiness(ctx, uow, lotID)
		if err != nil {
			return err
		}
		changes = promoted
		return nil
	})
	if err != nil {
		return 0, err
	}

	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return len(changes), nil
}

// transition applies a single-item mutation inside a transaction and
// notifies on success.
func (s *WorkflowService) transition(ctx context.Context, workItemID string, mutate func(*domain.WorkItem) error) (*domain.WorkItem, error) {
	var result *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		item, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}

		oldStatus := item.Status
		if err := mutate(item); err != nil {
			s.countTransitionFailure(err)
			return err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			return err
		}
		if item.Status != oldStatus {
			changes = append(changes, statusChange{item.ID, oldStatus, item.Status})
		}

		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil && len(changes) > 0 {
		s.metrics.TransitionApplied(result.Status.String())
	}
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return result, nil
}

// rescanReadiness promotes pending items whose dependencies are all
// completed for the same sub-unit. Best-effort and idempotent: already-ready
// items are skipped, and a second run finds nothing new to promote.
func (s *WorkflowService) rescanReadiness(ctx context.Context, uow storage.UnitOfWork, lotID string) ([]statusChange, error) {
	start := time.Now()

	changes, err := promotePending(ctx, uow, lotID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveFanOut(time.Since(start).Seconds(), len(changes))
	}
	return changes, nil
}

// promotePending is the dependency fan-out shared by workflow and bundle
// transactions: pending items become ready once every dependency is
// completed within the same sub-unit (roll id, or "" for whole-lot items).
func promotePending(ctx context.Context, uow storage.UnitOfWork, lotID string) ([]statusChange, error) {
	items, err := uow.WorkItems().ListByLot(ctx, lotID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}

	completed := make(map[string]map[domain.OperationID]bool)
	for _, item := range items {
		if item.Status != domain.StatusCompleted {
			continue
		}
		unit := completed[item.RollID]
		if unit == nil {
			unit = make(map[domain.OperationID]bool)
			completed[item.RollID] = unit
		}
		unit[item.OperationID] = true
	}

	var changes []statusChange
	for _, item := range items {
		if item.Status != domain.StatusPending {
			continue
		}

		satisfied := true
		for _, dep := range item.Dependencies {
			if !completed[item.RollID][dep] {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}

		oldStatus := item.Status
		if err := item.SetStatus(domain.StatusReady); err != nil {
			return nil, err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			return nil, err
		}
		changes = append(changes, statusChange{item.ID, oldStatus, item.Status})
	}

	return changes, nil
}

// releaseAssignment releases the item's live assignment, if any, and
// decrements the operator's load in the same transaction.
func (s *WorkflowService) releaseAssignment(ctx context.Context, uow storage.UnitOfWork, workItemID string) error {
	assignment, err := uow.Assignments().GetActive(ctx, workItemID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	assignment.Release()
	if err := uow.Assignments().Update(ctx, assignment); err != nil {
		return err
	}
	return uow.Operators().AdjustLoad(ctx, assignment.OperatorID, -1)
}

// archiveIfFinished archives the lot once every work item is terminal.
func (s *WorkflowService) archiveIfFinished(ctx context.Context, uow storage.UnitOfWork, lotID string) error {
	items, err := uow.WorkItems().ListByLot(ctx, lotID, storage.ListOptions{})
	if err != nil {
		return err
	}
	for _, item := range items {
		if !item.Status.IsTerminal() {
			return nil
		}
	}

	lot, err := uow.Lots().Get(ctx, lotID)
	if err != nil {
		return err
	}
	if lot.Archived {
		return nil
	}
	lot.Archive()
	if err := uow.Lots().Update(ctx, lot); err != nil {
		return err
	}
	s.logger.Info("lot archived", "lot_id", lotID)
	return nil
}

// inTx runs fn inside a write transaction.
func (s *WorkflowService) inTx(ctx context.Context, fn func(storage.UnitOfWork) error) error {
	uow, err := s.storage.BeginImmediate(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *WorkflowService) countTransitionFailure(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		s.metrics.TransitionFailed("invalid_transition")
	case errors.Is(err, domain.ErrInvariantViolation):
		s.metrics.TransitionFailed("invariant_violation")
	case errors.Is(err, domain.ErrPermissionDenied):
		s.metrics.TransitionFailed("permission_denied")
	default:
		s.metrics.TransitionFailed("other")
	}
}
