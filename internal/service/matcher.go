package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/observability"
	"github.com/example/stitchflow/internal/storage"
	"github.com/example/stitchflow/pkg/id"
)

// MatcherService matches ready work items to operators. It is the sole
// writer of operator load counters; every load adjustment happens in the
// same transaction as the corresponding work item status change.
type MatcherService struct {
	storage  storage.Storage
	notifier StatusNotifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewMatcherService creates a MatcherService. notifier and metrics may be nil.
func NewMatcherService(store storage.Storage, notifier StatusNotifier, metrics *observability.Metrics, logger *slog.Logger) *MatcherService {
	return &MatcherService{
		storage:  store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "matcher"),
	}
}

// Assign claims a ready work item for an operator. When the actor assigns
// work to themself the item enters SELF_ASSIGNED pending supervisor
// approval instead of ASSIGNED.
func (s *MatcherService) Assign(ctx context.Context, actor domain.Actor, workItemID, operatorID string) (*domain.WorkItem, error) {
	return s.assign(ctx, actor, workItemID, operatorID, domain.MethodManual)
}

// Proposal is one item of a bulk confirmation batch.
type Proposal struct {
	WorkItemID string
	OperatorID string
}

// Outcome reports the per-item result of a bulk confirmation.
type Outcome struct {
	WorkItemID string
	OperatorID string
	Err        error
}

// BulkConfirm commits a batch of assignment proposals. Each item is
// validated and committed independently; one failure neither stops the
// batch nor rolls back already-committed items.
func (s *MatcherService) BulkConfirm(ctx context.Context, actor domain.Actor, proposals []Proposal) []Outcome {
	outcomes := make([]Outcome, 0, len(proposals))
	for _, p := range proposals {
		_, err := s.assign(ctx, actor, p.WorkItemID, p.OperatorID, domain.MethodBulk)
		outcomes = append(outcomes, Outcome{WorkItemID: p.WorkItemID, OperatorID: p.OperatorID, Err: err})
	}
	return outcomes
}

func (s *MatcherService) assign(ctx context.Context, actor domain.Actor, workItemID, operatorID string, method domain.AssignmentMethod) (*domain.WorkItem, error) {
	if workItemID == "" || operatorID == "" {
		return nil, fmt.Errorf("%w: work item id and operator id are required", domain.ErrInvalidArgument)
	}

	selfAssign := actor.ID == operatorID
	if selfAssign {
		method = domain.MethodSelf
	}

	var result *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		item, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}

		if item.Status != domain.StatusReady {
			// A second self-assign attempt while one is pending is a
			// conflict; any other claim on a non-ready item lost the race.
			if selfAssign && item.Status == domain.StatusSelfAssigned {
				return fmt.Errorf("%w: work item %s has a self-assignment pending approval",
					domain.ErrAssignmentConflict, item.ID)
			}
			if item.Status.IsActive() {
				return fmt.Errorf("%w: work item %s is %s (operator %s)",
					domain.ErrAlreadyAssigned, item.ID, item.Status, item.AssignedOperatorID)
			}
			return fmt.Errorf("%w: cannot transition work item %s from %s to %s",
				domain.ErrInvalidTransition, item.ID, item.Status, domain.StatusAssigned)
		}

		operator, err := uow.Operators().Get(ctx, operatorID)
		if err != nil {
			return err
		}
		if !operator.Active {
			return fmt.Errorf("%w: operator %s is inactive", domain.ErrInvalidArgument, operatorID)
		}
		if !operator.CanOperate(item.MachineType) {
			return fmt.Errorf("%w: operator %s cannot operate %s",
				domain.ErrIncompatibleAssignment, operatorID, item.MachineType)
		}
		if !operator.HasCapacity() {
			return fmt.Errorf("%w: operator %s is at capacity (%d/%d)",
				domain.ErrInvalidArgument, operatorID, operator.CurrentLoad, operator.MaxLoad)
		}

		oldStatus := item.Status
		if err := item.Assign(operatorID, actor.ID); err != nil {
			return err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			if errors.Is(err, domain.ErrConcurrentModify) {
				return fmt.Errorf("%w: work item %s was claimed concurrently",
					domain.ErrAlreadyAssigned, item.ID)
			}
			return err
		}
		changes = append(changes, statusChange{item.ID, oldStatus, item.Status})

		assignment := domain.NewAssignment(id.Generate(), item.ID, operatorID, actor.ID, method)
		if err := uow.Assignments().Create(ctx, assignment); err != nil {
			return err
		}
		if err := uow.Operators().AdjustLoad(ctx, operatorID, 1); err != nil {
			return err
		}

		result = item
		return nil
	})
	if err != nil {
		s.countAssignmentFailure(err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AssignmentCommitted(string(method))
	}
	s.logger.Info("work item assigned",
		"work_item_id", workItemID, "operator_id", operatorID,
		"method", string(method), "status", result.Status.String())
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return result, nil
}

// ApproveSelfAssignment confirms a pending self-assignment. Supervisor or
// management only.
func (s *MatcherService) ApproveSelfAssignment(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	if !actor.CanSupervise() {
		return nil, fmt.Errorf("%w: only supervisors may approve self-assignments", domain.ErrPermissionDenied)
	}

	var result *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		item, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}

		oldStatus := item.Status
		if err := item.SetStatus(domain.StatusAssigned); err != nil {
			return err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			return err
		}
		changes = append(changes, statusChange{item.ID, oldStatus, item.Status})

		assignment, err := uow.Assignments().GetActive(ctx, item.ID)
		if err != nil {
			return err
		}
		assignment.Approve(actor.ID)
		if err := uow.Assignments().Update(ctx, assignment); err != nil {
			return err
		}

		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SelfAssignDecision("approved")
	}
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return result, nil
}

// RejectSelfAssignment rejects a pending self-assignment: the item returns
// to the ready pool, the operator fields are cleared, and the rejection is
// stamped on the assignment record. Supervisor or management only.
func (s *MatcherService) RejectSelfAssignment(ctx context.Context, actor domain.Actor, workItemID, reason string) (*domain.WorkItem, error) {
	if !actor.CanSupervise() {
		return nil, fmt.Errorf("%w: only supervisors may reject self-assignments", domain.ErrPermissionDenied)
	}

	var result *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		item, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}
		if item.Status != domain.StatusSelfAssigned {
			return fmt.Errorf("%w: work item %s is %s, not %s",
				domain.ErrInvalidTransition, item.ID, item.Status, domain.StatusSelfAssigned)
		}

		operatorID := item.AssignedOperatorID
		oldStatus := item.Status
		if err := item.Unassign(); err != nil {
			return err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			return err
		}
		changes = append(changes, statusChange{item.ID, oldStatus, item.Status})

		assignment, err := uow.Assignments().GetActive(ctx, item.ID)
		if err != nil {
			return err
		}
		assignment.Reject(actor.ID, reason)
		if err := uow.Assignments().Update(ctx, assignment); err != nil {
			return err
		}
		if err := uow.Operators().AdjustLoad(ctx, operatorID, -1); err != nil {
			return err
		}

		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SelfAssignDecision("rejected")
	}
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return result, nil
}

// Unassign returns an assigned item to the ready pool. Allowed for the
// assigned operator themself or a supervisor.
func (s *MatcherService) Unassign(ctx context.Context, actor domain.Actor, workItemID string) (*domain.WorkItem, error) {
	var result *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		item, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}
		if actor.ID != item.AssignedOperatorID && !actor.CanSupervise() {
			return fmt.Errorf("%w: only the assigned operator or a supervisor may unassign %s",
				domain.ErrPermissionDenied, item.ID)
		}

		operatorID := item.AssignedOperatorID
		oldStatus := item.Status
		if err := item.Unassign(); err != nil {
			return err
		}
		if err := uow.WorkItems().Update(ctx, item); err != nil {
			return err
		}
		changes = append(changes, statusChange{item.ID, oldStatus, item.Status})

		assignment, err := uow.Assignments().GetActive(ctx, item.ID)
		if err == nil {
			assignment.Release()
			if err := uow.Assignments().Update(ctx, assignment); err != nil {
				return err
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := uow.Operators().AdjustLoad(ctx, operatorID, -1); err != nil {
			return err
		}

		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return result, nil
}

// ListReadyWorkItems returns assignable work items.
func (s *MatcherService) ListReadyWorkItems(ctx context.Context, opts storage.ListOptions) ([]*domain.WorkItem, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.WorkItems().ListReady(ctx, opts)
}

// RankOperators orders a roster for a work item: compatible operators
// first, then ascending load ratio. A pure ordering hint for UIs, never a
// scheduling constraint.
func RankOperators(item *domain.WorkItem, roster []*domain.Operator) []*domain.Operator {
	ranked := append([]*domain.Operator(nil), roster...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := ranked[i].CanOperate(item.MachineType), ranked[j].CanOperate(item.MachineType)
		if ci != cj {
			return ci
		}
		return ranked[i].LoadRatio() < ranked[j].LoadRatio()
	})
	return ranked
}

func (s *MatcherService) inTx(ctx context.Context, fn func(storage.UnitOfWork) error) error {
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

func (s *MatcherService) countAssignmentFailure(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrAlreadyAssigned):
		s.metrics.AssignmentFailed("already_assigned")
	case errors.Is(err, domain.ErrAssignmentConflict):
		s.metrics.AssignmentFailed("assignment_conflict")
	case errors.Is(err, domain.ErrIncompatibleAssignment):
		s.metrics.AssignmentFailed("incompatible")
	case errors.Is(err, domain.ErrInvalidTransition):
		s.metrics.AssignmentFailed("invalid_transition")
	default:
		s.metrics.AssignmentFailed("other")
	}
}
