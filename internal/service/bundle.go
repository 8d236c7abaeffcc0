package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/observability"
	"github.com/example/stitchflow/internal/storage"
	"github.com/example/stitchflow/pkg/id"
)

// BundleService splits and merges work item bundles. Both operations
// conserve piece counts and are only allowed on unstarted work; retired
// parents are marked superseded, never deleted.
type BundleService struct {
	storage  storage.Storage
	notifier StatusNotifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewBundleService creates a BundleService. notifier and metrics may be nil.
func NewBundleService(store storage.Storage, notifier StatusNotifier, metrics *observability.Metrics, logger *slog.Logger) *BundleService {
	return &BundleService{
		storage:  store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "bundle"),
	}
}

// Split divides a bundle into child bundles with the given piece counts.
// The counts must sum exactly to the parent's pieces. Children inherit the
// parent's operation metadata with fresh ids and start PENDING; the
// readiness re-scan run in the same transaction promotes them to READY
// immediately when their dependencies are already satisfied.
func (s *BundleService) Split(ctx context.Context, actor domain.Actor, workItemID string, pieceCounts []int) ([]*domain.WorkItem, error) {
	if !actor.CanSupervise() {
		return nil, fmt.Errorf("%w: only supervisors may split bundles", domain.ErrPermissionDenied)
	}
	if len(pieceCounts) < 2 {
		return nil, fmt.Errorf("%w: split needs at least 2 piece counts", domain.ErrInvalidArgument)
	}

	var children []*domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		parent, err := uow.WorkItems().Get(ctx, workItemID)
		if err != nil {
			return err
		}

		if err := splittable(parent); err != nil {
			return err
		}

		sum := 0
		for _, count := range pieceCounts {
			if count <= 0 {
				return fmt.Errorf("%w: piece counts must be positive", domain.ErrInvariantViolation)
			}
			sum += count
		}
		if sum != parent.Pieces {
			return fmt.Errorf("%w: piece counts sum to %d, bundle has %d",
				domain.ErrInvariantViolation, sum, parent.Pieces)
		}

		minutesPerPiece := 0.0
		if parent.Pieces > 0 {
			minutesPerPiece = parent.EstimatedMinutes / float64(parent.Pieces)
		}

		for _, count := range pieceCounts {
			child := deriveBundle(parent, count, minutesPerPiece)
			if err := uow.WorkItems().Create(ctx, child); err != nil {
				return err
			}
			children = append(children, child)
		}

		oldStatus := parent.Status
		if err := parent.SetStatus(domain.StatusSuperseded); err != nil {
			return err
		}
		if err := uow.WorkItems().Update(ctx, parent); err != nil {
			return err
		}
		changes = append(changes, statusChange{parent.ID, oldStatus, parent.Status})

		promoted, err := promotePending(ctx, uow, parent.LotID)
		if err != nil {
			return err
		}
		changes = append(changes, promoted...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BundleOperation("split")
	}
	s.logger.Info("bundle split", "parent_id", workItemID, "children", len(children))
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return children, nil
}

// Merge combines two or more unstarted bundles of the same lot and
// operation into one. The inputs are retired as superseded.
func (s *BundleService) Merge(ctx context.Context, actor domain.Actor, workItemIDs []string) (*domain.WorkItem, error) {
	if !actor.CanSupervise() {
		return nil, fmt.Errorf("%w: only supervisors may merge bundles", domain.ErrPermissionDenied)
	}
	if len(workItemIDs) < 2 {
		return nil, fmt.Errorf("%w: merge needs at least 2 bundles", domain.ErrInvalidArgument)
	}

	var merged *domain.WorkItem
	var changes []statusChange

	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		var inputs []*domain.WorkItem
		for _, itemID := range workItemIDs {
			item, err := uow.WorkItems().Get(ctx, itemID)
			if err != nil {
				return err
			}
			if err := splittable(item); err != nil {
				return err
			}
			inputs = append(inputs, item)
		}

		first := inputs[0]
		totalPieces := 0
		sameRoll := true
		for _, item := range inputs {
			if item.LotID != first.LotID || item.OperationID != first.OperationID {
				return fmt.Errorf("%w: bundles must share lot and operation to merge",
					domain.ErrInvariantViolation)
			}
			if item.RollID != first.RollID {
				sameRoll = false
			}
			totalPieces += item.Pieces
		}

		minutesPerPiece := 0.0
		if first.Pieces > 0 {
			minutesPerPiece = first.EstimatedMinutes / float64(first.Pieces)
		}

		merged = deriveBundle(first, totalPieces, minutesPerPiece)
		if !sameRoll {
			merged.RollID = ""
		}
		if err := uow.WorkItems().Create(ctx, merged); err != nil {
			return err
		}

		for _, item := range inputs {
			oldStatus := item.Status
			if err := item.SetStatus(domain.StatusSuperseded); err != nil {
				return err
			}
			if err := uow.WorkItems().Update(ctx, item); err != nil {
				return err
			}
			changes = append(changes, statusChange{item.ID, oldStatus, item.Status})
		}

		promoted, err := promotePending(ctx, uow, first.LotID)
		if err != nil {
			return err
		}
		changes = append(changes, promoted...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BundleOperation("merge")
	}
	s.logger.Info("bundles merged", "merged_id", merged.ID, "inputs", len(workItemIDs))
	notifyAll(ctx, s.notifier, s.metrics, s.logger, changes)
	return merged, nil
}

// splittable rejects bundles that have been started or are past the
// assignable part of their lifecycle.
func splittable(item *domain.WorkItem) error {
	if item.Started() || item.CompletedPieces > 0 {
		return fmt.Errorf("%w: bundle %s has completed pieces", domain.ErrInvariantViolation, item.ID)
	}
	if item.Status != domain.StatusPending && item.Status != domain.StatusReady {
		return fmt.Errorf("%w: bundle %s is %s", domain.ErrInvariantViolation, item.ID, item.Status)
	}
	return nil
}

// deriveBundle creates a fresh bundle inheriting the source's operation
// metadata with the given piece count. Dependencies copy over so readiness
// is recomputed per the same rules as the source.
func deriveBundle(src *domain.WorkItem, pieces int, minutesPerPiece float64) *domain.WorkItem {
	child := domain.NewWorkItem(id.Generate(), src.LotID, src.RollID, domain.OperationDefinition{
		ID:              src.OperationID,
		Sequence:        src.Sequence,
		Name:            src.OperationName,
		MachineType:     src.MachineType,
		SkillLevel:      src.SkillLevel,
		MinutesPerPiece: minutesPerPiece,
		Rate:            src.Rate,
		Dependencies:    src.Dependencies,
	}, pieces)
	// Children always start PENDING; the readiness re-scan promotes them.
	child.Status = domain.StatusPending
	return child
}

func (s *BundleService) inTx(ctx context.Context, fn func(storage.UnitOfWork) error) error {
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
