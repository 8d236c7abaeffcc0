package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/observability"
	"github.com/example/stitchflow/internal/storage"
)

// OperationRef identifies the lot's current operation in a progress snapshot.
type OperationRef struct {
	OperationID domain.OperationID
	Name        string
	Sequence    int
	Status      domain.Status
}

// Bottleneck is the operation with the lowest completion ratio in a lot.
type Bottleneck struct {
	OperationID     domain.OperationID
	Name            string
	CompletionRatio float64
}

// LotProgress is a read-time projection of a lot's work item states. It is
// recomputed from the current snapshot on every call and must not be cached
// longer than one refresh interval.
type LotProgress struct {
	LotID            string
	Total            int
	Completed        int
	InProgress       int
	Pending          int
	Blocked          int
	OnHold           int
	Rejected         int
	ProgressPercent  int
	CurrentOperation *OperationRef
	// EstimatedCompletion is a coarse, non-resource-aware ETA: now plus the
	// summed estimates of all unfinished items. It assumes fully serial
	// execution and is not a scheduling guarantee.
	EstimatedCompletion *time.Time
	Bottleneck          *Bottleneck
}

// ComputeProgress folds a lot's work items into a progress snapshot.
// Superseded items (split/merge leftovers) are excluded from every count.
func ComputeProgress(lotID string, items []*domain.WorkItem, now time.Time) LotProgress {
	p := LotProgress{LotID: lotID}

	var remainingMinutes float64
	for _, item := range items {
		if item.Status == domain.StatusSuperseded {
			continue
		}
		p.Total++

		switch item.Status {
		case domain.StatusCompleted:
			p.Completed++
		case domain.StatusInProgress, domain.StatusAssigned, domain.StatusSelfAssigned:
			p.InProgress++
		case domain.StatusReady, domain.StatusPending:
			p.Pending++
		case domain.StatusBlocked:
			p.Blocked++
		case domain.StatusOnHold:
			p.OnHold++
		case domain.StatusRejected:
			p.Rejected++
		}

		if item.Status != domain.StatusCompleted && item.Status != domain.StatusRejected {
			remainingMinutes += item.EstimatedMinutes
		}
	}

	if p.Total > 0 {
		p.ProgressPercent = int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
	}

	p.CurrentOperation = currentOperation(items)

	if remainingMinutes > 0 {
		eta := now.Add(time.Duration(remainingMinutes * float64(time.Minute)))
		p.EstimatedCompletion = &eta
	}

	p.Bottleneck = findBottleneck(items)

	return p
}

// currentOperation picks the lowest-sequence active item, falling back to
// the lowest-sequence ready item.
func currentOperation(items []*domain.WorkItem) *OperationRef {
	var active, ready *domain.WorkItem
	for _, item := range items {
		switch {
		case item.Status.IsActive():
			if active == nil || item.Sequence < active.Sequence {
				active = item
			}
		case item.Status == domain.StatusReady:
			if ready == nil || item.Sequence < ready.Sequence {
				ready = item
			}
		}
	}

	pick := active
	if pick == nil {
		pick = ready
	}
	if pick == nil {
		return nil
	}
	return &OperationRef{
		OperationID: pick.OperationID,
		Name:        pick.OperationName,
		Sequence:    pick.Sequence,
		Status:      pick.Status,
	}
}

// findBottleneck returns the operation with the lowest piece-completion
// ratio across the lot's live items.
func findBottleneck(items []*domain.WorkItem) *Bottleneck {
	type agg struct {
		name      string
		pieces    int
		completed int
	}
	byOp := make(map[domain.OperationID]*agg)
	for _, item := range items {
		if item.Status == domain.StatusSuperseded || item.Status == domain.StatusRejected {
			continue
		}
		a := byOp[item.OperationID]
		if a == nil {
			a = &agg{name: item.OperationName}
			byOp[item.OperationID] = a
		}
		a.pieces += item.Pieces
		a.completed += item.CompletedPieces
	}

	var worst *Bottleneck
	for opID, a := range byOp {
		if a.pieces == 0 {
			continue
		}
		ratio := float64(a.completed) / float64(a.pieces)
		if worst == nil || ratio < worst.CompletionRatio {
			worst = &Bottleneck{OperationID: opID, Name: a.name, CompletionRatio: ratio}
		}
	}
	return worst
}

// ProgressService serves lot progress projections.
type ProgressService struct {
	storage storage.Storage
	metrics *observability.Metrics
}

// NewProgressService creates a ProgressService. metrics may be nil.
func NewProgressService(store storage.Storage, metrics *observability.Metrics) *ProgressService {
	return &ProgressService{storage: store, metrics: metrics}
}

// LotProgress computes the progress projection for a lot.
func (s *ProgressService) LotProgress(ctx context.Context, lotID string) (*LotProgress, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if _, err := uow.Lots().Get(ctx, lotID); err != nil {
		return nil, err
	}

	items, err := uow.WorkItems().ListByLot(ctx, lotID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}

	progress := ComputeProgress(lotID, items, time.Now().UTC())
	if s.metrics != nil {
		s.metrics.ProgressSnapshotComputed()
	}
	return &progress, nil
}
