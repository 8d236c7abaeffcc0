package domain

import (
	"fmt"
	"time"
)

// Status describes the current state of a WorkItem.
type Status int

const (
	StatusUnknown      Status = 0
	StatusPending      Status = 10 // Waiting on upstream operations
	StatusReady        Status = 20 // Dependencies satisfied, assignable
	StatusAssigned     Status = 30 // Claimed for an operator
	StatusSelfAssigned Status = 35 // Claimed by the operator themself, awaiting approval
	StatusInProgress   Status = 40 // Operator working
	StatusCompleted    Status = 50 // All pieces done
	StatusBlocked      Status = 60 // Externally signalled hold (quality), reversible
	StatusOnHold       Status = 70 // Supervisor pause, reversible
	StatusRejected     Status = 80 // Terminal failure path
	StatusSuperseded   Status = 90 // Retired by a split or merge
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusReady:
		return "READY"
	case StatusAssigned:
		return "ASSIGNED"
	case StatusSelfAssigned:
		return "SELF_ASSIGNED"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusBlocked:
		return "BLOCKED"
	case StatusOnHold:
		return "ON_HOLD"
	case StatusRejected:
		return "REJECTED"
	case StatusSuperseded:
		return "SUPERSEDED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus converts the wire representation back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "PENDING":
		return StatusPending, nil
	case "READY":
		return StatusReady, nil
	case "ASSIGNED":
		return StatusAssigned, nil
	case "SELF_ASSIGNED":
		return StatusSelfAssigned, nil
	case "IN_PROGRESS":
		return StatusInProgress, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "BLOCKED":
		return StatusBlocked, nil
	case "ON_HOLD":
		return StatusOnHold, nil
	case "REJECTED":
		return StatusRejected, nil
	case "SUPERSEDED":
		return StatusSuperseded, nil
	default:
		return StatusUnknown, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
}

// IsTerminal returns true if no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusSuperseded
}

// IsActive returns true if the item counts as in-flight for progress purposes.
func (s Status) IsActive() bool {
	return s == StatusAssigned || s == StatusSelfAssigned || s == StatusInProgress
}

// ValidStatusTransition checks if a status transition is allowed.
// The table is closed: anything not listed here is rejected.
func ValidStatusTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusReady || to == StatusSuperseded || to == StatusRejected
	case StatusReady:
		return to == StatusAssigned || to == StatusSelfAssigned ||
			to == StatusBlocked || to == StatusOnHold ||
			to == StatusRejected || to == StatusSuperseded
	case StatusAssigned:
		return to == StatusInProgress || to == StatusReady || to == StatusRejected
	case StatusSelfAssigned:
		return to == StatusAssigned || to == StatusReady || to == StatusRejected
	case StatusInProgress:
		return to == StatusCompleted || to == StatusBlocked || to == StatusRejected
	case StatusBlocked:
		return to == StatusReady || to == StatusOnHold
	case StatusOnHold:
		return to == StatusReady
	case StatusCompleted, StatusRejected, StatusSuperseded:
		return false // Terminal states
	default:
		return to == StatusPending || to == StatusReady // Allow setting initial state
	}
}

// WorkItem is one operation-instance to be performed on a lot (or one of its
// rolls). It is the unit of assignment and progress tracking.
type WorkItem struct {
	ID                 string
	LotID              string
	RollID             string // empty unless the lot was expanded per roll
	OperationID        OperationID
	OperationName      string
	Sequence           int
	Dependencies       []OperationID
	MachineType        MachineType
	SkillLevel         int
	Pieces             int
	CompletedPieces    int
	Status             Status
	AssignedOperatorID string
	AssignedBy         string
	Rate               float64
	EstimatedMinutes   float64
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
	Version            int64
}

// NewWorkItem creates a work item for an operation instance. Items with an
// empty dependency set start READY, everything else starts PENDING.
func NewWorkItem(id, lotID, rollID string, op OperationDefinition, pieces int) *WorkItem {
	now := time.Now().UTC()
	status := StatusPending
	if len(op.Dependencies) == 0 {
		status = StatusReady
	}
	return &WorkItem{
		ID:               id,
		LotID:            lotID,
		RollID:           rollID,
		OperationID:      op.ID,
		OperationName:    op.Name,
		Sequence:         op.Sequence,
		Dependencies:     append([]OperationID(nil), op.Dependencies...),
		MachineType:      op.MachineType,
		SkillLevel:       op.SkillLevel,
		Pieces:           pieces,
		Status:           status,
		Rate:             op.Rate,
		EstimatedMinutes: op.MinutesPerPiece * float64(pieces),
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
}

// SetStatus transitions the work item to a new status. A rejected transition
// is a no-op: the item is left untouched and the error names both states so
// stale callers can reconcile.
func (w *WorkItem) SetStatus(to Status) error {
	if !ValidStatusTransition(w.Status, to) {
		return fmt.Errorf("%w: cannot transition work item %s from %s to %s",
			ErrInvalidTransition, w.ID, w.Status, to)
	}
	w.Status = to
	w.UpdatedAt = time.Now().UTC()
	// Note: Version is managed by the storage layer, not here
	return nil
}

// Assign claims the item for an operator. When the assigner is the operator
// themself the item enters SELF_ASSIGNED and needs supervisor approval.
func (w *WorkItem) Assign(operatorID, assignedBy string) error {
	target := StatusAssigned
	if operatorID == assignedBy {
		target = StatusSelfAssigned
	}
	if err := w.SetStatus(target); err != nil {
		return err
	}
	w.AssignedOperatorID = operatorID
	w.AssignedBy = assignedBy
	return nil
}

// Unassign returns the item to the ready pool and clears operator fields.
func (w *WorkItem) Unassign() error {
	if err := w.SetStatus(StatusReady); err != nil {
		return err
	}
	w.AssignedOperatorID = ""
	w.AssignedBy = ""
	return nil
}

// Start records the operator beginning work.
func (w *WorkItem) Start() error {
	if err := w.SetStatus(StatusInProgress); err != nil {
		return err
	}
	now := time.Now().UTC()
	w.StartedAt = &now
	return nil
}

// RecordProgress sets the completed piece count, bounded by the item size.
func (w *WorkItem) RecordProgress(completed int) error {
	if w.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot record progress on work item %s in %s",
			ErrInvalidTransition, w.ID, w.Status)
	}
	if completed < 0 || completed > w.Pieces {
		return fmt.Errorf("%w: completed pieces %d out of range [0,%d]",
			ErrInvalidArgument, completed, w.Pieces)
	}
	w.CompletedPieces = completed
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete finishes the item. All pieces must be accounted for first.
func (w *WorkItem) Complete() error {
	if w.Status == StatusInProgress && w.CompletedPieces != w.Pieces {
		return fmt.Errorf("%w: work item %s has %d of %d pieces completed",
			ErrInvariantViolation, w.ID, w.CompletedPieces, w.Pieces)
	}
	if err := w.SetStatus(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	w.CompletedAt = &now
	return nil
}

// Started returns true once any pieces have been worked. Split and merge are
// disallowed past this point.
func (w *WorkItem) Started() bool {
	return w.CompletedPieces > 0 || w.StartedAt != nil
}

// DependsOn returns true if the item lists the given operation as a dependency.
func (w *WorkItem) DependsOn(op OperationID) bool {
	for _, dep := range w.Dependencies {
		if dep == op {
			return true
		}
	}
	return false
}
