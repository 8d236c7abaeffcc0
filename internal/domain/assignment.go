package domain

import "time"

// AssignmentMethod records how an assignment came about.
type AssignmentMethod string

const (
	MethodManual AssignmentMethod = "manual"
	MethodBulk   AssignmentMethod = "bulk"
	MethodSelf   AssignmentMethod = "self"
)

// ApprovalState describes the approval status of an assignment.
type ApprovalState int

const (
	ApprovalUnknown         ApprovalState = 0
	ApprovalConfirmed       ApprovalState = 10 // Assigned by a supervisor, no approval needed
	ApprovalPendingApproval ApprovalState = 20 // Self-assigned, awaiting supervisor
	ApprovalApproved        ApprovalState = 30 // Self-assignment approved
	ApprovalRejected        ApprovalState = 40 // Self-assignment rejected, item released
)

func (s ApprovalState) String() string {
	switch s {
	case ApprovalConfirmed:
		return "CONFIRMED"
	case ApprovalPendingApproval:
		return "PENDING_APPROVAL"
	case ApprovalApproved:
		return "APPROVED"
	case ApprovalRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Assignment records a work item being claimed for an operator. At most one
// unreleased assignment may exist per work item at any time.
type Assignment struct {
	ID              string
	WorkItemID      string
	OperatorID      string
	AssignedBy      string
	AssignedAt      time.Time
	Method          AssignmentMethod
	ApprovalState   ApprovalState
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string
	Released        bool
	ReleasedAt      *time.Time
}

// NewAssignment creates an assignment record. Self-assignments start pending
// approval, everything else is confirmed immediately.
func NewAssignment(id, workItemID, operatorID, assignedBy string, method AssignmentMethod) *Assignment {
	approval := ApprovalConfirmed
	if method == MethodSelf {
		approval = ApprovalPendingApproval
	}
	return &Assignment{
		ID:            id,
		WorkItemID:    workItemID,
		OperatorID:    operatorID,
		AssignedBy:    assignedBy,
		AssignedAt:    time.Now().UTC(),
		Method:        method,
		ApprovalState: approval,
	}
}

// Approve confirms a pending self-assignment.
func (a *Assignment) Approve(approvedBy string) {
	now := time.Now().UTC()
	a.ApprovalState = ApprovalApproved
	a.ApprovedBy = approvedBy
	a.ApprovedAt = &now
}

// Reject rejects a pending self-assignment and releases it.
func (a *Assignment) Reject(rejectedBy, reason string) {
	now := time.Now().UTC()
	a.ApprovalState = ApprovalRejected
	a.RejectedBy = rejectedBy
	a.RejectedAt = &now
	a.RejectionReason = reason
	a.Released = true
	a.ReleasedAt = &now
}

// Release marks the assignment as no longer active (completion, unassign,
// or work item rejection).
func (a *Assignment) Release() {
	now := time.Now().UTC()
	a.Released = true
	a.ReleasedAt = &now
}
