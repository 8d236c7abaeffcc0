package domain

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a work item status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTemplate is returned when an operation template fails validation
	// (duplicate ids, unknown dependency references, or a dependency cycle).
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrIncompatibleAssignment is returned when an operator lacks the machine
	// capability required by a work item.
	ErrIncompatibleAssignment = errors.New("incompatible assignment")

	// ErrAlreadyAssigned is returned when a work item is claimed by another
	// operator between read and write.
	ErrAlreadyAssigned = errors.New("work item already assigned")

	// ErrAssignmentConflict is returned when a self-assignment is attempted
	// while another one is still pending approval.
	ErrAssignmentConflict = errors.New("assignment conflict")

	// ErrInvariantViolation is returned when a split or merge would break
	// piece-count conservation or touch started work.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConcurrentModify is returned when optimistic locking fails.
	ErrConcurrentModify = errors.New("concurrent modification")

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when trying to create a duplicate entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrPermissionDenied is returned when the acting role may not perform
	// the requested operation.
	ErrPermissionDenied = errors.New("permission denied")
)
