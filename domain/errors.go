package domain

import "errors"

// Error taxonomy for mutations. Handlers map these onto HTTP statuses;
// everything else is treated as an internal failure.
var (
	// ErrValidation marks bad input rejected before any transaction opens.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks an actor who is not a member of the target board.
	ErrForbidden = errors.New("actor is not a board member")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflictExhausted marks a move that could not be placed even after
	// a full sibling reindex. The transaction is rolled back entirely.
	ErrConflictExhausted = errors.New("ordering conflict could not be resolved")
)
