package execution

import "errors"

// Sentinel errors for the execution engine's state machine and
// precondition checks.
var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderTerminal      = errors.New("order is in a terminal state")
	ErrQuantityNotPositive = errors.New("quantity must be positive")
	ErrNotCancelable      = errors.New("order cannot be canceled from its current status")
)
