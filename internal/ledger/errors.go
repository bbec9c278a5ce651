package ledger

import "errors"

// Business-rule errors: expected, terminal for the order that raised them,
// and surfaced to callers as rejected receipts rather than propagated.
var (
	// ErrInsufficientBuyingPower is returned when an order's cost exceeds
	// the account's available buying power.
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
	// ErrPositionNotFound is returned when selling a contract that is not held.
	ErrPositionNotFound = errors.New("position not found")
	// ErrInsufficientQuantity is returned when selling more contracts than held.
	ErrInsufficientQuantity = errors.New("insufficient quantity")
)

// System-level errors: distinguished from business rejections so callers
// can decide whether a retry is sensible.
var (
	// ErrPersistenceFailure wraps snapshot write failures.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrCorruptSnapshot is returned when the persisted snapshot file exists
	// but cannot be parsed. It is never silently replaced with defaults.
	ErrCorruptSnapshot = errors.New("corrupt ledger snapshot")
)
