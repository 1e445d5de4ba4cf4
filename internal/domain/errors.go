package domain

import "errors"

var (
	// ErrInvalidParameter reports a strategy parameter set that failed
	// validation at construction time.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidConfiguration reports a run configuration or input series
	// that was rejected before any bar was processed.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientFunds reports an order whose cost exceeds available
	// cash. Reaching the ledger with such an order is a risk-manager defect
	// and aborts the run.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidOrder reports an order the ledger cannot apply, such as a
	// sell larger than the held quantity.
	ErrInvalidOrder = errors.New("invalid order")
)
