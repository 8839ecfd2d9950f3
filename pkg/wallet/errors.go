package wallet

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the wallet id does not exist.
var ErrNotFound = errors.New("wallet not found")

// ErrConflict indicates an optimistic-concurrency conflict; the operation
// may be retried.
var ErrConflict = errors.New("wallet version conflict")

// ErrReservationNotFound indicates an unknown or already-settled handle.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrCycle indicates a parent assignment that would create a cycle.
var ErrCycle = errors.New("wallet parent assignment would create a cycle")

// InsufficientError reports which wallet in the chain lacked room.
type InsufficientError struct {
	WalletID  string
	Requested float64
	Available float64
}

// Error implements the error interface.
func (e *InsufficientError) Error() string {
	return fmt.Sprintf("wallet %s exhausted: requested %.6f, available %.6f",
		e.WalletID, e.Requested, e.Available)
}

// IsInsufficient reports whether err is an InsufficientError.
func IsInsufficient(err error) bool {
	var ie *InsufficientError
	return errors.As(err, &ie)
}
