package store

import (
	"errors"
	"fmt"

	"github.com/roach88/murelay/internal/ir"
)

// ErrNotFound is returned when a lookup or update misses.
var ErrNotFound = errors.New("not found")

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("conflict")

// ConflictError reports that SaveTx lost a race to a tx with equal or
// higher sequence number on the same process.
type ConflictError struct {
	ProcessID string
	Stored    ir.SequencedTx
	Attempted ir.SequencedTx
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: process %s already at sequence %d (tx %s), refused sequence %d (tx %s)",
		e.ProcessID, e.Stored.SequenceNumber, e.Stored.TxID, e.Attempted.SequenceNumber, e.Attempted.TxID)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflict returns true if err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// checkMonotonic decides whether attempted may replace stored.
// Returns (false, nil) when the write is an exact repeat.
func checkMonotonic(stored, attempted ir.SequencedTx) (write bool, err error) {
	switch {
	case stored.SequenceNumber < attempted.SequenceNumber:
		return true, nil
	case stored.SequenceNumber == attempted.SequenceNumber && stored.TxID == attempted.TxID:
		return false, nil
	default:
		return false, &ConflictError{ProcessID: attempted.ProcessID, Stored: stored, Attempted: attempted}
	}
}
