package escrow

import (
	"fmt"

	coreerrors "escrowchain/core/errors"
)

// InvalidTransactionError reports a transaction submitted against an escrow
// whose status does not match the one the transaction requires.
type InvalidTransactionError struct {
	Op       string
	EscrowID string
	Actual   Status
	Expected Status
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("escrow %s: invalid transaction %s: status is %s, want %s", e.EscrowID, e.Op, e.Actual, e.Expected)
}

// Is makes the error match coreerrors.ErrInvalidTransaction.
func (e *InvalidTransactionError) Is(target error) bool {
	return target == coreerrors.ErrInvalidTransaction
}

func requireStatus(op string, esc *Escrow, expected Status) error {
	if esc.Status != expected {
		return &InvalidTransactionError{Op: op, EscrowID: esc.ID, Actual: esc.Status, Expected: expected}
	}
	return nil
}
