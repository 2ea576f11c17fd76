package errors

import stderrors "errors"

var (
	// ErrInvalidTransaction is returned when a transaction is submitted against
	// an escrow that is not in the status the transaction requires.
	ErrInvalidTransaction = stderrors.New("escrow: invalid transaction")
	ErrInvalidAmount      = stderrors.New("escrow: amount must be positive")

	ErrRecordNotFound = stderrors.New("registry: record not found")
	ErrRecordExists   = stderrors.New("registry: record already exists")
	ErrInvalidRecord  = stderrors.New("registry: invalid record")

	ErrUnknownTxType    = stderrors.New("tx: unknown transaction type")
	ErrMalformedPayload = stderrors.New("tx: malformed payload")
)
