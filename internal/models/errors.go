package models

import "errors"

// Domain errors surfaced by the accounting engine. Callers branch on these
// with errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrInvalidAmount is returned when a transaction amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be a positive number of minor units")

	// ErrSelfTransaction is returned when payer and payee are the same user.
	ErrSelfTransaction = errors.New("payer and payee must be distinct users")

	// ErrAmountOverflow is returned when amount arithmetic leaves the int64 range.
	ErrAmountOverflow = errors.New("amount arithmetic overflow")

	// ErrLedgerOverflow is returned when applying a transaction would push a
	// ledger balance outside the representable range.
	ErrLedgerOverflow = errors.New("ledger balance overflow")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyAcknowledged marks a transaction that is already ACK.
	// Acknowledge treats a second ack as a no-op rather than returning this;
	// it exists for callers that need to distinguish the case.
	ErrAlreadyAcknowledged = errors.New("transaction already acknowledged")

	// ErrConcurrentUpdate is a transient conflict on a ledger row. The apply
	// is safe to retry.
	ErrConcurrentUpdate = errors.New("concurrent ledger update conflict")

	// ErrLedgerDrift means a stored ledger balance no longer matches the
	// balance recomputed from the transaction history. The entry should be
	// treated as corrupted until repaired.
	ErrLedgerDrift = errors.New("ledger drift detected")
)
