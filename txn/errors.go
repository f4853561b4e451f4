package txn

import "errors"

var (
	// ErrTransactionNotFound indicates an operation referenced a transaction
	// ID the coordinator is not tracking.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionState indicates an operation attempted on a transaction
	// whose status does not allow it.
	ErrTransactionState = errors.New("illegal transaction state")

	// ErrParentNotActive indicates a nested transaction was requested under a
	// parent that is not pending or active.
	ErrParentNotActive = errors.New("parent transaction is not active")

	// ErrSavepointNotFound indicates a savepoint name with no matching record
	// in the transaction.
	ErrSavepointNotFound = errors.New("savepoint not found")

	// ErrUnknownOperation indicates an operation with an unrecognized type.
	ErrUnknownOperation = errors.New("unknown operation type")
)
