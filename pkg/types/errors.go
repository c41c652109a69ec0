package types

import "errors"

// Coordination-layer error taxonomy. Environmental failures inside a
// transaction are summarized into result objects; these sentinels cover
// the cases callers branch on with errors.Is.
var (
	// ErrInvalidTransactionState is returned when a step is added or a
	// commit/rollback is requested out of order. This indicates a caller
	// bug, not an environmental failure.
	ErrInvalidTransactionState = errors.New("invalid transaction state")

	// ErrTransactionFailed indicates a forward operation failed and
	// compensation has already been attempted.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrCompensationFailed indicates a compensating operation failed.
	// It is logged and never aborts the remaining compensations.
	ErrCompensationFailed = errors.New("compensation failed")

	// ErrInsufficientMemory is the memory guard's veto before a batch
	// slice. The operation aborts without touching the stores for that
	// slice; callers may retry later.
	ErrInsufficientMemory = errors.New("insufficient memory")

	// ErrOperationTimeout indicates a slice or step exceeded its deadline.
	ErrOperationTimeout = errors.New("operation timeout")

	// ErrResourceInitFailed indicates project-scope binding on the vector
	// or graph store failed.
	ErrResourceInitFailed = errors.New("resource initialization failed")

	// ErrProjectNotFound is returned when an operation references a
	// project that was never initialized.
	ErrProjectNotFound = errors.New("project not found")
)
