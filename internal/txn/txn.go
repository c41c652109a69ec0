package txn

import (
	"context"
	"time"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending      Status = "pending"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
)

// StepKind identifies which store a step targets.
type StepKind string

const (
	StepVector StepKind = "vector"
	StepGraph  StepKind = "graph"
)

// OpType is the closed set of operation types a step may carry, for both
// forward and compensating actions.
type OpType string

const (
	OpStoreChunks   OpType = "store_chunks"
	OpDeleteChunks  OpType = "delete_chunks"
	OpDeleteNodes   OpType = "delete_nodes"
	OpRestoreChunks OpType = "restore_chunks"
	OpRestoreNodes  OpType = "restore_nodes"
)

// Operation is one store-specific action: a type tag plus the closure that
// performs it against the underlying store.
type Operation struct {
	Type  OpType
	Apply func(ctx context.Context) error
}

// Step pairs a forward operation with its undo. Executed and Compensated
// are mutated only by the coordinator.
type Step struct {
	Kind        StepKind
	Forward     Operation
	Compensate  Operation
	Executed    bool
	Compensated bool
}

// Transaction is one unit of cross-store work. Steps execute in insertion
// order; compensation runs in strict reverse order over only the steps
// that actually executed.
type Transaction struct {
	ID          string
	Steps       []*Step
	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time
	Err         error
}
