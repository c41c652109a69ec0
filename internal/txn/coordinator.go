package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twinindex/twinindex/pkg/types"
)

const (
	// DefaultHistoryLimit bounds how many retired transactions are kept
	// for introspection before the oldest are evicted.
	DefaultHistoryLimit = 100

	// DefaultStepTimeout bounds each forward or compensating operation.
	DefaultStepTimeout = 30 * time.Second
)

// Config tunes the transaction coordinator.
type Config struct {
	HistoryLimit int           // Retired transactions to retain (default: 100)
	StepTimeout  time.Duration // Deadline per step operation (default: 30s)
}

// Coordinator implements the saga protocol used by every multi-store
// write: begin, add steps, commit with in-order execution, and reverse-
// order best-effort compensation on failure. True two-phase commit is not
// available across heterogeneous stores, so any failure is followed by
// deterministic undo attempts instead.
type Coordinator struct {
	mu      sync.Mutex
	active  map[string]*Transaction
	history []*Transaction

	historyLimit int
	stepTimeout  time.Duration
	logger       *slog.Logger
}

// NewCoordinator creates a transaction coordinator.
func NewCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		active:       make(map[string]*Transaction),
		historyLimit: cfg.HistoryLimit,
		stepTimeout:  cfg.StepTimeout,
		logger:       logger,
	}
}

// Begin allocates a new pending transaction and registers it as active.
func (c *Coordinator) Begin() string {
	tx := &Transaction{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.active[tx.ID] = tx
	c.mu.Unlock()

	return tx.ID
}

// AddVectorStep appends a vector-store step to a pending transaction.
func (c *Coordinator) AddVectorStep(txID string, forward, compensate Operation) error {
	return c.addStep(txID, StepVector, forward, compensate)
}

// AddGraphStep appends a graph-store step to a pending transaction.
func (c *Coordinator) AddGraphStep(txID string, forward, compensate Operation) error {
	return c.addStep(txID, StepGraph, forward, compensate)
}

func (c *Coordinator) addStep(txID string, kind StepKind, forward, compensate Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.active[txID]
	if !ok {
		return fmt.Errorf("%w: unknown transaction %s", types.ErrInvalidTransactionState, txID)
	}
	if tx.Status != StatusPending {
		return fmt.Errorf("%w: cannot add step to %s transaction %s",
			types.ErrInvalidTransactionState, tx.Status, txID)
	}

	tx.Steps = append(tx.Steps, &Step{
		Kind:       kind,
		Forward:    forward,
		Compensate: compensate,
	})
	return nil
}

// Commit executes the transaction's steps in insertion order. On the
// first failure it compensates every previously executed step in reverse
// order, retires the transaction as failed, and returns an error wrapping
// ErrTransactionFailed. A nil return means every step executed.
func (c *Coordinator) Commit(ctx context.Context, txID string) error {
	tx, err := c.transition(txID, StatusExecuting)
	if err != nil {
		return err
	}

	for i, step := range tx.Steps {
		if err := c.runOp(ctx, step.Forward); err != nil {
			c.logger.Error("transaction step failed",
				"txn_id", tx.ID,
				"step", i,
				"kind", step.Kind,
				"op", step.Forward.Type,
				"error", err)
			c.compensate(ctx, tx)
			c.retire(tx, StatusFailed, fmt.Errorf("%w: step %d (%s): %v",
				types.ErrTransactionFailed, i, step.Forward.Type, err))
			return tx.Err
		}
		step.Executed = true
	}

	c.retire(tx, StatusCompleted, nil)
	return nil
}

// Rollback aborts a pending transaction without attempting its remaining
// steps, compensating anything that already executed.
func (c *Coordinator) Rollback(ctx context.Context, txID string) error {
	tx, err := c.transition(txID, StatusCompensating)
	if err != nil {
		return err
	}

	c.compensate(ctx, tx)
	c.retire(tx, StatusFailed, types.ErrTransactionFailed)
	return nil
}

// transition moves an active pending transaction into the given state.
func (c *Coordinator) transition(txID string, to Status) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.active[txID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction %s", types.ErrInvalidTransactionState, txID)
	}
	if tx.Status != StatusPending {
		return nil, fmt.Errorf("%w: transaction %s is %s",
			types.ErrInvalidTransactionState, txID, tx.Status)
	}
	tx.Status = to
	return tx, nil
}

// compensate runs undo operations for executed steps in strict reverse
// order. A compensation failure is logged and does not abort the rest of
// the rollback: an undo failure must not strand the whole compensation.
func (c *Coordinator) compensate(ctx context.Context, tx *Transaction) {
	tx.Status = StatusCompensating

	for i := len(tx.Steps) - 1; i >= 0; i-- {
		step := tx.Steps[i]
		if !step.Executed || step.Compensated {
			continue
		}
		if err := c.runOp(ctx, step.Compensate); err != nil {
			c.logger.Error("compensation failed",
				"txn_id", tx.ID,
				"step", i,
				"kind", step.Kind,
				"op", step.Compensate.Type,
				"error", fmt.Errorf("%w: %v", types.ErrCompensationFailed, err))
			continue
		}
		step.Compensated = true
	}
}

// runOp applies one operation under the per-step deadline.
func (c *Coordinator) runOp(ctx context.Context, op Operation) error {
	if op.Apply == nil {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	err := op.Apply(opCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", types.ErrOperationTimeout, op.Type)
	}
	return err
}

// retire moves a transaction out of the active set into bounded history.
func (c *Coordinator) retire(tx *Transaction, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx.Status = status
	tx.Err = err
	tx.CompletedAt = time.Now()

	delete(c.active, tx.ID)
	c.history = append(c.history, tx)
	if len(c.history) > c.historyLimit {
		c.history = c.history[len(c.history)-c.historyLimit:]
	}
}

// Active returns a snapshot of transactions that have not yet retired.
func (c *Coordinator) Active() []*Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Transaction, 0, len(c.active))
	for _, tx := range c.active {
		out = append(out, tx)
	}
	return out
}

// History returns up to limit of the most recently retired transactions,
// newest last.
func (c *Coordinator) History(limit int) []*Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.history) {
		limit = len(c.history)
	}
	out := make([]*Transaction, limit)
	copy(out, c.history[len(c.history)-limit:])
	return out
}
