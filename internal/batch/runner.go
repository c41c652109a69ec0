package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/twinindex/twinindex/internal/memguard"
	"github.com/twinindex/twinindex/pkg/types"
)

// DefaultSliceTimeout bounds each slice submission to the stores.
const DefaultSliceTimeout = 60 * time.Second

// Metrics tracks one in-flight batch operation from start to finish.
type Metrics struct {
	OperationID    string
	Kind           string
	BatchSize      int
	ProcessedCount int
	SuccessCount   int
	ErrorCount     int
	StartedAt      time.Time
	FinishedAt     time.Time
	Errors         []string
}

// Duration returns the operation's wall-clock time.
func (m *Metrics) Duration() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}

// Options configures one batch operation.
type Options struct {
	ProjectID       string
	Kind            string        // Operation kind for metrics/logging (e.g. "store", "embed")
	BatchSize       int           // Explicit size; 0 asks the sizer for a recommendation
	SliceTimeout    time.Duration // Deadline per slice (default: 60s)
	ContinueOnError bool          // Keep processing later slices after a slice failure
}

// SliceFunc processes one partition of the work list.
type SliceFunc[T any] func(ctx context.Context, slice []T) error

// Executor owns the shared levers every batch write goes through: the
// adaptive sizer and the memory guard.
type Executor struct {
	sizer  *Sizer
	guard  *memguard.Guard
	logger *slog.Logger
}

// NewExecutor creates a batch executor.
func NewExecutor(sizer *Sizer, guard *memguard.Guard, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sizer: sizer, guard: guard, logger: logger}
}

// Run drives the work list through the batch execution contract: ask the
// sizer for a slice size, partition, gate every slice on the memory
// guard, execute each slice under a deadline, and feed measured
// throughput back to the sizer. Slice submission is sequential so that
// throughput measurement stays meaningful and store load stays bounded.
//
// A memory veto fails the operation with ErrInsufficientMemory; slices
// already processed stay processed. Slice failures either abort the
// operation or, under ContinueOnError, accumulate into the returned
// metrics while later slices proceed.
func Run[T any](ctx context.Context, ex *Executor, opts Options, items []T, fn SliceFunc[T]) (*Metrics, error) {
	size := opts.BatchSize
	if size <= 0 {
		size = ex.sizer.Recommend(opts.ProjectID, 0)
	}
	timeout := opts.SliceTimeout
	if timeout <= 0 {
		timeout = DefaultSliceTimeout
	}

	metrics := &Metrics{
		OperationID: uuid.NewString(),
		Kind:        opts.Kind,
		BatchSize:   size,
		StartedAt:   time.Now(),
	}
	defer func() { metrics.FinishedAt = time.Now() }()

	var firstErr error
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		slice := items[start:end]

		if err := ex.guard.Check(); err != nil {
			ex.logger.Warn("batch aborted by memory guard",
				"operation_id", metrics.OperationID,
				"kind", opts.Kind,
				"project_id", opts.ProjectID,
				"processed", metrics.ProcessedCount,
				"remaining", len(items)-start)
			metrics.Errors = append(metrics.Errors, err.Error())
			return metrics, err
		}

		elapsed, err := runSlice(ctx, timeout, slice, fn)
		metrics.ProcessedCount += len(slice)

		if err != nil {
			metrics.ErrorCount += len(slice)
			metrics.Errors = append(metrics.Errors, err.Error())
			ex.logger.Error("batch slice failed",
				"operation_id", metrics.OperationID,
				"kind", opts.Kind,
				"project_id", opts.ProjectID,
				"slice_start", start,
				"slice_len", len(slice),
				"error", err)
			if !opts.ContinueOnError {
				return metrics, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		metrics.SuccessCount += len(slice)
		if seconds := elapsed.Seconds(); seconds > 0 {
			ex.sizer.Record(opts.ProjectID, size, float64(len(slice))/seconds)
		}
	}

	return metrics, firstErr
}

// runSlice executes one slice under its deadline.
func runSlice[T any](ctx context.Context, timeout time.Duration, slice []T, fn SliceFunc[T]) (time.Duration, error) {
	sliceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(sliceCtx, slice)
	elapsed := time.Since(start)

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return elapsed, fmt.Errorf("%w: slice of %d items after %s",
			types.ErrOperationTimeout, len(slice), elapsed)
	}
	return elapsed, err
}
