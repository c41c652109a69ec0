package txn

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinindex/twinindex/pkg/types"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(Config{}, nil)
}

// recordingOp returns an operation that appends its label to calls.
func recordingOp(t OpType, calls *[]string, label string, err error) Operation {
	return Operation{
		Type: t,
		Apply: func(ctx context.Context) error {
			*calls = append(*calls, label)
			return err
		},
	}
}

func TestCommitExecutesStepsInOrder(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	var calls []string
	id := c.Begin()
	require.NoError(t, c.AddVectorStep(id,
		recordingOp(OpStoreChunks, &calls, "vector", nil),
		recordingOp(OpDeleteChunks, &calls, "vector-undo", nil)))
	require.NoError(t, c.AddGraphStep(id,
		recordingOp(OpStoreChunks, &calls, "graph", nil),
		recordingOp(OpDeleteNodes, &calls, "graph-undo", nil)))

	require.NoError(t, c.Commit(ctx, id))
	assert.Equal(t, []string{"vector", "graph"}, calls)

	history := c.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, StatusCompleted, history[0].Status)
	assert.Empty(t, c.Active())
}

func TestCommitCompensatesInReverseOrder(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	var calls []string
	id := c.Begin()
	require.NoError(t, c.AddVectorStep(id,
		recordingOp(OpStoreChunks, &calls, "s1", nil),
		recordingOp(OpDeleteChunks, &calls, "u1", nil)))
	require.NoError(t, c.AddGraphStep(id,
		recordingOp(OpStoreChunks, &calls, "s2", nil),
		recordingOp(OpDeleteNodes, &calls, "u2", nil)))
	require.NoError(t, c.AddVectorStep(id,
		recordingOp(OpStoreChunks, &calls, "s3", errors.New("store down")),
		recordingOp(OpDeleteChunks, &calls, "u3", nil)))

	err := c.Commit(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransactionFailed)

	// The failed step never executed, so its undo never runs. Undos for
	// executed steps run in reverse order.
	assert.Equal(t, []string{"s1", "s2", "s3", "u2", "u1"}, calls)

	history := c.History(1)
	require.Len(t, history, 1)
	tx := history[0]
	assert.Equal(t, StatusFailed, tx.Status)
	assert.True(t, tx.Steps[0].Compensated)
	assert.True(t, tx.Steps[1].Compensated)
	assert.False(t, tx.Steps[2].Executed)
	assert.False(t, tx.Steps[2].Compensated)
}

func TestCompensationFailureDoesNotAbortRemaining(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	var calls []string
	id := c.Begin()
	require.NoError(t, c.AddVectorStep(id,
		recordingOp(OpStoreChunks, &calls, "s1", nil),
		recordingOp(OpDeleteChunks, &calls, "u1", nil)))
	require.NoError(t, c.AddGraphStep(id,
		recordingOp(OpStoreChunks, &calls, "s2", nil),
		recordingOp(OpDeleteNodes, &calls, "u2", errors.New("undo down"))))
	require.NoError(t, c.AddGraphStep(id,
		recordingOp(OpStoreChunks, &calls, "s3", errors.New("boom")),
		recordingOp(OpDeleteNodes, &calls, "u3", nil)))

	err := c.Commit(ctx, id)
	assert.ErrorIs(t, err, types.ErrTransactionFailed)

	// u2 fails but u1 still runs.
	assert.Equal(t, []string{"s1", "s2", "s3", "u2", "u1"}, calls)

	tx := c.History(1)[0]
	assert.Equal(t, StatusFailed, tx.Status)
	assert.False(t, tx.Steps[1].Compensated)
	assert.True(t, tx.Steps[0].Compensated)
}

func TestAddStepAfterCommitFails(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	var calls []string
	id := c.Begin()
	require.NoError(t, c.AddVectorStep(id,
		recordingOp(OpStoreChunks, &calls, "s1", nil),
		recordingOp(OpDeleteChunks, &calls, "u1", nil)))
	require.NoError(t, c.Commit(ctx, id))

	err := c.AddVectorStep(id,
		recordingOp(OpStoreChunks, &calls, "s2", nil),
		recordingOp(OpDeleteChunks, &calls, "u2", nil))
	assert.ErrorIs(t, err, types.ErrInvalidTransactionState)
}

func TestDoubleCommitFails(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	id := c.Begin()
	require.NoError(t, c.Commit(ctx, id))

	err := c.Commit(ctx, id)
	assert.ErrorIs(t, err, types.ErrInvalidTransactionState)
}

func TestRollbackBeforeCommit(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	var calls []string
	id := c.Begin()
	require.NoError(t, c.AddVectorStep(id,
		recordingOp(OpStoreChunks, &calls, "s1", nil),
		recordingOp(OpDeleteChunks, &calls, "u1", nil)))

	require.NoError(t, c.Rollback(ctx, id))

	// Nothing executed, so nothing is compensated.
	assert.Empty(t, calls)
	assert.Equal(t, StatusFailed, c.History(1)[0].Status)

	err := c.Commit(ctx, id)
	assert.ErrorIs(t, err, types.ErrInvalidTransactionState)
}

func TestStepTimeout(t *testing.T) {
	c := NewCoordinator(Config{StepTimeout: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	id := c.Begin()
	require.NoError(t, c.AddVectorStep(id,
		Operation{Type: OpStoreChunks, Apply: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		Operation{Type: OpDeleteChunks}))

	err := c.Commit(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransactionFailed)
}

func TestHistoryIsBounded(t *testing.T) {
	c := NewCoordinator(Config{HistoryLimit: 5}, nil)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		id := c.Begin()
		require.NoError(t, c.Commit(ctx, id))
	}

	assert.Len(t, c.History(0), 5)
	assert.Len(t, c.History(3), 3)
}

func TestActiveTracksPendingTransactions(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = c.Begin()
	}
	assert.Len(t, c.Active(), 3)

	for _, id := range ids {
		require.NoError(t, c.Commit(ctx, id))
	}
	assert.Empty(t, c.Active())
}

func TestConcurrentTransactionsAreIndependent(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			id := c.Begin()
			op := Operation{Type: OpStoreChunks, Apply: func(ctx context.Context) error {
				if n%2 == 1 {
					return fmt.Errorf("worker %d", n)
				}
				return nil
			}}
			if err := c.AddVectorStep(id, op, Operation{Type: OpDeleteChunks}); err != nil {
				done <- err
				return
			}
			done <- c.Commit(ctx, id)
		}(i)
	}

	failures := 0
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			failures++
		}
	}
	assert.Equal(t, 4, failures)
	assert.Len(t, c.History(0), 8)
}
