package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perstarkse/minnego/internal/queue"
	"github.com/perstarkse/minnego/internal/queue/memqueue"
)

func newPayload() queue.IngestionPayload {
	return queue.IngestionPayload{Kind: queue.PayloadText, Text: "hello", UserID: "u1"}
}

// TestClaimNextReady_NoDoubleClaim is the claim-race test spec 4.C's
// property 2 asks for: when many workers race to claim a single ready
// task, exactly one of them wins.
func TestClaimNextReady_NoDoubleClaim(t *testing.T) {
	store := memqueue.New()
	ctx := context.Background()
	task, err := store.CreateAndAdd(ctx, newPayload(), "u1")
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	claims := make(chan string, workers)
	now := time.Now().UTC()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			claimed, err := store.ClaimNextReady(ctx, workerID, now, 5*time.Minute)
			assert.NoError(t, err)
			if claimed != nil {
				claims <- claimed.ID
			}
		}(uuidLike(i))
	}
	wg.Wait()
	close(claims)

	var winners []string
	for id := range claims {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one worker should claim the task")
	assert.Equal(t, task.ID, winners[0])

	got, err := store.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskReserved, got.State)
	assert.Equal(t, uint32(1), got.Attempts)
}

// TestClaimNextReady_ReclaimsExpiredLease is the lease-reclamation test
// spec 4.C's property 3 asks for: a task whose lease has expired
// becomes claimable again, by a different worker, without ever passing
// through Failed.
func TestClaimNextReady_ReclaimsExpiredLease(t *testing.T) {
	store := memqueue.New()
	ctx := context.Background()
	task, err := store.CreateAndAdd(ctx, newPayload(), "u1")
	require.NoError(t, err)

	t0 := time.Now().UTC()
	lease := 5 * time.Second

	first, err := store.ClaimNextReady(ctx, "worker-a", t0, lease)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, task.ID, first.ID)

	// Still within the lease: no one else can claim it.
	stillLocked, err := store.ClaimNextReady(ctx, "worker-b", t0.Add(3*time.Second), lease)
	require.NoError(t, err)
	assert.Nil(t, stillLocked)

	// Lease has expired: a new worker reclaims the same task.
	reclaimed, err := store.ClaimNextReady(ctx, "worker-b", t0.Add(6*time.Second), lease)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, task.ID, reclaimed.ID)

	got, err := store.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WorkerID)
	assert.Equal(t, "worker-b", *got.WorkerID)
}

// TestRetrySchedule_WaitsThenBecomesReadyThenDeadLetters is the
// retry-schedule test spec 4.C's property 4 asks for: a failed task
// stays un-claimable until its retry delay elapses, and once its
// attempts are exhausted it dead-letters instead of becoming ready
// again.
func TestRetrySchedule_WaitsThenBecomesReadyThenDeadLetters(t *testing.T) {
	store := memqueue.New()
	ctx := context.Background()
	task, err := store.CreateAndAdd(ctx, newPayload(), "u1")
	require.NoError(t, err)
	require.Equal(t, uint32(3), task.MaxAttempts)

	now := time.Now().UTC()
	lease := time.Minute

	reserved, err := store.ClaimNextReady(ctx, "worker-a", now, lease)
	require.NoError(t, err)
	require.NotNil(t, reserved)
	require.Equal(t, uint32(1), reserved.Attempts)

	processing, err := store.MarkProcessing(ctx, *reserved)
	require.NoError(t, err)

	retryDelay := 30 * time.Second
	failed, err := store.MarkFailed(ctx, processing, queue.ErrorInfo{Code: "boom", Message: "failed"}, retryDelay)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskFailed, failed.State)

	// Before the retry delay elapses, the task isn't claimable.
	tooSoon, err := store.ClaimNextReady(ctx, "worker-b", now.Add(retryDelay-time.Second), lease)
	require.NoError(t, err)
	assert.Nil(t, tooSoon)

	// Once it elapses, it's claimable again and attempts climbs to 2.
	retried, err := store.ClaimNextReady(ctx, "worker-b", now.Add(retryDelay+time.Second), lease)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, uint32(2), retried.Attempts)

	// Drive it to exhaustion: process, fail, reclaim, process, fail.
	processing2, err := store.MarkProcessing(ctx, *retried)
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, processing2, queue.ErrorInfo{Code: "boom", Message: "failed again"}, retryDelay)
	require.NoError(t, err)

	exhausted, err := store.ClaimNextReady(ctx, "worker-c", now.Add(2*retryDelay+2*time.Second), lease)
	require.NoError(t, err)
	require.NotNil(t, exhausted)
	assert.Equal(t, uint32(3), exhausted.Attempts)
	assert.False(t, exhausted.CanRetry())

	processing3, err := store.MarkProcessing(ctx, *exhausted)
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, processing3, queue.ErrorInfo{Code: "boom", Message: "out of attempts"}, 0)
	require.NoError(t, err)

	gotFailed, err := store.GetByID(ctx, task.ID)
	require.NoError(t, err)
	deadLettered, err := store.MarkDeadLetter(ctx, gotFailed, queue.ErrorInfo{Code: "boom", Message: "out of attempts"})
	require.NoError(t, err)
	assert.Equal(t, queue.TaskDeadLetter, deadLettered.State)
	assert.True(t, deadLettered.State.IsTerminal())

	// DeadLetter is terminal: it never becomes claimable again.
	never, err := store.ClaimNextReady(ctx, "worker-d", now.Add(365*24*time.Hour), lease)
	require.NoError(t, err)
	assert.Nil(t, never)
}

func uuidLike(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for j := range b {
		b[j] = letters[(i*7+j*13)%len(letters)]
	}
	return "worker-" + string(b)
}
