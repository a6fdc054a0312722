package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueueEnqueueDequeueOrdering(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	low, err := q.Enqueue(ctx, Job{TenantID: "t1", Priority: 0})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	high, err := q.Enqueue(ctx, Job{TenantID: "t1", Priority: 5})
	require.NoError(t, err)

	first, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, high.ID, first.ID, "higher priority job must dequeue first")

	second, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, low.ID, second.ID)
}

func TestMemoryQueueFIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	a, _ := q.Enqueue(ctx, Job{Priority: 1})
	time.Sleep(time.Millisecond)
	b, _ := q.Enqueue(ctx, Job{Priority: 1})

	first, _ := q.Dequeue(ctx, time.Minute)
	require.Equal(t, a.ID, first.ID)
	second, _ := q.Dequeue(ctx, time.Minute)
	require.Equal(t, b.ID, second.ID)
}

func TestMemoryQueueEmptyDequeueReturnsNil(t *testing.T) {
	q := NewMemoryQueue()
	j, err := q.Dequeue(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Nil(t, j)
}

func TestMemoryQueueLeaseExpiryRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	job, _ := q.Enqueue(ctx, Job{Priority: 0})

	leased, err := q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, job.ID, leased.ID)
	require.Equal(t, 1, leased.Attempts)

	time.Sleep(5 * time.Millisecond)

	redelivered, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	require.Equal(t, job.ID, redelivered.ID)
	require.Equal(t, 2, redelivered.Attempts, "attempts must increase monotonically on redelivery")
}

func TestMemoryQueueExtendVisibilityPreventsRedelivery(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	job, _ := q.Enqueue(ctx, Job{})

	_, err := q.Dequeue(ctx, 5*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, q.ExtendVisibility(ctx, job.ID, time.Minute))

	time.Sleep(10 * time.Millisecond)
	redelivered, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.Nil(t, redelivered, "extended lease must not have expired yet")
}

func TestMemoryQueueUpdateStatusAndDLQ(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	job, _ := q.Enqueue(ctx, Job{TenantID: "t1"})

	require.NoError(t, q.UpdateStatus(ctx, job.ID, StatusRetry, "transient failure"))
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRetry, got.Status)
	require.Equal(t, "transient failure", got.LastError)

	require.NoError(t, q.MoveToDLQ(ctx, job.ID, "exceeded max retries"))

	dlq, err := q.ListDLQ(ctx)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	require.Equal(t, "exceeded max retries", dlq[0].Reason)

	got, err = q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
}

func TestMemoryQueueStats(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	_, err := q.Enqueue(ctx, Job{TenantID: "t1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Job{TenantID: "t1"})
	require.NoError(t, err)

	leased, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.Equal(t, 1, stats.RunningCount)

	require.NoError(t, q.UpdateStatus(ctx, leased.ID, StatusSuccess, ""))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.RunningCount)
}

func TestMemoryQueueUnknownJobErrors(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	_, err := q.Get(ctx, "missing")
	require.Error(t, err)

	err = q.ExtendVisibility(ctx, "missing", time.Minute)
	require.Error(t, err)
}
