package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisQueue(client, "test:")
}

func TestRedisQueueEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	job, err := q.Enqueue(ctx, Job{TenantID: "t1", Priority: 1})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	got, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, StatusRunning, got.Status)
	require.Equal(t, 1, got.Attempts)
}

func TestRedisQueuePriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	low, _ := q.Enqueue(ctx, Job{Priority: 0})
	time.Sleep(time.Millisecond)
	high, _ := q.Enqueue(ctx, Job{Priority: 9})

	first, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, high.ID, first.ID)

	second, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, low.ID, second.ID)
}

func TestRedisQueueMoveToDLQ(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	job, _ := q.Enqueue(ctx, Job{TenantID: "t1"})
	require.NoError(t, q.MoveToDLQ(ctx, job.ID, "bad payload"))

	entries, err := q.ListDLQ(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "bad payload", entries[0].Reason)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
}

func TestRedisQueueRequeueExpiredLeases(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

	job, _ := q.Enqueue(ctx, Job{})
	leased, err := q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, leased)

	time.Sleep(5 * time.Millisecond)

	n, err := q.RequeueExpiredLeases(ctx, []string{job.ID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	redelivered, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	require.Equal(t, job.ID, redelivered.ID)
}

func TestRedisQueueGetUnknownJob(t *testing.T) {
	q := newTestRedisQueue(t)
	_, err := q.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestRedisQueueStats(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t)

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
