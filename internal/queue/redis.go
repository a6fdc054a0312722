package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue over a sorted set of pending job ids
// (scored by priority then enqueue time so ZRANGE yields the right
// order), a hash per job for its full state, and a list for the DLQ.
type RedisQueue struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisQueue wraps an existing client. keyPrefix namespaces all keys
// (e.g. "djpcore:queue:") so multiple queues can share one Redis instance.
func NewRedisQueue(client *redis.Client, keyPrefix string) *RedisQueue {
	if keyPrefix == "" {
		keyPrefix = "djpcore:queue:"
	}
	return &RedisQueue{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (q *RedisQueue) pendingKey() string      { return q.keyPrefix + "pending" }
func (q *RedisQueue) jobKey(id string) string { return q.keyPrefix + "job:" + id }
func (q *RedisQueue) dlqKey() string          { return q.keyPrefix + "dlq" }
func (q *RedisQueue) runningKey() string      { return q.keyPrefix + "running" }

// score packs (-priority, enqueued_at_unix_nanos) so ZRANGE ascending
// yields highest priority first, then oldest first within a priority tier.
func score(priority int, enqueuedAt time.Time) float64 {
	return float64(-priority)*1e15 + float64(enqueuedAt.UnixNano())/1e6
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusPending
	job.EnqueuedAt = q.now().UTC()
	job.LeaseUntil = time.Time{}

	data, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("queue: marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), "data", data)
	pipe.ZAdd(ctx, q.pendingKey(), redis.Z{Score: score(job.Priority, job.EnqueuedAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return Job{}, fmt.Errorf("queue: enqueue %s: %w", job.ID, err)
	}
	return job, nil
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.HGet(ctx, q.jobKey(id), "data").Result()
	if err == redis.Nil {
		return nil, &ErrNotFound{JobID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("queue: load %s: %w", id, err)
	}
	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("queue: decode %s: %w", id, err)
	}
	return &j, nil
}

func (q *RedisQueue) saveJob(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("queue: marshal %s: %w", j.ID, err)
	}
	return q.client.HSet(ctx, q.jobKey(j.ID), "data", data).Err()
}

// Dequeue pops the front of the pending sorted set, stamping a lease.
// Redelivery of an expired lease is handled by a periodic sweep
// (RequeueExpiredLeases) rather than inline here, since ZRANGE alone
// cannot see "running" jobs outside the pending set.
func (q *RedisQueue) Dequeue(ctx context.Context, visibility time.Duration) (*Job, error) {
	ids, err := q.client.ZRange(ctx, q.pendingKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]

	removed, err := q.client.ZRem(ctx, q.pendingKey(), id).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue remove %s: %w", id, err)
	}
	if removed == 0 {
		// Raced with another worker; nothing to return this round.
		return nil, nil
	}

	j, err := q.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	j.Status = StatusRunning
	j.Attempts++
	j.LeaseUntil = q.now().Add(visibility)
	if err := q.saveJob(ctx, j); err != nil {
		return nil, err
	}
	if err := q.client.SAdd(ctx, q.runningKey(), j.ID).Err(); err != nil {
		return nil, fmt.Errorf("queue: mark running %s: %w", j.ID, err)
	}
	return j, nil
}

// RequeueExpiredLeases scans running jobs whose lease has elapsed and
// returns them to the pending set, giving the Redis backend its
// at-least-once redelivery guarantee.
func (q *RedisQueue) RequeueExpiredLeases(ctx context.Context, ids []string) (int, error) {
	now := q.now()
	requeued := 0
	for _, id := range ids {
		j, err := q.loadJob(ctx, id)
		if err != nil {
			continue
		}
		if j.Status != StatusRunning || j.LeaseUntil.IsZero() || !now.After(j.LeaseUntil) {
			continue
		}
		j.Status = StatusPending
		j.LeaseUntil = time.Time{}
		if err := q.saveJob(ctx, j); err != nil {
			return requeued, err
		}
		if err := q.client.SRem(ctx, q.runningKey(), j.ID).Err(); err != nil {
			return requeued, err
		}
		if err := q.client.ZAdd(ctx, q.pendingKey(), redis.Z{Score: score(j.Priority, j.EnqueuedAt), Member: j.ID}).Err(); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

func (q *RedisQueue) ExtendVisibility(ctx context.Context, jobID string, visibility time.Duration) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	j.LeaseUntil = q.now().Add(visibility)
	return q.saveJob(ctx, j)
}

func (q *RedisQueue) UpdateStatus(ctx context.Context, jobID string, status Status, lastError string) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	j.Status = status
	j.LastError = lastError
	if status == StatusPending || status == StatusRetry {
		j.LeaseUntil = time.Time{}
		if err := q.saveJob(ctx, j); err != nil {
			return err
		}
		if err := q.client.SRem(ctx, q.runningKey(), j.ID).Err(); err != nil {
			return err
		}
		return q.client.ZAdd(ctx, q.pendingKey(), redis.Z{Score: score(j.Priority, j.EnqueuedAt), Member: j.ID}).Err()
	}
	if err := q.saveJob(ctx, j); err != nil {
		return err
	}
	if status == StatusSuccess || status == StatusFailed {
		return q.client.SRem(ctx, q.runningKey(), j.ID).Err()
	}
	return nil
}

func (q *RedisQueue) MoveToDLQ(ctx context.Context, jobID string, reason string) error {
	j, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	j.FailureReason = reason

	entry := DLQEntry{Job: *j, Reason: reason, MovedAt: q.now().UTC(), Original: j.DAGPath + j.DAGInline}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: marshal dlq entry: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(j.ID), "data", mustMarshal(j))
	pipe.RPush(ctx, q.dlqKey(), data)
	pipe.ZRem(ctx, q.pendingKey(), jobID)
	pipe.SRem(ctx, q.runningKey(), jobID)
	_, err = pipe.Exec(ctx)
	return err
}

// Stats reports the pending sorted-set length and the running set's
// cardinality for the autoscaler's signal source.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pending, err := q.client.ZCard(ctx, q.pendingKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats pending: %w", err)
	}
	running, err := q.client.SCard(ctx, q.runningKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats running: %w", err)
	}
	return Stats{PendingCount: int(pending), RunningCount: int(running)}, nil
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (q *RedisQueue) ListDLQ(ctx context.Context) ([]DLQEntry, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list dlq: %w", err)
	}
	out := make([]DLQEntry, 0, len(raw))
	for _, r := range raw {
		var e DLQEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (q *RedisQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	return q.loadJob(ctx, jobID)
}

var _ Queue = (*RedisQueue)(nil)
