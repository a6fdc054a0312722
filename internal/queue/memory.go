package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a mutex-guarded in-memory Queue. It orders pending jobs
// by priority descending, then enqueue time ascending (FIFO within a
// tier).
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*Job
	dlq  []DLQEntry
	now  func() time.Time
}

// NewMemoryQueue constructs an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*Job), now: time.Now}
}

// Enqueue assigns an id if missing and stores the job as pending.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusPending
	job.EnqueuedAt = q.now().UTC()
	job.LeaseUntil = time.Time{}

	cp := job
	q.jobs[job.ID] = &cp
	return cp, nil
}

// Dequeue returns the highest-priority, oldest pending (or lease-expired
// running) job, leasing it invisible for `visibility`.
func (q *MemoryQueue) Dequeue(_ context.Context, visibility time.Duration) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var candidates []*Job
	for _, j := range q.jobs {
		if j.Status == StatusPending || j.Status == StatusRetry {
			candidates = append(candidates, j)
			continue
		}
		if j.Status == StatusRunning && !j.LeaseUntil.IsZero() && now.After(j.LeaseUntil) {
			// Lease expired without completion: at-least-once redelivery.
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].EnqueuedAt.Before(candidates[k].EnqueuedAt)
	})

	picked := candidates[0]
	picked.Status = StatusRunning
	picked.Attempts++
	picked.LeaseUntil = now.Add(visibility)

	out := *picked
	return &out, nil
}

// ExtendVisibility pushes a job's lease further into the future; used by a
// worker's heartbeat while long task bodies are still executing.
func (q *MemoryQueue) ExtendVisibility(_ context.Context, jobID string, visibility time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return &ErrNotFound{JobID: jobID}
	}
	j.LeaseUntil = q.now().Add(visibility)
	return nil
}

// UpdateStatus sets status and, for failures, the last error message.
func (q *MemoryQueue) UpdateStatus(_ context.Context, jobID string, status Status, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return &ErrNotFound{JobID: jobID}
	}
	j.Status = status
	j.LastError = lastError
	if status == StatusPending || status == StatusRetry {
		j.LeaseUntil = time.Time{}
	}
	return nil
}

// MoveToDLQ removes a job from the active set and appends it to the DLQ
// with reason and original-payload snapshot.
func (q *MemoryQueue) MoveToDLQ(_ context.Context, jobID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return &ErrNotFound{JobID: jobID}
	}
	j.Status = StatusFailed
	j.FailureReason = reason

	q.dlq = append(q.dlq, DLQEntry{
		Job:      *j,
		Reason:   reason,
		MovedAt:  q.now().UTC(),
		Original: j.DAGPath + j.DAGInline,
	})
	return nil
}

// ListDLQ returns all dead-lettered entries, oldest first.
func (q *MemoryQueue) ListDLQ(_ context.Context) ([]DLQEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DLQEntry, len(q.dlq))
	copy(out, q.dlq)
	return out, nil
}

// Stats reports pending (including retry and expired-lease) and running
// job counts for the autoscaler's signal source.
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var s Stats
	for _, j := range q.jobs {
		switch {
		case j.Status == StatusPending || j.Status == StatusRetry:
			s.PendingCount++
		case j.Status == StatusRunning && !j.LeaseUntil.IsZero() && now.After(j.LeaseUntil):
			s.PendingCount++
		case j.Status == StatusRunning:
			s.RunningCount++
		}
	}
	return s, nil
}

// Get returns a snapshot of the job by id.
func (q *MemoryQueue) Get(_ context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, &ErrNotFound{JobID: jobID}
	}
	out := *j
	return &out, nil
}

var _ Queue = (*MemoryQueue)(nil)
