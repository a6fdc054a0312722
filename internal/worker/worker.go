// Package worker implements the per-worker poll/heartbeat/execute loop:
// dequeue with a visibility lease, skip duplicates via idempotency, gate
// on the rate limiter, run the DAG with a heartbeat extending the lease,
// then mark success or retry/DLQ.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/antigravity-dev/djpcore/internal/backoff"
	"github.com/antigravity-dev/djpcore/internal/dag"
	"github.com/antigravity-dev/djpcore/internal/idempotency"
	"github.com/antigravity-dev/djpcore/internal/queue"
	"github.com/antigravity-dev/djpcore/internal/ratelimit"
	"github.com/antigravity-dev/djpcore/internal/runner"
)

// DAGLoader resolves a job's dag_path or dag_inline into a DAG.
type DAGLoader func(job queue.Job) (dag.DAG, error)

// Config tunes one Worker's poll/backoff/heartbeat cadence. All durations
// default to sane values when zero.
type Config struct {
	PollInterval       time.Duration
	VisibilityMs       time.Duration
	HeartbeatInterval  time.Duration
	MaxRetries         int
	RateLimitRetryWait time.Duration
	MaxRetriesDefault  int
	RequeueBaseMs      time.Duration
	RequeueCapMs       time.Duration
	JitterPct          float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.VisibilityMs <= 0 {
		c.VisibilityMs = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.VisibilityMs / 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RateLimitRetryWait <= 0 {
		c.RateLimitRetryWait = time.Second
	}
	if c.RequeueBaseMs <= 0 {
		c.RequeueBaseMs = time.Second
	}
	if c.RequeueCapMs <= 0 {
		c.RequeueCapMs = time.Minute
	}
	if c.JitterPct <= 0 {
		c.JitterPct = 0.1
	}
	return c
}

// Worker drives one poll/execute cycle against a shared Queue, Runner,
// rate limiter, and idempotency tracker. Multiple Workers (one per
// workerpool goroutine) share the same collaborators safely — every
// collaborator is already internally synchronised.
type Worker struct {
	Queue       queue.Queue
	Runner      *runner.Runner
	Limiter     *ratelimit.Limiter
	Idempotency idempotency.Tracker
	LoadDAG     DAGLoader
	Logger      *slog.Logger
	// Events, when non-nil, receives run_started / run_finished /
	// run_failed_terminal records in the shared orchestration event log.
	Events *runner.EventLog
	Cfg    Config
	// OnJobDuration, if set, is called with the wall-clock time spent
	// running a job's DAG (success or failure alike), feeding the
	// autoscaler's p95-latency signal.
	OnJobDuration func(time.Duration)
}

// New constructs a Worker. A nil logger falls back to slog.Default().
func New(q queue.Queue, r *runner.Runner, limiter *ratelimit.Limiter, tracker idempotency.Tracker, loader DAGLoader, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = idempotency.NewMemoryTracker()
	}
	return &Worker{
		Queue: q, Runner: r, Limiter: limiter, Idempotency: tracker,
		LoadDAG: loader, Logger: logger, Cfg: cfg.withDefaults(),
	}
}

// Run is the per-worker loop, suitable for use as a
// workerpool.JobRunner: it polls until ctx is cancelled, checking
// ctx.Done() only between jobs so a drain signal never interrupts a job
// mid-flight.
func (w *Worker) Run(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.Queue.Dequeue(ctx, w.Cfg.VisibilityMs)
		if err != nil {
			w.Logger.Error("worker_dequeue_error", "worker_id", workerID, "error", err)
			sleepOrDone(ctx, w.Cfg.PollInterval)
			continue
		}
		if job == nil {
			sleepOrDone(ctx, w.Cfg.PollInterval)
			continue
		}

		w.process(ctx, workerID, *job)
	}
}

func (w *Worker) process(ctx context.Context, workerID int, job queue.Job) {
	if job.RunID != "" {
		if _, dup := w.Idempotency.Seen(job.RunID); dup {
			w.Logger.Info("job_skipped_duplicate", "worker_id", workerID, "job_id", job.ID, "run_id", job.RunID)
			_ = w.Queue.UpdateStatus(ctx, job.ID, queue.StatusSuccess, "")
			return
		}
	}

	if w.Limiter != nil && !w.Limiter.Allow(job.TenantID) {
		w.Logger.Info("job_rate_limited", "worker_id", workerID, "job_id", job.ID, "tenant", job.TenantID)
		sleepOrDone(ctx, w.Cfg.RateLimitRetryWait)
		_ = w.Queue.UpdateStatus(ctx, job.ID, queue.StatusRetry, "rate_limited")
		return
	}

	_ = w.Events.Emit("run_started", map[string]any{"job_id": job.ID, "run_id": job.RunID, "tenant": job.TenantID, "worker_id": workerID})

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go w.heartbeat(heartbeatCtx, job.ID, heartbeatDone)

	start := time.Now()
	d, loadErr := w.LoadDAG(job)
	var result runner.Result
	if loadErr != nil {
		result = runner.Result{Status: runner.RunError, Error: loadErr}
	} else {
		maxRetries := w.Cfg.MaxRetriesDefault
		result = w.Runner.RunDAG(ctx, d, runner.Options{
			Tenant: job.TenantID, DagRunID: job.RunID, MaxRetriesDefault: maxRetries,
			RequeueBaseMs: w.Cfg.RequeueBaseMs, RequeueCapMs: w.Cfg.RequeueCapMs, JitterPct: w.Cfg.JitterPct,
		})
	}
	if w.OnJobDuration != nil {
		w.OnJobDuration(time.Since(start))
	}

	stopHeartbeat()
	<-heartbeatDone

	switch {
	case loadErr == nil && result.Status == runner.RunSuccess:
		if job.RunID != "" {
			_, _ = w.Idempotency.MarkComplete(job.RunID, "")
		}
		_ = w.Queue.UpdateStatus(ctx, job.ID, queue.StatusSuccess, "")
		w.Logger.Info("job_success", "worker_id", workerID, "job_id", job.ID)
		_ = w.Events.Emit("run_finished", map[string]any{"job_id": job.ID, "run_id": job.RunID, "status": "success"})

	case loadErr == nil && result.Status == runner.RunPaused:
		// Paused is not a failure: the job is marked success with the
		// note "paused"; the run continues only when a reviewer approves
		// and something enqueues the resume.
		_ = w.Queue.UpdateStatus(ctx, job.ID, queue.StatusSuccess, "paused")
		w.Logger.Info("job_paused", "worker_id", workerID, "job_id", job.ID, "checkpoint_id", result.CheckpointID)
		_ = w.Events.Emit("run_finished", map[string]any{"job_id": job.ID, "run_id": job.RunID, "status": "paused", "checkpoint_id": result.CheckpointID})

	default:
		w.failJob(ctx, workerID, job, errString(loadErr, result.Error))
	}
}

func (w *Worker) failJob(ctx context.Context, workerID int, job queue.Job, reason string) {
	attempts := job.Attempts + 1
	if attempts >= w.Cfg.MaxRetries {
		_ = w.Queue.UpdateStatus(ctx, job.ID, queue.StatusFailed, reason)
		_ = w.Queue.MoveToDLQ(ctx, job.ID, "max_retries")
		w.Logger.Error("job_failed_terminal", "worker_id", workerID, "job_id", job.ID, "reason", reason)
		_ = w.Events.Emit("run_failed_terminal", map[string]any{"job_id": job.ID, "run_id": job.RunID, "reason": reason})
		return
	}

	delay := backoff.Delay(attempts, backoff.Policy{
		MaxAttempts: w.Cfg.MaxRetries,
		Base:        w.Cfg.RequeueBaseMs,
		Max:         w.Cfg.RequeueCapMs,
		Factor:      2.0,
		JitterPct:   w.Cfg.JitterPct,
	})
	sleepOrDone(ctx, delay)
	_ = w.Queue.UpdateStatus(ctx, job.ID, queue.StatusRetry, reason)
	w.Logger.Warn("job_retry", "worker_id", workerID, "job_id", job.ID, "attempt", attempts, "delay", delay, "reason", reason)
}

// heartbeat extends the job's visibility lease every Cfg.HeartbeatInterval
// until ctx is cancelled, so a long-running DAG is not reclaimed by
// another worker as "stale" mid-execution.
func (w *Worker) heartbeat(ctx context.Context, jobID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.Cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Queue.ExtendVisibility(ctx, jobID, w.Cfg.VisibilityMs); err != nil {
				w.Logger.Warn("heartbeat_extend_failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func errString(loadErr, runErr error) string {
	if loadErr != nil {
		return loadErr.Error()
	}
	if runErr != nil {
		return runErr.Error()
	}
	return "unknown failure"
}
