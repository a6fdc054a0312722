// Package runner executes a validated DAG in topological order, pausing
// for human approval at checkpoint tasks and resuming from a stored resume
// token. At a checkpoint task RunDAG returns a paused result at once, and
// ResumeDAG continues only after the checkpoint store shows "approved", so
// the execution shape needs no external workflow cluster; temporal.go
// holds the optional Temporal-backed adapter that gates on a signal
// channel instead.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/djpcore/internal/backoff"
	"github.com/antigravity-dev/djpcore/internal/checkpoint"
	"github.com/antigravity-dev/djpcore/internal/dag"
	"github.com/antigravity-dev/djpcore/internal/orcherr"
	"github.com/antigravity-dev/djpcore/internal/statestore"
)

// WorkflowHandler executes one workflow task's body given its merged
// upstream params and returns its output map. Handlers are opaque to the
// runner — they may invoke an agent, call an external API, or do nothing;
// the runner never inspects what's inside.
type WorkflowHandler func(ctx context.Context, task dag.Task, params map[string]any) (map[string]any, error)

// Registry resolves a task's workflow_ref to its handler.
type Registry interface {
	Resolve(workflowRef string) (WorkflowHandler, bool)
}

// MapRegistry is the simplest Registry: a static map.
type MapRegistry map[string]WorkflowHandler

// Resolve implements Registry.
func (r MapRegistry) Resolve(ref string) (WorkflowHandler, bool) {
	h, ok := r[ref]
	return h, ok
}

// RunStatus is the terminal or intermediate status of a run.
type RunStatus string

const (
	RunPaused  RunStatus = "paused"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Result is what run_dag / resume_dag return.
type Result struct {
	Status          RunStatus
	DagRunID        string
	CheckpointID    string
	TaskOutputs     map[string]map[string]any
	DurationSeconds float64
	TasksSucceeded  int
	TasksFailed     int
	Plan            []PlanStep // populated only for a dry run
	Error           error
}

// PlanStep summarises one task for a dry run.
type PlanStep struct {
	TaskID string
	Kind   dag.Kind
}

// Options configures one run_dag invocation.
type Options struct {
	Tenant            string
	DryRun            bool
	MaxRetriesDefault int
	DagRunID          string
	StartFromTask     string
	ResumeState       map[string]map[string]any
	// RequeueBaseMs, RequeueCapMs and JitterPct parameterize the per-task
	// retry backoff; zero values fall back to backoff.Policy's own
	// defaults.
	RequeueBaseMs time.Duration
	RequeueCapMs  time.Duration
	JitterPct     float64
}

// Runner executes DAGs against a checkpoint store, a run-state store, and
// a workflow handler registry.
type Runner struct {
	Checkpoints *checkpoint.Store
	States      *statestore.Store
	Registry    Registry
	Logger      *slog.Logger
	// Events, when non-nil, receives one JSONL record per run transition
	// alongside the structured log output.
	Events *EventLog
	// CheckpointTTL bounds how long a created checkpoint stays approvable;
	// zero falls back to the store's default.
	CheckpointTTL time.Duration
}

// New constructs a Runner. A nil logger is replaced with slog.Default().
func New(checkpoints *checkpoint.Store, states *statestore.Store, registry Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Checkpoints: checkpoints, States: states, Registry: registry, Logger: logger}
}

// RunDAG validates d, orders it, and executes it from the beginning or
// from Options' resume point.
func (r *Runner) RunDAG(ctx context.Context, d dag.DAG, opts Options) Result {
	if err := dag.Validate(d); err != nil {
		return Result{Status: RunError, Error: err}
	}

	ordered, err := dag.Toposort(d)
	if err != nil {
		return Result{Status: RunError, Error: err}
	}

	if opts.DryRun {
		steps := make([]PlanStep, len(ordered))
		for i, t := range ordered {
			steps[i] = PlanStep{TaskID: t.ID, Kind: t.Kind}
		}
		return Result{Status: RunSuccess, TaskOutputs: map[string]map[string]any{}, Plan: steps}
	}

	runID := opts.DagRunID
	resuming := runID != ""
	if runID == "" {
		runID = uuid.NewString()
	}

	taskOutputs := opts.ResumeState
	if taskOutputs == nil {
		taskOutputs = map[string]map[string]any{}
	}

	if !resuming {
		if r.States != nil {
			if err := r.States.CreateRun(statestore.DagRun{
				RunID: runID, DagName: d.Name, Tenant: opts.Tenant,
				Status: statestore.StatusRunning, TaskOutputs: taskOutputs, StartedAt: time.Now().UTC(),
			}); err != nil {
				return Result{Status: RunError, DagRunID: runID, Error: err}
			}
		}
		r.Logger.Info("dag_start", "dag_run_id", runID, "dag", d.Name, "tenant", opts.Tenant)
		r.emit("dag_start", map[string]any{"dag_run_id": runID, "dag": d.Name, "tenant": opts.Tenant})
	}

	startIdx := 0
	if opts.StartFromTask != "" {
		for i, t := range ordered {
			if t.ID == opts.StartFromTask {
				startIdx = i
				break
			}
		}
	}

	start := time.Now()
	succeeded, failed := 0, 0

	for _, t := range ordered[startIdx:] {
		upstream := upstreamOutputs(t, taskOutputs)

		if t.Kind == dag.KindCheckpoint {
			meta := dag.MergePayloads(upstream)
			inputsSchema := t.InputsSchema
			if len(meta) > 0 {
				metaJSON, err := json.Marshal(meta)
				if err != nil {
					return Result{Status: RunError, DagRunID: runID, Error: err}
				}
				inputsSchema = make(map[string]string, len(t.InputsSchema)+1)
				for k, v := range t.InputsSchema {
					inputsSchema[k] = v
				}
				inputsSchema["upstream"] = string(metaJSON)
			}

			checkpointID := fmt.Sprintf("%s_%s", runID, t.ID)
			cp, err := r.Checkpoints.Create(checkpoint.CreateOptions{
				CheckpointID: checkpointID,
				DagRunID:     runID,
				TaskID:       t.ID,
				Tenant:       opts.Tenant,
				Prompt:       t.Prompt,
				RequiredRole: t.RequiredRole,
				InputsSchema: inputsSchema,
				ExpiresIn:    r.CheckpointTTL,
			})
			if err != nil {
				return Result{Status: RunError, DagRunID: runID, Error: err}
			}

			nextTaskID := nextTaskAfter(ordered, t.ID)
			if nextTaskID != "" && r.States != nil {
				if err := r.States.PutResumeToken(statestore.ResumeToken{
					DagRunID: runID, NextTaskID: nextTaskID, Tenant: opts.Tenant, Timestamp: time.Now().UTC(),
				}); err != nil {
					return Result{Status: RunError, DagRunID: runID, Error: err}
				}
			}

			if r.States != nil {
				_ = r.States.UpdateRunStatus(runID, statestore.StatusPaused, nil)
			}
			r.Logger.Info("checkpoint_pending", "dag_run_id", runID, "checkpoint_id", cp.CheckpointID, "task_id", t.ID)
			r.emit("checkpoint_pending", map[string]any{"dag_run_id": runID, "checkpoint_id": cp.CheckpointID, "task_id": t.ID})

			return Result{Status: RunPaused, DagRunID: runID, CheckpointID: cp.CheckpointID, TaskOutputs: taskOutputs}
		}

		// kind == workflow
		params := mergeParams(t.Params, upstream)
		handler, ok := r.Registry.Resolve(t.WorkflowRef)
		if !ok {
			err := &orcherr.NotFoundError{Kind: "workflow_ref", ID: t.WorkflowRef}
			r.Logger.Error("dag_error", "dag_run_id", runID, "task_id", t.ID, "error", err)
			return Result{Status: RunError, DagRunID: runID, TaskOutputs: taskOutputs, Error: err}
		}

		maxRetries := t.Retries
		if opts.MaxRetriesDefault > maxRetries {
			maxRetries = opts.MaxRetriesDefault
		}
		policy := backoff.Policy{
			MaxAttempts: maxRetries + 1,
			Base:        opts.RequeueBaseMs,
			Max:         opts.RequeueCapMs,
			Factor:      2.0,
			JitterPct:   opts.JitterPct,
		}

		var output map[string]any
		var taskErr error
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			output, taskErr = handler(ctx, t, params)
			if taskErr == nil {
				break
			}
			fault, classified := backoff.Classify(taskErr, 0)
			taskErr = classified
			if fault == backoff.FaultFatal || attempt == policy.MaxAttempts {
				break
			}
			r.Logger.Warn("task_retry", "dag_run_id", runID, "task_id", t.ID, "attempt", attempt, "error", taskErr)
			r.emit("task_retry", map[string]any{"dag_run_id": runID, "task_id": t.ID, "attempt": attempt})
			time.Sleep(backoff.Delay(attempt, policy))
		}

		if taskErr != nil {
			failed++
			r.Logger.Error("task_fail", "dag_run_id", runID, "task_id", t.ID, "error", taskErr)
			r.Logger.Error("dag_error", "dag_run_id", runID, "task_id", t.ID)
			r.emit("task_fail", map[string]any{"dag_run_id": runID, "task_id": t.ID, "error": taskErr.Error()})
			r.emit("dag_error", map[string]any{"dag_run_id": runID, "task_id": t.ID})
			if r.States != nil {
				_ = r.States.UpdateRunStatus(runID, statestore.StatusError, timePtr(time.Now().UTC()))
			}
			return Result{Status: RunError, DagRunID: runID, TaskOutputs: taskOutputs, TasksSucceeded: succeeded, TasksFailed: failed, Error: taskErr}
		}

		succeeded++
		taskOutputs[t.ID] = output
		if r.States != nil {
			_ = r.States.SetTaskOutput(runID, t.ID, output)
		}
		r.Logger.Info("task_ok", "dag_run_id", runID, "task_id", t.ID)
		r.emit("task_ok", map[string]any{"dag_run_id": runID, "task_id": t.ID})
	}

	duration := time.Since(start).Seconds()
	if r.States != nil {
		_ = r.States.UpdateRunStatus(runID, statestore.StatusSuccess, timePtr(time.Now().UTC()))
	}
	r.Logger.Info("dag_done", "dag_run_id", runID, "tasks_succeeded", succeeded, "tasks_failed", failed)
	r.emit("dag_done", map[string]any{"dag_run_id": runID, "tasks_succeeded": succeeded, "tasks_failed": failed})

	return Result{
		Status: RunSuccess, DagRunID: runID, TaskOutputs: taskOutputs,
		DurationSeconds: duration, TasksSucceeded: succeeded, TasksFailed: failed,
	}
}

// ResumeDAG implements resume_dag: it requires an approved checkpoint and a
// stored resume token, seeds the checkpoint task's output with the
// approval data, and continues RunDAG from the next task.
func (r *Runner) ResumeDAG(ctx context.Context, runID, tenant string, d dag.DAG) Result {
	if r.States == nil {
		return Result{Status: RunError, DagRunID: runID, Error: fmt.Errorf("runner: no state store configured")}
	}

	tok, err := r.States.GetResumeToken(runID)
	if err != nil {
		return Result{Status: RunError, DagRunID: runID, Error: err}
	}
	if tok == nil {
		return Result{Status: RunError, DagRunID: runID, Error: fmt.Errorf("runner: no resume token for run %s", runID)}
	}

	checkpointID := fmt.Sprintf("%s_%s", runID, checkpointTaskID(d, tok.NextTaskID))
	cp, ok, err := r.Checkpoints.Get(checkpointID)
	if err != nil {
		return Result{Status: RunError, DagRunID: runID, Error: err}
	}
	if !ok || cp.Status != checkpoint.StatusApproved {
		return Result{Status: RunError, DagRunID: runID, Error: fmt.Errorf("runner: checkpoint %s is not approved", checkpointID)}
	}

	run, err := r.States.GetRun(runID)
	if err != nil {
		return Result{Status: RunError, DagRunID: runID, Error: err}
	}
	taskOutputs := map[string]map[string]any{}
	if run != nil {
		taskOutputs = run.TaskOutputs
	}
	approvalData := make(map[string]any, len(cp.ApprovalData))
	for k, v := range cp.ApprovalData {
		approvalData[k] = v
	}
	taskOutputs[cp.TaskID] = approvalData

	r.Logger.Info("checkpoint_approved", "dag_run_id", runID, "checkpoint_id", checkpointID)
	r.emit("checkpoint_approved", map[string]any{"dag_run_id": runID, "checkpoint_id": checkpointID})

	return r.RunDAG(ctx, d, Options{
		Tenant: tenant, DagRunID: runID, StartFromTask: tok.NextTaskID, ResumeState: taskOutputs,
	})
}

// emit forwards a run transition to the optional event log, logging (but
// not failing the run) when the append itself errors.
func (r *Runner) emit(event string, fields map[string]any) {
	if err := r.Events.Emit(event, fields); err != nil {
		r.Logger.Warn("event_log_write_failed", "event", event, "error", err)
	}
}

func checkpointTaskID(d dag.DAG, fallback string) string {
	// The resume token stores the *next* task id, not the checkpoint's own
	// task id; the checkpoint that gated the pause is the one immediately
	// preceding it in topological order.
	ordered, err := dag.Toposort(d)
	if err != nil {
		return fallback
	}
	for i, t := range ordered {
		if t.ID == fallback && i > 0 {
			return ordered[i-1].ID
		}
	}
	return fallback
}

func nextTaskAfter(ordered []dag.Task, taskID string) string {
	for i, t := range ordered {
		if t.ID == taskID && i+1 < len(ordered) {
			return ordered[i+1].ID
		}
	}
	return ""
}

func upstreamOutputs(t dag.Task, taskOutputs map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if o, ok := taskOutputs[dep]; ok {
			out[dep] = o
		}
	}
	return out
}

func mergeParams(params map[string]any, upstream map[string]map[string]any) map[string]any {
	merged := dag.MergePayloads(upstream)
	out := make(map[string]any, len(params)+len(merged))
	for k, v := range merged {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }
