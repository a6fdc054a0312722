package runner

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/antigravity-dev/djpcore/internal/dag"
)

// TemporalTaskRequest is the workflow input: the DAG plus the run options
// a caller would otherwise pass to RunDAG.
type TemporalTaskRequest struct {
	Dag      dag.DAG
	Tenant   string
	DagRunID string
}

// TemporalTaskResult mirrors Result but is plain-data so it round-trips
// through Temporal's payload codec.
type TemporalTaskResult struct {
	Status       RunStatus
	DagRunID     string
	CheckpointID string
	TaskOutputs  map[string]map[string]any
}

// ExecuteTaskActivity is the activity a workflow.ExecuteActivity call
// invokes for one workflow-kind task; the body is opaque to the runner.
type ExecuteTaskActivity func(ctx context.Context, task dag.Task, upstream map[string]map[string]any) (map[string]any, error)

// DJPWorkflow drives a DAG through Temporal activities, pausing for
// approval at each checkpoint task by waiting on a named signal channel.
func DJPWorkflow(ctx workflow.Context, req TemporalTaskRequest) (TemporalTaskResult, error) {
	logger := workflow.GetLogger(ctx)

	if err := dag.Validate(req.Dag); err != nil {
		return TemporalTaskResult{}, fmt.Errorf("djp workflow: invalid dag: %w", err)
	}
	ordered, err := dag.Toposort(req.Dag)
	if err != nil {
		return TemporalTaskResult{}, fmt.Errorf("djp workflow: toposort: %w", err)
	}

	taskOutputs := map[string]map[string]any{}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 5,
		},
	}
	actCtx := workflow.WithActivityOptions(ctx, ao)

	for _, t := range ordered {
		if t.Kind == dag.KindCheckpoint {
			logger.Info("djp workflow awaiting approval", "task_id", t.ID)

			signalChan := workflow.GetSignalChannel(ctx, "checkpoint-"+t.ID)
			var decision string
			signalChan.Receive(ctx, &decision)

			if decision != "APPROVED" {
				return TemporalTaskResult{
					Status: RunError, DagRunID: req.DagRunID, CheckpointID: t.ID, TaskOutputs: taskOutputs,
				}, fmt.Errorf("djp workflow: checkpoint %s was not approved", t.ID)
			}
			taskOutputs[t.ID] = map[string]any{"decision": decision}
			continue
		}

		var output map[string]any
		err := workflow.ExecuteActivity(actCtx, t.WorkflowRef, t, taskOutputs).Get(ctx, &output)
		if err != nil {
			return TemporalTaskResult{Status: RunError, DagRunID: req.DagRunID, TaskOutputs: taskOutputs}, err
		}
		taskOutputs[t.ID] = output
	}

	return TemporalTaskResult{Status: RunSuccess, DagRunID: req.DagRunID, TaskOutputs: taskOutputs}, nil
}
