package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/antigravity-dev/djpcore/internal/dag"
)

func TestDJPWorkflowLinearSuccess(t *testing.T) {
	ts := testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	echo := func(_ context.Context, t dag.Task, outputs map[string]map[string]any) (map[string]any, error) {
		return map[string]any{"task": t.ID}, nil
	}
	env.RegisterActivityWithOptions(echo, activity.RegisterOptions{Name: "echo"})

	d := dag.DAG{Name: "demo", TenantID: "t1", Tasks: []dag.Task{
		{ID: "a", Kind: dag.KindWorkflow, WorkflowRef: "echo"},
		{ID: "b", Kind: dag.KindWorkflow, WorkflowRef: "echo", DependsOn: []string{"a"}},
	}}

	env.ExecuteWorkflow(DJPWorkflow, TemporalTaskRequest{Dag: d, Tenant: "t1", DagRunID: "run-1"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TemporalTaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, RunSuccess, result.Status)
	require.Contains(t, result.TaskOutputs, "a")
	require.Contains(t, result.TaskOutputs, "b")
}

func TestDJPWorkflowPausesAndResumesOnSignal(t *testing.T) {
	ts := testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	echo := func(_ context.Context, t dag.Task, outputs map[string]map[string]any) (map[string]any, error) {
		return map[string]any{"task": t.ID}, nil
	}
	env.RegisterActivityWithOptions(echo, activity.RegisterOptions{Name: "echo"})

	d := dag.DAG{Name: "demo", TenantID: "t1", Tasks: []dag.Task{
		{ID: "a", Kind: dag.KindWorkflow, WorkflowRef: "echo"},
		{ID: "gate", Kind: dag.KindCheckpoint, DependsOn: []string{"a"}},
		{ID: "b", Kind: dag.KindWorkflow, WorkflowRef: "echo", DependsOn: []string{"gate"}},
	}}

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("checkpoint-gate", "APPROVED")
	}, 0)

	env.ExecuteWorkflow(DJPWorkflow, TemporalTaskRequest{Dag: d, Tenant: "t1", DagRunID: "run-2"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TemporalTaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, RunSuccess, result.Status)
	require.Contains(t, result.TaskOutputs, "gate")
	require.Contains(t, result.TaskOutputs, "b")
}

func TestDJPWorkflowRejectedCheckpointErrors(t *testing.T) {
	ts := testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	d := dag.DAG{Name: "demo", Tasks: []dag.Task{
		{ID: "gate", Kind: dag.KindCheckpoint},
	}}

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("checkpoint-gate", "REJECTED")
	}, 0)

	env.ExecuteWorkflow(DJPWorkflow, TemporalTaskRequest{Dag: d, DagRunID: "run-3"})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestDJPWorkflowInvalidDagFailsFast(t *testing.T) {
	ts := testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	env.ExecuteWorkflow(DJPWorkflow, TemporalTaskRequest{Dag: dag.DAG{Name: "empty"}, DagRunID: "run-4"})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}
