package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/djpcore/internal/dag"
)

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func eventNames(records []map[string]any) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r["event"].(string))
	}
	return out
}

func TestEventLogAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := OpenEventLog(path)
	require.NoError(t, err)

	require.NoError(t, log.Emit("dag_start", map[string]any{"dag_run_id": "r1"}))
	require.NoError(t, log.Emit("dag_done", map[string]any{"dag_run_id": "r1"}))

	records := readEvents(t, path)
	require.Equal(t, []string{"dag_start", "dag_done"}, eventNames(records))
	require.Equal(t, "r1", records[0]["dag_run_id"])
	require.NotEmpty(t, records[0]["timestamp"])
}

func TestNilEventLogDropsEmits(t *testing.T) {
	var log *EventLog
	require.NoError(t, log.Emit("dag_start", nil))
}

func TestRunDAGEmitsEventSequence(t *testing.T) {
	registry := MapRegistry{"echo": echoHandler("x")}
	r := newTestRunner(t, registry)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := OpenEventLog(path)
	require.NoError(t, err)
	r.Events = log

	d := dag.DAG{Name: "demo", TenantID: "t1", Tasks: []dag.Task{
		{ID: "a", Kind: dag.KindWorkflow, WorkflowRef: "echo"},
		{ID: "gate", Kind: dag.KindCheckpoint, DependsOn: []string{"a"}},
		{ID: "b", Kind: dag.KindWorkflow, WorkflowRef: "echo", DependsOn: []string{"gate"}},
	}}

	paused := r.RunDAG(context.Background(), d, Options{Tenant: "t1"})
	require.Equal(t, RunPaused, paused.Status)

	_, err = r.Checkpoints.Approve(paused.CheckpointID, "alice", map[string]string{"signoff": "ok"})
	require.NoError(t, err)

	resumed := r.ResumeDAG(context.Background(), paused.DagRunID, "t1", d)
	require.Equal(t, RunSuccess, resumed.Status)

	names := eventNames(readEvents(t, path))
	require.Equal(t, []string{"dag_start", "task_ok", "checkpoint_pending", "checkpoint_approved", "task_ok", "dag_done"}, names)
}
