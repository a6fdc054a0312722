package statestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateRun(DagRun{RunID: "run-1", DagName: "demo", Tenant: "t1", Status: StatusRunning, StartedAt: time.Now().UTC()})
	require.NoError(t, err)

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, StatusRunning, got.Status)
}

func TestGetRunMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRun("missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdateRunStatusToTerminal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(DagRun{RunID: "run-1", DagName: "d", Tenant: "t1", Status: StatusRunning, StartedAt: time.Now().UTC()}))

	ended := time.Now().UTC()
	require.NoError(t, s.UpdateRunStatus("run-1", StatusSuccess, &ended))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestSetTaskOutputMerges(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(DagRun{RunID: "run-1", DagName: "d", Tenant: "t1", Status: StatusRunning, StartedAt: time.Now().UTC()}))

	require.NoError(t, s.SetTaskOutput("run-1", "task-a", map[string]any{"x": float64(1)}))
	require.NoError(t, s.SetTaskOutput("run-1", "task-b", map[string]any{"y": "hi"}))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.Len(t, got.TaskOutputs, 2)
	require.Equal(t, float64(1), got.TaskOutputs["task-a"]["x"])
}

func TestResumeTokenUpsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(DagRun{RunID: "run-1", DagName: "d", Tenant: "t1", Status: StatusPaused, StartedAt: time.Now().UTC()}))

	require.NoError(t, s.PutResumeToken(ResumeToken{DagRunID: "run-1", NextTaskID: "task-b", Tenant: "t1", Timestamp: time.Now().UTC()}))
	require.NoError(t, s.PutResumeToken(ResumeToken{DagRunID: "run-1", NextTaskID: "task-c", Tenant: "t1", Timestamp: time.Now().UTC()}))

	tok, err := s.GetResumeToken("run-1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	require.Equal(t, "task-c", tok.NextTaskID, "only the latest token should be retained")
}

func TestGetResumeTokenMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	tok, err := s.GetResumeToken("missing")
	require.NoError(t, err)
	require.Nil(t, tok)
}
