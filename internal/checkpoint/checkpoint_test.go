package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "checkpoints.jsonl"))
	require.NoError(t, err)
	return s
}

func TestCreateAndApprove(t *testing.T) {
	s := newStore(t)

	cp, err := s.Create(CreateOptions{CheckpointID: "cp-1", DagRunID: "run-1", TaskID: "t1", Tenant: "tenant-a", Prompt: "approve?"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, cp.Status)
	require.Equal(t, "Operator", cp.RequiredRole)
	require.Equal(t, 1, cp.MinSignatures)

	approved, err := s.Approve("cp-1", "alice", map[string]string{"note": "lgtm"})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, "alice", approved.ApprovedBy)

	got, ok, err := s.Get("cp-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusApproved, got.Status)
}

func TestApproveTwiceFails(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(CreateOptions{CheckpointID: "cp-1", Tenant: "t1"})
	require.NoError(t, err)

	_, err = s.Approve("cp-1", "alice", nil)
	require.NoError(t, err)

	_, err = s.Approve("cp-1", "bob", nil)
	require.Error(t, err)
}

func TestRejectSetsReason(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(CreateOptions{CheckpointID: "cp-1", Tenant: "t1"})
	require.NoError(t, err)

	rejected, err := s.Reject("cp-1", "bob", "not ready")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "not ready", rejected.RejectionReason)
}

func TestApproveExpiredFails(t *testing.T) {
	s := newStore(t)
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }

	_, err := s.Create(CreateOptions{CheckpointID: "cp-1", Tenant: "t1", ExpiresIn: time.Hour})
	require.NoError(t, err)

	s.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	_, err = s.Approve("cp-1", "alice", nil)
	require.Error(t, err)
}

func TestExpirePendingIsIdempotent(t *testing.T) {
	s := newStore(t)
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixedNow }

	_, err := s.Create(CreateOptions{CheckpointID: "cp-1", Tenant: "t1", ExpiresIn: time.Hour})
	require.NoError(t, err)

	past := fixedNow.Add(2 * time.Hour)
	expired, err := s.ExpirePending(past)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, StatusExpired, expired[0].Status)

	expiredAgain, err := s.ExpirePending(past)
	require.NoError(t, err)
	require.Empty(t, expiredAgain)
}

func TestMultiSignRequiresMinSignatures(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(CreateOptions{
		CheckpointID:    "cp-1",
		Tenant:          "t1",
		RequiredSigners: []string{"alice", "bob", "carol"},
		MinSignatures:   2,
	})
	require.NoError(t, err)

	cp, ok, err := s.Get("cp-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, IsSatisfied(cp))

	cp, err = s.AddSignature("cp-1", "alice", nil)
	require.NoError(t, err)
	require.False(t, IsSatisfied(cp))

	cp, err = s.AddSignature("cp-1", "bob", nil)
	require.NoError(t, err)
	require.True(t, IsSatisfied(cp))

	approved, err := s.Approve("cp-1", "alice", nil)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
}

func TestAddSignatureRejectsDuplicateSigner(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(CreateOptions{CheckpointID: "cp-1", Tenant: "t1", RequiredSigners: []string{"alice", "bob"}, MinSignatures: 2})
	require.NoError(t, err)

	_, err = s.AddSignature("cp-1", "alice", nil)
	require.NoError(t, err)

	_, err = s.AddSignature("cp-1", "alice", nil)
	require.Error(t, err)
}

func TestAddSignatureOnNonPendingFails(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(CreateOptions{CheckpointID: "cp-1", Tenant: "t1"})
	require.NoError(t, err)
	_, err = s.Approve("cp-1", "alice", nil)
	require.NoError(t, err)

	_, err = s.AddSignature("cp-1", "bob", nil)
	require.Error(t, err)
}

func TestListFiltersByTenantAndStatus(t *testing.T) {
	s := newStore(t)
	_, err := s.Create(CreateOptions{CheckpointID: "cp-1", Tenant: "t1"})
	require.NoError(t, err)
	_, err = s.Create(CreateOptions{CheckpointID: "cp-2", Tenant: "t2"})
	require.NoError(t, err)
	_, err = s.Approve("cp-1", "alice", nil)
	require.NoError(t, err)

	t1Checkpoints, err := s.List("t1", "")
	require.NoError(t, err)
	require.Len(t, t1Checkpoints, 1)

	pending, err := s.List("", StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "cp-2", pending[0].CheckpointID)
}

func TestIsSatisfiedSingleSignDefault(t *testing.T) {
	cp := Checkpoint{MinSignatures: 1}
	require.False(t, IsSatisfied(cp))
	cp.Approvals = []Approval{{User: "alice"}}
	require.True(t, IsSatisfied(cp))
}
