package urg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "graph"))
	require.NoError(t, err)
	return idx
}

func TestUpsertGeneratesURN(t *testing.T) {
	idx := newTestIndex(t)
	id, err := idx.Upsert(Resource{ID: "msg-1", Type: "message", Title: "hello world"}, "slack", "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "urn:slack:message:msg-1", id)

	r, ok := idx.Get(id, "tenant-a")
	require.True(t, ok)
	require.Equal(t, "hello world", r.Title)
	require.Equal(t, "msg-1", r.Metadata["original_id"])
}

func TestUpsertRequiresIDAndType(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{Type: "message"}, "slack", "t1")
	require.Error(t, err)
	_, err = idx.Upsert(Resource{ID: "x"}, "slack", "t1")
	require.Error(t, err)
}

func TestGetEnforcesTenantIsolation(t *testing.T) {
	idx := newTestIndex(t)
	id, err := idx.Upsert(Resource{ID: "m1", Type: "message"}, "slack", "tenant-a")
	require.NoError(t, err)

	_, ok := idx.Get(id, "tenant-b")
	require.False(t, ok, "a resource from tenant-a must not be visible to tenant-b")
}

func TestUpsertReplacesPriorVersion(t *testing.T) {
	idx := newTestIndex(t)
	id, err := idx.Upsert(Resource{ID: "m1", Type: "message", Title: "v1"}, "slack", "t1")
	require.NoError(t, err)

	_, err = idx.Upsert(Resource{ID: "m1", Type: "message", Title: "v2"}, "slack", "t1")
	require.NoError(t, err)

	r, ok := idx.Get(id, "t1")
	require.True(t, ok)
	require.Equal(t, "v2", r.Title)
}

func TestSearchMatchesTokenizedTitle(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{ID: "m1", Type: "message", Title: "Quarterly Budget Review"}, "outlook", "t1")
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "m2", Type: "message", Title: "Lunch plans"}, "outlook", "t1")
	require.NoError(t, err)

	results := idx.Search("budget", "t1", "", "", 10)
	require.Len(t, results, 1)
	require.Equal(t, "Quarterly Budget Review", results[0].Title)
}

func TestSearchIsTenantScoped(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{ID: "m1", Type: "message", Title: "budget numbers"}, "outlook", "tenant-a")
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "m2", Type: "message", Title: "budget numbers"}, "outlook", "tenant-b")
	require.NoError(t, err)

	require.Len(t, idx.Search("budget", "tenant-a", "", "", 0), 1)
	require.Len(t, idx.Search("budget", "tenant-b", "", "", 0), 1)
}

func TestSearchFiltersByResourceType(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{ID: "m1", Type: "message", Title: "project update"}, "slack", "t1")
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "c1", Type: "contact", Title: "project"}, "slack", "t1")
	require.NoError(t, err)

	results := idx.Search("project", "t1", "contact", "", 0)
	require.Len(t, results, 1)
	require.Equal(t, "contact", results[0].Type)
}

func TestSearchFiltersBySource(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{ID: "m1", Type: "message", Title: "project update"}, "slack", "t1")
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "m2", Type: "message", Title: "project update"}, "teams", "t1")
	require.NoError(t, err)

	results := idx.Search("project", "t1", "", "slack", 0)
	require.Len(t, results, 1)
	require.Equal(t, "slack", results[0].Source)
}

func TestListByTenant(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{ID: "m1", Type: "message", Timestamp: "2024-01-01T00:00:00Z"}, "slack", "t1")
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "m2", Type: "message", Timestamp: "2024-06-01T00:00:00Z"}, "slack", "t1")
	require.NoError(t, err)

	out := idx.ListByTenant("t1", 0)
	require.Len(t, out, 2)
	require.Equal(t, "2024-06-01T00:00:00Z", out[0].Timestamp, "newest timestamp first")
}

func TestPersistenceAcrossReopens(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "graph")
	idx, err := Open(dir)
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "m1", Type: "message", Title: "durable"}, "slack", "t1")
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	results := reopened.Search("durable", "t1", "", "", 0)
	require.Len(t, results, 1)
}

func TestRebuildIndex(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{ID: "m1", Type: "message", Title: "rebuild me"}, "slack", "t1")
	require.NoError(t, err)

	require.NoError(t, idx.RebuildIndex())
	results := idx.Search("rebuild", "t1", "", "", 0)
	require.Len(t, results, 1)
}

func TestStatsCountsByTypeSourceTenant(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Upsert(Resource{ID: "m1", Type: "message"}, "slack", "t1")
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "c1", Type: "contact"}, "outlook", "t1")
	require.NoError(t, err)
	_, err = idx.Upsert(Resource{ID: "m2", Type: "message"}, "slack", "t2")
	require.NoError(t, err)

	all := idx.Stats("")
	require.Equal(t, 3, all.Total)
	require.Equal(t, 2, all.ByType["message"])

	scoped := idx.Stats("t1")
	require.Equal(t, 2, scoped.Total)
}
