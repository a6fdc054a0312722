package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogAssignsIDAndTimestamp(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	id, err := l.Log(Event{Tenant: "t1", Actor: "alice", Action: "resource.read", Result: ResultSuccess})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestQueryFiltersByTenantAndResult(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = l.Log(Event{Tenant: "t1", Actor: "alice", Action: "a", Result: ResultSuccess})
	require.NoError(t, err)
	_, err = l.Log(Event{Tenant: "t2", Actor: "bob", Action: "a", Result: ResultDenied})
	require.NoError(t, err)
	_, err = l.Log(Event{Tenant: "t1", Actor: "alice", Action: "b", Result: ResultDenied})
	require.NoError(t, err)

	events, err := l.Query(Filter{Tenant: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = l.Query(Filter{Tenant: "t1", Result: ResultDenied})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "b", events[0].Action)
}

func TestQueryRespectsLimitAndOrdering(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.Log(Event{Tenant: "t1", Action: "a", Result: ResultSuccess})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	events, err := l.Query(Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.True(t, events[0].Timestamp.After(events[1].Timestamp) || events[0].Timestamp.Equal(events[1].Timestamp))
}

func TestQueryDateRange(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = l.Log(Event{Tenant: "t1", Action: "a", Result: ResultSuccess})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	events, err := l.Query(Filter{From: future})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestQueryOnMissingDirReturnsEmpty(t *testing.T) {
	l := &Logger{dir: "/nonexistent/path/for/test", now: time.Now}
	events, err := l.Query(Filter{})
	require.NoError(t, err)
	require.Empty(t, events)
}
