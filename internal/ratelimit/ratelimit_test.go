package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowWithinCapacity(t *testing.T) {
	l := New(BucketConfig{Capacity: 10, RefillPerSecond: 1}, BucketConfig{Capacity: 5, RefillPerSecond: 1})

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("tenant-a"), "attempt %d", i)
	}
	require.False(t, l.Allow("tenant-a"), "tenant bucket should be exhausted")
}

func TestAllowIsolatesTenants(t *testing.T) {
	l := New(BucketConfig{Capacity: 100, RefillPerSecond: 100}, BucketConfig{Capacity: 1, RefillPerSecond: 0.001})

	require.True(t, l.Allow("tenant-a"))
	require.False(t, l.Allow("tenant-a"))
	require.True(t, l.Allow("tenant-b"), "tenant-b must have its own bucket")
}

func TestGlobalCapGatesAcrossTenants(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, RefillPerSecond: 0.001}, BucketConfig{Capacity: 10, RefillPerSecond: 10})

	require.True(t, l.Allow("tenant-a"))
	require.False(t, l.Allow("tenant-b"), "global bucket is exhausted even though tenant-b's own bucket is fresh")
}

func TestReserveAndRelease(t *testing.T) {
	l := New(BucketConfig{Capacity: 1, RefillPerSecond: 0.001}, BucketConfig{Capacity: 1, RefillPerSecond: 0.001})

	res, ok := l.Reserve("tenant-a")
	require.True(t, ok)

	require.False(t, l.Allow("tenant-a"), "capacity is exhausted while the reservation is held")

	res.Release()
	require.True(t, l.Allow("tenant-a"), "releasing the reservation returns the token")
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(BucketConfig{Capacity: 2, RefillPerSecond: 0.001}, BucketConfig{Capacity: 2, RefillPerSecond: 0.001})

	res, ok := l.Reserve("tenant-a")
	require.True(t, ok)

	res.Release()
	res.Release()

	require.True(t, l.Allow("tenant-a"))
	require.True(t, l.Allow("tenant-a"))
	require.False(t, l.Allow("tenant-a"), "a double release must not grant an extra token")
}

func TestZeroConfigDefaultsToCapacityOne(t *testing.T) {
	l := New(BucketConfig{}, BucketConfig{})
	require.True(t, l.Allow("tenant-a"))
	require.False(t, l.Allow("tenant-a"))
}
