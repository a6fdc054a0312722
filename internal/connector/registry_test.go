package connector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndList(t *testing.T) {
	reg := NewRegistry()
	reg.Register("gmail", NewFake("gmail"))
	reg.Register("slack", NewFake("slack"))

	list := reg.List()
	require.Len(t, list, 2)
	require.Equal(t, "gmail", list[0].Source)
	require.Equal(t, "slack", list[1].Source)
	require.True(t, list[0].Enabled)
}

func TestRegistrySetEnabled(t *testing.T) {
	reg := NewRegistry()
	reg.Register("gmail", NewFake("gmail"))

	require.NoError(t, reg.SetEnabled("gmail", false))
	got, ok := reg.Get("gmail")
	require.True(t, ok)
	require.False(t, got.Enabled)

	require.Error(t, reg.SetEnabled("unknown", true))
}
