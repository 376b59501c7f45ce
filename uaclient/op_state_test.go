package uaclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicOpState(t *testing.T) {
	require := require.New(t)

	var st AtomicOpState
	require.True(st.IsClosed())
	require.Equal("closed", st.String())

	// opened is only reachable through opening
	require.False(st.ToOpened())
	require.True(st.ToOpening())
	require.False(st.ToOpening())
	require.Equal(OpeningState, st.Get())

	require.True(st.ToOpened())
	require.True(st.ToOpened())
	require.True(st.IsOpened())

	require.True(st.ToClosing())
	require.False(st.ToClosing())
	require.Equal("closing", st.String())

	require.True(st.ToClosed())
	require.True(st.ToClosed())
	require.True(st.IsClosed())
}

func TestAtomicOpState_CloseWhileOpening(t *testing.T) {
	require := require.New(t)

	var st AtomicOpState
	require.True(st.ToOpening())
	require.True(st.ToClosing())
	require.False(st.ToOpened())
	require.True(st.ToClosed())
}
