package uaclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnStateTransitions(t *testing.T) {
	require := require.New(t)

	t.Run("Initial State", func(t *testing.T) {
		cs := NewConnStateMgr(nil, testLogger())
		require.Equal(DisconnectedState, cs.State())
		require.True(cs.State().IsDisconnected())
	})

	t.Run("Connect Cycle", func(t *testing.T) {
		var changes [][2]ConnState
		cs := NewConnStateMgr(nil, testLogger())
		cs.AddHandler(func(_ *Connection, prevState ConnState, newState ConnState) {
			changes = append(changes, [2]ConnState{prevState, newState})
		})

		require.NoError(cs.ToConnecting())
		require.NoError(cs.ToBackingOff())
		require.True(cs.State().IsBackingOff())
		require.NoError(cs.ToConnecting())
		require.NoError(cs.ToConnected())
		require.True(cs.IsConnected())

		// no-op when already connected
		require.NoError(cs.ToConnected())

		require.True(cs.ToDisconnected())
		require.False(cs.ToDisconnected())

		require.Equal([][2]ConnState{
			{DisconnectedState, ConnectingState},
			{ConnectingState, BackingOffState},
			{BackingOffState, ConnectingState},
			{ConnectingState, ConnectedState},
			{ConnectedState, DisconnectedState},
		}, changes)
	})

	t.Run("Invalid Transitions", func(t *testing.T) {
		cs := NewConnStateMgr(nil, testLogger())
		require.ErrorIs(cs.ToConnected(), ErrInvalidTransition)
		require.ErrorIs(cs.ToBackingOff(), ErrInvalidTransition)

		require.NoError(cs.ToConnecting())
		require.NoError(cs.ToConnected())
		require.ErrorIs(cs.ToConnecting(), ErrInvalidTransition)
		require.ErrorIs(cs.ToBackingOff(), ErrInvalidTransition)
		require.Equal(ConnectedState, cs.State())
	})

	t.Run("String", func(t *testing.T) {
		require.Equal("disconnected", DisconnectedState.String())
		require.Equal("connecting", ConnectingState.String())
		require.Equal("connected", ConnectedState.String())
		require.Equal("backing-off", BackingOffState.String())
		require.Equal("unknown", ConnState(99).String())
	})
}

func TestWaitConnState(t *testing.T) {
	require := require.New(t)

	cs := NewConnStateMgr(nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(cs.WaitState(ctx, ConnectedState), context.DeadlineExceeded)

	// already in the desired state
	require.NoError(cs.WaitState(context.Background(), DisconnectedState))

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- cs.WaitState(ctx, ConnectedState)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(cs.ToConnecting())
	require.NoError(cs.ToConnected())
	require.NoError(recv(t, done))
}

func TestOpState(t *testing.T) {
	require := require.New(t)

	var st AtomicOpState
	require.True(st.IsClosed())
	require.False(st.ToClosing())

	require.True(st.ToOpening())
	require.False(st.ToOpening())
	require.True(st.ToOpened())
	require.True(st.ToOpened())
	require.Equal("opened", st.String())

	require.True(st.ToClosing())
	require.False(st.ToClosing())
	require.True(st.ToClosed())
	require.True(st.IsClosed())
}
