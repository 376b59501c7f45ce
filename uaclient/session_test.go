package uaclient

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-uaclient/remote/memserver"
	"github.com/arloliu/go-uaclient/ua"
)

func TestSessionManager_CreateAndClose(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	closed := make(chan SessionClosedEvent, 4)
	env.sessions.OnSessionClosed(func(e SessionClosedEvent) { closed <- e })

	conn := env.connect(t)
	sess, err := env.sessions.CreateSession(context.Background(), conn)
	require.NoError(err)
	require.Same(conn, sess.Connection())
	require.False(sess.IsClosed())
	require.Equal(OpenedState, sess.opState.Get())
	require.Equal(1, env.srv.SessionCount())

	prefix, id, ok := strings.Cut(sess.Name(), "go-uaclient-")
	require.True(ok)
	require.Empty(prefix)
	_, err = uuid.Parse(id)
	require.NoError(err)

	env.sessions.Close(context.Background(), sess)
	require.True(sess.IsClosed())
	require.Equal(ClosedState, sess.opState.Get())
	require.Equal(0, env.srv.SessionCount())
	require.Equal(0, conn.SessionCount())

	e := recv(t, closed)
	require.Equal(sess.ID(), e.SessionID)
	require.NoError(e.Err)

	// idempotent: no second event, no error
	env.sessions.Close(context.Background(), sess)
	env.sessions.Close(context.Background(), nil)
	noRecv(t, closed)

	metrics := env.connector.Metrics()
	require.Equal(uint64(1), metrics.SessionsOpened.Load())
	require.Equal(int64(0), metrics.SessionsActive.Load())
}

func TestSessionManager_NotConnected(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)

	// never connected
	conn := env.connector.NewConnection(testEndpoint)
	sess, err := env.sessions.CreateSession(context.Background(), conn)
	require.Nil(sess)
	require.ErrorIs(err, &SessionError{Reason: ReasonConnectionLost})
	require.ErrorIs(err, ErrNotConnected)

	_, err = env.sessions.CreateSession(context.Background(), nil)
	require.ErrorIs(err, &SessionError{Reason: ReasonConnectionLost})

	// disconnected
	conn = env.connect(t)
	require.NoError(conn.Disconnect(context.Background()))
	_, err = env.sessions.CreateSession(context.Background(), conn)
	require.ErrorIs(err, &SessionError{Reason: ReasonConnectionLost})

	require.Equal(0, env.srv.SessionCount())
}

func TestSessionManager_ChannelDropped(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	conn := env.connect(t)
	env.srv.DropConnections()

	// the client has not noticed yet, the server reports the loss
	_, err := env.sessions.CreateSession(context.Background(), conn)
	require.ErrorIs(err, &SessionError{Reason: ReasonConnectionLost})
}

func TestSessionManager_Timeout(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	conn := env.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := env.sessions.CreateSession(ctx, conn)
	require.ErrorIs(err, &SessionError{Reason: ReasonTimeout})
}

func TestSession_ClosedSessionRequests(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)
	env.sessions.Close(context.Background(), sess)

	_, err := env.browser.Browse(context.Background(), sess, ua.RootFolderID)
	require.ErrorIs(err, &BrowseError{Reason: ReasonConnectionLost})
	require.ErrorIs(err, ErrSessionClosed)

	_, err = env.reader.ReadValue(context.Background(), sess, memserver.TemperatureID)
	require.ErrorIs(err, &ReadError{Reason: ReasonConnectionLost})

	_, err = env.subs.Create(context.Background(), sess, ua.DefaultSubscriptionParameters())
	require.ErrorIs(err, &SubscriptionError{Reason: ReasonConnectionLost})
}

func TestSession_DisconnectedConnectionRequests(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)
	require.NoError(sess.Connection().Disconnect(context.Background()))

	_, err := env.browser.Browse(context.Background(), sess, ua.RootFolderID)
	require.ErrorIs(err, &BrowseError{Reason: ReasonConnectionLost})

	_, err = env.reader.Read(context.Background(), sess, memserver.TemperatureID, ua.AttributeValue)
	require.ErrorIs(err, &ReadError{Reason: ReasonConnectionLost})
}
