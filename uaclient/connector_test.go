package uaclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/remote/memserver"
	"github.com/arloliu/go-uaclient/ua"
)

var errHandshake = errors.New("handshake failed")

type backoffRecorder struct {
	mu     sync.Mutex
	events []BackoffEvent
}

func (r *backoffRecorder) record(e BackoffEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *backoffRecorder) snapshot() []BackoffEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BackoffEvent(nil), r.events...)
}

type openResult struct {
	conn *Connection
	err  error
}

// connectWithFailures runs Connect against a simulator that fails the first `failures`
// attempts, advancing the fake clock through every backoff wait.
func connectWithFailures(t *testing.T, strategy ConnectStrategy, failures int) (*testEnv, openResult, []BackoffEvent) {
	t.Helper()

	env := newTestEnv(t)
	require.NoError(t, env.cfg.Update(WithConnectStrategy(strategy)))

	errs := make([]error, failures)
	for i := range errs {
		errs[i] = errHandshake
	}
	env.srv.FailConnects(errs...)

	rec := &backoffRecorder{}
	env.connector.OnBackoff(rec.record)

	done := make(chan openResult, 1)
	go func() {
		conn, err := env.connector.Connect(context.Background(), testEndpoint)
		done <- openResult{conn, err}
	}()

	waits := min(failures, strategy.MaxRetry)
	for i := 0; i < waits; i++ {
		env.advance(t, 1, strategy.Delay(i))
	}

	res := recv(t, done)
	if res.conn != nil {
		t.Cleanup(func() { _ = res.conn.Disconnect(context.Background()) })
	}

	// Connect returns only after the handlers saw every backoff event
	return env, res, rec.snapshot()
}

func TestConnector_RetryThenSucceed(t *testing.T) {
	for n := 0; n <= 3; n++ {
		for k := 0; k <= n; k++ {
			t.Run(fmt.Sprintf("maxRetry=%d/failures=%d", n, k), func(t *testing.T) {
				require := require.New(t)

				strategy := ConnectStrategy{MaxRetry: n, InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Second}
				env, res, events := connectWithFailures(t, strategy, k)

				require.NoError(res.err)
				require.True(res.conn.IsConnected())
				require.Equal(k+1, env.srv.ConnectAttempts())
				require.Len(events, k)
				for i, e := range events {
					require.Equal(i+1, e.Attempt)
					require.Equal(BackoffDelay(i, strategy.InitialDelay, strategy.MaxDelay), e.Delay)
					require.ErrorIs(e.Err, errHandshake)
					require.Equal(testEndpoint, e.Endpoint)
				}
				require.Equal(uint64(k), env.connector.Metrics().BackoffCount.Load())
				require.Equal(uint32(0), env.connector.Metrics().ConnRetryGauge.Load())
			})
		}
	}
}

func TestConnector_ExhaustedRetries(t *testing.T) {
	for n := 0; n <= 3; n++ {
		t.Run(fmt.Sprintf("maxRetry=%d", n), func(t *testing.T) {
			require := require.New(t)

			strategy := ConnectStrategy{MaxRetry: n, InitialDelay: time.Second, MaxDelay: 3 * time.Second}
			env, res, events := connectWithFailures(t, strategy, n+5)

			require.Nil(res.conn)
			require.ErrorIs(res.err, &ConnectionError{Reason: ReasonExhaustedRetries})
			require.ErrorIs(res.err, errHandshake)

			var connErr *ConnectionError
			require.ErrorAs(res.err, &connErr)
			require.Equal(n+1, connErr.Attempts)
			require.Equal(n+1, env.srv.ConnectAttempts())
			require.Len(events, n)
			for i, e := range events {
				require.Equal(strategy.Delay(i), e.Delay)
			}
		})
	}
}

func TestConnector_StateChanges(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	env.srv.FailConnects(errHandshake)

	var mu sync.Mutex
	var states []ConnState
	conn := env.connector.NewConnection(testEndpoint)
	conn.AddStateHandler(func(_ *Connection, _ ConnState, newState ConnState) {
		mu.Lock()
		states = append(states, newState)
		mu.Unlock()
	})
	require.Equal(DisconnectedState, conn.State())

	done := make(chan error, 1)
	go func() { done <- conn.Open(context.Background()) }()

	env.advance(t, 1, testStrategy.Delay(0))
	require.NoError(recv(t, done))
	require.NoError(conn.Open(context.Background()), "open on a connected connection is a no-op")

	require.NoError(conn.Disconnect(context.Background()))
	require.NoError(conn.Disconnect(context.Background()))
	require.Equal(0, env.srv.ChannelCount())

	mu.Lock()
	defer mu.Unlock()
	require.Equal([]ConnState{ConnectingState, BackingOffState, ConnectingState, ConnectedState, DisconnectedState}, states)
}

func TestConnector_EndpointMismatch(t *testing.T) {
	t.Run("Refused", func(t *testing.T) {
		require := require.New(t)

		env := newTestEnv(t, memserver.WithEndpointURL("mem://elsewhere"))
		conn, err := env.connector.Connect(context.Background(), testEndpoint)
		require.Nil(conn)
		require.ErrorIs(err, &ConnectionError{Reason: ReasonRefused})
		require.ErrorIs(err, remote.ErrEndpointMismatch)
		require.Equal(1, env.srv.ConnectAttempts(), "a mismatch is not retried")
	})

	t.Run("Allowed", func(t *testing.T) {
		require := require.New(t)

		env := newTestEnv(t, memserver.WithEndpointURL("mem://elsewhere"))
		strategy := testStrategy
		strategy.AllowEndpointMismatch = true
		require.NoError(env.cfg.Update(WithConnectStrategy(strategy)))

		conn := env.connect(t)
		require.True(conn.IsConnected())
	})
}

func TestConnector_InvalidEndpointNotRetried(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	env.srv.FailConnects(ua.StatusBadTCPEndpointURLInvalid)

	_, err := env.connector.Connect(context.Background(), testEndpoint)
	require.ErrorIs(err, &ConnectionError{Reason: ReasonRefused})
	require.Equal(1, env.srv.ConnectAttempts())
}

func TestConnector_DisconnectCancelsBackoff(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	env.srv.FailConnects(errHandshake, errHandshake)

	conn := env.connector.NewConnection(testEndpoint)
	done := make(chan error, 1)
	go func() { done <- conn.Open(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(env.clock.BlockUntil(ctx, 1))
	require.Equal(BackingOffState, conn.State())
	require.ErrorIs(conn.Open(context.Background()), ErrConnectInProgress)

	require.NoError(conn.Disconnect(context.Background()))

	err := recv(t, done)
	require.ErrorIs(err, &ConnectionError{Reason: ReasonCanceled})
	require.ErrorIs(err, context.Canceled)
	require.Equal(DisconnectedState, conn.State())
	require.Equal(1, env.srv.ConnectAttempts())
}

func TestConnector_ContextTimeout(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	env.srv.FailConnects(errHandshake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// the backoff wait on the fake clock never ends, the deadline does
	_, err := env.connector.Connect(ctx, testEndpoint)
	require.ErrorIs(err, &ConnectionError{Reason: ReasonTimeout})
	require.ErrorIs(err, errHandshake)
}

func TestConnector_DisconnectClosesSessions(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	conn := env.connect(t)

	sess1, err := env.sessions.CreateSession(context.Background(), conn)
	require.NoError(err)
	sess2, err := env.sessions.CreateSession(context.Background(), conn)
	require.NoError(err)
	require.Equal(2, conn.SessionCount())
	require.Equal(2, env.srv.SessionCount())

	require.NoError(conn.Disconnect(context.Background()))
	require.True(sess1.IsClosed())
	require.True(sess2.IsClosed())
	require.Equal(0, conn.SessionCount())
	require.Equal(0, env.srv.SessionCount())
	require.Equal(0, env.srv.ChannelCount())
	require.Equal(int64(0), env.connector.Metrics().SessionsActive.Load())
}

func TestNewConnector(t *testing.T) {
	require := require.New(t)

	_, err := NewConnector(nil, nil)
	require.ErrorIs(err, ErrServiceNil)

	srv := memserver.New(memserver.WithLogger(testLogger()))
	defer srv.Close()

	c, err := NewConnector(srv, nil)
	require.NoError(err)
	defer c.Close()
	require.Equal(DefaultConnectStrategy(), c.Config().ConnectStrategy())
}
