package uaclient

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arloliu/go-uaclient/internal/clock"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote/memserver"
	"github.com/arloliu/go-uaclient/ua"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testEndpoint = ua.MustParseEndpoint("mem://demo")

func testLogger() logger.Logger {
	return logger.NewSlogWithWriter(io.Discard, logger.ErrorLevel, false)
}

var testStrategy = ConnectStrategy{MaxRetry: 3, InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Second}

// testEnv wires every client component to one simulator sharing one fake clock.
type testEnv struct {
	clock     *clock.Fake
	srv       *memserver.Server
	cfg       *Config
	connector *Connector
	sessions  *SessionManager
	browser   *Browser
	reader    *Reader
	subs      *SubscriptionManager
	registry  *Registry
}

func newTestEnv(t *testing.T, srvOpts ...memserver.Option) *testEnv {
	t.Helper()

	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts := append([]memserver.Option{memserver.WithClock(fake), memserver.WithLogger(testLogger())}, srvOpts...)
	srv := memserver.New(opts...)

	cfg, err := NewConfig(WithClock(fake), WithLogger(testLogger()), WithConnectStrategy(testStrategy))
	require.NoError(t, err)

	connector, err := NewConnector(srv, cfg)
	require.NoError(t, err)

	env := &testEnv{
		clock:     fake,
		srv:       srv,
		cfg:       cfg,
		connector: connector,
		sessions:  NewSessionManager(cfg),
		browser:   NewBrowser(cfg),
		reader:    NewReader(cfg),
		subs:      NewSubscriptionManager(cfg),
		registry:  NewRegistry(cfg),
	}

	t.Cleanup(func() {
		srv.Close()
		env.connector.Close()
		env.sessions.Shutdown()
	})

	return env
}

func (env *testEnv) connect(t *testing.T) *Connection {
	t.Helper()

	conn, err := env.connector.Connect(context.Background(), testEndpoint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Disconnect(context.Background()) })

	return conn
}

func (env *testEnv) openSession(t *testing.T) *Session {
	t.Helper()

	sess, err := env.sessions.CreateSession(context.Background(), env.connect(t))
	require.NoError(t, err)

	return sess
}

// advance waits until n callers are blocked on the fake clock and then moves it forward by d.
func (env *testEnv) advance(t *testing.T, n int, d time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.clock.BlockUntil(ctx, n))
	env.clock.Advance(d)
}

// recv returns the next value of ch or fails the test after a timeout.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for value")
		var zero T
		return zero
	}
}

// noRecv asserts that ch stays silent for a short while.
func noRecv[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected value: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}
