package uaclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/internal/event"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// backoffFlushTimeout bounds how long Open waits for backoff handlers before it returns.
const backoffFlushTimeout = time.Second

// BackoffEvent is published before each wait between two connect attempts.
type BackoffEvent struct {
	Endpoint ua.Endpoint
	// Attempt is the number of the retry that follows the wait, starting at 1.
	Attempt int
	// Delay is the wait before the retry.
	Delay time.Duration
	// Err is the error of the failed attempt.
	Err error
}

// Connector establishes connections to OPC UA endpoints through a remote.Service.
//
// A Connector owns the metrics and the backoff event delivery of every connection it creates.
// Close it when it is no longer used.
type Connector struct {
	svc      remote.Service
	cfg      *Config
	logger   logger.Logger
	metrics  *Metrics
	backoffs *event.Bus[BackoffEvent]
}

// NewConnector creates a Connector that talks to svc. A nil cfg uses the default configuration.
func NewConnector(svc remote.Service, cfg *Config) (*Connector, error) {
	if svc == nil {
		return nil, ErrServiceNil
	}

	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	l := cfg.Logger().With("component", "connector")

	return &Connector{
		svc:      svc,
		cfg:      cfg,
		logger:   l,
		metrics:  &Metrics{},
		backoffs: event.NewBus[BackoffEvent](context.Background(), "backoff", l),
	}, nil
}

// Config returns the configuration of the connector.
func (c *Connector) Config() *Config {
	return c.cfg
}

// Metrics returns the metrics shared by the connections created by this connector.
func (c *Connector) Metrics() *Metrics {
	return c.metrics
}

// OnBackoff registers a handler invoked for every backoff wait. Handlers run asynchronously, in
// publication order, and never delay the connect cycle. It returns a function that unregisters
// the handler.
func (c *Connector) OnBackoff(h func(BackoffEvent)) (unregister func()) {
	return c.backoffs.Subscribe(h)
}

// Close stops the backoff event delivery after pending events were delivered.
// It must not be called from a backoff handler.
func (c *Connector) Close() {
	c.backoffs.Close()
	c.backoffs.Wait()
}

// NewConnection creates a connection to endpoint in DisconnectedState. Call Open to connect it.
func (c *Connector) NewConnection(endpoint ua.Endpoint) *Connection {
	conn := &Connection{
		connector: c,
		endpoint:  endpoint,
		logger:    c.logger.With("endpoint", endpoint.String()),
		sessions:  xsync.NewMapOf[remote.SessionID, *Session](),
	}
	conn.stateMgr = NewConnStateMgr(conn, conn.logger)

	return conn
}

// Connect creates a connection to endpoint and opens it with the configured strategy.
func (c *Connector) Connect(ctx context.Context, endpoint ua.Endpoint) (*Connection, error) {
	conn := c.NewConnection(endpoint)
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}

	return conn, nil
}

// Connection is a transport channel to one endpoint.
//
// Sessions created on a connection are closed by Disconnect before the channel is closed.
type Connection struct {
	connector *Connector
	endpoint  ua.Endpoint
	logger    logger.Logger
	stateMgr  *ConnStateMgr

	openMu sync.Mutex // serializes Open and Disconnect

	mu         sync.Mutex
	channel    remote.ChannelID
	closing    bool
	cancelOpen context.CancelFunc

	sessions *xsync.MapOf[remote.SessionID, *Session]
}

// Endpoint returns the endpoint of the connection.
func (c *Connection) Endpoint() ua.Endpoint {
	return c.endpoint
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	return c.stateMgr.State()
}

// IsConnected returns if the connection is open.
func (c *Connection) IsConnected() bool {
	return c.stateMgr.IsConnected()
}

// AddStateHandler adds handlers invoked on every state change of this connection.
func (c *Connection) AddStateHandler(handlers ...ConnStateChangeHandler) {
	c.stateMgr.AddHandler(handlers...)
}

// WaitState waits until the connection reaches state or ctx is done.
func (c *Connection) WaitState(ctx context.Context, state ConnState) error {
	return c.stateMgr.WaitState(ctx, state)
}

// Open connects to the endpoint. A failed attempt is retried up to MaxRetry times with an
// exponential backoff wait in between; a BackoffEvent is published before each wait.
//
// Open returns nil if the connection is already connected, and ErrConnectInProgress if another
// Open call is running. Failures are reported as *ConnectionError.
//
// When Open returns, the registered backoff handlers have seen every BackoffEvent it published,
// unless they took longer than backoffFlushTimeout.
func (c *Connection) Open(ctx context.Context) error {
	if !c.openMu.TryLock() {
		return ErrConnectInProgress
	}
	defer c.openMu.Unlock()

	if c.stateMgr.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.closing = false
	c.cancelOpen = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancelOpen = nil
		c.mu.Unlock()
	}()

	if err := c.stateMgr.ToConnecting(); err != nil {
		return err
	}

	cfg := c.connector.cfg
	metrics := c.connector.metrics
	strategy := cfg.ConnectStrategy()

	var lastErr error
	attempts := 0
	for {
		attempts++
		ch, err := c.tryConnect(ctx, strategy)
		if err == nil {
			c.mu.Lock()
			c.channel = ch
			c.mu.Unlock()

			metrics.resetConnRetryGauge()
			metrics.incConnectCount()
			if err := c.stateMgr.ToConnected(); err != nil {
				c.logger.Error("failed to enter connected state", "state", c.stateMgr.State(), "error", err)
			}
			c.logger.Info("connected", "channel", ch, "attempts", attempts)
			c.flushBackoffs(ctx, attempts)

			return nil
		}

		lastErr = err
		c.logger.Debug("connect attempt failed", "attempt", attempts, "error", err)

		if ctx.Err() != nil || !isRetryable(err) {
			break
		}

		retry := attempts - 1
		if retry >= strategy.MaxRetry {
			break
		}

		delay := strategy.Delay(retry)
		metrics.incConnRetryGauge()
		metrics.incBackoffCount()
		if err := c.stateMgr.ToBackingOff(); err != nil {
			break
		}

		c.logger.Info("retrying connection", "retry", retry+1, "delay", delay, "error", err)
		c.connector.backoffs.Publish(BackoffEvent{
			Endpoint: c.endpoint,
			Attempt:  retry + 1,
			Delay:    delay,
			Err:      err,
		})

		if err := cfg.Clock().Sleep(ctx, delay); err != nil {
			break
		}

		if err := c.stateMgr.ToConnecting(); err != nil {
			// disconnected while backing off
			break
		}
	}

	c.stateMgr.ToDisconnected()
	metrics.resetConnRetryGauge()

	connErr := c.connectError(ctx, attempts, lastErr)
	c.logger.Warn("connect failed", "attempts", attempts, "reason", connErr.Reason, "error", lastErr)
	c.flushBackoffs(ctx, attempts)

	return connErr
}

// flushBackoffs waits until the backoff events of this Open were delivered.
func (c *Connection) flushBackoffs(ctx context.Context, attempts int) {
	if attempts < 2 || c.connector.backoffs.HandlerCount() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backoffFlushTimeout)
	defer cancel()

	if err := c.connector.backoffs.Flush(ctx); err != nil {
		c.logger.Warn("backoff handlers are slow", "error", err)
	}
}

// tryConnect runs one connect attempt bounded by the connect timeout.
func (c *Connection) tryConnect(ctx context.Context, strategy ConnectStrategy) (remote.ChannelID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.connector.cfg.ConnectTimeout())
	defer cancel()

	return c.connector.svc.Connect(ctx, c.endpoint, remote.ConnectOptions{
		Security:              ua.NoSecurity,
		AllowEndpointMismatch: strategy.AllowEndpointMismatch,
	})
}

func (c *Connection) connectError(ctx context.Context, attempts int, lastErr error) *ConnectionError {
	connErr := &ConnectionError{
		Reason:   ReasonExhaustedRetries,
		Endpoint: c.endpoint.String(),
		Attempts: attempts,
		Err:      lastErr,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		connErr.Reason = ReasonCanceled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			connErr.Reason = ReasonTimeout
		}
		if lastErr == nil || errors.Is(lastErr, ctxErr) {
			connErr.Err = ctxErr
		} else {
			connErr.Err = fmt.Errorf("%w: %w", ctxErr, lastErr)
		}

		return connErr
	}

	if !isRetryable(lastErr) {
		connErr.Reason = ReasonRefused
	}

	return connErr
}

// isRetryable reports whether another connect attempt can succeed where this one failed.
func isRetryable(err error) bool {
	if errors.Is(err, remote.ErrEndpointMismatch) {
		return false
	}

	code, ok := statusOf(err)

	return !ok || code.Code() != ua.StatusBadTCPEndpointURLInvalid
}

// Disconnect closes the sessions still open on the connection and then the channel.
// Disconnect is idempotent: it returns nil if the connection is already disconnected.
// A running Open is canceled.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	if c.cancelOpen != nil {
		c.cancelOpen()
	}
	c.mu.Unlock()

	c.openMu.Lock()
	defer c.openMu.Unlock()

	if !c.stateMgr.IsConnected() {
		c.stateMgr.ToDisconnected()
		return nil
	}

	c.sessions.Range(func(_ remote.SessionID, sess *Session) bool {
		sess.close(ctx)
		return true
	})

	c.mu.Lock()
	ch := c.channel
	c.channel = 0
	c.mu.Unlock()

	err := c.connector.svc.Disconnect(ctx, ch)
	if err != nil {
		c.logger.Warn("failed to close channel", "channel", ch, "error", err)
	}

	c.stateMgr.ToDisconnected()
	c.logger.Info("disconnected", "channel", ch)

	return err
}

// channelID returns the channel of a connected connection.
func (c *Connection) channelID() (remote.ChannelID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing || !c.stateMgr.IsConnected() {
		return 0, false
	}

	return c.channel, true
}

// addSession registers sess unless the connection is closing.
func (c *Connection) addSession(sess *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing || !c.stateMgr.IsConnected() {
		return false
	}
	c.sessions.Store(sess.id, sess)

	return true
}

func (c *Connection) removeSession(sess *Session) {
	c.sessions.Compute(sess.id, func(cur *Session, loaded bool) (*Session, bool) {
		if !loaded || cur != sess {
			return cur, !loaded
		}
		return nil, true
	})
}

// SessionCount returns the number of open sessions on the connection.
func (c *Connection) SessionCount() int {
	return c.sessions.Size()
}
