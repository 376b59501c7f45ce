package uaclient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/internal/event"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
)

// SessionClosedEvent is published after a session was closed.
type SessionClosedEvent struct {
	SessionID remote.SessionID
	Name      string
	// Err is the error reported by the server while closing, if any. The session is closed regardless.
	Err error
}

// SessionManager creates and closes sessions.
type SessionManager struct {
	cfg    *Config
	logger logger.Logger
	closed *event.Bus[SessionClosedEvent]
}

// NewSessionManager creates a SessionManager. A nil cfg uses the default configuration.
func NewSessionManager(cfg *Config) *SessionManager {
	if cfg == nil {
		cfg, _ = NewConfig()
	}
	l := cfg.Logger().With("component", "session")

	return &SessionManager{
		cfg:    cfg,
		logger: l,
		closed: event.NewBus[SessionClosedEvent](context.Background(), "session-closed", l),
	}
}

// OnSessionClosed registers a handler invoked after a session was closed. It returns a function
// that unregisters the handler.
func (m *SessionManager) OnSessionClosed(h func(SessionClosedEvent)) (unregister func()) {
	return m.closed.Subscribe(h)
}

// Shutdown stops the event delivery after pending events were delivered.
// It must not be called from an event handler.
func (m *SessionManager) Shutdown() {
	m.closed.Close()
	m.closed.Wait()
}

// CreateSession creates and activates a session on conn.
//
// A nil, never connected or disconnected conn yields a *SessionError with ReasonConnectionLost
// without contacting the server.
func (m *SessionManager) CreateSession(ctx context.Context, conn *Connection) (*Session, error) {
	if conn == nil {
		return nil, &SessionError{Reason: ReasonConnectionLost, Err: ErrNotConnected}
	}

	ch, ok := conn.channelID()
	if !ok {
		return nil, &SessionError{Reason: ReasonConnectionLost, Err: ErrNotConnected}
	}

	name := m.cfg.SessionNamePrefix() + "-" + uuid.NewString()
	timeout := m.cfg.SessionTimeout()

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout())
	defer cancel()

	svc := conn.connector.svc
	sess := &Session{
		name:    name,
		timeout: timeout,
		conn:    conn,
		svc:     svc,
		mgr:     m,
		metrics: conn.connector.metrics,
		subs:    xsync.NewMapOf[remote.SubscriptionID, *Subscription](),
	}
	sess.opState.ToOpening()

	id, err := svc.CreateSession(reqCtx, ch, remote.SessionRequest{Name: name, Timeout: timeout})
	if err != nil {
		sess.opState.Set(ClosedState)
		m.logger.Debug("create session failed", "endpoint", conn.endpoint.String(), "error", err)
		return nil, &SessionError{Reason: requestReason(err), Err: err}
	}

	sess.id = id
	sess.logger = m.logger.With("session", id)
	sess.opState.ToOpened()

	if !conn.addSession(sess) {
		// the connection was closed while the request was in flight
		sess.opState.Set(ClosedState)
		_ = svc.CloseSession(context.WithoutCancel(ctx), id)
		return nil, &SessionError{Reason: ReasonConnectionLost, Err: ErrNotConnected}
	}

	sess.metrics.incSessions()
	sess.logger.Info("session created", "name", name)

	return sess, nil
}

// Close closes sess. It terminates the subscriptions of the session first.
// Close is idempotent and never fails: errors reported by the server are logged.
func (m *SessionManager) Close(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}
	sess.close(ctx)
}

// Session is a logical request context bound to one Connection.
type Session struct {
	id      remote.SessionID
	name    string
	timeout time.Duration
	conn    *Connection
	svc     remote.Service
	mgr     *SessionManager
	logger  logger.Logger
	metrics *Metrics
	opState AtomicOpState

	subs *xsync.MapOf[remote.SubscriptionID, *Subscription]
}

// ID returns the server-assigned session id.
func (s *Session) ID() remote.SessionID { return s.id }

// Name returns the generated session name.
func (s *Session) Name() string { return s.name }

// Connection returns the connection the session is bound to.
func (s *Session) Connection() *Connection { return s.conn }

// IsClosed returns if the session was closed.
func (s *Session) IsClosed() bool { return !s.opState.IsOpened() }

// Subscriptions returns the subscriptions of the session that are not terminated.
func (s *Session) Subscriptions() []*Subscription {
	subs := make([]*Subscription, 0, s.subs.Size())
	s.subs.Range(func(_ remote.SubscriptionID, sub *Subscription) bool {
		subs = append(subs, sub)
		return true
	})

	return subs
}

// usable returns nil if requests can be issued on the session.
func (s *Session) usable() error {
	if s == nil {
		return ErrSessionClosed
	}
	if !s.opState.IsOpened() {
		return ErrSessionClosed
	}
	if !s.conn.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.mgr.cfg.RequestTimeout())
}

func (s *Session) close(ctx context.Context) {
	if !s.opState.ToClosing() {
		return
	}

	s.subs.Range(func(_ remote.SubscriptionID, sub *Subscription) bool {
		if err := sub.Terminate(ctx); err != nil {
			s.logger.Warn("failed to delete subscription while closing session", "subscription", sub.ID(), "error", err)
		}
		return true
	})

	var err error
	if s.conn.IsConnected() {
		reqCtx, cancel := s.requestContext(ctx)
		err = s.svc.CloseSession(reqCtx, s.id)
		cancel()
	} else {
		err = ErrNotConnected
	}
	if err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Warn("close session failed", "error", err)
	}

	s.opState.ToClosed()
	s.conn.removeSession(s)
	s.metrics.decSessionsActive()
	s.logger.Info("session closed")

	s.mgr.closed.Publish(SessionClosedEvent{SessionID: s.id, Name: s.name, Err: err})
}

func (s *Session) addSubscription(sub *Subscription) bool {
	if !s.opState.IsOpened() {
		return false
	}
	s.subs.Store(sub.id, sub)

	// close raced with the store
	if !s.opState.IsOpened() {
		s.subs.Delete(sub.id)
		return false
	}

	return true
}

func (s *Session) removeSubscription(sub *Subscription) {
	s.subs.Compute(sub.id, func(cur *Subscription, loaded bool) (*Subscription, bool) {
		if !loaded || cur != sub {
			return cur, !loaded
		}
		return nil, true
	})
}
