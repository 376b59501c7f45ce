package uaclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/internal/clock"
	"github.com/arloliu/go-uaclient/internal/event"
	"github.com/arloliu/go-uaclient/internal/idgen"
	"github.com/arloliu/go-uaclient/internal/task"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// SubscriptionState is the lifecycle state of a subscription.
type SubscriptionState uint32

const (
	// SubscriptionCreated means the server created the subscription but no publish message arrived yet.
	SubscriptionCreated SubscriptionState = iota
	// SubscriptionStarted means publish messages arrive and the last one carried data.
	SubscriptionStarted
	// SubscriptionKeepAlive means the last publish message was a keepalive.
	SubscriptionKeepAlive
	// SubscriptionTerminated is absorbing.
	SubscriptionTerminated
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionCreated:
		return "created"
	case SubscriptionStarted:
		return "started"
	case SubscriptionKeepAlive:
		return "keepalive"
	case SubscriptionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminateCause tells why a subscription was terminated.
type TerminateCause uint8

const (
	CauseNone TerminateCause = iota
	// CauseExplicit is an explicit Terminate call, including the one issued by session close.
	CauseExplicit
	// CauseSessionLost means the publish stream ended without a status change, e.g. the
	// connection dropped or the server closed the session.
	CauseSessionLost
	// CauseServerExpired means the server reported the end of the subscription, usually
	// because its lifetime counter expired.
	CauseServerExpired
	// CauseLifetimeExpired means no publish message arrived within the revised lifetime.
	CauseLifetimeExpired
)

func (c TerminateCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseExplicit:
		return "explicit"
	case CauseSessionLost:
		return "session-lost"
	case CauseServerExpired:
		return "server-expired"
	case CauseLifetimeExpired:
		return "lifetime-expired"
	default:
		return "unknown"
	}
}

// StartedEvent is published once, when the first publish message of a subscription arrives.
type StartedEvent struct {
	SubscriptionID remote.SubscriptionID
	Revised        ua.SubscriptionParameters
	Time           time.Time
}

// KeepAliveEvent is published for every publish message without notifications.
type KeepAliveEvent struct {
	SubscriptionID remote.SubscriptionID
	Sequence       uint32
	Time           time.Time
}

// TerminatedEvent is published once, when the subscription terminates.
type TerminatedEvent struct {
	SubscriptionID remote.SubscriptionID
	Cause          TerminateCause
	// Err is the status reported by the server or the loss that ended the subscription.
	// It is nil for an explicit termination.
	Err  error
	Time time.Time
}

// CreateOption registers lifecycle handlers before the publish loop of a new subscription
// starts, so no event can be missed.
type CreateOption func(*Subscription)

// WithOnStarted registers a started handler at creation.
func WithOnStarted(h func(StartedEvent)) CreateOption {
	return func(s *Subscription) { s.OnStarted(h) }
}

// WithOnKeepAlive registers a keepalive handler at creation.
func WithOnKeepAlive(h func(KeepAliveEvent)) CreateOption {
	return func(s *Subscription) { s.OnKeepAlive(h) }
}

// WithOnTerminated registers a terminated handler at creation.
func WithOnTerminated(h func(TerminatedEvent)) CreateOption {
	return func(s *Subscription) { s.OnTerminated(h) }
}

// SubscriptionManager creates and terminates subscriptions.
type SubscriptionManager struct {
	cfg    *Config
	logger logger.Logger
}

// NewSubscriptionManager creates a SubscriptionManager. A nil cfg uses the default configuration.
func NewSubscriptionManager(cfg *Config) *SubscriptionManager {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	return &SubscriptionManager{cfg: cfg, logger: cfg.Logger().With("component", "subscription")}
}

// Create creates a subscription on sess.
//
// Parameters are validated first: a lifetime count that does not exceed the keepalive count
// yields a *SubscriptionError with ReasonInvalidTiming without contacting the server.
func (m *SubscriptionManager) Create(ctx context.Context, sess *Session, params ua.SubscriptionParameters, opts ...CreateOption) (*Subscription, error) {
	if err := params.Validate(); err != nil {
		return nil, &SubscriptionError{Reason: ReasonInvalidTiming, Err: err}
	}

	if err := sess.usable(); err != nil {
		return nil, &SubscriptionError{Reason: ReasonConnectionLost, Err: err}
	}

	reqCtx, cancel := sess.requestContext(ctx)
	defer cancel()

	res, err := sess.svc.CreateSubscription(reqCtx, sess.id, params)
	if err != nil {
		return nil, &SubscriptionError{Reason: requestReason(err), Err: err}
	}

	sub := &Subscription{
		id:        res.ID,
		sess:      sess,
		requested: params,
		revised:   res.Revised,
		publish:   res.Publish,
		clock:     m.cfg.Clock(),
		logger:    sess.logger.With("subscription", res.ID),
		metrics:   sess.metrics,
		items:     xsync.NewMapOf[uint32, *MonitoredItem](),
		handles:   idgen.NewSequential(),
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	sub.taskMgr = task.NewManager(context.Background(), sub.logger)
	sub.events = event.NewBus[any](context.Background(), fmt.Sprintf("subscription-%d", res.ID), sub.logger)
	sub.lastPublish.Store(sub.clock.Now().UnixNano())

	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}

	// terminate decrements the gauge, so it is counted before the subscription can terminate
	sub.metrics.incSubscriptionsActive()
	if !sess.addSubscription(sub) {
		sub.terminate(CauseSessionLost, ErrSessionClosed)
		_ = sub.deleteRemote(context.WithoutCancel(ctx))

		return nil, &SubscriptionError{Reason: ReasonConnectionLost, SubscriptionID: res.ID, Err: ErrSessionClosed}
	}

	if err := sub.taskMgr.Go("publishLoop", sub.publishLoop); err != nil {
		sub.terminate(CauseSessionLost, err)
		return nil, &SubscriptionError{Reason: ReasonTerminated, SubscriptionID: res.ID, Err: err}
	}

	sub.logger.Info("subscription created",
		"publishingInterval", res.Revised.PublishingInterval,
		"lifetimeCount", res.Revised.LifetimeCount,
		"maxKeepAliveCount", res.Revised.MaxKeepAliveCount,
	)

	return sub, nil
}

// Terminate terminates sub and deletes it on the server. It is idempotent and safe to call
// before any notification arrived. Only the first call contacts the server; its error is returned.
func (m *SubscriptionManager) Terminate(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	return sub.Terminate(ctx)
}

// Subscription is a server-side subscription owned by one Session.
type Subscription struct {
	id        remote.SubscriptionID
	sess      *Session
	requested ua.SubscriptionParameters
	revised   ua.SubscriptionParameters
	publish   <-chan remote.PublishMessage
	clock     clock.Clock
	logger    logger.Logger
	metrics   *Metrics

	state       atomic.Uint32
	lastPublish atomic.Int64
	items       *xsync.MapOf[uint32, *MonitoredItem] // by client handle
	handles     *idgen.Generator

	taskMgr *task.Manager
	events  *event.Bus[any]
	// emitMu orders the publish-side events before the terminated event
	emitMu sync.Mutex

	started chan struct{}
	done    chan struct{}
	// cause and termErr are written before done is closed
	cause   TerminateCause
	termErr error
}

// ID returns the server-assigned subscription id.
func (s *Subscription) ID() remote.SubscriptionID { return s.id }

// Session returns the owning session.
func (s *Subscription) Session() *Session { return s.sess }

// Parameters returns the timing parameters revised by the server.
func (s *Subscription) Parameters() ua.SubscriptionParameters { return s.revised }

// Requested returns the timing parameters given to Create.
func (s *Subscription) Requested() ua.SubscriptionParameters { return s.requested }

// State returns the current lifecycle state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// IsTerminated returns if the subscription is terminated.
func (s *Subscription) IsTerminated() bool {
	return s.State() == SubscriptionTerminated
}

// Done returns a channel that is closed when the subscription terminates.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cause returns why the subscription terminated, or CauseNone while it is active.
func (s *Subscription) Cause() TerminateCause {
	select {
	case <-s.done:
		return s.cause
	default:
		return CauseNone
	}
}

// Items returns the monitored items of the subscription.
func (s *Subscription) Items() []*MonitoredItem {
	items := make([]*MonitoredItem, 0, s.items.Size())
	s.items.Range(func(_ uint32, item *MonitoredItem) bool {
		items = append(items, item)
		return true
	})

	return items
}

// WaitStarted blocks until the first publish message arrived. It returns a *SubscriptionError
// with ReasonTerminated if the subscription terminates first.
func (s *Subscription) WaitStarted(ctx context.Context) error {
	select {
	case <-s.started:
		return nil
	case <-s.done:
		return s.terminatedError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStarted registers a handler for the started event. It returns a function that unregisters it.
func (s *Subscription) OnStarted(h func(StartedEvent)) (unregister func()) {
	return subscribeTyped(s.events, h)
}

// OnKeepAlive registers a handler for keepalive events. It returns a function that unregisters it.
func (s *Subscription) OnKeepAlive(h func(KeepAliveEvent)) (unregister func()) {
	return subscribeTyped(s.events, h)
}

// OnTerminated registers a handler for the terminated event. It returns a function that unregisters it.
func (s *Subscription) OnTerminated(h func(TerminatedEvent)) (unregister func()) {
	return subscribeTyped(s.events, h)
}

func subscribeTyped[E any](bus *event.Bus[any], h func(E)) func() {
	if h == nil {
		return func() {}
	}

	return bus.Subscribe(func(e any) {
		if ev, ok := e.(E); ok {
			h(ev)
		}
	})
}

// Terminate ends the subscription: its monitored items stop delivering, buffered notifications
// are discarded and the terminated event is published. Terminate is idempotent; only the first
// call deletes the subscription on the server and may return an error.
func (s *Subscription) Terminate(ctx context.Context) error {
	if !s.terminate(CauseExplicit, nil) {
		return nil
	}
	s.taskMgr.Wait()

	if err := s.deleteRemote(ctx); err != nil {
		return &SubscriptionError{Reason: requestReason(err), SubscriptionID: s.id, Err: err}
	}

	return nil
}

func (s *Subscription) terminatedError() error {
	return &SubscriptionError{Reason: ReasonTerminated, SubscriptionID: s.id, Err: ErrSubscriptionTerminated}
}

// terminate moves the subscription to the terminated state. It returns false if it was
// already terminated.
func (s *Subscription) terminate(cause TerminateCause, err error) bool {
	for {
		cur := s.state.Load()
		if SubscriptionState(cur) == SubscriptionTerminated {
			return false
		}
		if s.state.CompareAndSwap(cur, uint32(SubscriptionTerminated)) {
			break
		}
	}

	s.cause = cause
	s.termErr = err

	s.items.Range(func(_ uint32, item *MonitoredItem) bool {
		item.end()
		return true
	})
	s.items.Clear()

	s.sess.removeSubscription(s)
	s.taskMgr.Stop()
	s.metrics.decSubscriptionsActive()

	if err != nil {
		s.logger.Warn("subscription terminated", "cause", cause, "error", err)
	} else {
		s.logger.Info("subscription terminated", "cause", cause)
	}

	s.emitMu.Lock()
	s.events.Publish(TerminatedEvent{SubscriptionID: s.id, Cause: cause, Err: err, Time: s.clock.Now()})
	s.events.Close()
	s.emitMu.Unlock()
	close(s.done)

	return true
}

// deleteRemote deletes the subscription on the server if the session is still usable.
func (s *Subscription) deleteRemote(ctx context.Context) error {
	if !s.sess.conn.IsConnected() {
		return nil
	}

	reqCtx, cancel := s.sess.requestContext(ctx)
	defer cancel()

	err := s.sess.svc.DeleteSubscription(reqCtx, s.id)
	if code, ok := statusOf(err); ok && code.Code() == ua.StatusBadSubscriptionIDInvalid {
		// already gone on the server
		return nil
	}

	return err
}

// publishLoop consumes publish messages until the subscription terminates. It also watches
// the revised lifetime: if no message arrives within it, the subscription is terminated.
func (s *Subscription) publishLoop(ctx context.Context) {
	lifetime := s.revised.LifetimeInterval()
	watchdog := s.clock.After(lifetime)

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-s.publish:
			if !ok {
				s.terminate(CauseSessionLost, remote.ErrChannelClosed)
				return
			}
			if !s.handlePublish(msg) {
				return
			}

		case <-watchdog:
			idle := s.clock.Now().Sub(time.Unix(0, s.lastPublish.Load()))
			if idle < lifetime {
				watchdog = s.clock.After(lifetime - idle)
				continue
			}

			if s.terminate(CauseLifetimeExpired, ua.StatusBadTimeout) {
				if err := s.deleteRemote(context.Background()); err != nil {
					s.logger.Debug("delete expired subscription failed", "error", err)
				}
			}

			return
		}
	}
}

// handlePublish processes one publish message and reports whether the loop continues.
func (s *Subscription) handlePublish(msg remote.PublishMessage) bool {
	now := s.clock.Now()
	s.lastPublish.Store(now.UnixNano())

	if msg.Status.IsBad() {
		s.terminate(CauseServerExpired, msg.Status)
		return false
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.IsTerminated() {
		return false
	}

	if s.state.CompareAndSwap(uint32(SubscriptionCreated), uint32(SubscriptionStarted)) {
		close(s.started)
		s.logger.Info("subscription started")
		s.events.Publish(StartedEvent{SubscriptionID: s.id, Revised: s.revised, Time: now})
	}

	if len(msg.Notifications) == 0 {
		if !s.state.CompareAndSwap(uint32(SubscriptionStarted), uint32(SubscriptionKeepAlive)) && s.IsTerminated() {
			return false
		}
		s.metrics.incKeepAliveCount()
		s.logger.Debug("keepalive", "sequence", msg.Sequence)
		s.events.Publish(KeepAliveEvent{SubscriptionID: s.id, Sequence: msg.Sequence, Time: now})

		return true
	}

	s.state.CompareAndSwap(uint32(SubscriptionKeepAlive), uint32(SubscriptionStarted))

	for _, n := range msg.Notifications {
		item, ok := s.items.Load(n.ClientHandle)
		if !ok {
			s.logger.Debug("notification for unknown client handle", "handle", n.ClientHandle)
			continue
		}
		s.metrics.incNotificationRecvCount()
		item.push(ChangeNotification{
			ItemID:      item.ID(),
			NodeID:      item.target.NodeID,
			Value:       n.Value,
			Sequence:    msg.Sequence,
			DeliveredAt: now,
		})
	}

	return !s.IsTerminated()
}
