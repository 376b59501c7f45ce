package uaclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-uaclient/internal/queue"
	"github.com/arloliu/go-uaclient/internal/task"
	"github.com/arloliu/go-uaclient/internal/util"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// ChangeNotification is one value update delivered for a monitored item.
type ChangeNotification struct {
	ItemID remote.MonitoredItemID
	NodeID ua.NodeID
	Value  ua.DataValue
	// Sequence is the sequence number of the publish message that carried the update.
	Sequence uint32
	// DeliveredAt is the client time the update was received.
	DeliveredAt time.Time
}

// Registry attaches monitored items to subscriptions.
type Registry struct {
	logger logger.Logger
}

// NewRegistry creates a Registry. A nil cfg uses the default configuration.
func NewRegistry(cfg *Config) *Registry {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	return &Registry{logger: cfg.Logger().With("component", "registry")}
}

// Monitor creates a monitored item for target on sub.
//
// Received changes are queued in a client-side queue of params.QueueSize entries; on overflow
// the oldest entry is dropped if params.DiscardOldest is set, the incoming one otherwise.
func (r *Registry) Monitor(ctx context.Context, sub *Subscription, target ua.ReadValueID, params ua.MonitoringParameters) (*MonitoredItem, error) {
	if sub == nil || sub.IsTerminated() {
		return nil, r.terminatedError(sub, target)
	}

	if err := params.Validate(); err != nil {
		return nil, &MonitorError{Reason: ReasonInvalidParameters, Target: target, Err: err}
	}

	if err := sub.sess.usable(); err != nil {
		return nil, &MonitorError{Reason: ReasonConnectionLost, Target: target, Err: err}
	}

	item := newMonitoredItem(sub, target, params)

	// register before the request, a publish message may carry the item right after creation
	sub.items.Store(item.handle, item)
	if sub.IsTerminated() {
		sub.items.Delete(item.handle)
		item.end()

		return nil, r.terminatedError(sub, target)
	}

	reqCtx, cancel := sub.sess.requestContext(ctx)
	defer cancel()

	res, err := sub.sess.svc.CreateMonitoredItem(reqCtx, sub.id, remote.MonitoredItemRequest{
		Target:       target,
		ClientHandle: item.handle,
		Params:       params,
	})
	if err != nil {
		sub.items.Delete(item.handle)
		item.end()

		return nil, &MonitorError{Reason: monitorReason(err), Target: target, Err: err}
	}

	item.id.Store(uint32(res.ID))
	item.revisedSampling = res.RevisedSamplingInterval
	item.revisedQueueSize = res.RevisedQueueSize

	if sub.IsTerminated() {
		item.end()
		return nil, r.terminatedError(sub, target)
	}

	r.logger.Debug("monitored item created",
		"subscription", sub.id, "item", res.ID, "target", target.String(),
		"samplingInterval", res.RevisedSamplingInterval, "queueSize", params.QueueSize,
	)

	return item, nil
}

func (r *Registry) terminatedError(sub *Subscription, target ua.ReadValueID) error {
	var id remote.SubscriptionID
	if sub != nil {
		id = sub.id
	}

	return &MonitorError{
		Reason: ReasonSubscriptionTerminated,
		Target: target,
		Err:    &SubscriptionError{Reason: ReasonTerminated, SubscriptionID: id, Err: ErrSubscriptionTerminated},
	}
}

func monitorReason(err error) Reason {
	if code, ok := statusOf(err); ok {
		switch code.Code() {
		case ua.StatusBadNodeIDUnknown:
			return ReasonNodeNotFound
		case ua.StatusBadAttributeIDInvalid,
			ua.StatusBadNotReadable,
			ua.StatusBadNotSupported,
			ua.StatusBadMonitoredItemFilterUnsupported:
			return ReasonAttributeNotMonitorable
		case ua.StatusBadSubscriptionIDInvalid:
			return ReasonSubscriptionTerminated
		}
	}

	return requestReason(err)
}

// MonitoredItem is one node attribute sampled within a subscription.
//
// Its change notifications form an ordered sequence that ends when the owning subscription
// terminates or the item is removed; buffered entries are discarded at that point. Consume the
// sequence either with Next or with OnChanged handlers, not both.
type MonitoredItem struct {
	sub     *Subscription
	handle  uint32
	id      atomic.Uint32
	target  ua.ReadValueID
	params  ua.MonitoringParameters
	logger  logger.Logger
	metrics *Metrics

	revisedSampling  time.Duration
	revisedQueueSize uint32

	mu      sync.Mutex
	queue   queue.Queue[ChangeNotification]
	ended   bool
	signal  chan struct{}
	done    chan struct{}
	dropped atomic.Uint64

	handlersMu sync.Mutex
	handlers   []func(ChangeNotification)
	taskMgr    *task.Manager
}

func newMonitoredItem(sub *Subscription, target ua.ReadValueID, params ua.MonitoringParameters) *MonitoredItem {
	handle := sub.handles.Next()

	return &MonitoredItem{
		sub:     sub,
		handle:  handle,
		target:  target,
		params:  params,
		logger:  sub.logger.With("handle", handle, "target", target.String()),
		metrics: sub.metrics,
		queue:   queue.NewSliceQueue[ChangeNotification](int(params.QueueSize)),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// ID returns the server-assigned monitored item id.
func (item *MonitoredItem) ID() remote.MonitoredItemID {
	return remote.MonitoredItemID(item.id.Load())
}

// Target returns the monitored node and attribute.
func (item *MonitoredItem) Target() ua.ReadValueID { return item.target }

// Parameters returns the requested monitoring parameters.
func (item *MonitoredItem) Parameters() ua.MonitoringParameters { return item.params }

// RevisedSamplingInterval returns the sampling interval revised by the server.
func (item *MonitoredItem) RevisedSamplingInterval() time.Duration { return item.revisedSampling }

// RevisedQueueSize returns the server-side queue size revised by the server.
func (item *MonitoredItem) RevisedQueueSize() uint32 { return item.revisedQueueSize }

// Subscription returns the owning subscription.
func (item *MonitoredItem) Subscription() *Subscription { return item.sub }

// Done returns a channel that is closed when the notification sequence ends.
func (item *MonitoredItem) Done() <-chan struct{} { return item.done }

// Dropped returns the number of notifications dropped by queue overflow.
func (item *MonitoredItem) Dropped() uint64 { return item.dropped.Load() }

// Len returns the number of buffered notifications.
func (item *MonitoredItem) Len() int {
	item.mu.Lock()
	defer item.mu.Unlock()

	return item.queue.Length()
}

// Next returns the next notification in queue order. It blocks until a notification is
// available, and returns false when the sequence ended or ctx is done.
func (item *MonitoredItem) Next(ctx context.Context) (ChangeNotification, bool) {
	for {
		item.mu.Lock()
		if item.ended {
			item.mu.Unlock()
			return ChangeNotification{}, false
		}
		if n, ok := item.queue.Dequeue(); ok {
			item.mu.Unlock()
			// queued while the create request was in flight
			if n.ItemID == 0 {
				n.ItemID = item.ID()
			}
			item.metrics.incNotificationDeliverCount()

			return n, true
		}
		item.mu.Unlock()

		select {
		case <-ctx.Done():
			return ChangeNotification{}, false
		case <-item.done:
			return ChangeNotification{}, false
		case <-item.signal:
		}
	}
}

// OnChanged registers a handler for change notifications. The first registration starts a
// delivery goroutine that calls the handlers in queue order, so a slow handler delays later
// notifications of this item only. It returns a function that unregisters the handler.
func (item *MonitoredItem) OnChanged(h func(ChangeNotification)) (unregister func()) {
	if h == nil {
		return func() {}
	}

	item.handlersMu.Lock()
	defer item.handlersMu.Unlock()

	select {
	case <-item.done:
		return func() {}
	default:
	}

	idx := len(item.handlers)
	item.handlers = append(item.handlers, h)

	if item.taskMgr == nil {
		item.taskMgr = task.NewManager(context.Background(), item.logger)
		if err := item.taskMgr.Go(fmt.Sprintf("deliver-%d", item.handle), item.deliverLoop); err != nil {
			item.logger.Error("failed to start delivery task", "error", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			item.handlersMu.Lock()
			defer item.handlersMu.Unlock()
			item.handlers[idx] = nil
		})
	}
}

func (item *MonitoredItem) deliverLoop(ctx context.Context) {
	for {
		n, ok := item.Next(ctx)
		if !ok {
			return
		}

		item.handlersMu.Lock()
		handlers := util.CloneSlice(item.handlers, 0)
		item.handlersMu.Unlock()

		for _, h := range handlers {
			if h != nil {
				item.invoke(h, n)
			}
		}
	}
}

func (item *MonitoredItem) invoke(h func(ChangeNotification), n ChangeNotification) {
	defer func() {
		if r := recover(); r != nil {
			item.logger.Error("panic in change handler", "panic", r)
		}
	}()

	h(n)
}

// Remove deletes the item on the server and ends its notification sequence.
// Remove is idempotent; only the first call contacts the server.
func (item *MonitoredItem) Remove(ctx context.Context) error {
	if !item.end() {
		return nil
	}

	sub := item.sub
	sub.items.Compute(item.handle, func(cur *MonitoredItem, loaded bool) (*MonitoredItem, bool) {
		if !loaded || cur != item {
			return cur, !loaded
		}
		return nil, true
	})

	if sub.IsTerminated() || item.ID() == 0 || sub.sess.usable() != nil {
		return nil
	}

	reqCtx, cancel := sub.sess.requestContext(ctx)
	defer cancel()

	if err := sub.sess.svc.DeleteMonitoredItem(reqCtx, sub.id, item.ID()); err != nil {
		return &MonitorError{Reason: monitorReason(err), Target: item.target, Err: err}
	}
	item.logger.Debug("monitored item removed")

	return nil
}

// push queues a notification, applying the overflow policy.
func (item *MonitoredItem) push(n ChangeNotification) {
	item.mu.Lock()
	if item.ended {
		item.mu.Unlock()
		return
	}

	if item.queue.Length() >= int(item.params.QueueSize) {
		item.dropped.Add(1)
		item.metrics.incNotificationDropCount()
		if !item.params.DiscardOldest {
			item.mu.Unlock()
			return
		}
		item.queue.Dequeue()
	}
	item.queue.Enqueue(n)
	item.mu.Unlock()

	select {
	case item.signal <- struct{}{}:
	default:
	}
}

// end stops the sequence and discards buffered notifications. It returns false if the
// sequence already ended.
func (item *MonitoredItem) end() bool {
	item.mu.Lock()
	if item.ended {
		item.mu.Unlock()
		return false
	}
	item.ended = true
	item.queue.Reset()
	item.mu.Unlock()

	close(item.done)

	item.handlersMu.Lock()
	if item.taskMgr != nil {
		item.taskMgr.Stop()
	}
	item.handlersMu.Unlock()

	return true
}
