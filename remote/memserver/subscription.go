package memserver

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/arloliu/go-uaclient/internal/clock"
	"github.com/arloliu/go-uaclient/internal/queue"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

const publishBacklog = 16

type monitoredItem struct {
	id            remote.MonitoredItemID
	handle        uint32
	node          ua.NodeID
	queueSize     uint32
	discardOldest bool
	queue         queue.Queue[ua.DataValue]
}

// push stores a sampled value, applying the overflow policy of the item.
func (item *monitoredItem) push(dv ua.DataValue) {
	if uint32(item.queue.Length()) >= item.queueSize {
		if !item.discardOldest {
			return
		}
		item.queue.Dequeue()
	}
	item.queue.Enqueue(dv)
}

type subscription struct {
	id      remote.SubscriptionID
	session remote.SessionID
	params  ua.SubscriptionParameters
	out     chan remote.PublishMessage
	clock   clock.Clock
	logger  logger.Logger

	mu        sync.Mutex
	items     map[remote.MonitoredItemID]*monitoredItem
	seq       uint32
	idle      uint32
	firstSent bool
	expired   bool
	stalled   bool

	done     chan struct{}
	stopOnce sync.Once
}

func (sub *subscription) stop() {
	sub.stopOnce.Do(func() { close(sub.done) })
}

// run is the publish loop. It owns sub.out and closes it on exit.
func (sub *subscription) run(ctx context.Context, onExit func()) {
	defer onExit()
	defer close(sub.out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.clock.After(sub.params.PublishingInterval):
		}

		msg, ok := sub.tick()
		if !ok {
			continue
		}

		select {
		case sub.out <- msg:
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}

		if msg.Status.IsBad() {
			sub.logger.Info("subscription ended by server", "subscription", sub.id, "status", msg.Status.String())
			return
		}
	}
}

// tick runs one publishing cycle and returns the message to send, if any.
func (sub *subscription) tick() (remote.PublishMessage, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	msg := remote.PublishMessage{
		SubscriptionID: sub.id,
		Status:         ua.StatusOK,
		PublishTime:    sub.clock.Now(),
	}

	if sub.expired {
		msg.Sequence = sub.seq + 1
		msg.Status = ua.StatusBadTimeout
		return msg, true
	}

	if sub.stalled {
		return msg, false
	}

	if sub.params.PublishingEnabled {
		msg.Notifications = sub.collect()
	}

	if len(msg.Notifications) > 0 {
		sub.seq++
		sub.idle = 0
		sub.firstSent = true
		msg.Sequence = sub.seq
		return msg, true
	}

	sub.idle++
	if !sub.firstSent || sub.idle >= sub.params.MaxKeepAliveCount {
		sub.idle = 0
		sub.firstSent = true
		msg.Sequence = sub.seq + 1
		msg.KeepAlive = true
		return msg, true
	}

	return msg, false
}

// collect drains item queues in item id order, up to MaxNotificationsPerPublish values.
// The rest stays queued for the next cycle.
func (sub *subscription) collect() []remote.ItemNotification {
	ids := make([]remote.MonitoredItemID, 0, len(sub.items))
	for id := range sub.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	limit := int(sub.params.MaxNotificationsPerPublish)
	var notes []remote.ItemNotification
	for _, id := range ids {
		item := sub.items[id]
		for limit == 0 || len(notes) < limit {
			dv, ok := item.queue.Dequeue()
			if !ok {
				break
			}
			notes = append(notes, remote.ItemNotification{ClientHandle: item.handle, Value: dv})
		}
	}

	return notes
}

func (sub *subscription) sample(id ua.NodeID, dv ua.DataValue) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	for _, item := range sub.items {
		if item.node == id {
			item.push(dv)
		}
	}
}

// CreateSubscription creates a subscription and starts its publish loop.
func (s *Server) CreateSubscription(ctx context.Context, sess remote.SessionID, params ua.SubscriptionParameters) (remote.SubscriptionResult, error) {
	if err := s.checkSession(ctx, sess); err != nil {
		return remote.SubscriptionResult{}, err
	}

	if err := params.Validate(); err != nil {
		return remote.SubscriptionResult{}, fmt.Errorf("%w: %v", ua.StatusBadInvalidArgument, err)
	}

	revised := params
	switch {
	case s.opts.publishingInterval > 0:
		revised.PublishingInterval = s.opts.publishingInterval
	case revised.PublishingInterval < s.opts.minPublishing:
		revised.PublishingInterval = s.opts.minPublishing
	}

	sub := &subscription{
		id:      remote.SubscriptionID(s.idGen.Next()),
		session: sess,
		params:  revised,
		out:     make(chan remote.PublishMessage, publishBacklog),
		clock:   s.opts.clock,
		items:   make(map[remote.MonitoredItemID]*monitoredItem),
		done:    make(chan struct{}),
	}
	sub.logger = s.logger.With("subscription", sub.id)

	s.subscriptions.Store(sub.id, sub)
	err := s.tasks.Go(fmt.Sprintf("publish-%d", sub.id), func(ctx context.Context) {
		sub.run(ctx, func() { s.subscriptions.Compute(sub.id, deleteIfSame(sub)) })
	})
	if err != nil {
		s.subscriptions.Delete(sub.id)
		return remote.SubscriptionResult{}, ua.StatusBadServerHalted
	}

	s.logger.Debug("subscription created", "subscription", sub.id, "session", sess,
		"publishingInterval", revised.PublishingInterval, "lifetime", revised.LifetimeCount, "keepalive", revised.MaxKeepAliveCount)

	return remote.SubscriptionResult{ID: sub.id, Revised: revised, Publish: sub.out}, nil
}

func deleteIfSame(sub *subscription) func(*subscription, bool) (*subscription, bool) {
	return func(cur *subscription, loaded bool) (*subscription, bool) {
		if !loaded || cur != sub {
			return cur, !loaded
		}
		return nil, true
	}
}

// DeleteSubscription stops the publish loop; the publish channel is closed afterwards.
func (s *Server) DeleteSubscription(_ context.Context, id remote.SubscriptionID) error {
	sub, ok := s.subscriptions.LoadAndDelete(id)
	if !ok {
		return ua.StatusBadSubscriptionIDInvalid
	}
	sub.stop()
	s.logger.Debug("subscription deleted", "subscription", id)

	return nil
}

// CreateMonitoredItem starts sampling the Value attribute of a variable.
func (s *Server) CreateMonitoredItem(ctx context.Context, subID remote.SubscriptionID, req remote.MonitoredItemRequest) (remote.MonitoredItemResult, error) {
	if err := ctx.Err(); err != nil {
		return remote.MonitoredItemResult{}, err
	}

	sub, ok := s.subscriptions.Load(subID)
	if !ok {
		return remote.MonitoredItemResult{}, ua.StatusBadSubscriptionIDInvalid
	}

	s.mu.Lock()
	n, err := s.space.lookup(req.Target.NodeID)
	if err != nil {
		s.mu.Unlock()
		return remote.MonitoredItemResult{}, err
	}
	if req.Target.AttributeID != ua.AttributeValue || n.class != ua.NodeClassVariable {
		s.mu.Unlock()
		return remote.MonitoredItemResult{}, fmt.Errorf("%s: %w", req.Target, ua.StatusBadAttributeIDInvalid)
	}
	current := n.value
	s.mu.Unlock()

	queueSize := max(req.Params.QueueSize, 1)
	queueSize = min(queueSize, s.opts.maxQueueSize)

	item := &monitoredItem{
		id:            remote.MonitoredItemID(s.idGen.Next()),
		handle:        req.ClientHandle,
		node:          req.Target.NodeID,
		queueSize:     queueSize,
		discardOldest: req.Params.DiscardOldest,
		queue:         queue.NewSliceQueue[ua.DataValue](int(queueSize)),
	}
	if s.opts.initialValues {
		item.push(current)
	}

	sub.mu.Lock()
	sub.items[item.id] = item
	sub.mu.Unlock()

	s.logger.Debug("monitored item created", "subscription", subID, "item", item.id, "target", req.Target.String())

	return remote.MonitoredItemResult{
		ID:                      item.id,
		RevisedSamplingInterval: max(req.Params.SamplingInterval, 0),
		RevisedQueueSize:        queueSize,
	}, nil
}

// DeleteMonitoredItem stops sampling an item.
func (s *Server) DeleteMonitoredItem(_ context.Context, subID remote.SubscriptionID, itemID remote.MonitoredItemID) error {
	sub, ok := s.subscriptions.Load(subID)
	if !ok {
		return ua.StatusBadSubscriptionIDInvalid
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if _, ok := sub.items[itemID]; !ok {
		return ua.StatusBadMonitoredItemIDInvalid
	}
	delete(sub.items, itemID)

	return nil
}
