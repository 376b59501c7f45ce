package gopcuaremote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	gua "github.com/gopcua/opcua/ua"

	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

const notifyBacklog = 64

type subscriptionState struct {
	id      remote.SubscriptionID
	session remote.SessionID
	sub     *opcua.Subscription
	revised ua.SubscriptionParameters
	notify  chan *opcua.PublishNotificationData
	out     chan remote.PublishMessage
	logger  logger.Logger

	// connected reports whether the gopcua client still has a live channel.
	connected func() bool
	done      chan struct{}
	stopOnce  sync.Once
}

func (s *subscriptionState) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// pump converts gopcua notifications into publish messages. gopcua swallows keepalive
// responses, so a keepalive message is synthesized whenever a keepalive interval passes
// without data. No keepalive is synthesized while the client is not connected, which leaves
// a dead server to the lifetime watchdog of the subscriber.
func (s *subscriptionState) pump(ctx context.Context) {
	defer close(s.out)

	keepAlive := s.revised.KeepAliveInterval()
	if keepAlive <= 0 {
		keepAlive = time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	var seq uint32
	active := false
	for {
		var msg remote.PublishMessage
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if active {
				active = false
				continue
			}
			if !s.connected() {
				s.logger.Debug("skip keepalive, client not connected")
				continue
			}
			msg = remote.PublishMessage{SubscriptionID: s.id, Sequence: seq + 1, KeepAlive: true, Status: ua.StatusOK, PublishTime: time.Now()}
		case n := <-s.notify:
			var ok bool
			msg, ok = s.convert(n, &seq)
			if !ok {
				continue
			}
			active = true
		}

		select {
		case s.out <- msg:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}

		if msg.Status.IsBad() {
			return
		}
	}
}

func (s *subscriptionState) convert(n *opcua.PublishNotificationData, seq *uint32) (remote.PublishMessage, bool) {
	msg := remote.PublishMessage{SubscriptionID: s.id, Status: ua.StatusOK, PublishTime: time.Now()}

	if n.Error != nil {
		var status gua.StatusCode
		if errors.As(n.Error, &status) && ua.StatusCode(status).IsBad() {
			switch ua.StatusCode(status) {
			case ua.StatusBadSubscriptionIDInvalid, ua.StatusBadSessionClosed, ua.StatusBadSessionIDInvalid, ua.StatusBadTimeout:
				msg.Status = ua.StatusCode(status)
				return msg, true
			}
		}
		s.logger.Warn("publish error", "error", n.Error)
		return msg, false
	}

	switch v := n.Value.(type) {
	case *gua.DataChangeNotification:
		*seq++
		msg.Sequence = *seq
		for _, item := range v.MonitoredItems {
			msg.Notifications = append(msg.Notifications, remote.ItemNotification{
				ClientHandle: item.ClientHandle,
				Value:        fromDataValue(item.Value),
			})
		}
		return msg, true
	case *gua.StatusChangeNotification:
		msg.Sequence = *seq + 1
		msg.Status = ua.StatusCode(v.Status)
		if !msg.Status.IsBad() {
			return msg, false
		}
		return msg, true
	default:
		s.logger.Debug("ignore notification", "type", fmt.Sprintf("%T", n.Value))
		return msg, false
	}
}

// CreateSubscription creates a gopcua subscription and starts its publish pump.
func (a *Adapter) CreateSubscription(ctx context.Context, sess remote.SessionID, params ua.SubscriptionParameters) (remote.SubscriptionResult, error) {
	client, err := a.client(sess)
	if err != nil {
		return remote.SubscriptionResult{}, err
	}

	notify := make(chan *opcua.PublishNotificationData, notifyBacklog)
	sub, err := client.Subscribe(ctx, toSubscriptionParameters(params), notify)
	if err != nil {
		return remote.SubscriptionResult{}, classify(err)
	}

	revised := params
	revised.PublishingInterval = sub.RevisedPublishingInterval
	revised.LifetimeCount = sub.RevisedLifetimeCount
	revised.MaxKeepAliveCount = sub.RevisedMaxKeepAliveCount

	state := &subscriptionState{
		id:      remote.SubscriptionID(sub.SubscriptionID),
		session: sess,
		sub:     sub,
		revised: revised,
		notify:  notify,
		out:     make(chan remote.PublishMessage, notifyBacklog),
		logger:  a.logger.With("subscription", sub.SubscriptionID),

		connected: func() bool { return client.State() == opcua.Connected },
		done:      make(chan struct{}),
	}
	a.subscriptions.Store(state.id, state)

	if err := a.tasks.Go(fmt.Sprintf("pump-%d", state.id), state.pump); err != nil {
		a.subscriptions.Delete(state.id)
		_ = sub.Cancel(ctx)
		return remote.SubscriptionResult{}, err
	}

	return remote.SubscriptionResult{ID: state.id, Revised: revised, Publish: state.out}, nil
}

// DeleteSubscription cancels the gopcua subscription and stops the pump.
func (a *Adapter) DeleteSubscription(ctx context.Context, id remote.SubscriptionID) error {
	state, ok := a.subscriptions.LoadAndDelete(id)
	if !ok {
		return ua.StatusBadSubscriptionIDInvalid
	}
	state.stop()

	return classify(state.sub.Cancel(ctx))
}

// CreateMonitoredItem adds one monitored item to the subscription.
func (a *Adapter) CreateMonitoredItem(ctx context.Context, subID remote.SubscriptionID, req remote.MonitoredItemRequest) (remote.MonitoredItemResult, error) {
	state, ok := a.subscriptions.Load(subID)
	if !ok {
		return remote.MonitoredItemResult{}, ua.StatusBadSubscriptionIDInvalid
	}

	id, err := toNodeID(req.Target.NodeID)
	if err != nil {
		return remote.MonitoredItemResult{}, err
	}

	resp, err := state.sub.Monitor(ctx, gua.TimestampsToReturnBoth, toMonitoredItemRequest(id, req))
	if err != nil {
		return remote.MonitoredItemResult{}, classify(err)
	}
	if len(resp.Results) == 0 {
		return remote.MonitoredItemResult{}, ua.StatusBadInternalError
	}

	res := resp.Results[0]
	if status := ua.StatusCode(res.StatusCode); status.IsBad() {
		return remote.MonitoredItemResult{}, fmt.Errorf("%s: %w", req.Target, status)
	}

	return remote.MonitoredItemResult{
		ID:                      remote.MonitoredItemID(res.MonitoredItemID),
		RevisedSamplingInterval: time.Duration(res.RevisedSamplingInterval * float64(time.Millisecond)),
		RevisedQueueSize:        res.RevisedQueueSize,
	}, nil
}

// DeleteMonitoredItem removes a monitored item.
func (a *Adapter) DeleteMonitoredItem(ctx context.Context, subID remote.SubscriptionID, item remote.MonitoredItemID) error {
	state, ok := a.subscriptions.Load(subID)
	if !ok {
		return ua.StatusBadSubscriptionIDInvalid
	}

	resp, err := state.sub.Unmonitor(ctx, uint32(item))
	if err != nil {
		return classify(err)
	}
	if len(resp.Results) > 0 {
		if status := ua.StatusCode(resp.Results[0]); status.IsBad() {
			return status
		}
	}

	return nil
}
