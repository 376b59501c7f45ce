package uaclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/remote/memserver"
	"github.com/arloliu/go-uaclient/ua"
)

func valueOf(t *testing.T, n ChangeNotification) float64 {
	t.Helper()

	v, ok := n.Value.Value.Float64()
	require.True(t, ok, "value %v is not a double", n.Value.Value)

	return v
}

func (env *testEnv) monitor(t *testing.T, sub *Subscription, params ua.MonitoringParameters) *MonitoredItem {
	t.Helper()

	item, err := env.registry.Monitor(context.Background(), sub, ua.ValueOf(memserver.TemperatureID), params)
	require.NoError(t, err)

	return item
}

func nextWithin(t *testing.T, item *MonitoredItem) (ChangeNotification, bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return item.Next(ctx)
}

func TestMonitoredItem_Delivery(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)
	sub, lc := env.subscribe(t, sess)
	item := env.monitor(t, sub, ua.DefaultMonitoringParameters())

	require.NotZero(item.ID())
	require.Equal(ua.ValueOf(memserver.TemperatureID), item.Target())
	require.Equal(100*time.Millisecond, item.RevisedSamplingInterval())
	require.Equal(uint32(10), item.RevisedQueueSize())
	require.Same(sub, item.Subscription())
	require.Equal([]*MonitoredItem{item}, sub.Items())
	require.Equal(1, env.srv.MonitoredItemCount())

	require.NoError(env.srv.SetValue(memserver.TemperatureID, 22.0))
	env.advance(t, publishWaiters, time.Second)

	// a first publish message carrying data starts the subscription too
	recv(t, lc.started)
	n, ok := nextWithin(t, item)
	require.True(ok)
	require.Equal(item.ID(), n.ItemID)
	require.Equal(memserver.TemperatureID, n.NodeID)
	require.InDelta(22.0, valueOf(t, n), 1e-9)
	require.Equal(uint32(1), n.Sequence)
	require.Equal(env.clock.Now(), n.DeliveredAt)
	require.Equal(SubscriptionStarted, sub.State())
	noRecv(t, lc.keepalive)

	metrics := env.connector.Metrics()
	require.Equal(uint64(1), metrics.NotificationRecvCount.Load())
	require.Equal(uint64(1), metrics.NotificationDeliverCount.Load())
}

func TestMonitoredItem_OnChangedOrder(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)
	sub, _ := env.subscribe(t, sess)
	item := env.monitor(t, sub, ua.DefaultMonitoringParameters())

	var mu sync.Mutex
	var got []float64
	changed := make(chan struct{}, 8)
	item.OnChanged(func(n ChangeNotification) {
		mu.Lock()
		got = append(got, valueOf(t, n))
		mu.Unlock()
		changed <- struct{}{}
	})
	item.OnChanged(func(ChangeNotification) { panic("boom") })

	for _, v := range []float64{1, 2, 3} {
		require.NoError(env.srv.SetValue(memserver.TemperatureID, v))
	}
	env.advance(t, publishWaiters, time.Second)

	for i := 0; i < 3; i++ {
		recv(t, changed)
	}

	mu.Lock()
	require.Equal([]float64{1, 2, 3}, got)
	mu.Unlock()

	require.NoError(sub.Terminate(context.Background()))
	<-item.Done()
}

func TestMonitoredItem_QueueOverflow(t *testing.T) {
	tests := []struct {
		name          string
		discardOldest bool
		want          []float64
	}{
		{"discard oldest", true, []float64{2, 3}},
		{"discard newest", false, []float64{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			env := newTestEnv(t)
			sess := env.openSession(t)
			sub, _ := env.subscribe(t, sess)
			item := env.monitor(t, sub, ua.MonitoringParameters{QueueSize: 2, DiscardOldest: tt.discardOldest})

			for _, v := range []float64{1, 2, 3} {
				require.NoError(env.srv.SetValue(memserver.TemperatureID, v))
			}
			env.advance(t, publishWaiters, time.Second)

			got := make([]float64, 0, len(tt.want))
			for range tt.want {
				n, ok := nextWithin(t, item)
				require.True(ok)
				got = append(got, valueOf(t, n))
			}
			require.Equal(tt.want, got)
		})
	}
}

func TestMonitoredItem_ClientQueueOverflow(t *testing.T) {
	tests := []struct {
		name          string
		discardOldest bool
		want          uint32
	}{
		{"discard oldest", true, 2},
		{"discard newest", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			env := newTestEnv(t)
			sess := env.openSession(t)
			sub, _ := env.subscribe(t, sess)
			item := env.monitor(t, sub, ua.MonitoringParameters{QueueSize: 1, DiscardOldest: tt.discardOldest})

			item.push(ChangeNotification{Sequence: 1})
			item.push(ChangeNotification{Sequence: 2})
			require.Equal(1, item.Len())
			require.Equal(uint64(1), item.Dropped())
			require.Equal(uint64(1), env.connector.Metrics().NotificationDropCount.Load())

			n, ok := nextWithin(t, item)
			require.True(ok)
			require.Equal(tt.want, n.Sequence)
		})
	}
}

func TestMonitoredItem_NoDeliveryAfterTerminate(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)
	sub, _ := env.subscribe(t, sess)
	item := env.monitor(t, sub, ua.DefaultMonitoringParameters())

	item.push(ChangeNotification{Sequence: 1})
	item.push(ChangeNotification{Sequence: 2})
	require.Equal(2, item.Len())

	require.NoError(env.subs.Terminate(context.Background(), sub))

	// buffered notifications are discarded
	require.Equal(0, item.Len())
	_, ok := nextWithin(t, item)
	require.False(ok)

	select {
	case <-item.Done():
	default:
		require.Fail("notification sequence not ended")
	}

	item.push(ChangeNotification{Sequence: 3})
	require.Equal(0, item.Len())
	require.Empty(sub.Items())
	require.Equal(0, env.srv.MonitoredItemCount())
}

func TestRegistry_MonitorErrors(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t)
	sub, _ := env.subscribe(t, sess)

	tests := []struct {
		name   string
		target ua.ReadValueID
		params ua.MonitoringParameters
		reason Reason
	}{
		{"unknown node", ua.ValueOf(ua.NewStringNodeID(1, "Pressure")), ua.DefaultMonitoringParameters(), ReasonNodeNotFound},
		{"browse name", ua.ReadValueID{NodeID: memserver.TemperatureID, AttributeID: ua.AttributeBrowseName}, ua.DefaultMonitoringParameters(), ReasonAttributeNotMonitorable},
		{"folder value", ua.ValueOf(ua.ObjectsFolderID), ua.DefaultMonitoringParameters(), ReasonAttributeNotMonitorable},
		{"zero queue", ua.ValueOf(memserver.TemperatureID), ua.MonitoringParameters{QueueSize: 0}, ReasonInvalidParameters},
		{"negative sampling", ua.ValueOf(memserver.TemperatureID), ua.MonitoringParameters{SamplingInterval: -time.Second, QueueSize: 1}, ReasonInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			item, err := env.registry.Monitor(context.Background(), sub, tt.target, tt.params)
			require.Nil(item)
			require.ErrorIs(err, &MonitorError{Reason: tt.reason})

			var monErr *MonitorError
			require.ErrorAs(err, &monErr)
			require.Equal(tt.target, monErr.Target)
		})
	}

	require.Empty(t, sub.Items(), "failed items are not registered")
	require.Equal(t, 0, env.srv.MonitoredItemCount())
}

func TestRegistry_MonitorTerminated(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)
	sub, _ := env.subscribe(t, sess)
	require.NoError(sub.Terminate(context.Background()))

	// the terminated check comes before parameter validation
	_, err := env.registry.Monitor(context.Background(), sub, ua.ValueOf(memserver.TemperatureID), ua.MonitoringParameters{})
	require.ErrorIs(err, &MonitorError{Reason: ReasonSubscriptionTerminated})
	require.ErrorIs(err, &SubscriptionError{Reason: ReasonTerminated})
	require.ErrorIs(err, ErrSubscriptionTerminated)

	_, err = env.registry.Monitor(context.Background(), nil, ua.ValueOf(memserver.TemperatureID), ua.DefaultMonitoringParameters())
	require.ErrorIs(err, &MonitorError{Reason: ReasonSubscriptionTerminated})
}

func TestMonitoredItem_Remove(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)
	sub, _ := env.subscribe(t, sess)
	item := env.monitor(t, sub, ua.DefaultMonitoringParameters())
	require.Equal(1, env.srv.MonitoredItemCount())

	require.NoError(item.Remove(context.Background()))
	require.NoError(item.Remove(context.Background()))
	require.Equal(0, env.srv.MonitoredItemCount())
	require.Empty(sub.Items())
	<-item.Done()

	// later changes are not delivered to the removed item
	require.NoError(env.srv.SetValue(memserver.TemperatureID, 30.0))
	env.advance(t, publishWaiters, time.Second)
	require.Equal(0, item.Len())
	require.False(sub.IsTerminated())
}

// earlyNotifyService delivers a change for a monitored item before its create request returns.
type earlyNotifyService struct {
	remote.Service
	onCreated func(handle uint32)
}

func (s *earlyNotifyService) CreateMonitoredItem(ctx context.Context, sub remote.SubscriptionID, req remote.MonitoredItemRequest) (remote.MonitoredItemResult, error) {
	res, err := s.Service.CreateMonitoredItem(ctx, sub, req)
	if err == nil {
		s.onCreated(req.ClientHandle)
	}

	return res, err
}

func TestMonitoredItem_EarlyNotificationCarriesItemID(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	ctx := context.Background()

	var sub *Subscription
	svc := &earlyNotifyService{Service: env.srv}
	svc.onCreated = func(handle uint32) {
		item, ok := sub.items.Load(handle)
		require.True(ok)
		item.push(ChangeNotification{ItemID: item.ID(), Sequence: 1})
	}

	connector, err := NewConnector(svc, env.cfg)
	require.NoError(err)
	t.Cleanup(connector.Close)

	conn, err := connector.Connect(ctx, testEndpoint)
	require.NoError(err)
	t.Cleanup(func() { _ = conn.Disconnect(ctx) })

	sess, err := env.sessions.CreateSession(ctx, conn)
	require.NoError(err)
	sub, err = env.subs.Create(ctx, sess, ua.DefaultSubscriptionParameters())
	require.NoError(err)

	item := env.monitor(t, sub, ua.DefaultMonitoringParameters())
	require.NotZero(item.ID())

	n, ok := nextWithin(t, item)
	require.True(ok)
	require.Equal(uint32(1), n.Sequence)
	require.Equal(item.ID(), n.ItemID)
}
