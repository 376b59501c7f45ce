package uaclient

import (
	"sync/atomic"
)

// Metrics contains atomic metrics of one Connector and everything created through it.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ConnRetryGauge indicates the number of connect retries of the running connect cycle.
	// It is reset on a successful connect.
	ConnRetryGauge atomic.Uint32
	// BackoffCount indicates the total number of backoff waits.
	BackoffCount atomic.Uint64
	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint64

	// SessionsOpened indicates the number of sessions created.
	SessionsOpened atomic.Uint64
	// SessionsActive indicates the number of sessions not closed yet.
	SessionsActive atomic.Int64

	// SubscriptionsActive indicates the number of subscriptions not terminated yet.
	SubscriptionsActive atomic.Int64
	// KeepAliveCount indicates the number of keepalive publish messages received.
	KeepAliveCount atomic.Uint64

	// NotificationRecvCount indicates the number of change notifications received.
	NotificationRecvCount atomic.Uint64
	// NotificationDropCount indicates the number of change notifications dropped by queue overflow.
	NotificationDropCount atomic.Uint64
	// NotificationDeliverCount indicates the number of change notifications delivered to consumers.
	NotificationDeliverCount atomic.Uint64
}

func (m *Metrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *Metrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}

func (m *Metrics) incBackoffCount() {
	m.BackoffCount.Add(1)
}

func (m *Metrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *Metrics) incSessions() {
	m.SessionsOpened.Add(1)
	m.SessionsActive.Add(1)
}

func (m *Metrics) decSessionsActive() {
	m.SessionsActive.Add(-1)
}

func (m *Metrics) incSubscriptionsActive() {
	m.SubscriptionsActive.Add(1)
}

func (m *Metrics) decSubscriptionsActive() {
	m.SubscriptionsActive.Add(-1)
}

func (m *Metrics) incKeepAliveCount() {
	m.KeepAliveCount.Add(1)
}

func (m *Metrics) incNotificationRecvCount() {
	m.NotificationRecvCount.Add(1)
}

func (m *Metrics) incNotificationDropCount() {
	m.NotificationDropCount.Add(1)
}

func (m *Metrics) incNotificationDeliverCount() {
	m.NotificationDeliverCount.Add(1)
}
