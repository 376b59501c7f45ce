package ua

import (
	"errors"
	"fmt"
	"time"
)

// Parameter validation errors.
var (
	ErrInvalidPublishingInterval = errors.New("publishing interval must be greater than zero")
	ErrInvalidKeepAliveCount     = errors.New("max keepalive count must be at least 1")
	ErrInvalidLifetimeCount      = errors.New("lifetime count must be greater than max keepalive count")
	ErrInvalidSamplingInterval   = errors.New("sampling interval must not be negative")
	ErrInvalidQueueSize          = errors.New("queue size must be at least 1")
)

// SubscriptionParameters is the requested (or server-revised) subscription timing.
type SubscriptionParameters struct {
	PublishingInterval         time.Duration
	LifetimeCount              uint32
	MaxKeepAliveCount          uint32
	MaxNotificationsPerPublish uint32
	Priority                   uint8
	PublishingEnabled          bool
}

// DefaultSubscriptionParameters returns the parameters used by the reference scenario:
// 1s publishing interval, lifetime 10, keepalive 2, 10 notifications per publish, priority 10.
func DefaultSubscriptionParameters() SubscriptionParameters {
	return SubscriptionParameters{
		PublishingInterval:         time.Second,
		LifetimeCount:              10,
		MaxKeepAliveCount:          2,
		MaxNotificationsPerPublish: 10,
		Priority:                   10,
		PublishingEnabled:          true,
	}
}

// Validate checks the timing relationship between the counters.
func (p SubscriptionParameters) Validate() error {
	if p.PublishingInterval <= 0 {
		return ErrInvalidPublishingInterval
	}

	if p.MaxKeepAliveCount < 1 {
		return ErrInvalidKeepAliveCount
	}

	if p.LifetimeCount <= p.MaxKeepAliveCount {
		return fmt.Errorf("%w: lifetime %d, keepalive %d", ErrInvalidLifetimeCount, p.LifetimeCount, p.MaxKeepAliveCount)
	}

	return nil
}

// KeepAliveInterval is the longest time the server stays silent before sending a keepalive.
func (p SubscriptionParameters) KeepAliveInterval() time.Duration {
	return p.PublishingInterval * time.Duration(p.MaxKeepAliveCount)
}

// LifetimeInterval is the time without publish activity after which the subscription expires.
func (p SubscriptionParameters) LifetimeInterval() time.Duration {
	return p.PublishingInterval * time.Duration(p.LifetimeCount)
}

// MonitoringParameters controls sampling and queueing of one monitored item.
type MonitoringParameters struct {
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

// DefaultMonitoringParameters returns 100ms sampling, queue size 10, discard oldest.
func DefaultMonitoringParameters() MonitoringParameters {
	return MonitoringParameters{
		SamplingInterval: 100 * time.Millisecond,
		QueueSize:        10,
		DiscardOldest:    true,
	}
}

// Validate checks sampling interval and queue size.
func (p MonitoringParameters) Validate() error {
	if p.SamplingInterval < 0 {
		return ErrInvalidSamplingInterval
	}

	if p.QueueSize < 1 {
		return ErrInvalidQueueSize
	}

	return nil
}

// ReadValueID names one attribute of one node.
type ReadValueID struct {
	NodeID      NodeID
	AttributeID AttributeID
}

// ValueOf returns the ReadValueID for the Value attribute of id.
func ValueOf(id NodeID) ReadValueID {
	return ReadValueID{NodeID: id, AttributeID: AttributeValue}
}

// String renders "node/attribute".
func (r ReadValueID) String() string {
	return r.NodeID.String() + "/" + r.AttributeID.String()
}
