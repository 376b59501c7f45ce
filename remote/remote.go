// Package remote defines the service boundary between the client orchestration layer and an
// OPC UA server. The uaclient components never talk to a wire protocol directly; they call a
// Service, which may be an in-process simulator (memserver), a WebSocket bridge (wsremote) or a
// real opc.tcp stack (gopcuaremote).
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/go-uaclient/ua"
)

// Errors reported by Service implementations besides ua.StatusCode values.
var (
	// ErrChannelClosed indicates that the channel (or the session on it) is gone.
	ErrChannelClosed = errors.New("remote: channel closed")
	// ErrEndpointMismatch indicates that the server answered on an endpoint URL that differs from the requested one.
	ErrEndpointMismatch = errors.New("remote: endpoint url mismatch")
	// ErrRefused indicates that the server actively refused the connection.
	ErrRefused = errors.New("remote: connection refused")
)

type (
	// ChannelID identifies an open secure channel.
	ChannelID uint64
	// SessionID identifies an activated session.
	SessionID uint64
	// SubscriptionID is the server-assigned subscription id.
	SubscriptionID uint32
	// MonitoredItemID is the server-assigned monitored item id.
	MonitoredItemID uint32
)

// ConnectOptions carries the per-call connect settings.
type ConnectOptions struct {
	Security ua.SecuritySettings
	// AllowEndpointMismatch lets the implementation continue when the server reports a
	// different endpoint URL. Otherwise ErrEndpointMismatch is returned.
	AllowEndpointMismatch bool
}

// SessionRequest carries the session name and the requested timeout.
type SessionRequest struct {
	Name    string
	Timeout time.Duration
}

// SubscriptionResult is returned by CreateSubscription.
type SubscriptionResult struct {
	ID      SubscriptionID
	Revised ua.SubscriptionParameters
	// Publish delivers publish messages in sequence order. The channel is closed after the
	// subscription is deleted or after a message with a bad Status.
	Publish <-chan PublishMessage
}

// MonitoredItemRequest asks the server to sample one attribute of one node.
type MonitoredItemRequest struct {
	Target       ua.ReadValueID
	ClientHandle uint32
	Params       ua.MonitoringParameters
}

// MonitoredItemResult is the server answer to a MonitoredItemRequest.
type MonitoredItemResult struct {
	ID                      MonitoredItemID
	RevisedSamplingInterval time.Duration
	RevisedQueueSize        uint32
}

// ItemNotification is one data change for a monitored item, addressed by its client handle.
type ItemNotification struct {
	ClientHandle uint32
	Value        ua.DataValue
}

// PublishMessage is one publish response of a subscription.
type PublishMessage struct {
	SubscriptionID SubscriptionID
	Sequence       uint32
	KeepAlive      bool
	Notifications  []ItemNotification
	// Status is good for regular messages. A bad status (e.g. ua.StatusBadTimeout for lifetime
	// expiry) is a status-change notification: the server ended the subscription.
	Status      ua.StatusCode
	PublishTime time.Time
}

// Service is the remote OPC UA service set used by the client.
//
// Implementations must be safe for concurrent use. Errors are either ua.StatusCode values, the
// sentinel errors of this package, context errors, or wrap one of them.
type Service interface {
	Connect(ctx context.Context, endpoint ua.Endpoint, opts ConnectOptions) (ChannelID, error)
	Disconnect(ctx context.Context, ch ChannelID) error

	CreateSession(ctx context.Context, ch ChannelID, req SessionRequest) (SessionID, error)
	CloseSession(ctx context.Context, sess SessionID) error

	Browse(ctx context.Context, sess SessionID, node ua.NodeID) (ua.BrowseResult, error)
	Read(ctx context.Context, sess SessionID, node ua.NodeID, attr ua.AttributeID) (ua.DataValue, error)

	CreateSubscription(ctx context.Context, sess SessionID, params ua.SubscriptionParameters) (SubscriptionResult, error)
	DeleteSubscription(ctx context.Context, sub SubscriptionID) error

	CreateMonitoredItem(ctx context.Context, sub SubscriptionID, req MonitoredItemRequest) (MonitoredItemResult, error)
	DeleteMonitoredItem(ctx context.Context, sub SubscriptionID, item MonitoredItemID) error
}
