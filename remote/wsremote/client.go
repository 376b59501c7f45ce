// Package wsremote carries the remote service calls over WebSocket.
//
// Every request, response and publish message is one CBOR encoded binary WebSocket message.
// A Client opens one WebSocket connection per secure channel; sessions and subscriptions
// created on that channel travel over the same connection. A Server exposes any
// remote.Service as an http.Handler, so a simulator or a gateway can be reached remotely.
package wsremote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithHeader sets HTTP headers sent with the upgrade request.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// WithClientLogger sets the logger.
func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client implements remote.Service over WebSocket connections.
type Client struct {
	dialer *websocket.Dialer
	header http.Header
	logger logger.Logger

	channels      *xsync.MapOf[remote.ChannelID, *clientConn]
	sessions      *xsync.MapOf[remote.SessionID, *clientConn]
	subscriptions *xsync.MapOf[remote.SubscriptionID, *clientConn]
}

var _ remote.Service = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		channels:      xsync.NewMapOf[remote.ChannelID, *clientConn](),
		sessions:      xsync.NewMapOf[remote.SessionID, *clientConn](),
		subscriptions: xsync.NewMapOf[remote.SubscriptionID, *clientConn](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.GetLogger()
	}
	c.logger = c.logger.With("component", "wsremote.client")

	return c
}

// Close closes every open connection.
func (c *Client) Close() {
	c.channels.Range(func(_ remote.ChannelID, conn *clientConn) bool {
		conn.close()
		conn.wait()
		return true
	})
}

// Connect dials the endpoint and opens a secure channel over the new connection.
func (c *Client) Connect(ctx context.Context, endpoint ua.Endpoint, opts remote.ConnectOptions) (remote.ChannelID, error) {
	switch endpoint.Scheme() {
	case ua.SchemeWS, ua.SchemeWSS:
	default:
		return 0, fmt.Errorf("%w: wsremote cannot serve %s", ua.StatusBadTCPEndpointURLInvalid, endpoint)
	}

	ws, resp, err := c.dialer.DialContext(ctx, endpoint.String(), c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %v", ua.StatusBadTimeout, err)
		}
		return 0, fmt.Errorf("%w: %v", remote.ErrRefused, err)
	}

	conn := newClientConn(ws, c.logger.With("endpoint", endpoint.String()))
	conn.onClose = func() { c.forget(conn) }
	if err := conn.start(); err != nil {
		_ = ws.Close()
		return 0, err
	}

	var id remote.ChannelID
	req := connectRequest{Endpoint: endpoint.String(), Security: opts.Security, AllowMismatch: opts.AllowEndpointMismatch}
	if err := conn.call(ctx, opConnect, req, &id); err != nil {
		conn.close()
		conn.wait()
		return 0, err
	}

	c.channels.Store(id, conn)
	select {
	case <-conn.closed:
		c.forget(conn)
		return 0, remote.ErrChannelClosed
	default:
	}

	return id, nil
}

// forget removes every handle routed over conn.
func (c *Client) forget(conn *clientConn) {
	c.channels.Range(func(id remote.ChannelID, cc *clientConn) bool {
		if cc == conn {
			c.channels.Delete(id)
		}
		return true
	})
	c.sessions.Range(func(sid remote.SessionID, sc *clientConn) bool {
		if sc == conn {
			c.sessions.Delete(sid)
		}
		return true
	})
	c.subscriptions.Range(func(sid remote.SubscriptionID, sc *clientConn) bool {
		if sc == conn {
			c.subscriptions.Delete(sid)
		}
		return true
	})
}

// Disconnect closes the channel and its WebSocket connection.
func (c *Client) Disconnect(ctx context.Context, id remote.ChannelID) error {
	conn, ok := c.channels.Load(id)
	if !ok {
		return remote.ErrChannelClosed
	}

	err := conn.call(ctx, opDisconnect, channelRequest{Channel: id}, nil)
	conn.close()
	conn.wait()

	return err
}

func (c *Client) CreateSession(ctx context.Context, ch remote.ChannelID, req remote.SessionRequest) (remote.SessionID, error) {
	conn, ok := c.channels.Load(ch)
	if !ok {
		return 0, remote.ErrChannelClosed
	}

	var id remote.SessionID
	if err := conn.call(ctx, opCreateSession, createSessionRequest{Channel: ch, Name: req.Name, Timeout: req.Timeout}, &id); err != nil {
		return 0, err
	}
	c.sessions.Store(id, conn)

	return id, nil
}

func (c *Client) CloseSession(ctx context.Context, id remote.SessionID) error {
	conn, ok := c.sessions.LoadAndDelete(id)
	if !ok {
		return ua.StatusBadSessionIDInvalid
	}

	return conn.call(ctx, opCloseSession, sessionRequest{Session: id}, nil)
}

func (c *Client) Browse(ctx context.Context, sess remote.SessionID, node ua.NodeID) (ua.BrowseResult, error) {
	conn, ok := c.sessions.Load(sess)
	if !ok {
		return ua.BrowseResult{}, ua.StatusBadSessionIDInvalid
	}

	var res ua.BrowseResult
	if err := conn.call(ctx, opBrowse, nodeRequest{Session: sess, Node: node}, &res); err != nil {
		return ua.BrowseResult{}, err
	}

	return res, nil
}

func (c *Client) Read(ctx context.Context, sess remote.SessionID, node ua.NodeID, attr ua.AttributeID) (ua.DataValue, error) {
	conn, ok := c.sessions.Load(sess)
	if !ok {
		return ua.DataValue{}, ua.StatusBadSessionIDInvalid
	}

	var dv ua.DataValue
	if err := conn.call(ctx, opRead, nodeRequest{Session: sess, Node: node, Attribute: attr}, &dv); err != nil {
		return ua.DataValue{}, err
	}

	return normalizeValue(dv), nil
}

func (c *Client) CreateSubscription(ctx context.Context, sess remote.SessionID, params ua.SubscriptionParameters) (remote.SubscriptionResult, error) {
	conn, ok := c.sessions.Load(sess)
	if !ok {
		return remote.SubscriptionResult{}, ua.StatusBadSessionIDInvalid
	}

	var resp subscriptionResponse
	p, err := conn.roundTrip(ctx, opCreateSubscription, createSubscriptionRequest{Session: sess, Params: params}, &resp)
	if err != nil {
		return remote.SubscriptionResult{}, err
	}
	c.subscriptions.Store(resp.ID, conn)

	return remote.SubscriptionResult{ID: resp.ID, Revised: resp.Revised, Publish: p.publish}, nil
}

func (c *Client) DeleteSubscription(ctx context.Context, id remote.SubscriptionID) error {
	conn, ok := c.subscriptions.LoadAndDelete(id)
	if !ok {
		return ua.StatusBadSubscriptionIDInvalid
	}

	return conn.call(ctx, opDeleteSubscription, itemRequest{Subscription: id}, nil)
}

func (c *Client) CreateMonitoredItem(ctx context.Context, sub remote.SubscriptionID, req remote.MonitoredItemRequest) (remote.MonitoredItemResult, error) {
	conn, ok := c.subscriptions.Load(sub)
	if !ok {
		return remote.MonitoredItemResult{}, ua.StatusBadSubscriptionIDInvalid
	}

	var res remote.MonitoredItemResult
	if err := conn.call(ctx, opCreateMonitoredItem, itemRequest{Subscription: sub, Request: req}, &res); err != nil {
		return remote.MonitoredItemResult{}, err
	}

	return res, nil
}

func (c *Client) DeleteMonitoredItem(ctx context.Context, sub remote.SubscriptionID, item remote.MonitoredItemID) error {
	conn, ok := c.subscriptions.Load(sub)
	if !ok {
		return ua.StatusBadSubscriptionIDInvalid
	}

	return conn.call(ctx, opDeleteMonitoredItem, itemRequest{Subscription: sub, Item: item}, nil)
}
