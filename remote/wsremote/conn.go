package wsremote

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/internal/idgen"
	"github.com/arloliu/go-uaclient/internal/task"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
)

const publishBacklog = 64

type pendingCall struct {
	op      string
	reply   chan *frame
	publish chan remote.PublishMessage // set for successful create_subscription calls
}

// clientConn is one WebSocket connection of a Client. It carries exactly one secure channel.
type clientConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	logger  logger.Logger
	tasks   *task.Manager
	idGen   *idgen.Generator

	pending *xsync.MapOf[uint32, *pendingCall]
	publish *xsync.MapOf[remote.SubscriptionID, chan remote.PublishMessage]

	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newClientConn(ws *websocket.Conn, l logger.Logger) *clientConn {
	return &clientConn{
		ws:      ws,
		logger:  l,
		tasks:   task.NewManager(context.Background(), l),
		idGen:   idgen.New(),
		pending: xsync.NewMapOf[uint32, *pendingCall](),
		publish: xsync.NewMapOf[remote.SubscriptionID, chan remote.PublishMessage](),
		closed:  make(chan struct{}),
	}
}

func (c *clientConn) start() error {
	return c.tasks.Go("reader", c.readLoop)
}

// close shuts the connection down. Publish channels are closed after the reader exited.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
		c.tasks.Stop()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *clientConn) wait() {
	c.tasks.Wait()
}

func (c *clientConn) write(f *frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrChannelClosed, err)
	}

	return nil
}

// call sends a request and waits for its response.
func (c *clientConn) call(ctx context.Context, op string, req any, resp any) error {
	_, err := c.roundTrip(ctx, op, req, resp)
	return err
}

func (c *clientConn) roundTrip(ctx context.Context, op string, req any, resp any) (*pendingCall, error) {
	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	id := c.idGen.Next()
	p := &pendingCall{op: op, reply: make(chan *frame, 1)}
	c.pending.Store(id, p)
	defer c.pending.Delete(id)

	if err := c.write(&frame{Kind: kindRequest, ID: id, Op: op, Body: body}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, remote.ErrChannelClosed
	case f := <-p.reply:
		if err := frameError(f); err != nil {
			return nil, err
		}
		if resp != nil {
			if err := decodeBody(f.Body, resp); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
}

func (c *clientConn) readLoop(_ context.Context) {
	defer c.closePublishChannels()
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("drop malformed frame", "error", err)
			continue
		}

		switch f.Kind {
		case kindResponse:
			c.handleResponse(f)
		case kindPublish:
			c.handlePublish(f)
		case kindPublishEnd:
			if ch, ok := c.publish.LoadAndDelete(remote.SubscriptionID(f.SubID)); ok {
				close(ch)
			}
		default:
			c.logger.Warn("drop unexpected frame", "kind", f.Kind)
		}
	}
}

func (c *clientConn) handleResponse(f *frame) {
	p, ok := c.pending.LoadAndDelete(f.ID)
	if !ok {
		c.logger.Debug("drop response without caller", "id", f.ID, "op", f.Op)
		return
	}

	// The publish channel must exist before the first publish frame of the subscription
	// is read, so it is registered here rather than by the caller.
	if p.op == opCreateSubscription && f.ErrKind == "" {
		var resp subscriptionResponse
		if err := decodeBody(f.Body, &resp); err == nil {
			p.publish = make(chan remote.PublishMessage, publishBacklog)
			c.publish.Store(resp.ID, p.publish)
		}
	}

	p.reply <- f
}

// handlePublish never blocks: the reader also carries the responses the consumer may be waiting for.
func (c *clientConn) handlePublish(f *frame) {
	var msg remote.PublishMessage
	if err := decodeBody(f.Body, &msg); err != nil {
		c.logger.Warn("drop malformed publish message", "error", err)
		return
	}
	for i := range msg.Notifications {
		msg.Notifications[i].Value = normalizeValue(msg.Notifications[i].Value)
	}

	ch, ok := c.publish.Load(msg.SubscriptionID)
	if !ok {
		return
	}

	select {
	case ch <- msg:
	default:
		c.logger.Warn("publish backlog full, drop message", "subscription", msg.SubscriptionID, "sequence", msg.Sequence)
	}
}

func (c *clientConn) closePublishChannels() {
	c.publish.Range(func(id remote.SubscriptionID, ch chan remote.PublishMessage) bool {
		c.publish.Delete(id)
		close(ch)
		return true
	})
}
