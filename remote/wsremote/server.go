package wsremote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/internal/task"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithCheckOrigin sets the origin check of the WebSocket upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// Server exposes a remote.Service to WebSocket clients.
type Server struct {
	backend  remote.Service
	upgrader websocket.Upgrader
	logger   logger.Logger

	conns  *xsync.MapOf[*serverConn, struct{}]
	closed atomic.Bool
}

// NewServer creates a Server forwarding every call to backend.
func NewServer(backend remote.Service, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: xsync.NewMapOf[*serverConn, struct{}](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.GetLogger()
	}
	s.logger = s.logger.With("component", "wsremote.server")

	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sc := &serverConn{
		srv:      s,
		ws:       ws,
		logger:   s.logger.With("remote", r.RemoteAddr),
		tasks:    task.NewManager(context.Background(), s.logger),
		channels: xsync.NewMapOf[remote.ChannelID, struct{}](),
	}
	s.conns.Store(sc, struct{}{})
	defer s.conns.Delete(sc)

	sc.serve()
}

// Close closes every connection. Channels opened through them are disconnected on the backend.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.conns.Range(func(sc *serverConn, _ struct{}) bool {
		_ = sc.ws.Close()
		return true
	})
}

// ConnCount returns the number of connected clients.
func (s *Server) ConnCount() int {
	return s.conns.Size()
}

type serverConn struct {
	srv     *Server
	ws      *websocket.Conn
	writeMu sync.Mutex
	logger  logger.Logger
	tasks   *task.Manager

	channels *xsync.MapOf[remote.ChannelID, struct{}]
}

func (sc *serverConn) serve() {
	sc.logger.Debug("client connected")
	defer sc.cleanup()

	for {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			sc.logger.Debug("client disconnected", "error", err)
			return
		}

		f, err := decodeFrame(data)
		if err != nil || f.Kind != kindRequest {
			sc.logger.Warn("drop malformed request", "error", err)
			continue
		}

		if err := sc.tasks.Go("request-"+f.Op, func(ctx context.Context) { sc.handle(ctx, f) }); err != nil {
			return
		}
	}
}

// cleanup disconnects the channels left open by the client, then stops the forwarders.
func (sc *serverConn) cleanup() {
	sc.channels.Range(func(id remote.ChannelID, _ struct{}) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sc.srv.backend.Disconnect(ctx, id); err != nil {
			sc.logger.Debug("disconnect abandoned channel", "channel", id, "error", err)
		}
		return true
	})

	sc.tasks.Stop()
	sc.tasks.Wait()
	_ = sc.ws.Close()
}

func (sc *serverConn) write(f *frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	return sc.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (sc *serverConn) handle(ctx context.Context, req *frame) {
	resp := &frame{Kind: kindResponse, ID: req.ID, Op: req.Op}

	var onSent func()
	body, err := sc.dispatch(ctx, req, &onSent)
	if err != nil {
		setError(resp, err)
	} else if resp.Body, err = encodeBody(body); err != nil {
		setError(resp, fmt.Errorf("%w: %v", ua.StatusBadInternalError, err))
	}

	if err := sc.write(resp); err != nil {
		sc.logger.Debug("write response failed", "op", req.Op, "error", err)
		return
	}

	if onSent != nil {
		onSent()
	}
}

// dispatch runs one request against the backend. onSent, when set, runs after the
// response was written.
func (sc *serverConn) dispatch(ctx context.Context, req *frame, onSent *func()) (any, error) {
	backend := sc.srv.backend

	switch req.Op {
	case opConnect:
		var r connectRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		endpoint, err := ua.ParseEndpoint(r.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ua.StatusBadTCPEndpointURLInvalid, err)
		}
		id, err := backend.Connect(ctx, endpoint, remote.ConnectOptions{Security: r.Security, AllowEndpointMismatch: r.AllowMismatch})
		if err != nil {
			return nil, err
		}
		sc.channels.Store(id, struct{}{})
		return id, nil

	case opDisconnect:
		var r channelRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		sc.channels.Delete(r.Channel)
		return nil, backend.Disconnect(ctx, r.Channel)

	case opCreateSession:
		var r createSessionRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		return backend.CreateSession(ctx, r.Channel, remote.SessionRequest{Name: r.Name, Timeout: r.Timeout})

	case opCloseSession:
		var r sessionRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		return nil, backend.CloseSession(ctx, r.Session)

	case opBrowse:
		var r nodeRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		return backend.Browse(ctx, r.Session, r.Node)

	case opRead:
		var r nodeRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		return backend.Read(ctx, r.Session, r.Node, r.Attribute)

	case opCreateSubscription:
		var r createSubscriptionRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		res, err := backend.CreateSubscription(ctx, r.Session, r.Params)
		if err != nil {
			return nil, err
		}
		*onSent = func() { sc.startForwarder(res) }
		return subscriptionResponse{ID: res.ID, Revised: res.Revised}, nil

	case opDeleteSubscription:
		var r itemRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		return nil, backend.DeleteSubscription(ctx, r.Subscription)

	case opCreateMonitoredItem:
		var r itemRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		return backend.CreateMonitoredItem(ctx, r.Subscription, r.Request)

	case opDeleteMonitoredItem:
		var r itemRequest
		if err := decodeBody(req.Body, &r); err != nil {
			return nil, err
		}
		return nil, backend.DeleteMonitoredItem(ctx, r.Subscription, r.Item)

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ua.StatusBadNotSupported, req.Op)
	}
}

// startForwarder relays the publish messages of a subscription until the backend closes the channel.
func (sc *serverConn) startForwarder(res remote.SubscriptionResult) {
	err := sc.tasks.Go(fmt.Sprintf("forward-%d", res.ID), func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-res.Publish:
				if !ok {
					_ = sc.write(&frame{Kind: kindPublishEnd, SubID: uint32(res.ID)})
					return
				}
				body, err := encodeBody(msg)
				if err != nil {
					sc.logger.Error("encode publish message", "subscription", res.ID, "error", err)
					continue
				}
				if err := sc.write(&frame{Kind: kindPublish, SubID: uint32(res.ID), Body: body}); err != nil {
					return
				}
			}
		}
	})
	if err != nil {
		sc.logger.Debug("forwarder not started", "subscription", res.ID, "error", err)
	}
}
