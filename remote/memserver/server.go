// Package memserver implements remote.Service with an in-process simulated OPC UA server.
//
// The simulator owns a small demo address space, runs one publish loop per subscription
// (keepalive and data messages at the revised publishing interval) and offers injection
// hooks for tests: value changes, connect failures, subscription expiry, stalled publishing
// and dropped connections.
package memserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/internal/idgen"
	"github.com/arloliu/go-uaclient/internal/task"
	"github.com/arloliu/go-uaclient/internal/util"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// closeTimeout bounds how long Close waits for the publish loops.
const closeTimeout = 5 * time.Second

type channel struct {
	id       remote.ChannelID
	endpoint string
}

type session struct {
	id        remote.SessionID
	channel   remote.ChannelID
	name      string
	authToken uuid.UUID
	timeout   time.Duration
}

// Server is the simulated OPC UA server.
type Server struct {
	opts   *options
	logger logger.Logger
	tasks  *task.Manager

	mu    sync.Mutex // guards space and connectFaults
	space *addressSpace

	connectFaults   []error
	connectAttempts atomic.Int32

	idGen         *idgen.Generator
	channels      *xsync.MapOf[remote.ChannelID, *channel]
	sessions      *xsync.MapOf[remote.SessionID, *session]
	subscriptions *xsync.MapOf[remote.SubscriptionID, *subscription]
	closed        atomic.Bool
}

var _ remote.Service = (*Server)(nil)

// New creates a simulator with the demo address space.
func New(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}

	l := o.logger.With("component", "memserver", "name", o.name)

	return &Server{
		opts:          o,
		logger:        l,
		tasks:         task.NewManager(context.Background(), l),
		space:         newAddressSpace(),
		idGen:         idgen.NewSequential(),
		channels:      xsync.NewMapOf[remote.ChannelID, *channel](),
		sessions:      xsync.NewMapOf[remote.SessionID, *session](),
		subscriptions: xsync.NewMapOf[remote.SubscriptionID, *subscription](),
	}
}

// Close stops every publish loop and drops all channels.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.DropConnections()
	if !s.tasks.StopAndWait(closeTimeout) {
		s.logger.Warn("publish loops did not stop in time")
	}
}

// Connect opens a channel. Pending connect faults are consumed first, one per attempt.
func (s *Server) Connect(ctx context.Context, endpoint ua.Endpoint, opts remote.ConnectOptions) (remote.ChannelID, error) {
	s.connectAttempts.Add(1)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s.closed.Load() {
		return 0, remote.ErrRefused
	}

	s.mu.Lock()
	if len(s.connectFaults) > 0 {
		err := s.connectFaults[0]
		s.connectFaults = s.connectFaults[1:]
		s.mu.Unlock()
		s.logger.Debug("injected connect failure", "endpoint", endpoint.String(), "error", err)

		return 0, err
	}
	s.mu.Unlock()

	if s.opts.endpointURL != "" && endpoint.String() != s.opts.endpointURL {
		if !opts.AllowEndpointMismatch {
			return 0, fmt.Errorf("%w: requested %s, server %s", remote.ErrEndpointMismatch, endpoint, s.opts.endpointURL)
		}
		s.logger.Warn("endpoint url mismatch accepted", "requested", endpoint.String(), "server", s.opts.endpointURL)
	}

	ch := &channel{id: remote.ChannelID(s.idGen.Next()), endpoint: endpoint.String()}
	s.channels.Store(ch.id, ch)
	s.logger.Debug("channel opened", "channel", ch.id, "security", opts.Security.Mode.String())

	return ch.id, nil
}

// Disconnect closes a channel together with its sessions.
func (s *Server) Disconnect(_ context.Context, id remote.ChannelID) error {
	if _, ok := s.channels.LoadAndDelete(id); !ok {
		return remote.ErrChannelClosed
	}

	s.sessions.Range(func(sid remote.SessionID, sess *session) bool {
		if sess.channel == id {
			s.dropSession(sid)
		}
		return true
	})
	s.logger.Debug("channel closed", "channel", id)

	return nil
}

// CreateSession creates and activates a session on an open channel.
func (s *Server) CreateSession(ctx context.Context, ch remote.ChannelID, req remote.SessionRequest) (remote.SessionID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if _, ok := s.channels.Load(ch); !ok {
		return 0, remote.ErrChannelClosed
	}

	sess := &session{
		id:        remote.SessionID(s.idGen.Next()),
		channel:   ch,
		name:      req.Name,
		authToken: uuid.New(),
		timeout:   req.Timeout,
	}
	s.sessions.Store(sess.id, sess)
	s.logger.Debug("session activated", "session", sess.id, "name", sess.name, "token", sess.authToken.String())

	return sess.id, nil
}

// CloseSession closes a session and deletes its subscriptions.
func (s *Server) CloseSession(_ context.Context, id remote.SessionID) error {
	if _, ok := s.sessions.Load(id); !ok {
		return ua.StatusBadSessionIDInvalid
	}
	s.dropSession(id)

	return nil
}

func (s *Server) dropSession(id remote.SessionID) {
	if _, ok := s.sessions.LoadAndDelete(id); !ok {
		return
	}

	s.subscriptions.Range(func(subID remote.SubscriptionID, sub *subscription) bool {
		if sub.session == id {
			s.subscriptions.Delete(subID)
			sub.stop()
		}
		return true
	})
	s.logger.Debug("session closed", "session", id)
}

func (s *Server) checkSession(ctx context.Context, id remote.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := s.sessions.Load(id); !ok {
		return ua.StatusBadSessionIDInvalid
	}

	return nil
}

// Browse returns the forward references of node. With a browse limit, the result is
// truncated and carries a continuation point.
func (s *Server) Browse(ctx context.Context, sess remote.SessionID, id ua.NodeID) (ua.BrowseResult, error) {
	if err := s.checkSession(ctx, sess); err != nil {
		return ua.BrowseResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.space.lookup(id)
	if err != nil {
		return ua.BrowseResult{Status: ua.StatusBadNodeIDUnknown}, nil
	}

	result := ua.BrowseResult{Status: ua.StatusOK, References: util.CloneSlice(n.refs, 0)}
	if limit := s.opts.browseLimit; limit > 0 && len(n.refs) > limit {
		result.References = util.CloneSlice(n.refs, limit)
		result.ContinuationPoint = []byte(uuid.NewString())
	}

	return result, nil
}

// Read returns one attribute of a node. Node and attribute problems are reported through the
// status of the returned value.
func (s *Server) Read(ctx context.Context, sess remote.SessionID, id ua.NodeID, attr ua.AttributeID) (ua.DataValue, error) {
	if err := s.checkSession(ctx, sess); err != nil {
		return ua.DataValue{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.space.lookup(id)
	if err != nil {
		return ua.DataValue{Status: ua.StatusBadNodeIDUnknown}, nil
	}

	dv := n.attribute(attr)
	if dv.Status.IsGood() {
		dv.ServerTimestamp = s.opts.clock.Now()
	}

	return dv, nil
}
