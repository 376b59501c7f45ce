// Package gopcuaremote implements remote.Service on top of github.com/gopcua/opcua, for real
// opc.tcp servers.
//
// gopcua opens the secure channel and the session in one Connect call, so the adapter splits
// the work: Connect discovers the endpoints of the server (a full channel round trip that
// proves the server is reachable and reveals its advertised URL) and CreateSession opens the
// gopcua client with the requested session name and timeout. One session per channel.
//
// gopcua does not surface keepalive publish responses. The adapter synthesizes a keepalive
// message for every idle keepalive interval, but only while the gopcua client reports a
// connected channel.
package gopcuaremote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	gua "github.com/gopcua/opcua/ua"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-uaclient/internal/idgen"
	"github.com/arloliu/go-uaclient/internal/task"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

const (
	defaultApplicationURI = "urn:go-uaclient"
	// closeTimeout bounds how long Close waits for the publish pumps.
	closeTimeout = 5 * time.Second
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithApplicationURI sets the application URI announced to the server.
func WithApplicationURI(uri string) Option {
	return func(a *Adapter) { a.appURI = uri }
}

// WithRequestTimeout sets the gopcua request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.requestTimeout = d }
}

type channelState struct {
	id       remote.ChannelID
	url      string
	endpoint *gua.EndpointDescription

	mu      sync.Mutex
	client  *opcua.Client
	session remote.SessionID
}

// Adapter implements remote.Service with gopcua clients.
type Adapter struct {
	logger         logger.Logger
	appURI         string
	requestTimeout time.Duration
	tasks          *task.Manager
	idGen          *idgen.Generator

	channels      *xsync.MapOf[remote.ChannelID, *channelState]
	sessions      *xsync.MapOf[remote.SessionID, *channelState]
	subscriptions *xsync.MapOf[remote.SubscriptionID, *subscriptionState]
}

var _ remote.Service = (*Adapter)(nil)

// New creates an Adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		appURI:         defaultApplicationURI,
		requestTimeout: 10 * time.Second,
		idGen:          idgen.NewSequential(),
		channels:       xsync.NewMapOf[remote.ChannelID, *channelState](),
		sessions:       xsync.NewMapOf[remote.SessionID, *channelState](),
		subscriptions:  xsync.NewMapOf[remote.SubscriptionID, *subscriptionState](),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.GetLogger()
	}
	a.logger = a.logger.With("component", "gopcuaremote")
	a.tasks = task.NewManager(context.Background(), a.logger)

	return a
}

// Close closes every client and stops the publish pumps.
func (a *Adapter) Close() {
	a.channels.Range(func(id remote.ChannelID, _ *channelState) bool {
		_ = a.Disconnect(context.Background(), id)
		return true
	})
	if !a.tasks.StopAndWait(closeTimeout) {
		a.logger.Warn("publish pumps did not stop in time")
	}
}

// Connect discovers the endpoints of the server and checks its advertised URL.
func (a *Adapter) Connect(ctx context.Context, endpoint ua.Endpoint, opts remote.ConnectOptions) (remote.ChannelID, error) {
	if endpoint.Scheme() != ua.SchemeOPCTCP {
		return 0, fmt.Errorf("%w: gopcuaremote cannot serve %s", ua.StatusBadTCPEndpointURLInvalid, endpoint)
	}

	url := endpoint.String()
	endpoints, err := opcua.GetEndpoints(ctx, url)
	if err != nil {
		return 0, classify(err)
	}

	ep := selectEndpoint(endpoints)
	if ep == nil {
		return 0, fmt.Errorf("%w: no endpoint with security policy None", ua.StatusBadConnectionRejected)
	}

	if ep.EndpointURL != url {
		if !opts.AllowEndpointMismatch {
			return 0, fmt.Errorf("%w: requested %s, server advertises %s", remote.ErrEndpointMismatch, url, ep.EndpointURL)
		}
		a.logger.Warn("server advertises a different endpoint url, keeping the requested one",
			"requested", url, "advertised", ep.EndpointURL)
	}

	ch := &channelState{id: remote.ChannelID(a.idGen.Next()), url: url, endpoint: ep}
	a.channels.Store(ch.id, ch)

	return ch.id, nil
}

// Disconnect closes the gopcua client of the channel, if a session was opened on it.
func (a *Adapter) Disconnect(ctx context.Context, id remote.ChannelID) error {
	ch, ok := a.channels.LoadAndDelete(id)
	if !ok {
		return remote.ErrChannelClosed
	}

	ch.mu.Lock()
	sess := ch.session
	ch.mu.Unlock()
	if sess != 0 {
		return a.CloseSession(ctx, sess)
	}

	return nil
}

// CreateSession opens the gopcua client, which creates and activates the session.
func (a *Adapter) CreateSession(ctx context.Context, id remote.ChannelID, req remote.SessionRequest) (remote.SessionID, error) {
	ch, ok := a.channels.Load(id)
	if !ok {
		return 0, remote.ErrChannelClosed
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.client != nil {
		return 0, ua.StatusBadTooManySessions
	}

	opts := []opcua.Option{
		opcua.SecurityFromEndpoint(ch.endpoint, gua.UserTokenTypeAnonymous),
		opcua.AuthAnonymous(),
		opcua.ApplicationURI(a.appURI),
		opcua.AutoReconnect(false),
		opcua.RequestTimeout(a.requestTimeout),
		opcua.SessionName(req.Name),
	}
	if req.Timeout > 0 {
		opts = append(opts, opcua.SessionTimeout(req.Timeout))
	}

	client, err := opcua.NewClient(ch.url, opts...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ua.StatusBadConnectionRejected, err)
	}

	if err := client.Connect(ctx); err != nil {
		return 0, classify(err)
	}

	ch.client = client
	ch.session = remote.SessionID(a.idGen.Next())
	a.sessions.Store(ch.session, ch)

	return ch.session, nil
}

// CloseSession closes the session and the gopcua client carrying it.
func (a *Adapter) CloseSession(ctx context.Context, id remote.SessionID) error {
	ch, ok := a.sessions.LoadAndDelete(id)
	if !ok {
		return ua.StatusBadSessionIDInvalid
	}

	a.subscriptions.Range(func(subID remote.SubscriptionID, sub *subscriptionState) bool {
		if sub.session == id {
			a.subscriptions.Delete(subID)
			sub.stop()
		}
		return true
	})

	ch.mu.Lock()
	client := ch.client
	ch.client = nil
	ch.session = 0
	ch.mu.Unlock()

	if client == nil {
		return nil
	}

	return classify(client.Close(ctx))
}

func (a *Adapter) client(id remote.SessionID) (*opcua.Client, error) {
	ch, ok := a.sessions.Load(id)
	if !ok {
		return nil, ua.StatusBadSessionIDInvalid
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.client == nil {
		return nil, ua.StatusBadSessionClosed
	}

	return ch.client, nil
}

// Browse browses the hierarchical forward references of a node.
func (a *Adapter) Browse(ctx context.Context, sess remote.SessionID, node ua.NodeID) (ua.BrowseResult, error) {
	client, err := a.client(sess)
	if err != nil {
		return ua.BrowseResult{}, err
	}

	id, err := toNodeID(node)
	if err != nil {
		return ua.BrowseResult{}, err
	}

	resp, err := client.Browse(ctx, &gua.BrowseRequest{
		NodesToBrowse: []*gua.BrowseDescription{{
			NodeID:          id,
			BrowseDirection: gua.BrowseDirectionForward,
			ReferenceTypeID: gua.NewNumericNodeID(0, ua.HierarchicalReferencesID.Numeric),
			IncludeSubtypes: true,
			ResultMask:      uint32(gua.BrowseResultMaskAll),
		}},
	})
	if err != nil {
		return ua.BrowseResult{}, classify(err)
	}
	if len(resp.Results) == 0 {
		return ua.BrowseResult{}, ua.StatusBadInternalError
	}

	return fromBrowseResult(resp.Results[0]), nil
}

// Read reads one attribute of a node.
func (a *Adapter) Read(ctx context.Context, sess remote.SessionID, node ua.NodeID, attr ua.AttributeID) (ua.DataValue, error) {
	client, err := a.client(sess)
	if err != nil {
		return ua.DataValue{}, err
	}

	id, err := toNodeID(node)
	if err != nil {
		return ua.DataValue{}, err
	}

	resp, err := client.Read(ctx, &gua.ReadRequest{
		NodesToRead:        []*gua.ReadValueID{{NodeID: id, AttributeID: gua.AttributeID(attr)}},
		TimestampsToReturn: gua.TimestampsToReturnBoth,
	})
	if err != nil {
		return ua.DataValue{}, classify(err)
	}
	if len(resp.Results) == 0 {
		return ua.DataValue{}, ua.StatusBadInternalError
	}

	return fromDataValue(resp.Results[0]), nil
}
