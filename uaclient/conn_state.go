package uaclient

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-uaclient/logger"
)

// ConnState represents the stages of a client connection.
type ConnState uint32

// Connection states.
const (
	// DisconnectedState indicates that no channel is open.
	DisconnectedState ConnState = iota
	// ConnectingState indicates that a connect attempt is running.
	ConnectingState
	// ConnectedState indicates that the channel is open and sessions can be created.
	ConnectedState
	// BackingOffState indicates that a connect attempt failed and the connector waits before the next one.
	BackingOffState
)

// IsDisconnected returns if the state is disconnected.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// IsConnecting returns if the state is connecting.
func (cs ConnState) IsConnecting() bool { return cs == ConnectingState }

// IsConnected returns if the state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsBackingOff returns if the state is backing-off.
func (cs ConnState) IsBackingOff() bool { return cs == BackingOffState }

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case BackingOffState:
		return "backing-off"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is invoked when the state of a connection changes.
//
// Note: the handler is invoked in a blocking mode while the state manager holds its lock.
// It must not call the transition methods of the same manager, and slow work should be handed off.
type ConnStateChangeHandler func(conn *Connection, prevState ConnState, newState ConnState)

// ConnStateMgr manages the state of one connection.
//
// Transitions are safe for concurrent use. Valid transitions are:
//
//	disconnected -> connecting
//	connecting   -> connected | backing-off
//	backing-off  -> connecting
//	any          -> disconnected
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	conn     *Connection
	logger   logger.Logger
	handlers []ConnStateChangeHandler
}

// NewConnStateMgr creates a new ConnStateMgr in DisconnectedState.
func NewConnStateMgr(conn *Connection, l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	cs := &ConnStateMgr{
		conn:     conn,
		logger:   l,
		handlers: make([]ConnStateChangeHandler, 0, len(handlers)),
	}
	cs.AddHandler(handlers...)
	cs.state.Store(uint32(DisconnectedState))
	cs.cond = sync.NewCond(&cs.mu)

	return cs
}

// State returns the current state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			cs.handlers = append(cs.handlers, h)
		}
	}
}

// WaitState waits for the state to reach the specified state or until the context is done.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		if err := ctx.Err(); err != nil {
			cs.logger.Debug("wait connection state receive ctx done", "cur_state", cs.State(), "desired_state", state)
			return err
		}
		cs.cond.Wait()
	}

	return nil
}

// ToConnecting transitions to ConnectingState. It is allowed from DisconnectedState and BackingOffState.
func (cs *ConnStateMgr) ToConnecting() error {
	return cs.transition(ConnectingState, DisconnectedState, BackingOffState)
}

// ToConnected transitions to ConnectedState. It is only allowed from ConnectingState.
func (cs *ConnStateMgr) ToConnected() error {
	return cs.transition(ConnectedState, ConnectingState)
}

// ToBackingOff transitions to BackingOffState. It is only allowed from ConnectingState.
func (cs *ConnStateMgr) ToBackingOff() error {
	return cs.transition(BackingOffState, ConnectingState)
}

// ToDisconnected transitions to DisconnectedState. This transition is allowed from any state.
// It returns false if the state was already disconnected.
func (cs *ConnStateMgr) ToDisconnected() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState == DisconnectedState {
		return false
	}

	cs.setState(DisconnectedState)
	cs.invokeHandlers(curState, DisconnectedState)

	return true
}

// IsConnected returns if the current state is connected.
func (cs *ConnStateMgr) IsConnected() bool {
	return cs.State().IsConnected()
}

// transition moves to newState if the current state is one of from. A transition to the current
// state is a no-op.
func (cs *ConnStateMgr) transition(newState ConnState, from ...ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState == newState {
		return nil
	}

	allowed := false
	for _, st := range from {
		if curState == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	cs.setState(newState)
	cs.invokeHandlers(curState, newState)

	return nil
}

// setState stores newState and wakes up waiting goroutines. Must be called with cs.mu held.
func (cs *ConnStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

func (cs *ConnStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	cs.logger.Debug("connection state changes", "prevState", prevState, "curState", newState)
	for _, handler := range cs.handlers {
		handler(cs.conn, prevState, newState)
	}
}
