// Package event implements per-instance observer registration with asynchronous, ordered delivery.
//
// Publishers never block: events are appended to an unbounded lock-free queue and a single dispatcher
// goroutine invokes the registered handlers in publication order. A handler that panics is logged and
// does not stop the dispatcher.
package event

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-uaclient/internal/queue"
	"github.com/arloliu/go-uaclient/internal/task"
	"github.com/arloliu/go-uaclient/logger"
)

// Handler receives events of type E.
type Handler[E any] func(E)

// Bus dispatches events of type E to registered handlers.
type Bus[E any] struct {
	name    string
	logger  logger.Logger
	taskMgr *task.Manager

	mu       sync.RWMutex
	handlers map[uint64]Handler[E]
	nextID   uint64

	pending  queue.Queue[E]
	inflight atomic.Int32
	wakeup   chan struct{}
	closed   atomic.Bool
	idle     chan struct{} // closed and replaced whenever the queue drains
	idleMu   sync.Mutex
}

// NewBus creates a bus and starts its dispatcher goroutine.
func NewBus[E any](ctx context.Context, name string, l logger.Logger) *Bus[E] {
	if l == nil {
		l = logger.GetLogger()
	}
	b := &Bus[E]{
		name:     name,
		logger:   l,
		taskMgr:  task.NewManager(ctx, l),
		handlers: make(map[uint64]Handler[E]),
		pending:  queue.NewLockFreeQueue[E](),
		wakeup:   make(chan struct{}, 1),
		idle:     make(chan struct{}),
	}

	if err := b.taskMgr.Go(name+"-dispatch", b.dispatchLoop); err != nil {
		b.logger.Error("failed to start event dispatcher", "bus", name, "error", err)
	}

	return b
}

// Subscribe registers a handler and returns a function that unregisters it.
func (b *Bus[E]) Subscribe(h Handler[E]) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// HandlerCount returns the number of registered handlers.
func (b *Bus[E]) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers)
}

// Publish queues an event for delivery. It never blocks. Events published after Close are dropped.
func (b *Bus[E]) Publish(e E) {
	if b.closed.Load() {
		return
	}

	b.pending.Enqueue(e)
	select {
	case b.wakeup <- struct{}{}:
	default:
	}
}

// Flush blocks until every event published before the call has been delivered, or ctx is done.
func (b *Bus[E]) Flush(ctx context.Context) error {
	for {
		b.idleMu.Lock()
		idle := b.idle
		empty := b.pending.IsEmpty()
		b.idleMu.Unlock()

		if empty && b.inflight.Load() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// Close stops accepting events. The dispatcher delivers what is already queued and exits.
// Close never blocks, so it is safe to call from a handler. Close is idempotent.
func (b *Bus[E]) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	select {
	case b.wakeup <- struct{}{}:
	default:
	}
}

// Wait blocks until the dispatcher exited. It must not be called from a handler of the same bus.
func (b *Bus[E]) Wait() {
	b.taskMgr.Wait()
}

func (b *Bus[E]) dispatchLoop(ctx context.Context) {
	for {
		b.drain()

		if b.closed.Load() {
			b.drain()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-b.wakeup:
		}
	}
}

func (b *Bus[E]) drain() {
	for {
		b.inflight.Add(1)
		e, ok := b.pending.Dequeue()
		if !ok {
			b.inflight.Add(-1)
			b.signalIdle()
			return
		}
		b.deliver(e)
		b.inflight.Add(-1)
	}
}

func (b *Bus[E]) deliver(e E) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	slices.Sort(ids)

	for _, id := range ids {
		b.mu.RLock()
		h, ok := b.handlers[id]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		b.invoke(h, e)
	}
}

func (b *Bus[E]) invoke(h Handler[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in event handler", "bus", b.name, "panic", r)
		}
	}()

	h(e)
}

func (b *Bus[E]) signalIdle() {
	b.idleMu.Lock()
	defer b.idleMu.Unlock()

	if !b.pending.IsEmpty() {
		return
	}
	close(b.idle)
	b.idle = make(chan struct{})
}
