// Package scenario runs the reference OPC UA client scenario: connect, create a session, browse,
// read, subscribe, monitor, wait, and tear everything down again in reverse order.
//
// Any failure aborts the remaining forward steps and jumps to the teardown. Teardown steps are
// best-effort: their errors are logged and reported in the teardown trail, and the error that
// aborted the run is the one returned.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-uaclient/internal/clock"
	"github.com/arloliu/go-uaclient/internal/util"
	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
	"github.com/arloliu/go-uaclient/uaclient"
)

// ErrRunning is returned by Run when another run of the same Runner is in progress.
var ErrRunning = errors.New("scenario is already running")

// TeardownStep identifies one step of the teardown sequence.
type TeardownStep uint8

const (
	StepTerminated TeardownStep = iota
	StepSessionClosed
	StepDisconnected
)

func (s TeardownStep) String() string {
	switch s {
	case StepTerminated:
		return "terminated"
	case StepSessionClosed:
		return "session-closed"
	case StepDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// TeardownEvent records one executed teardown step. Err is the error the step ran into; it is
// informational only and never fails the run.
type TeardownEvent struct {
	Step TeardownStep
	Err  error
	Time time.Time
}

// Hooks are optional observers of a run. Lifecycle and change hooks are called from delivery
// goroutines and must not block; the others are called by the goroutine executing Run.
type Hooks struct {
	OnBackoff    func(uaclient.BackoffEvent)
	OnBrowse     func(*ua.BrowseResult)
	OnRead       func(ua.DataValue)
	OnStarted    func(uaclient.StartedEvent)
	OnKeepAlive  func(uaclient.KeepAliveEvent)
	OnTerminated func(uaclient.TerminatedEvent)
	OnChange     func(uaclient.ChangeNotification)
	OnTeardown   func(TeardownEvent)
}

// Report summarizes one run.
type Report struct {
	Endpoint       ua.Endpoint
	References     []ua.ReferenceDescription
	Value          ua.DataValue
	SubscriptionID remote.SubscriptionID
	Revised        ua.SubscriptionParameters
	KeepAlives     int
	Notifications  []uaclient.ChangeNotification
	Teardown       []TeardownEvent
}

// Steps returns the executed teardown steps in order.
func (r *Report) Steps() []TeardownStep {
	steps := make([]TeardownStep, 0, len(r.Teardown))
	for _, e := range r.Teardown {
		steps = append(steps, e.Step)
	}

	return steps
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock of the wait window and of every client component.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHooks sets the observers of the run.
func WithHooks(h Hooks) Option {
	return func(r *Runner) { r.hooks = h }
}

// Runner executes the scenario described by a Config against a remote service.
type Runner struct {
	svc     remote.Service
	cfg     *Config
	clock   clock.Clock
	logger  logger.Logger
	hooks   Hooks
	running atomic.Bool

	endpoint  ua.Endpoint
	node      ua.NodeID
	startNode ua.NodeID
}

// NewRunner creates a Runner. The configuration is validated; a nil cfg runs the defaults.
func NewRunner(svc remote.Service, cfg *Config, opts ...Option) (*Runner, error) {
	if svc == nil {
		return nil, uaclient.ErrServiceNil
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		svc:    svc,
		cfg:    cfg,
		clock:  clock.Real(),
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = r.logger.With("component", "scenario")

	// validated above
	r.endpoint, _ = cfg.EndpointURL()
	r.node, _ = cfg.NodeID()
	r.startNode, _ = cfg.StartNodeID()

	return r, nil
}

// resources holds what a run acquired, in acquisition order.
type resources struct {
	connector *uaclient.Connector
	sessions  *uaclient.SessionManager
	subs      *uaclient.SubscriptionManager

	conn *uaclient.Connection
	sess *uaclient.Session
	sub  *uaclient.Subscription
}

// collector gathers the asynchronous parts of a report.
type collector struct {
	mu            sync.Mutex
	keepalives    int
	notifications []uaclient.ChangeNotification
}

func (c *collector) keepalive() {
	c.mu.Lock()
	c.keepalives++
	c.mu.Unlock()
}

func (c *collector) notification(n uaclient.ChangeNotification) {
	c.mu.Lock()
	c.notifications = append(c.notifications, n)
	c.mu.Unlock()
}

func (c *collector) fill(report *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report.KeepAlives = c.keepalives
	report.Notifications = util.CloneSlice(c.notifications, 0)
}

// Run executes the scenario once. The report is returned even when the run fails; it holds
// what was observed up to the failure together with the teardown trail.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer r.running.Store(false)

	report := &Report{Endpoint: r.endpoint}
	coll := &collector{}

	res, err := r.newResources()
	if err != nil {
		return report, err
	}

	runErr := r.forward(ctx, res, report, coll)
	if runErr != nil {
		r.logger.Error("scenario aborted", "error", runErr)
	}

	r.teardown(context.WithoutCancel(ctx), res, report)
	res.connector.Close()
	res.sessions.Shutdown()
	coll.fill(report)

	return report, runErr
}

func (r *Runner) newResources() (*resources, error) {
	opts := append(r.cfg.ClientOptions(), uaclient.WithClock(r.clock), uaclient.WithLogger(r.logger))
	clientCfg, err := uaclient.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	connector, err := uaclient.NewConnector(r.svc, clientCfg)
	if err != nil {
		return nil, err
	}

	if r.hooks.OnBackoff != nil {
		connector.OnBackoff(r.hooks.OnBackoff)
	}

	return &resources{
		connector: connector,
		sessions:  uaclient.NewSessionManager(clientCfg),
		subs:      uaclient.NewSubscriptionManager(clientCfg),
	}, nil
}

func (r *Runner) forward(ctx context.Context, res *resources, report *Report, coll *collector) error {
	cfg := res.connector.Config()

	conn, err := res.connector.Connect(ctx, r.endpoint)
	if err != nil {
		return err
	}
	res.conn = conn

	sess, err := res.sessions.CreateSession(ctx, conn)
	if err != nil {
		return err
	}
	res.sess = sess
	r.logger.Info("session created", "name", sess.Name())

	browsed, err := uaclient.NewBrowser(cfg).Browse(ctx, sess, r.startNode)
	if err != nil {
		return err
	}
	report.References = browsed.References
	r.logger.Info("browsed", "node", r.startNode.String(), "references", browsed.BrowseNames())
	if r.hooks.OnBrowse != nil {
		r.hooks.OnBrowse(browsed)
	}

	dv, err := uaclient.NewReader(cfg).ReadValue(ctx, sess, r.node)
	if err != nil {
		return err
	}
	report.Value = dv
	r.logger.Info("value read", "node", r.node.String(), "value", dv.Value.Value, "status", dv.Status.String())
	if r.hooks.OnRead != nil {
		r.hooks.OnRead(dv)
	}

	sub, err := res.subs.Create(ctx, sess, r.cfg.SubscriptionParameters(), r.subscriptionHooks(coll)...)
	if err != nil {
		return err
	}
	res.sub = sub
	report.SubscriptionID = sub.ID()
	report.Revised = sub.Parameters()

	item, err := uaclient.NewRegistry(cfg).Monitor(ctx, sub, ua.ValueOf(r.node), r.cfg.MonitoringParameters())
	if err != nil {
		return err
	}
	item.OnChanged(func(n uaclient.ChangeNotification) {
		coll.notification(n)
		r.logger.Info("value changed", "node", n.NodeID.String(), "value", n.Value.Value.Value, "sequence", n.Sequence)
		if r.hooks.OnChange != nil {
			r.hooks.OnChange(n)
		}
	})

	return r.wait(ctx, sub)
}

func (r *Runner) subscriptionHooks(coll *collector) []uaclient.CreateOption {
	h := r.hooks

	return []uaclient.CreateOption{
		uaclient.WithOnStarted(func(e uaclient.StartedEvent) {
			r.logger.Info("subscription started", "subscription", e.SubscriptionID)
			if h.OnStarted != nil {
				h.OnStarted(e)
			}
		}),
		uaclient.WithOnKeepAlive(func(e uaclient.KeepAliveEvent) {
			coll.keepalive()
			if h.OnKeepAlive != nil {
				h.OnKeepAlive(e)
			}
		}),
		uaclient.WithOnTerminated(func(e uaclient.TerminatedEvent) {
			if h.OnTerminated != nil {
				h.OnTerminated(e)
			}
		}),
	}
}

// wait is the passive window in which notifications stream in. It ends early when ctx is done
// or the subscription terminates on its own.
func (r *Runner) wait(ctx context.Context, sub *uaclient.Subscription) error {
	r.logger.Info("waiting for notifications", "duration", r.cfg.Wait)

	select {
	case <-r.clock.After(r.cfg.Wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-sub.Done():
		return &uaclient.SubscriptionError{
			Reason:         uaclient.ReasonTerminated,
			SubscriptionID: sub.ID(),
			Err:            fmt.Errorf("%w: %s", uaclient.ErrSubscriptionTerminated, sub.Cause()),
		}
	}
}

// teardown releases what the run acquired in reverse order. It never fails.
func (r *Runner) teardown(ctx context.Context, res *resources, report *Report) {
	record := func(step TeardownStep, err error) {
		e := TeardownEvent{Step: step, Err: err, Time: r.clock.Now()}
		report.Teardown = append(report.Teardown, e)

		if err != nil {
			r.logger.Warn("teardown step failed", "step", step, "error", err)
		} else {
			r.logger.Info("teardown step done", "step", step)
		}

		if r.hooks.OnTeardown != nil {
			r.hooks.OnTeardown(e)
		}
	}

	if res.sub != nil {
		record(StepTerminated, res.subs.Terminate(ctx, res.sub))
	}

	if res.sess != nil {
		res.sessions.Close(ctx, res.sess)
		record(StepSessionClosed, nil)
	}

	if res.conn != nil {
		record(StepDisconnected, res.conn.Disconnect(ctx))
	}
}
