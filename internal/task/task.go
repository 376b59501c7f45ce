// Package task manages the goroutines that run behind client components: publish loops,
// notification delivery and event dispatch.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-uaclient/logger"
)

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task manager already stopped")

// LoopFunc is the body of an interval task. Returning false stops the task.
type LoopFunc func(ctx context.Context) bool

// RunFunc is the body of a one-shot task. It should return when ctx is done.
type RunFunc func(ctx context.Context)

// Manager manages the lifecycle of goroutines (tasks) owned by one component.
//
// The Manager uses a context.Context to manage the lifecycle of the goroutines. When Stop is
// called, all running goroutines are signaled to stop. Wait blocks until they terminated.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//
//	mgr.Go("publishLoop", func(ctx context.Context) {
//	    // ... task logic, return when ctx is done ...
//	})
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	stopped atomic.Bool
}

// NewManager creates a new Manager with the given context as the parent context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Go starts a new goroutine running runFunc once.
func (mgr *Manager) Go(name string, runFunc RunFunc) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.callWithRecover(name, func() { runFunc(mgr.ctx) })
	})

	return starter.waitForStart()
}

// StartInterval starts a new goroutine that executes the given task function at the specified interval.
// If runNow is true, the task function is executed immediately before starting the interval.
func (mgr *Manager) StartInterval(name string, loopFunc LoopFunc, interval time.Duration, runNow bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}

	return mgr.Go(name, func(ctx context.Context) {
		if runNow && !loopFunc(ctx) {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !loopFunc(ctx) {
					return
				}
			}
		}
	})
}

// Stop signals all running goroutines. Tasks can't be started afterwards.
func (mgr *Manager) Stop() {
	mgr.stopped.Store(true)
	mgr.cancel()
}

// Wait waits for all goroutines to terminate.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// StopAndWait stops all tasks and waits up to timeout for them to terminate.
// It returns false when the timeout elapsed first.
func (mgr *Manager) StopAndWait(timeout time.Duration) bool {
	mgr.Stop()

	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		mgr.logger.Error("timeout waiting for tasks to terminate", "task_count", mgr.TaskCount(), "timeout", timeout)
		return false
	}
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

// callWithRecover calls a function with panic protection
func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

// taskStarter encapsulates common startup logic
type taskStarter struct {
	mgr     *Manager
	name    string
	started chan struct{}
}

func (mgr *Manager) newTaskStarter(name string) (*taskStarter, error) {
	if mgr.stopped.Load() {
		return nil, ErrStopped
	}

	return &taskStarter{
		mgr:     mgr,
		name:    name,
		started: make(chan struct{}),
	}, nil
}

// startTask runs the common startup sequence for all tasks
func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.wg.Add(1)
	s.mgr.count.Add(1)

	go func() {
		defer s.mgr.wg.Done()
		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		close(s.started)
		taskBody()
	}()
}

// waitForStart waits until the goroutine is scheduled.
func (s *taskStarter) waitForStart() error {
	select {
	case <-s.started:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", s.name)
	}
}
