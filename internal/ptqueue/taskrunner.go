package ptqueue

import (
	"context"
	"sync"

	logpkg "github.com/wharfq/wharf/pkg/log"
)

// Task is the cooperative unit the task runner drives: Iterate runs one
// bounded unit of work and reports whether more work is immediately
// available. It must be idempotent and cheap when there is nothing to do.
type Task interface {
	Iterate() bool
}

// TaskRunner is the external thread-pool collaborator consumed by the
// coordinator: it accepts a Task, offers Wakeup to schedule a run soon, and
// Shutdown to let any in-flight iteration finish before refusing further
// wakeups.
type TaskRunner interface {
	Start()
	Wakeup()
	Shutdown(ctx context.Context) error
}

// SimpleTaskRunner drives a Task from a single background goroutine, woken
// by Wakeup and otherwise idle; it keeps iterating while Iterate reports
// more work, then parks until the next wakeup.
type SimpleTaskRunner struct {
	task     Task
	logger   logpkg.Logger
	wakeupCh chan struct{}

	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewSimpleTaskRunner builds a runner for task; logger may be nil.
func NewSimpleTaskRunner(task Task, logger logpkg.Logger) *SimpleTaskRunner {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	return &SimpleTaskRunner{
		task:     task,
		logger:   logger,
		wakeupCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background goroutine; idempotent.
func (r *SimpleTaskRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	go r.run(r.ctx)
}

func (r *SimpleTaskRunner) run(ctx context.Context) {
	defer close(r.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wakeupCh:
			for {
				more := r.task.Iterate()
				if !more {
					break
				}
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// Wakeup schedules a run soon; coalesces with any already-pending wakeup.
func (r *SimpleTaskRunner) Wakeup() {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	select {
	case r.wakeupCh <- struct{}{}:
	default:
	}
}

// Shutdown lets any in-flight iteration finish, then refuses further
// wakeups.
func (r *SimpleTaskRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	started := r.started
	cancel := r.cancel
	done := r.doneCh
	r.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("task runner shutdown timed out")
		return ctx.Err()
	}
}
