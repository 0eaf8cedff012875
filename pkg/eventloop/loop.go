// Package eventloop provides the daemon's single cooperative execution context.
//
// Every mutation of job and project state happens inside a task run by the
// loop goroutine, so that state needs no locking. Other goroutines (process
// exit watchers, HTTP handlers, signal handlers) never touch that state
// directly; they post a task with CallLater instead.
package eventloop

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loop is an unbounded FIFO of tasks executed one at a time.
//
// Tasks posted while a task is running are executed after it, in posting
// order. CallLater never blocks, so a task may post follow-up tasks freely.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	logger *zap.Logger
}

func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// CallLater schedules fn to run on the loop. It returns false when the loop
// has been closed and fn was dropped.
func (l *Loop) CallLater(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run executes tasks until ctx is done. Tasks still queued at that point are
// left in place; call Drain to run them or Close to discard new ones.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("event loop started")
	defer l.logger.Debug("event loop stopped")

	for {
		l.runQueued(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is empty,
// including tasks posted by the drained tasks. It returns how many ran.
//
// Drain must not be called concurrently with Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		batch := l.take()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			l.exec(fn)
			n++
		}
	}
}

// Close stops accepting new tasks. Already queued tasks remain drainable.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Loop) runQueued(ctx context.Context) {
	for {
		batch := l.take()
		if len(batch) == 0 {
			return
		}
		for i, fn := range batch {
			if ctx.Err() != nil {
				l.requeue(batch[i:])
				return
			}
			l.exec(fn)
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) requeue(rest []func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(rest, l.queue...)
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", zap.Any("panic", r), zap.Stack("stack"))
			panic(r)
		}
	}()
	fn()
}
