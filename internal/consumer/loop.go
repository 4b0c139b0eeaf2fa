// Package consumer provides the single goroutine that owns all display-facing
// state. Closures posted from any goroutine run one at a time in FIFO order,
// which gives the rest of the system a place to mutate shared state without
// locks.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("consumer loop closed")

// Loop runs posted closures sequentially on one goroutine.
type Loop struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake   chan struct{}
	doneCh chan struct{}
}

// New starts a Loop.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post schedules fn without waiting. It reports false, dropping fn, once the
// loop has been closed.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return true
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

// Do schedules fn and waits until it has run or ctx ends. Calling Do from
// inside a closure running on the loop deadlocks until ctx ends.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for consumer: %w", ctx.Err())
	}
}

// Close stops accepting work, runs everything already queued, and waits for
// the loop goroutine to exit or ctx to end.
func (l *Loop) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer loop close wait: %w", ctx.Err())
	}
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("consumer task panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}
