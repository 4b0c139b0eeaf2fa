package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls the pump cadence of a Buffer.
//   - FlushInterval: time between pump ticks (default 120ms, minimum 40ms).
//   - BatchSize: maximum messages forwarded per tick (default 40, minimum 1).
type Config struct {
	FlushInterval time.Duration
	BatchSize     int
}

const (
	defaultFlushInterval = 120 * time.Millisecond
	minFlushInterval     = 40 * time.Millisecond
	defaultBatchSize     = 40
)

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushInterval < minFlushInterval {
		c.FlushInterval = minFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Deliverer runs closures on the single consumer context. Post must not
// block and reports false once the consumer is gone; Do runs fn and waits for
// it to finish. Work submitted through either method runs in submission order.
type Deliverer interface {
	Post(fn func()) bool
	Do(ctx context.Context, fn func()) error
}

// Sink receives batches of messages on the consumer context.
type Sink interface {
	Consume(batch []string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(batch []string) error

// Consume implements Sink.
func (f SinkFunc) Consume(batch []string) error {
	return f(batch)
}

// Stats reports counters accumulated over the life of a Buffer.
type Stats struct {
	Accepted     int64
	Delivered    int64
	Batches      int64
	SinkFailures int64
	Rejected     int64
}

// Buffer decouples progress producers from the consumer context. Report is
// safe for concurrent use and never blocks on the consumer; the pump forwards
// at most BatchSize messages per tick, preserving arrival order.
type Buffer struct {
	cfg       Config
	deliverer Deliverer
	sink      Sink
	logger    *zap.Logger

	mu     sync.Mutex
	queue  []string
	sealed bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closeErr  error

	accepted  atomic.Int64
	delivered atomic.Int64
	batches   atomic.Int64
	failures  atomic.Int64
	rejected  atomic.Int64
}

// NewBuffer starts a Buffer whose pump lives until ctx ends or Close is
// called. Ending ctx stops the pump but never discards queued messages; they
// are forwarded by Close.
func NewBuffer(ctx context.Context, cfg Config, deliverer Deliverer, sink Sink, logger *zap.Logger) *Buffer {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Buffer{
		cfg:       cfg.withDefaults(),
		deliverer: deliverer,
		sink:      sink,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go b.pump(ctx)
	return b
}

// Report enqueues msg. After Close has sealed the buffer the message is
// discarded and counted as rejected.
func (b *Buffer) Report(msg string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.sealed {
		b.mu.Unlock()
		b.rejected.Add(1)
		return
	}
	b.queue = append(b.queue, msg)
	b.accepted.Add(1)
	b.mu.Unlock()
}

// Pending returns the number of messages not yet handed to the consumer.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats returns a point-in-time copy of the buffer counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Accepted:     b.accepted.Load(),
		Delivered:    b.delivered.Load(),
		Batches:      b.batches.Load(),
		SinkFailures: b.failures.Load(),
		Rejected:     b.rejected.Load(),
	}
}

// Close stops the pump and synchronously forwards everything still queued,
// in BatchSize chunks, through Deliverer.Do. When Close returns nil the sink
// has observed every accepted message, including batches the pump posted
// earlier. Close must not be called from the consumer context itself. It is
// idempotent; later calls return the first result.
func (b *Buffer) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
		b.closeErr = b.drain(ctx)
	})
	return b.closeErr
}

func (b *Buffer) pump(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			batch := b.take(false)
			if len(batch) == 0 {
				continue
			}
			if !b.deliverer.Post(func() { b.deliver(batch) }) {
				b.requeue(batch)
				b.logger.Warn("consumer unavailable, progress batch kept for drain", zap.Int("batch", len(batch)))
				return
			}
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		}
	}
}

// drain hands the remaining queue to the consumer. The last round carries an
// empty batch so that the final Do also acts as a barrier behind every batch
// the pump posted before it stopped.
func (b *Buffer) drain(ctx context.Context) error {
	for {
		batch := b.take(true)
		err := b.deliverer.Do(ctx, func() {
			if len(batch) > 0 {
				b.deliver(batch)
			}
		})
		if err != nil {
			b.mu.Lock()
			b.sealed = true
			lost := len(b.queue) + len(batch)
			b.queue = nil
			b.mu.Unlock()
			b.logger.Warn("progress drain interrupted", zap.Int("undelivered", lost), zap.Error(err))
			return fmt.Errorf("drain progress buffer: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
	}
}

// take removes up to BatchSize messages from the head of the queue. With
// seal set, an empty queue is sealed under the same lock that observed it.
func (b *Buffer) take(seal bool) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(len(b.queue), b.cfg.BatchSize)
	if n == 0 {
		if seal {
			b.sealed = true
		}
		return nil
	}
	batch := make([]string, n)
	copy(batch, b.queue[:n])
	clear(b.queue[:n])
	b.queue = b.queue[n:]
	if len(b.queue) == 0 {
		b.queue = nil
	}
	return batch
}

func (b *Buffer) requeue(batch []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(batch, b.queue...)
}

func (b *Buffer) deliver(batch []string) {
	b.batches.Add(1)
	b.delivered.Add(int64(len(batch)))
	defer func() {
		if rec := recover(); rec != nil {
			b.failures.Add(1)
			b.logger.Warn("progress sink panicked", zap.Any("panic", rec), zap.Int("batch", len(batch)))
		}
	}()
	if err := b.sink.Consume(batch); err != nil {
		b.failures.Add(1)
		b.logger.Warn("progress sink consume failed", zap.Int("batch", len(batch)), zap.Error(err))
	}
}
