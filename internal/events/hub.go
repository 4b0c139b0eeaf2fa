package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below. BaseContext parents every sink call; Logger receives sink
// failures and backpressure warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Named is implemented by sinks that want a stable label in hub logs.
type Named interface {
	Name() string
}

// HubStats reports counters accumulated since the hub started.
type HubStats struct {
	Flushed int64
	Dropped int64
}

// Hub fans lifecycle events out to registered sinks. Emit is safe for
// concurrent use and never waits on a sink; when the buffer is full the event
// is dropped and counted.
type Hub struct {
	cfg   Config
	sinks []Sink
	queue chan Event

	// stop carries the Close context to the dispatch loop exactly once.
	stop    chan context.Context
	stopped chan struct{}
	closing atomic.Bool

	dropWarn   rate.Sometimes
	unreported atomic.Int64
	dropped    atomic.Int64
	flushed    atomic.Int64
}

// NewHub starts the dispatch loop for the given sinks. Nil sinks are skipped.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		queue:    make(chan Event, cfg.BufferSize),
		stop:     make(chan context.Context, 1),
		stopped:  make(chan struct{}),
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
	}
	for _, sink := range sinks {
		if sink != nil {
			h.sinks = append(h.sinks, sink)
		}
	}
	go h.dispatch()
	return h
}

// Emit validates evt and queues it for the next batch.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid lifecycle event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
		return
	default:
	}
	h.dropped.Add(1)
	h.unreported.Add(1)
	h.dropWarn.Do(func() {
		h.cfg.Logger.Warn("lifecycle events dropped due to backpressure",
			zap.Int64("dropped", h.unreported.Swap(0)))
	})
}

// Stats returns a point-in-time copy of the hub counters.
func (h *Hub) Stats() HubStats {
	if h == nil {
		return HubStats{}
	}
	return HubStats{Flushed: h.flushed.Load(), Dropped: h.dropped.Load()}
}

// Close stops intake, flushes what is queued, closes every sink with ctx and
// waits for the dispatch loop to exit. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if h.closing.CompareAndSwap(false, true) {
		h.stop <- ctx
	}
	select {
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event hub close wait: %w", ctx.Err())
	}
}

// dispatch owns the pending batch. The flush timer is armed by the first event
// of a batch and left nil while the batch is empty.
func (h *Hub) dispatch() {
	defer close(h.stopped)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		deadline = nil
	}
	send := func() {
		h.deliver(pending)
		pending = pending[:0]
		disarm()
	}

	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents:
				send()
			case deadline == nil:
				if timer == nil {
					timer = time.NewTimer(h.cfg.MaxBatchWait)
				} else {
					timer.Reset(h.cfg.MaxBatchWait)
				}
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			send()
		case ctx := <-h.stop:
			disarm()
			pending = h.drainQueue(pending)
			h.deliver(pending)
			h.closeSinks(ctx)
			return
		}
	}
}

// drainQueue moves everything still buffered into pending, delivering full
// batches along the way.
func (h *Hub) drainQueue(pending []Event) []Event {
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
			}
		default:
			return pending
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks may retain the slice; pending is reused.
	owned := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := consume(ctx, sink, owned)
		cancel()
		if err != nil {
			h.cfg.Logger.Warn("event sink consume failed",
				zap.String("sink", sinkName(sink)),
				zap.Int("batch", len(owned)),
				zap.Error(err),
			)
		}
	}
	h.flushed.Add(int64(len(owned)))
}

func consume(ctx context.Context, sink Sink, batch []Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	return sink.Consume(ctx, batch)
}

func (h *Hub) closeSinks(ctx context.Context) {
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.cfg.Logger.Warn("event sink close failed", zap.String("sink", sinkName(sink)), zap.Error(err))
		}
	}
}

func sinkName(sink Sink) string {
	if named, ok := sink.(Named); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", sink)
}
