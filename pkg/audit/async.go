package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// defaultQueueSize is the async writer's buffer depth.
const defaultQueueSize = 1024

// AsyncLogger wraps a Logger with a single-writer queue so recording never
// blocks or fails the request path. Events are written in arrival order by
// one background goroutine; if the queue is full the event is dropped and
// counted rather than delaying the caller. Audit is best-effort by design:
// a failed write is logged internally, never surfaced to the request.
type AsyncLogger struct {
	inner   Logger
	queue   chan Event
	quit    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsyncLogger wraps inner with a background writer. queueSize <= 0 uses
// the default depth.
func NewAsyncLogger(inner Logger, queueSize int) *AsyncLogger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	l := &AsyncLogger{
		inner: inner,
		queue: make(chan Event, queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

// Record enqueues an event. It never blocks and never returns an error.
func (l *AsyncLogger) Record(_ context.Context, event Event) error {
	select {
	case <-l.quit:
		return nil
	default:
	}

	select {
	case l.queue <- event:
	default:
		n := l.dropped.Add(1)
		slog.Warn("audit: queue full, event dropped",
			"kind", event.Kind,
			"user_id", event.UserID,
			"total_dropped", n,
		)
	}
	return nil
}

// EventsSince delegates to the wrapped logger. Events still queued may not
// be visible yet; the only ordering guarantee is arrival order among
// written events.
func (l *AsyncLogger) EventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	return l.inner.EventsSince(ctx, since)
}

// Query delegates to the wrapped logger.
func (l *AsyncLogger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	return l.inner.Query(ctx, filter)
}

// Dropped returns the number of events dropped due to a full queue.
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close flushes queued events and closes the wrapped logger.
func (l *AsyncLogger) Close() error {
	close(l.quit)
	<-l.done
	return l.inner.Close()
}

func (l *AsyncLogger) writeLoop() {
	defer close(l.done)

	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.quit:
			// Drain whatever is left before exiting.
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *AsyncLogger) write(event Event) {
	if err := l.inner.Record(context.Background(), event); err != nil {
		slog.Error("audit: write failed", "kind", event.Kind, "user_id", event.UserID, "error", err)
	}
}

// Verify interface compliance.
var _ Logger = (*AsyncLogger)(nil)
