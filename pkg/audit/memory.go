package audit

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryRetention caps how many events the in-memory log keeps.
const DefaultMemoryRetention = 1000

// MemoryLog is an in-memory append-only audit log bounded by a retention
// cap. When the cap is reached the oldest events are dropped; recorded
// events are never mutated.
type MemoryLog struct {
	mu       sync.RWMutex
	events   []Event
	maxSize  int
	recorded int64
}

// NewMemoryLog creates an in-memory audit log. maxSize <= 0 uses
// DefaultMemoryRetention.
func NewMemoryLog(maxSize int) *MemoryLog {
	if maxSize <= 0 {
		maxSize = DefaultMemoryRetention
	}
	return &MemoryLog{maxSize: maxSize}
}

// Record appends an event.
func (l *MemoryLog) Record(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	l.recorded++
	if len(l.events) > l.maxSize {
		// Copy into a fresh slice so the dropped prefix can be collected.
		trimmed := make([]Event, l.maxSize)
		copy(trimmed, l.events[len(l.events)-l.maxSize:])
		l.events = trimmed
	}
	return nil
}

// EventsSince returns retained events at or after since, in arrival order.
func (l *MemoryLog) EventsSince(_ context.Context, since time.Time) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result, nil
}

// Query retrieves retained events matching the filter, in arrival order.
func (l *MemoryLog) Query(_ context.Context, filter Filter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Event, 0, len(l.events))
	skipped := 0
	for _, e := range l.events {
		if !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// TotalRecorded returns the number of events ever recorded, including those
// dropped by retention.
func (l *MemoryLog) TotalRecorded() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recorded
}

// Close implements Logger. The in-memory log holds no resources.
func (*MemoryLog) Close() error { return nil }

// Verify interface compliance.
var _ Logger = (*MemoryLog)(nil)
