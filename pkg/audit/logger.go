// Package audit provides append-only logging of security-relevant gateway
// decisions.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Record appends an audit event. Ordering is arrival order.
	Record(ctx context.Context, event Event) error

	// EventsSince returns events at or after the given time, in arrival
	// order.
	EventsSince(ctx context.Context, since time.Time) ([]Event, error)

	// Query retrieves events matching the filter.
	Query(ctx context.Context, filter Filter) ([]Event, error)

	// Close flushes and releases resources.
	Close() error
}

// Filter defines criteria for querying audit events.
type Filter struct {
	Since  *time.Time
	Until  *time.Time
	UserID string
	Kind   Kind
	Limit  int
	Offset int
}

// Matches reports whether an event satisfies the filter's predicates.
// Limit and Offset are applied by the store, not here.
func (f Filter) Matches(e Event) bool {
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}
