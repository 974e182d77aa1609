// Package ratelimit provides sliding-window admission control keyed per user.
package ratelimit

import (
	"context"
	"time"
)

const (
	// DefaultMaxRequests is the default per-user quota within the window.
	DefaultMaxRequests = 5

	// DefaultWindow is the default sliding window length.
	DefaultWindow = 60 * time.Second
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Remaining is the quota left in the current window after this request.
	Remaining int

	// RetryAfter is how long the caller should wait before retrying.
	// Only set on denial.
	RetryAfter time.Duration
}

// Limiter admits or denies requests against a per-key sliding window.
// Admitted requests are recorded; denied requests are not.
type Limiter interface {
	// Check prunes stale entries for key, then admits and records the
	// request if the key is under quota at the given time.
	Check(ctx context.Context, key string, now time.Time) (Decision, error)

	// Close releases limiter resources.
	Close() error
}

// Config holds limiter parameters.
type Config struct {
	// MaxRequests is the quota per window. Defaults to DefaultMaxRequests.
	MaxRequests int

	// Window is the sliding window length. Defaults to DefaultWindow.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}
