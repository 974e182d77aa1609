package gate

import (
	"sync"
	"time"
)

// failureTracker counts recent denials per user. Once a user crosses the
// threshold within the window the tracker reports a flag and forgets the
// user's history, so one burst produces one flag.
type failureTracker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	failures  map[string][]time.Time
}

func newFailureTracker(threshold int, window time.Duration) *failureTracker {
	return &failureTracker{
		threshold: threshold,
		window:    window,
		failures:  make(map[string][]time.Time),
	}
}

// note records a denial and returns the in-window count plus whether the
// threshold was crossed.
func (t *failureTracker) note(userID string, now time.Time) (count int, flagged bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	kept := t.failures[userID][:0]
	for _, at := range t.failures[userID] {
		if !at.Before(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)

	if len(kept) >= t.threshold {
		delete(t.failures, userID)
		return len(kept), true
	}
	t.failures[userID] = kept
	return len(kept), false
}

// tracked returns how many users currently have in-window denials.
func (t *failureTracker) tracked(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	n := 0
	for _, times := range t.failures {
		for _, at := range times {
			if !at.Before(cutoff) {
				n++
				break
			}
		}
	}
	return n
}
