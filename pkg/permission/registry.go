package permission

import (
	"sync"
	"time"
)

// Status describes a user's moderation state.
type Status struct {
	Banned          bool
	RestrictedUntil time.Time
	Reason          string
}

// Blocked reports whether the status denies access at the given time.
func (s Status) Blocked(now time.Time) bool {
	return s.Banned || now.Before(s.RestrictedUntil)
}

// Registry tracks bans and temporary restrictions. It is the mutable overlay
// on top of the pure Resolver: the resolver answers "what tier is this user",
// the registry answers "is this user currently blocked". Safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Status
}

// NewRegistry creates an empty moderation registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Status)}
}

// Restrict blocks a user until the given time.
func (r *Registry) Restrict(userID string, until time.Time, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entries[userID]
	entry.RestrictedUntil = until
	entry.Reason = reason
	r.entries[userID] = entry
}

// Ban blocks a user until Unban is called.
func (r *Registry) Ban(userID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entries[userID]
	entry.Banned = true
	entry.Reason = reason
	r.entries[userID] = entry
}

// Unban clears a user's ban and any active restriction.
func (r *Registry) Unban(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, userID)
}

// Status returns the user's moderation state at the given time. Lapsed
// restrictions are pruned lazily so the registry does not grow with users
// whose restrictions have expired.
func (r *Registry) Status(userID string, now time.Time) Status {
	r.mu.RLock()
	entry, ok := r.entries[userID]
	r.mu.RUnlock()

	if !ok {
		return Status{}
	}
	if !entry.Banned && !entry.RestrictedUntil.IsZero() && !now.Before(entry.RestrictedUntil) {
		r.mu.Lock()
		// Re-check under the write lock; a concurrent Restrict may have
		// extended the window.
		if cur, ok := r.entries[userID]; ok && !cur.Banned && !now.Before(cur.RestrictedUntil) {
			delete(r.entries, userID)
		}
		r.mu.Unlock()
		return Status{}
	}
	return entry
}

// Counts returns the number of banned and currently restricted users.
func (r *Registry) Counts(now time.Time) (banned, restricted int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.Banned {
			banned++
		} else if now.Before(entry.RestrictedUntil) {
			restricted++
		}
	}
	return banned, restricted
}
