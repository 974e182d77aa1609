package permission

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_CleanByDefault(t *testing.T) {
	reg := NewRegistry()

	status := reg.Status("user-1", time.Now())
	assert.False(t, status.Blocked(time.Now()))
}

func TestRegistry_Restrict(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()

	reg.Restrict("user-1", now.Add(15*time.Minute), "rapid requests")

	status := reg.Status("user-1", now)
	assert.True(t, status.Blocked(now))
	assert.Equal(t, "rapid requests", status.Reason)

	// Restriction lapses after the deadline.
	later := now.Add(16 * time.Minute)
	status = reg.Status("user-1", later)
	assert.False(t, status.Blocked(later))
}

func TestRegistry_LazyPrune(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()

	reg.Restrict("user-1", now.Add(time.Minute), "")
	_ = reg.Status("user-1", now.Add(2*time.Minute))

	reg.mu.RLock()
	_, exists := reg.entries["user-1"]
	reg.mu.RUnlock()
	assert.False(t, exists, "lapsed restriction should be pruned on read")
}

func TestRegistry_BanAndUnban(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()

	reg.Ban("user-1", "abuse")

	status := reg.Status("user-1", now)
	assert.True(t, status.Banned)
	assert.True(t, status.Blocked(now.Add(100*time.Hour)), "bans never lapse")

	reg.Unban("user-1")
	assert.False(t, reg.Status("user-1", now).Blocked(now))
}

func TestRegistry_UnbanIdempotent(t *testing.T) {
	reg := NewRegistry()

	reg.Unban("never-seen")
	reg.Unban("never-seen")
}

func TestRegistry_Counts(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()

	reg.Ban("banned-1", "")
	reg.Restrict("restricted-1", now.Add(time.Hour), "")
	reg.Restrict("lapsed-1", now.Add(-time.Hour), "")

	banned, restricted := reg.Counts(now)
	assert.Equal(t, 1, banned)
	assert.Equal(t, 1, restricted)
}

func TestRegistry_ConcurrentAccess(_ *testing.T) {
	reg := NewRegistry()
	now := time.Now()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				reg.Restrict("user-1", now.Add(time.Minute), "")
				_ = reg.Status("user-1", now)
				reg.Ban("user-2", "")
				reg.Unban("user-2")
				_, _ = reg.Counts(now)
			}
		}()
	}
	wg.Wait()
}
