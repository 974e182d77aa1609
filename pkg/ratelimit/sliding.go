package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount is the number of independent bucket shards. Keys are
// distributed by hash so unrelated users never contend on the same lock.
const shardCount = 32

// DefaultPruneInterval is how often the background sweep drops buckets for
// keys that went quiet.
const DefaultPruneInterval = time.Minute

// SlidingWindow is an in-memory sliding-window limiter. Each key holds the
// timestamps of its recent admitted requests; entries older than the window
// are pruned lazily on every check. Entries exactly at the window boundary
// count as inside the window, so denial errs on the side of throttling.
type SlidingWindow struct {
	quota  int
	window time.Duration
	shards [shardCount]*windowShard

	cancel context.CancelFunc
	done   chan struct{}
}

type windowShard struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
}

// NewSlidingWindow creates an in-memory sliding-window limiter.
func NewSlidingWindow(cfg Config) *SlidingWindow {
	cfg = cfg.withDefaults()
	l := &SlidingWindow{
		quota:  cfg.MaxRequests,
		window: cfg.Window,
	}
	for i := range l.shards {
		l.shards[i] = &windowShard{buckets: make(map[string][]time.Time)}
	}
	return l
}

// Check admits and records the request if key is under quota at now.
// The prune-then-append sequence is atomic per key.
func (l *SlidingWindow) Check(_ context.Context, key string, now time.Time) (Decision, error) {
	shard := l.shards[shardFor(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	bucket := pruneBucket(shard.buckets[key], now.Add(-l.window))

	if len(bucket) < l.quota {
		shard.buckets[key] = append(bucket, now)
		return Decision{
			Allowed:   true,
			Remaining: l.quota - len(bucket) - 1,
		}, nil
	}

	shard.buckets[key] = bucket
	retryAfter := l.window - now.Sub(bucket[0])
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{RetryAfter: retryAfter}, nil
}

// PruneStale drops buckets whose every entry has left the window, so keys
// that go quiet do not accumulate forever. Run by the background sweep.
func (l *SlidingWindow) PruneStale(now time.Time) {
	cutoff := now.Add(-l.window)
	for _, shard := range l.shards {
		shard.mu.Lock()
		for key, bucket := range shard.buckets {
			if len(pruneBucket(bucket, cutoff)) == 0 {
				delete(shard.buckets, key)
			}
		}
		shard.mu.Unlock()
	}
}

// ActiveKeys returns the number of keys with at least one recorded request.
func (l *SlidingWindow) ActiveKeys() int {
	total := 0
	for _, shard := range l.shards {
		shard.mu.Lock()
		total += len(shard.buckets)
		shard.mu.Unlock()
	}
	return total
}

// StartSweep starts a background goroutine that periodically prunes stale
// buckets. The goroutine stops when Close is called.
func (l *SlidingWindow) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.PruneStale(time.Now())
			}
		}
	}()
}

// Close stops the sweep goroutine. It is safe to call Close even if
// StartSweep was never called.
func (l *SlidingWindow) Close() error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	return nil
}

// pruneBucket drops entries strictly older than cutoff. Entries exactly at
// the cutoff remain inside the window.
func pruneBucket(bucket []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(bucket) && bucket[i].Before(cutoff) {
		i++
	}
	return bucket[i:]
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// Verify interface compliance.
var _ Limiter = (*SlidingWindow)(nil)
