package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces limiter keys in a shared Redis instance.
const redisKeyPrefix = "gateway:ratelimit:"

// Redis is a sliding-window limiter backed by a Redis sorted set per key.
// Scores are request timestamps in nanoseconds; stale members are trimmed
// before counting. Use it when multiple gateway replicas must share quota.
type Redis struct {
	client *redis.Client
	quota  int
	window time.Duration
}

// checkScript trims, counts and conditionally records in one server-side
// call, so concurrent checks for the same key cannot both pass the quota
// comparison. Members strictly older than the cutoff are removed; a member
// exactly at the boundary stays inside the window.
// KEYS[1] window key; ARGV: cutoff ns, now ns, quota, ttl ms.
// Reply: {1, remaining} on admit, {0, oldest score} on deny.
var checkScript = redis.NewScript(`
local cutoff = ARGV[1]
local now = ARGV[2]
local quota = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. cutoff)
local count = redis.call('ZCARD', KEYS[1])
if count < quota then
	redis.call('ZADD', KEYS[1], now, now)
	redis.call('PEXPIRE', KEYS[1], ttl)
	return {1, quota - count - 1}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {0, oldest[2]}
`)

// NewRedis creates a Redis-backed sliding-window limiter.
func NewRedis(client *redis.Client, cfg Config) *Redis {
	cfg = cfg.withDefaults()
	return &Redis{
		client: client,
		quota:  cfg.MaxRequests,
		window: cfg.Window,
	}
}

// Check admits and records the request if key is under quota at now.
func (l *Redis) Check(ctx context.Context, key string, now time.Time) (Decision, error) {
	rkey := redisKeyPrefix + key
	cutoff := now.Add(-l.window).UnixNano()

	reply, err := checkScript.Run(ctx, l.client, []string{rkey},
		strconv.FormatInt(cutoff, 10),
		strconv.FormatInt(now.UnixNano(), 10),
		l.quota,
		l.window.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("checking rate-limit window: %w", err)
	}
	if len(reply) != 2 {
		return Decision{}, fmt.Errorf("checking rate-limit window: unexpected reply %v", reply)
	}

	if admitted, _ := reply[0].(int64); admitted == 1 {
		remaining, _ := reply[1].(int64)
		return Decision{
			Allowed:   true,
			Remaining: int(remaining),
		}, nil
	}

	retryAfter := l.window
	if raw, ok := reply[1].(string); ok {
		oldest, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Decision{}, fmt.Errorf("parsing oldest rate-limit entry: %w", err)
		}
		retryAfter -= now.Sub(time.Unix(0, int64(oldest)))
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return Decision{RetryAfter: retryAfter}, nil
}

// Close closes the underlying Redis client.
func (l *Redis) Close() error {
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ Limiter = (*Redis)(nil)
