package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces transform budgets in a shared Redis.
const DefaultKeyPrefix = "facefilter:transform-budget"

const defaultSubject = "default"

// Decision is the outcome of metering one transform call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeToken refills the bucket for the elapsed time, then takes one token if
// available. It returns {allowed, whole tokens left, retry after ms}.
var takeToken = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "updated_ms")
local tokens = tonumber(state[1]) or capacity
local updated_ms = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - updated_ms) * refill_per_ms)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry_ms = math.ceil((1 - tokens) / refill_per_ms)
end

redis.call("HMSET", key, "tokens", tokens, "updated_ms", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, math.floor(tokens), retry_ms}
`)

// RedisTokenBucket meters outbound transform calls per subject. The bucket
// state lives in Redis so separate CLI invocations share one budget.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// NewRedisTokenBucket allows capacity calls per window, refilled continuously.
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case window <= 0:
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = DefaultKeyPrefix
	}

	windowMS := max(window.Milliseconds(), 1)
	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(windowMS),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

// NewRedisClient builds the client used by the token bucket.
func NewRedisClient(addr, password string, db int) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = defaultSubject
	}
	return l.keyPrefix + ":" + subject
}

// Allow takes one token from the subject's bucket.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	out, err := takeToken.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UnixMilli(),
		l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take transform token: %w", err)
	}
	if len(out) != 3 {
		return Decision{}, fmt.Errorf("take transform token: unexpected reply of %d values", len(out))
	}
	return Decision{
		Allowed:    out[0] == 1,
		Remaining:  out[1],
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}
