package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig is the request budget of one key.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimitResult is the verdict for one check. ResetAt is when the oldest
// request in the window ages out.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// slidingWindow trims, counts and conditionally records in one round trip so
// concurrent API replicas cannot both take the last slot.
//
// KEYS[1] window set; ARGV now_ms, window_ms, limit, n, member prefix.
// Returns {allowed, count, oldest_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local n = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count + n <= limit then
	for i = 1, n do
		redis.call('ZADD', key, ARGV[1], ARGV[5] .. ':' .. i)
	end
	redis.call('PEXPIRE', key, window)
	count = count + n
	allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RateLimiter is a Redis sorted-set sliding window shared by every API
// replica.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a limiter enforcing config for every key.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow records one request for key if the window has room.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN records n requests for key only if all of them fit.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("rate limit: n must be positive, got %d", n)
	}

	now := r.now()
	vals, err := slidingWindow.Run(ctx, r.client.rdb,
		[]string{"ratelimit:" + key},
		now.UnixMilli(),
		r.config.Window.Milliseconds(),
		r.config.Limit,
		n,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply %v", vals)
	}

	result := &RateLimitResult{
		Allowed:   vals[0] == 1,
		Limit:     r.config.Limit,
		Remaining: max(0, r.config.Limit-int(vals[1])),
		ResetAt:   time.UnixMilli(vals[2]).Add(r.config.Window),
	}
	if !result.Allowed {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("current", vals[1]),
			zap.Int("limit", r.config.Limit),
		)
	}
	return result, nil
}
