package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter caps how often one user may poll one session, using a Redis
// sorted set per (session, user) as a sliding window. A Lua script trims
// expired entries, checks the count, and records the request atomically.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	window      time.Duration
	now         func() time.Time
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

// NewRateLimiter creates a limiter counting requests over window. A
// non-positive window means one second.
func NewRateLimiter(redisClient *redis.Client, window time.Duration, logger *slog.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		window:      window,
		now:         time.Now,
	}
}

func pollLimitKey(sessionID, userID int64) string {
	return fmt.Sprintf("rl:poll:%d:%d", sessionID, userID)
}

// AllowPoll reports whether userID may poll sessionID now. A limit of zero
// or less disables limiting. Redis failures allow the request.
func (rl *RateLimiter) AllowPoll(ctx context.Context, sessionID, userID int64, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := rl.now()
	key := pollLimitKey(sessionID, userID)
	member := fmt.Sprintf("%d:%d", now.UnixMilli(), now.UnixNano()%1_000_000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now.UnixMilli(), rl.window.Milliseconds(), limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed",
			"error", err,
			"session_id", sessionID,
			"user_id", userID,
		)
		return true
	}

	if result == 0 {
		rl.logger.Debug("poll rate limited",
			"session_id", sessionID,
			"user_id", userID,
			"limit", limit,
		)
		return false
	}
	return true
}
