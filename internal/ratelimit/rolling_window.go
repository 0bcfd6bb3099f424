package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Window allows Limit requests per subject in any trailing Period.
type Window struct {
	Limit  int
	Period time.Duration
}

func (w Window) Enabled() bool {
	return w.Limit > 0 && w.Period > 0
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, window Window) (Decision, error)
}

// RollingWindowLimiter keeps one sorted set of request timestamps per subject.
type RollingWindowLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRollingWindowLimiter(rdb *redis.Client) *RollingWindowLimiter {
	return &RollingWindowLimiter{rdb: rdb, now: time.Now}
}

var rollingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1]) -- ms
local window = tonumber(ARGV[2]) -- ms
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)

if count < limit then
  redis.call("ZADD", key, now, member)
  redis.call("PEXPIRE", key, window)
  return {1, limit - count - 1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry_ms = window
if oldest[2] then
  retry_ms = tonumber(oldest[2]) + window - now
end
if retry_ms < 1 then retry_ms = 1 end
return {0, 0, retry_ms}
`)

func (l *RollingWindowLimiter) Allow(ctx context.Context, scope string, subject string, window Window) (Decision, error) {
	if l == nil || l.rdb == nil || !window.Enabled() {
		return Decision{Allowed: true}, nil
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	key := fmt.Sprintf("felanmalan:rl:%s:%s", scope, sha256Hex(subject))

	nowMS := l.now().UTC().UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMS, uuid.NewString())

	res, err := rollingWindowScript.Run(ctx, l.rdb, []string{key}, nowMS, window.Period.Milliseconds(), window.Limit, member).Result()
	if err != nil {
		return Decision{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis ratelimit response: %T", res)
	}

	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	retryMS, _ := vals[2].(int64)
	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(remaining)}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(retryMS) * time.Millisecond}, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
