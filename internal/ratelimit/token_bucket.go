// Package ratelimit throttles job submissions per owner. The bucket state
// lives in Redis so every API replica draws from the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const submitKeyPrefix = "rl:submit:"

// SubmissionLimiter is a token bucket keyed by owner. Each submission spends
// one token; tokens refill continuously up to the capacity.
type SubmissionLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

func NewSubmissionLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *SubmissionLimiter {
	return &SubmissionLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// AllowSubmission spends one token from the owner's bucket, reporting whether
// the submission may proceed. Refill and spend happen in one script so
// concurrent replicas cannot overdraw.
func (l *SubmissionLimiter) AllowSubmission(ctx context.Context, ownerID string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client,
		[]string{submitKeyPrefix + ownerID},
		l.capacity, l.refill, now, l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return false, err
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) < 1 {
		return false, fmt.Errorf("unexpected limiter reply: %v", res)
	}
	allowed, _ := reply[0].(int64)
	return allowed == 1, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
