// Package queue coordinates ready, claimed, and scheduled job sets in Redis.
// Each job type has its own FIFO ready list; the claimed ZSET is scored by the
// heartbeat deadline so the reaper can find abandoned claims; the scheduled
// ZSET holds retries waiting out their backoff.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"careerhub-jobs/internal/jobid"
	"careerhub-jobs/internal/models"
)

const (
	claimedKey   = "jobs:claimed"
	scheduledKey = "jobs:scheduled"
)

type RedisQueue struct {
	client   *redis.Client
	types    []models.JobType
	leaseTTL time.Duration
}

// NewRedisQueue builds a queue client over every registered job type. The
// lease TTL is the heartbeat window after which a claim is reclaimable.
func NewRedisQueue(client *redis.Client, leaseTTL time.Duration) *RedisQueue {
	if leaseTTL == 0 {
		leaseTTL = 45 * time.Second
	}
	return &RedisQueue{
		client:   client,
		types:    models.JobTypes(),
		leaseTTL: leaseTTL,
	}
}

func readyKey(t models.JobType) string {
	return fmt.Sprintf("jobs:ready:%s", t)
}

// Enqueue appends a job to its type's ready list. Submission order is claim
// order within one type.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, t models.JobType) error {
	return q.client.RPush(ctx, readyKey(t), jobID).Err()
}

// Schedule parks a job until runAt, used for retry backoff.
func (q *RedisQueue) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: jobID,
	}).Err()
}

// PromoteScheduled moves due scheduled jobs back onto their ready lists.
// Returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		t, err := jobid.Type(id)
		if err != nil {
			// Unparseable id cannot be routed; drop it from the set.
			pipe.ZRem(ctx, scheduledKey, id)
			continue
		}
		pipe.ZRem(ctx, scheduledKey, id)
		pipe.RPush(ctx, readyKey(t), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops the oldest ready job across all types and places it
// in the claimed set with a heartbeat deadline. Returns "" when nothing is
// ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.types)+1)
	for _, t := range q.types {
		keys = append(keys, readyKey(t))
	}
	keys = append(keys, claimedKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.leaseTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the heartbeat deadline forward for a claimed job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string) error {
	return q.client.ZAdd(ctx, claimedKey, redis.Z{
		Score:  float64(time.Now().Add(q.leaseTTL).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from claimed tracking once it reached a terminal state.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, claimedKey, jobID).Err()
}

// ExpiredClaims returns claimed job ids whose heartbeat deadline passed. The
// caller decides per job whether to requeue or fail before re-enqueueing.
func (q *RedisQueue) ExpiredClaims(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return q.client.ZRangeByScore(ctx, claimedKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
}

// Requeue moves an expired claim out of the claimed set back onto its type's
// ready list.
func (q *RedisQueue) Requeue(ctx context.Context, jobID string) error {
	t, err := jobid.Type(jobID)
	if err != nil {
		return q.client.ZRem(ctx, claimedKey, jobID).Err()
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, claimedKey, jobID)
	pipe.RPush(ctx, readyKey(t), jobID)
	_, err = pipe.Exec(ctx)
	return err
}

// Remove drops a job from every set, used on cancellation.
func (q *RedisQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	for _, t := range q.types {
		pipe.LRem(ctx, readyKey(t), 0, jobID)
	}
	pipe.ZRem(ctx, claimedKey, jobID)
	pipe.ZRem(ctx, scheduledKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth returns the total length of all ready lists.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.types))
	for _, t := range q.types {
		cmds = append(cmds, pipe.LLen(ctx, readyKey(t)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

var dequeueScript = redis.NewScript(`
local claimed = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', claimed, ARGV[1], job)
    return job
  end
end
return nil
`)
