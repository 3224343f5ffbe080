package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careerhub-jobs/internal/models"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, 45*time.Second), mr
}

func TestDequeuePreservesSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	ids := []string{
		"u1:career-insights:1:aa",
		"u1:career-insights:2:bb",
		"u2:career-insights:3:cc",
	}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, id, models.TypeCareerInsights))
	}

	for _, want := range ids {
		got, err := q.DequeueWithLease(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "drained queue returns nothing")
}

func TestDequeueTracksClaim(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "u1:career-insights:1:aa", models.TypeCareerInsights))
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1:career-insights:1:aa", id)

	// The lease is in the future, so the claim is not yet expired.
	expired, err := q.ExpiredClaims(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = q.ExpiredClaims(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1:career-insights:1:aa"}, expired)

	require.NoError(t, q.Ack(ctx, id))
	expired, err = q.ExpiredClaims(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestRequeuePutsClaimBackOnReadyList(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "u1:resume-optimization:1:aa", models.TypeResumeOptimization))
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Requeue(ctx, id))

	expired, err := q.ExpiredClaims(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestScheduledJobsPromoteWhenDue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Schedule(ctx, "u1:skill-gap-analysis:1:aa", time.Now().Add(30*time.Second)))

	n, err := q.PromoteScheduled(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, n, "backoff has not elapsed yet")
	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err = q.PromoteScheduled(ctx, time.Now().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1:skill-gap-analysis:1:aa", got)
}

func TestRemoveDropsJobFromEverySet(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "u1:career-insights:1:aa", models.TypeCareerInsights))
	require.NoError(t, q.Schedule(ctx, "u1:career-insights:2:bb", time.Now()))
	require.NoError(t, q.Remove(ctx, "u1:career-insights:1:aa"))
	require.NoError(t, q.Remove(ctx, "u1:career-insights:2:bb"))

	n, err := q.PromoteScheduled(ctx, time.Now().Add(time.Second), 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadyDepthSumsAllTypes(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "u1:career-insights:1:aa", models.TypeCareerInsights))
	require.NoError(t, q.Enqueue(ctx, "u1:resume-generation:2:bb", models.TypeResumeGeneration))
	require.NoError(t, q.Enqueue(ctx, "u1:interview-prep:3:cc", models.TypeInterviewPrep))

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)
}
