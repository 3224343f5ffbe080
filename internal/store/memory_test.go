package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careerhub-jobs/internal/models"
)

func queuedJob(t *testing.T, s *Memory, id string) *models.JobRecord {
	t.Helper()
	rec := &models.JobRecord{
		ID:          id,
		OwnerID:     strings.SplitN(id, ":", 2)[0],
		Type:        models.TypeCareerInsights,
		Payload:     json.RawMessage(`{"domain":"x"}`),
		Status:      models.StatusQueued,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(context.Background(), rec))
	return rec
}

func TestCreateJobRejectsDuplicateID(t *testing.T) {
	s := NewMemory()
	queuedJob(t, s, "u1:career-insights:1:aa")
	err := s.CreateJob(context.Background(), &models.JobRecord{ID: "u1:career-insights:1:aa"})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestClaimIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	queuedJob(t, s, "u1:career-insights:1:aa")

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := s.ClaimJob(ctx, "u1:career-insights:1:aa", string(rune('a'+n))); err == nil {
				wins <- string(rune('a' + n))
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one worker must win the claim")

	rec, err := s.GetJob(ctx, "u1:career-insights:1:aa")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, rec.Status)
	assert.Equal(t, winners[0], rec.WorkerID)
	assert.NotNil(t, rec.ClaimedAt)
}

func TestClaimRequiresQueuedState(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	queuedJob(t, s, "u1:career-insights:1:aa")

	_, err := s.ClaimJob(ctx, "u1:career-insights:1:aa", "w1")
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, "u1:career-insights:1:aa", "w2")
	assert.ErrorIs(t, err, ErrNotClaimable)
	_, err = s.ClaimJob(ctx, "missing", "w1")
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestProgressIsMonotoneAndReportsCancel(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	queuedJob(t, s, "u1:career-insights:1:aa")
	_, err := s.ClaimJob(ctx, "u1:career-insights:1:aa", "w1")
	require.NoError(t, err)

	cancelRequested, err := s.UpdateProgress(ctx, "u1:career-insights:1:aa", models.Progress{Percent: 40, Message: "mid"})
	require.NoError(t, err)
	assert.False(t, cancelRequested)

	// A late, lower checkpoint must not move percent backwards.
	_, err = s.UpdateProgress(ctx, "u1:career-insights:1:aa", models.Progress{Percent: 20, Message: "late"})
	require.NoError(t, err)
	rec, _ := s.GetJob(ctx, "u1:career-insights:1:aa")
	assert.Equal(t, 40, rec.Progress.Percent)

	flagged, err := s.RequestCancel(ctx, "u1:career-insights:1:aa")
	require.NoError(t, err)
	assert.True(t, flagged)
	cancelRequested, err = s.UpdateProgress(ctx, "u1:career-insights:1:aa", models.Progress{Percent: 60})
	require.NoError(t, err)
	assert.True(t, cancelRequested)
}

func TestCompletionLosesToCancellation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	queuedJob(t, s, "u1:career-insights:1:aa")
	_, err := s.ClaimJob(ctx, "u1:career-insights:1:aa", "w1")
	require.NoError(t, err)

	ok, err := s.MarkCancelled(ctx, "u1:career-insights:1:aa")
	require.NoError(t, err)
	require.True(t, ok)

	// The completion CAS must be discarded once the job left processing.
	ok, err = s.MarkCompleted(ctx, "u1:career-insights:1:aa", []byte(`{"success":true}`))
	require.NoError(t, err)
	assert.False(t, ok)

	rec, _ := s.GetJob(ctx, "u1:career-insights:1:aa")
	assert.Equal(t, models.StatusCancelled, rec.Status)
	assert.Nil(t, rec.Result)
}

func TestRequestCancelOnlyWhileProcessing(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	queuedJob(t, s, "u1:career-insights:1:aa")

	flagged, err := s.RequestCancel(ctx, "u1:career-insights:1:aa")
	require.NoError(t, err)
	assert.False(t, flagged, "queued jobs are cancelled by deletion, not flag")

	_, err = s.ClaimJob(ctx, "u1:career-insights:1:aa", "w1")
	require.NoError(t, err)
	_, err = s.MarkCompleted(ctx, "u1:career-insights:1:aa", []byte(`{}`))
	require.NoError(t, err)

	flagged, err = s.RequestCancel(ctx, "u1:career-insights:1:aa")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestRequeueStaleCountsAttempt(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	queuedJob(t, s, "u1:career-insights:1:aa")
	_, err := s.ClaimJob(ctx, "u1:career-insights:1:aa", "w1")
	require.NoError(t, err)

	rec, err := s.RequeueStale(ctx, "u1:career-insights:1:aa")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusQueued, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Empty(t, rec.WorkerID)

	// Terminal jobs are left alone.
	_, err = s.ClaimJob(ctx, "u1:career-insights:1:aa", "w2")
	require.NoError(t, err)
	_, err = s.MarkCompleted(ctx, "u1:career-insights:1:aa", []byte(`{}`))
	require.NoError(t, err)
	rec, err = s.RequeueStale(ctx, "u1:career-insights:1:aa")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDeleteTerminalOlderThanSkipsActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	queuedJob(t, s, "u1:career-insights:1:aa")
	queuedJob(t, s, "u1:career-insights:2:bb")
	_, err := s.ClaimJob(ctx, "u1:career-insights:2:bb", "w1")
	require.NoError(t, err)

	queuedJob(t, s, "u1:career-insights:3:cc")
	_, err = s.ClaimJob(ctx, "u1:career-insights:3:cc", "w1")
	require.NoError(t, err)
	_, err = s.MarkCompleted(ctx, "u1:career-insights:3:cc", []byte(`{}`))
	require.NoError(t, err)

	// Cutoff in the future: age alone must never delete active records.
	n, err := s.DeleteTerminalOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, s.Len())
}

func TestListActiveByOwnerOrdersBySubmission(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	base := time.Now().UTC()
	for i, id := range []string{"u1:career-insights:3:c", "u1:career-insights:1:a", "u1:career-insights:2:b"} {
		rec := &models.JobRecord{
			ID:        id,
			OwnerID:   "u1",
			Type:      models.TypeCareerInsights,
			Payload:   json.RawMessage(`{}`),
			CreatedAt: base.Add(time.Duration(3-i) * time.Millisecond),
		}
		require.NoError(t, s.CreateJob(ctx, rec))
	}
	queuedJob(t, s, "u2:career-insights:9:z")

	jobs, err := s.ListActiveByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i := 1; i < len(jobs); i++ {
		assert.False(t, jobs[i].CreatedAt.Before(jobs[i-1].CreatedAt))
	}
}
