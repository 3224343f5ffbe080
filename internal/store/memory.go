package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"careerhub-jobs/internal/models"
)

// Memory is an in-process store with the same compare-and-set semantics as
// Postgres. It backs unit tests (the Postgres counterpart of miniredis) and
// the single-process embedded mode of the demo binaries.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*models.JobRecord
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*models.JobRecord)}
}

// Len reports the number of stored records, used by tests to assert that
// rejected submissions never reach the store.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Memory) CreateJob(_ context.Context, rec *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[rec.ID]; ok {
		return ErrDuplicateID
	}
	cp := *rec
	cp.Status = models.StatusQueued
	s.jobs[rec.ID] = &cp
	return nil
}

func (s *Memory) GetJob(_ context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *Memory) ClaimJob(_ context.Context, id, workerID string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusQueued {
		return nil, ErrNotClaimable
	}
	now := time.Now()
	rec.Status = models.StatusProcessing
	rec.WorkerID = workerID
	rec.ClaimedAt = &now
	rec.LastHeartbeatAt = &now
	cp := *rec
	return &cp, nil
}

func (s *Memory) UpdateProgress(_ context.Context, id string, p models.Progress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusProcessing {
		return false, ErrNotProcessing
	}
	if p.Percent > rec.Progress.Percent {
		rec.Progress.Percent = p.Percent
	}
	rec.Progress.Message = p.Message
	now := time.Now()
	rec.LastHeartbeatAt = &now
	return rec.CancelRequested, nil
}

func (s *Memory) Heartbeat(_ context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusProcessing || rec.WorkerID != workerID {
		return ErrNotProcessing
	}
	now := time.Now()
	rec.LastHeartbeatAt = &now
	return nil
}

func (s *Memory) MarkCompleted(_ context.Context, id string, result []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusProcessing {
		return false, nil
	}
	now := time.Now()
	rec.Status = models.StatusCompleted
	rec.Result = append([]byte(nil), result...)
	rec.ErrorMessage = ""
	rec.Progress.Percent = 100
	rec.FinishedAt = &now
	return true, nil
}

func (s *Memory) MarkFailed(_ context.Context, id, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || !rec.Active() {
		return false, nil
	}
	now := time.Now()
	rec.Status = models.StatusFailed
	rec.ErrorMessage = message
	rec.Result = nil
	rec.FinishedAt = &now
	return true, nil
}

func (s *Memory) MarkCancelled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || !rec.Active() {
		return false, nil
	}
	now := time.Now()
	rec.Status = models.StatusCancelled
	rec.Result = nil
	rec.FinishedAt = &now
	return true, nil
}

func (s *Memory) RequestCancel(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusProcessing {
		return false, nil
	}
	rec.CancelRequested = true
	return true, nil
}

func (s *Memory) DeleteQueued(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusQueued {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

func (s *Memory) ScheduleRetry(_ context.Context, id string, attempts int, lastErr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusProcessing {
		return false, nil
	}
	rec.Status = models.StatusQueued
	rec.Attempts = attempts
	rec.ErrorMessage = lastErr
	rec.WorkerID = ""
	rec.ClaimedAt = nil
	return true, nil
}

func (s *Memory) RequeueStale(_ context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.Status != models.StatusProcessing {
		return nil, nil
	}
	rec.Status = models.StatusQueued
	rec.Attempts++
	rec.WorkerID = ""
	rec.ClaimedAt = nil
	cp := *rec
	return &cp, nil
}

func (s *Memory) ListActiveByOwner(_ context.Context, ownerID string) ([]models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobRecord
	for _, rec := range s.jobs {
		if rec.OwnerID == ownerID && rec.Active() {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) DeleteTerminalOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.jobs {
		if rec.Status.Terminal() && rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}
