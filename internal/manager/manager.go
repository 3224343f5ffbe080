// Package manager is the public face of the job engine: submit, inspect,
// cancel, list, and garbage-collect jobs. Authorization is ownership scoping
// only: the submitting identity is encoded in the job identifier and checked
// by string comparison, never via a separate permissions table.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"careerhub-jobs/internal/jobid"
	"careerhub-jobs/internal/models"
	"careerhub-jobs/internal/notify"
	"careerhub-jobs/internal/store"
	"careerhub-jobs/internal/telemetry"
)

const idRetries = 3

// Store is the slice of the job store the manager needs.
type Store interface {
	CreateJob(ctx context.Context, rec *models.JobRecord) error
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)
	DeleteQueued(ctx context.Context, id string) (bool, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id, message string) (bool, error)
	ListActiveByOwner(ctx context.Context, ownerID string) ([]models.JobRecord, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Queue is the slice of the ready queue the manager needs.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, t models.JobType) error
	Remove(ctx context.Context, jobID string) error
}

// Notifier publishes lifecycle events toward owning clients.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Options tune manager behavior.
type Options struct {
	MaxAttempts     int
	CleanupMaxAge   time.Duration
	CleanupInterval time.Duration
}

// Manager is constructed once at process start and passed to consumers
// explicitly; there is no package-level instance.
type Manager struct {
	store Store
	queue Queue
	notif Notifier
	log   *slog.Logger
	opts  Options
}

func New(st Store, q Queue, n Notifier, log *slog.Logger, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.CleanupMaxAge <= 0 {
		opts.CleanupMaxAge = 24 * time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	return &Manager{store: st, queue: q, notif: n, log: log, opts: opts}
}

// CreateJob validates the payload against the type's contract, generates the
// ownership-encoding identifier, persists the record, and enqueues it.
// Nothing is written when validation fails.
func (m *Manager) CreateJob(ctx context.Context, typeName string, payload json.RawMessage, ownerID string) (*models.JobRecord, error) {
	jobType, ok := models.ParseJobType(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownJobType, typeName)
	}
	if _, err := models.DecodePayload(jobType, payload); err != nil {
		return nil, err
	}

	var rec *models.JobRecord
	for attempt := 0; attempt < idRetries; attempt++ {
		now := time.Now().UTC()
		id, err := jobid.New(ownerID, jobType, now)
		if err != nil {
			return nil, &models.ValidationError{Field: "ownerId", Reason: "must be non-empty and contain no ':'"}
		}
		candidate := &models.JobRecord{
			ID:          id,
			OwnerID:     ownerID,
			Type:        jobType,
			Payload:     payload,
			Status:      models.StatusQueued,
			MaxAttempts: m.opts.MaxAttempts,
			CreatedAt:   now,
		}
		err = m.store.CreateJob(ctx, candidate)
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("persist job: %w", err)
		}
		rec = candidate
		break
	}
	if rec == nil {
		return nil, ErrIDCollision
	}

	if err := m.queue.Enqueue(ctx, rec.ID, rec.Type); err != nil {
		// The record exists but cannot run; fail it so the owner sees a
		// terminal state instead of a job stuck in queued forever.
		_, _ = m.store.MarkFailed(ctx, rec.ID, "could not enqueue job")
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	telemetry.SubmitCounter.Inc()
	m.log.Info("job submitted",
		slog.String("job_id", rec.ID),
		slog.String("type", string(rec.Type)),
	)
	return rec, nil
}

// GetJobStatus returns the current record, nil when none exists. The
// ownership check happens strictly before the store lookup.
func (m *Manager) GetJobStatus(ctx context.Context, jobID, ownerID string) (*models.JobRecord, error) {
	if jobid.ExtractOwner(jobID) != ownerID {
		return nil, ErrUnauthorized
	}
	return m.store.GetJob(ctx, jobID)
}

// CancelJob requests cancellation. A queued job is removed immediately from
// queue and store; a processing job gets a durable cancellation flag the
// worker observes at its next checkpoint. Returns false for terminal or
// unknown jobs.
func (m *Manager) CancelJob(ctx context.Context, jobID, ownerID string) (bool, error) {
	if jobid.ExtractOwner(jobID) != ownerID {
		return false, ErrUnauthorized
	}

	// Queued first: delete wins over a concurrent claim or loses cleanly.
	deleted, err := m.store.DeleteQueued(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel queued job: %w", err)
	}
	if deleted {
		if err := m.queue.Remove(ctx, jobID); err != nil {
			m.log.Warn("remove cancelled job from queue",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
		_ = m.notif.Publish(ctx, notify.Event{
			Kind:    notify.EventCancelled,
			JobID:   jobID,
			OwnerID: ownerID,
			Message: "cancelled before processing",
		})
		telemetry.CancelledCounter.Inc()
		m.log.Info("queued job cancelled", slog.String("job_id", jobID))
		return true, nil
	}

	// Otherwise flag a processing job; the flag is durable before we answer.
	flagged, err := m.store.RequestCancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	if flagged {
		m.log.Info("cancellation requested", slog.String("job_id", jobID))
		return true, nil
	}
	return false, nil
}

// GetUserActiveJobs lists the owner's queued and processing jobs in
// submission order.
func (m *Manager) GetUserActiveJobs(ctx context.Context, ownerID string) ([]models.JobRecord, error) {
	return m.store.ListActiveByOwner(ctx, ownerID)
}

// CleanupOldJobs removes terminal records that finished more than maxAge ago.
func (m *Manager) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := m.store.DeleteTerminalOlderThan(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	if n > 0 {
		telemetry.CleanupCounter.Add(float64(n))
		m.log.Info("cleaned up old jobs", slog.Int64("removed", n))
	}
	return n, nil
}

// RunCleanup sweeps periodically until the context ends.
func (m *Manager) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CleanupOldJobs(ctx, m.opts.CleanupMaxAge); err != nil {
				m.log.Error("cleanup sweep", slog.String("error", err.Error()))
			}
		}
	}
}
