// Package worker claims queued jobs, executes the handler for each job's
// type, and finalizes status. Every transition goes through the store's
// compare-and-set methods so racing workers, reapers, and cancellations
// resolve deterministically: whichever transition wins the CAS is final.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"careerhub-jobs/internal/models"
	"careerhub-jobs/internal/notify"
	"careerhub-jobs/internal/store"
	"careerhub-jobs/internal/telemetry"
)

// finalizeTimeout bounds terminal writes, which run on their own context so
// a shutdown that cancels the run context cannot lose finished work.
const finalizeTimeout = 15 * time.Second

// Store is the slice of the job store the processor needs.
type Store interface {
	ClaimJob(ctx context.Context, id, workerID string) (*models.JobRecord, error)
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)
	UpdateProgress(ctx context.Context, id string, p models.Progress) (bool, error)
	Heartbeat(ctx context.Context, id, workerID string) error
	MarkCompleted(ctx context.Context, id string, result []byte) (bool, error)
	MarkFailed(ctx context.Context, id, message string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	ScheduleRetry(ctx context.Context, id string, attempts int, lastErr string) (bool, error)
	RequeueStale(ctx context.Context, id string) (*models.JobRecord, error)
}

// Queue is the slice of the Redis queue the processor needs.
type Queue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, jobID string) error
	Ack(ctx context.Context, jobID string) error
	Schedule(ctx context.Context, jobID string, runAt time.Time) error
	Requeue(ctx context.Context, jobID string) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	ExpiredClaims(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Notifier publishes lifecycle events toward owning clients.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Options tune the processing loop.
type Options struct {
	WorkerID           string
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	HandlerTimeout     time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	ScheduledBatchSize int64
	Dev                bool
}

// Processor drives one worker execution loop. Run several for concurrency;
// the store's claim CAS keeps them from stepping on each other.
type Processor struct {
	store    Store
	queue    Queue
	handlers HandlerSet
	notif    Notifier
	log      *slog.Logger
	opts     Options
}

func NewProcessor(st Store, q Queue, handlers HandlerSet, n Notifier, log *slog.Logger, opts Options) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 2 * time.Minute
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Minute
	}
	if opts.ScheduledBatchSize <= 0 {
		opts.ScheduledBatchSize = 100
	}
	return &Processor{
		store:    st,
		queue:    q,
		handlers: handlers,
		notif:    n,
		log:      log.With(slog.String("worker_id", opts.WorkerID)),
		opts:     opts,
	}
}

// Run claims and processes jobs until the context ends. Shutdown is a
// graceful drain: the context is only checked between jobs, and each handler
// runs on its own deadline detached from the run context.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		_, _ = p.queue.PromoteScheduled(ctx, now, p.opts.ScheduledBatchSize)
		p.reapStaleClaims(ctx, now)
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}

		p.process(ctx, jobID)
	}
}

// reapStaleClaims requeues jobs whose worker stopped heartbeating. A
// reclaimed attempt counts against the same retry budget as a handler
// failure.
func (p *Processor) reapStaleClaims(ctx context.Context, now time.Time) {
	ids, err := p.queue.ExpiredClaims(ctx, now, 100)
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		rec, err := p.store.RequeueStale(ctx, id)
		if err != nil {
			p.log.Error("requeue stale claim", slog.String("job_id", id), slog.String("error", err.Error()))
			continue
		}
		if rec == nil {
			// Not processing anymore. A record still queued in the store was
			// stranded between a retry write and its queue entry; put it back
			// on its ready list. Anything else just drops the claim entry.
			if cur, err := p.store.GetJob(ctx, id); err == nil && cur != nil && cur.Status == models.StatusQueued {
				_ = p.queue.Requeue(ctx, id)
				continue
			}
			_ = p.queue.Ack(ctx, id)
			continue
		}
		if rec.Attempts >= rec.MaxAttempts {
			if ok, _ := p.store.MarkFailed(ctx, id, "job abandoned by worker and retry budget exhausted"); ok {
				telemetry.FailedCounter.Inc()
				p.publish(ctx, notify.Event{
					Kind:    notify.EventError,
					JobID:   id,
					OwnerID: rec.OwnerID,
					Message: "job failed: worker lost",
				})
			}
			_ = p.queue.Ack(ctx, id)
			continue
		}
		if err := p.queue.Requeue(ctx, id); err != nil {
			p.log.Error("requeue expired claim", slog.String("job_id", id), slog.String("error", err.Error()))
			continue
		}
		telemetry.ReclaimCounter.Inc()
		p.log.Warn("reclaimed stale job",
			slog.String("job_id", id),
			slog.Int("attempts", rec.Attempts),
		)
	}
}

func (p *Processor) process(ctx context.Context, jobID string) {
	rec, err := p.store.ClaimJob(ctx, jobID, p.opts.WorkerID)
	if errors.Is(err, store.ErrNotClaimable) {
		// Cancelled, already handled, or gone; release the lease entry.
		_ = p.queue.Ack(ctx, jobID)
		return
	}
	if err != nil {
		p.log.Error("claim job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		_ = p.queue.Requeue(ctx, jobID)
		return
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	log := p.log.With(slog.String("job_id", rec.ID), slog.String("type", string(rec.Type)))
	log.Info("job claimed", slog.Int("attempt", rec.Attempts+1))

	// The handler deadline is detached from the run context so a shutdown
	// drains in-flight work instead of aborting it.
	jobCtx, cancel := context.WithTimeout(context.Background(), p.opts.HandlerTimeout)
	defer cancel()

	stopHeartbeat := p.startHeartbeat(jobCtx, rec.ID)
	defer stopHeartbeat()

	report := p.progressReporter(rec)

	result, err := p.runHandler(jobCtx, rec, report)
	stopHeartbeat()

	// By now the run context may already be cancelled by a shutdown. Terminal
	// writes get their own deadline so the drained handler's outcome is
	// recorded instead of replayed.
	finCtx, cancelFin := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancelFin()

	switch {
	case errors.Is(err, ErrCancelRequested):
		p.finalizeCancelled(finCtx, rec, log)
	case err != nil:
		p.finalizeFailure(finCtx, rec, err, log)
	default:
		p.finalizeSuccess(finCtx, rec, result, log)
	}
}

func (p *Processor) runHandler(ctx context.Context, rec *models.JobRecord, report ProgressFunc) (result []byte, err error) {
	handler, err := p.handlers.For(rec.Type)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("handler panicked")
			p.log.Error("handler panic", slog.String("job_id", rec.ID), slog.Any("panic", r))
		}
	}()
	return handler(ctx, *rec, report)
}

// progressReporter writes checkpoints through to the record, forwards them to
// the notification channel, and surfaces a pending cancellation in the same
// round trip.
func (p *Processor) progressReporter(rec *models.JobRecord) ProgressFunc {
	return func(ctx context.Context, percent int, message string) error {
		cancelRequested, err := p.store.UpdateProgress(ctx, rec.ID, models.Progress{
			Percent: percent,
			Message: message,
		})
		if errors.Is(err, store.ErrNotProcessing) {
			// The record left the processing state under us; stop doing work.
			return ErrCancelRequested
		}
		if err != nil {
			p.log.Warn("write progress", slog.String("job_id", rec.ID), slog.String("error", err.Error()))
			return nil
		}
		p.publish(ctx, notify.Event{
			Kind:    notify.EventProgress,
			JobID:   rec.ID,
			OwnerID: rec.OwnerID,
			Percent: percent,
			Message: message,
		})
		if cancelRequested {
			return ErrCancelRequested
		}
		return nil
	}
}

func (p *Processor) startHeartbeat(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	var stopped bool
	go func() {
		ticker := time.NewTicker(p.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.store.Heartbeat(ctx, jobID, p.opts.WorkerID); err != nil {
					p.log.Debug("heartbeat", slog.String("job_id", jobID), slog.String("error", err.Error()))
				}
				_ = p.queue.ExtendLease(ctx, jobID)
			}
		}
	}()
	return func() {
		if !stopped {
			stopped = true
			close(done)
		}
	}
}

func (p *Processor) finalizeSuccess(ctx context.Context, rec *models.JobRecord, result []byte, log *slog.Logger) {
	ok, err := p.store.MarkCompleted(ctx, rec.ID, result)
	_ = p.queue.Ack(ctx, rec.ID)
	if err != nil {
		log.Error("mark completed", slog.String("error", err.Error()))
		return
	}
	if !ok {
		// Lost the status CAS; the reaper requeued or a cancellation
		// finalized first. The result is discarded.
		log.Warn("completion discarded, job no longer processing")
		return
	}
	telemetry.CompletedCounter.Inc()
	log.Info("job completed")
	p.publish(ctx, notify.Event{
		Kind:    notify.EventComplete,
		JobID:   rec.ID,
		OwnerID: rec.OwnerID,
		Percent: 100,
		Result:  result,
	})
}

func (p *Processor) finalizeCancelled(ctx context.Context, rec *models.JobRecord, log *slog.Logger) {
	ok, err := p.store.MarkCancelled(ctx, rec.ID)
	_ = p.queue.Ack(ctx, rec.ID)
	if err != nil {
		log.Error("mark cancelled", slog.String("error", err.Error()))
		return
	}
	if ok {
		telemetry.CancelledCounter.Inc()
		log.Info("job cancelled at checkpoint")
		p.publish(ctx, notify.Event{
			Kind:    notify.EventCancelled,
			JobID:   rec.ID,
			OwnerID: rec.OwnerID,
			Message: "job cancelled",
		})
	}
}

func (p *Processor) finalizeFailure(ctx context.Context, rec *models.JobRecord, handlerErr error, log *slog.Logger) {
	attempts := rec.Attempts + 1
	log.Error("handler failed",
		slog.Int("attempt", attempts),
		slog.Int("max_attempts", rec.MaxAttempts),
		slog.String("error", handlerErr.Error()),
	)

	if attempts >= rec.MaxAttempts {
		message := fmt.Sprintf("job failed after %d attempts", attempts)
		if p.opts.Dev {
			message = handlerErr.Error()
		}
		ok, err := p.store.MarkFailed(ctx, rec.ID, message)
		_ = p.queue.Ack(ctx, rec.ID)
		if err != nil {
			log.Error("mark failed", slog.String("error", err.Error()))
			return
		}
		if ok {
			telemetry.FailedCounter.Inc()
			p.publish(ctx, notify.Event{
				Kind:    notify.EventError,
				JobID:   rec.ID,
				OwnerID: rec.OwnerID,
				Message: message,
			})
		}
		return
	}

	ok, err := p.store.ScheduleRetry(ctx, rec.ID, attempts, handlerErr.Error())
	if err != nil || !ok {
		// A cancellation finalized first; nothing left to retry.
		_ = p.queue.Ack(ctx, rec.ID)
		return
	}
	// Park the retry before releasing the lease entry; the reverse order
	// would leave a crashed worker's job in no Redis set at all.
	backoff := backoffWithJitter(p.opts.BackoffInitial, p.opts.BackoffMax, attempts)
	if err := p.queue.Schedule(ctx, rec.ID, time.Now().Add(backoff)); err != nil {
		log.Error("schedule retry", slog.String("error", err.Error()))
		// Retry immediately rather than strand the job.
		_ = p.queue.Requeue(ctx, rec.ID)
		return
	}
	_ = p.queue.Ack(ctx, rec.ID)
	telemetry.RetryCounter.Inc()
	log.Info("retry scheduled", slog.Duration("backoff", backoff), slog.Int("attempt", attempts))
}

func (p *Processor) publish(ctx context.Context, ev notify.Event) {
	if p.notif == nil {
		return
	}
	if err := p.notif.Publish(ctx, ev); err != nil {
		p.log.Debug("publish event", slog.String("job_id", ev.JobID), slog.String("error", err.Error()))
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
