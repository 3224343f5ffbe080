package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"careerhub-jobs/internal/models"
)

// Sentinel errors shared by every store implementation.
var (
	// ErrDuplicateID signals a primary-key collision on insert; the caller
	// regenerates the identifier and retries.
	ErrDuplicateID = errors.New("job id already exists")
	// ErrNotClaimable means the job is not in the queued state (already
	// claimed, cancelled, or gone).
	ErrNotClaimable = errors.New("job not claimable")
	// ErrNotProcessing means a progress or heartbeat write hit a job that is
	// no longer processing; the concurrent transition won.
	ErrNotProcessing = errors.New("job not processing")
)

const jobColumns = `job_id, owner_id, job_type, payload, status, progress_percent, progress_message,
	result, error_message, attempts, max_attempts, cancel_requested, worker_id,
	created_at, claimed_at, last_heartbeat_at, finished_at`

// Postgres is the store of record. Every lifecycle transition is a single
// compare-and-set UPDATE guarded by the current status, never a read-then-write
// pair, so racing workers cannot double-claim and a late completion cannot
// clobber a cancellation.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a fresh queued record.
func (s *Postgres) CreateJob(ctx context.Context, rec *models.JobRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, owner_id, job_type, payload, status, progress_percent, progress_message,
			attempts, max_attempts, cancel_requested, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, '', 0, $6, FALSE, $7)
	`, rec.ID, rec.OwnerID, rec.Type, rec.Payload, models.StatusQueued, rec.MaxAttempts, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id. Returns (nil, nil) when no record exists.
func (s *Postgres) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// ClaimJob atomically transitions one queued job to processing. Two workers
// racing on the same id cannot both get a row back.
func (s *Postgres) ClaimJob(ctx context.Context, id, workerID string) (*models.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, worker_id = $3, claimed_at = NOW(), last_heartbeat_at = NOW()
		WHERE job_id = $1 AND status = $4
		RETURNING `+jobColumns, id, models.StatusProcessing, workerID, models.StatusQueued)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return rec, nil
}

// UpdateProgress writes a progress checkpoint and reports, in the same round
// trip, whether a cancellation has been requested. Percent never goes
// backwards while processing.
func (s *Postgres) UpdateProgress(ctx context.Context, id string, p models.Progress) (bool, error) {
	var cancelRequested bool
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET progress_percent = GREATEST(progress_percent, $2), progress_message = $3, last_heartbeat_at = NOW()
		WHERE job_id = $1 AND status = $4
		RETURNING cancel_requested
	`, id, p.Percent, p.Message, models.StatusProcessing).Scan(&cancelRequested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotProcessing
	}
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	return cancelRequested, nil
}

// Heartbeat refreshes the claim's liveness timestamp.
func (s *Postgres) Heartbeat(ctx context.Context, id, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET last_heartbeat_at = NOW()
		WHERE job_id = $1 AND worker_id = $2 AND status = $3
	`, id, workerID, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

// MarkCompleted finalizes a successful run. Returns false when the job is no
// longer processing, meaning a cancellation won the race and this result is
// discarded.
func (s *Postgres) MarkCompleted(ctx context.Context, id string, result []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, result = $3, error_message = NULL,
			progress_percent = 100, finished_at = NOW()
		WHERE job_id = $1 AND status = $4
	`, id, models.StatusCompleted, result, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed finalizes a job after its retry budget is spent. Accepted from
// queued as well so the reaper can fail a stranded job it just requeued.
func (s *Postgres) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error_message = $3, result = NULL, finished_at = NOW()
		WHERE job_id = $1 AND status IN ($4, $5)
	`, id, models.StatusFailed, message, models.StatusQueued, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCancelled finalizes a cooperative cancellation.
func (s *Postgres) MarkCancelled(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, result = NULL, finished_at = NOW()
		WHERE job_id = $1 AND status IN ($3, $4)
	`, id, models.StatusCancelled, models.StatusQueued, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark cancelled: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequestCancel durably records cancellation intent on a processing job. The
// worker observes the flag at its next checkpoint.
func (s *Postgres) RequestCancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET cancel_requested = TRUE
		WHERE job_id = $1 AND status = $2
	`, id, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteQueued removes a job that has not been claimed yet. Used for
// cancellation of queued jobs, which takes effect immediately.
func (s *Postgres) DeleteQueued(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs WHERE job_id = $1 AND status = $2
	`, id, models.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("delete queued: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ScheduleRetry returns a failed attempt to the queued state with the attempt
// counted, so a later claim picks it up again.
func (s *Postgres) ScheduleRetry(ctx context.Context, id string, attempts int, lastErr string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, attempts = $3, error_message = $4, worker_id = NULL, claimed_at = NULL
		WHERE job_id = $1 AND status = $5
	`, id, models.StatusQueued, attempts, lastErr, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequeueStale releases a claim whose worker stopped heartbeating. The
// attempt is counted against the same retry budget as handler failures.
// Returns (nil, nil) when the job finished or was cancelled in the meantime.
func (s *Postgres) RequeueStale(ctx context.Context, id string) (*models.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, attempts = attempts + 1, worker_id = NULL, claimed_at = NULL
		WHERE job_id = $1 AND status = $3
		RETURNING `+jobColumns, id, models.StatusQueued, models.StatusProcessing)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("requeue stale: %w", err)
	}
	return rec, nil
}

// ListActiveByOwner returns the owner's queued and processing jobs in
// submission order.
func (s *Postgres) ListActiveByOwner(ctx context.Context, ownerID string) ([]models.JobRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE owner_id = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC
	`, ownerID, models.StatusQueued, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	var out []models.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active job: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteTerminalOlderThan removes terminal records that finished before the
// cutoff. Queued and processing rows are never touched regardless of age.
func (s *Postgres) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2, $3) AND finished_at < $4
	`, models.StatusCompleted, models.StatusFailed, models.StatusCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var rec models.JobRecord
	var result, errMsg, workerID pgtype.Text
	var claimedAt, heartbeatAt, finishedAt pgtype.Timestamptz

	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Type, &rec.Payload, &rec.Status,
		&rec.Progress.Percent, &rec.Progress.Message,
		&result, &errMsg, &rec.Attempts, &rec.MaxAttempts, &rec.CancelRequested, &workerID,
		&rec.CreatedAt, &claimedAt, &heartbeatAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	if errMsg.Valid {
		rec.ErrorMessage = errMsg.String
	}
	if workerID.Valid {
		rec.WorkerID = workerID.String
	}
	rec.ClaimedAt = tsPtr(claimedAt)
	rec.LastHeartbeatAt = tsPtr(heartbeatAt)
	rec.FinishedAt = tsPtr(finishedAt)
	return &rec, nil
}

func tsPtr(ts pgtype.Timestamptz) *time.Time {
	if ts.Valid {
		t := ts.Time
		return &t
	}
	return nil
}
