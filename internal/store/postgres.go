package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"article-pipeline/internal/models"
)

// errClaimConflict flags a claim race lost between select and update. It
// wraps ErrNoEligibleJobs so callers see "no job available".
var errClaimConflict = fmt.Errorf("claim conflict: %w", models.ErrNoEligibleJobs)

const jobColumns = `id, configuration_id, status, seed_keyword, target_audience, writing_style,
	scheduled_date, created_at, processing_started_at, processing_completed_at,
	error_message, retry_count, result_ref_id, result_url`

// Postgres is the production Store on pgxpool.
type Postgres struct {
	pool    *pgxpool.Pool
	configs ConfigResolver
}

// Connect creates a pooled connection to Postgres.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewPostgres wraps an existing pool. configs resolves configuration
// references at enqueue and claim time.
func NewPostgres(pool *pgxpool.Pool, configs ConfigResolver) *Postgres {
	return &Postgres{pool: pool, configs: configs}
}

// Enqueue validates parameters, resolves the configuration, and inserts a
// queued job. An unexpired idempotency key returns the existing job instead.
func (s *Postgres) Enqueue(ctx context.Context, p EnqueueParams) (models.Job, bool, error) {
	if err := validateEnqueue(p); err != nil {
		return models.Job{}, false, err
	}
	if s.configs != nil {
		exists, err := s.configs.Exists(ctx, p.ConfigurationID)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("resolve configuration: %w", err)
		}
		if !exists {
			return models.Job{}, false, &models.NotFoundError{Resource: "configuration", ID: p.ConfigurationID}
		}
	}

	// An existing idempotency key short-circuits before creating anything.
	if p.IdempotencyKey != "" {
		if existing, found, err := s.findByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return models.Job{}, false, err
		} else if found {
			return existing, true, nil
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, configuration_id, status, seed_keyword, target_audience, writing_style, scheduled_date, created_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
	`, id, p.ConfigurationID, models.StatusQueued, p.SeedKeyword,
		emptyToNil(p.TargetAudience), emptyToNil(p.WritingStyle), p.ScheduledDate, now)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	if p.IdempotencyKey != "" {
		expires := now.Add(p.IdempotencyTTL)
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, job_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, p.IdempotencyKey, id, expires)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Someone else claimed the key after our initial check.
			if err := tx.Rollback(ctx); err != nil {
				return models.Job{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := s.findByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return models.Job{}, false, err
			}
			if !found {
				return models.Job{}, false, errors.New("idempotency conflict but no existing job found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:              id,
		ConfigurationID: p.ConfigurationID,
		Status:          models.StatusQueued,
		SeedKeyword:     p.SeedKeyword,
		TargetAudience:  emptyToNil(p.TargetAudience),
		WritingStyle:    emptyToNil(p.WritingStyle),
		ScheduledDate:   p.ScheduledDate,
		CreatedAt:       now,
	}, false, nil
}

func (s *Postgres) findByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT job_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, &models.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Postgres) ListJobs(ctx context.Context, f ListFilter) ([]models.Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, f.Status, limit)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNext selects the oldest eligible queued job and marks it processing
// in one transaction. FOR UPDATE SKIP LOCKED keeps concurrent claimers off
// the same row; a contender simply sees no job.
func (s *Postgres) ClaimNext(ctx context.Context) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1 AND (scheduled_date IS NULL OR scheduled_date <= NOW())
		ORDER BY COALESCE(scheduled_date, created_at) ASC, (scheduled_date IS NULL) ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, models.StatusQueued)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, models.ErrNoEligibleJobs
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan claim candidate: %w", err)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = $2, processing_started_at = $3, processing_completed_at = NULL
		WHERE id = $1
	`, job.ID, models.StatusProcessing, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Job{}, errClaimConflict
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = models.StatusProcessing
	job.ProcessingStartedAt = &now
	job.ProcessingCompletedAt = nil

	if s.configs != nil {
		if cfg, err := s.configs.Get(ctx, job.ConfigurationID, false); err == nil {
			job.Configuration = &cfg
		}
	}
	return job, nil
}

// UpdateStatus validates the requested transition against the state machine
// and applies it with its side effects atomically. A disallowed move
// returns InvalidTransitionError and leaves the row untouched.
func (s *Postgres) UpdateStatus(ctx context.Context, id, newStatus string, upd StatusUpdate) (models.Job, error) {
	if !models.ValidStatus(newStatus) {
		return models.Job{}, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	current, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, &models.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if !models.CanTransition(current.Status, newStatus) {
		return models.Job{}, &models.InvalidTransitionError{JobID: id, From: current.Status, To: newStatus}
	}

	now := time.Now().UTC()
	var updated pgx.Row
	switch newStatus {
	case models.StatusProcessing:
		updated = tx.QueryRow(ctx, `
			UPDATE jobs SET status = $2, processing_started_at = $3, processing_completed_at = NULL
			WHERE id = $1 RETURNING `+jobColumns, id, newStatus, now)
	case models.StatusCompleted:
		updated = tx.QueryRow(ctx, `
			UPDATE jobs SET status = $2, processing_completed_at = $3, result_ref_id = $4, result_url = $5
			WHERE id = $1 RETURNING `+jobColumns, id, newStatus, now, emptyToNil(upd.ResultRefID), emptyToNil(upd.ResultURL))
	case models.StatusFailed:
		updated = tx.QueryRow(ctx, `
			UPDATE jobs SET status = $2, processing_completed_at = $3, error_message = $4, retry_count = retry_count + 1
			WHERE id = $1 RETURNING `+jobColumns, id, newStatus, now, emptyToNil(upd.ErrorMessage))
	case models.StatusQueued:
		updated = tx.QueryRow(ctx, `
			UPDATE jobs SET status = $2, error_message = NULL, processing_started_at = NULL, processing_completed_at = NULL
			WHERE id = $1 RETURNING `+jobColumns, id, newStatus)
	case models.StatusPublished:
		updated = tx.QueryRow(ctx, `
			UPDATE jobs SET status = $2, processing_completed_at = $3, scheduled_date = COALESCE(scheduled_date, $3)
			WHERE id = $1 RETURNING `+jobColumns, id, newStatus, now)
	}

	job, err := scanJob(updated)
	if err != nil {
		return models.Job{}, fmt.Errorf("apply transition: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit transition: %w", err)
	}
	return job, nil
}

// Requeue moves a failed job back to queued.
func (s *Postgres) Requeue(ctx context.Context, id string) (models.Job, error) {
	return s.UpdateStatus(ctx, id, models.StatusQueued, StatusUpdate{})
}

// MarkPublished moves a completed job to published.
func (s *Postgres) MarkPublished(ctx context.Context, id string) (models.Job, error) {
	return s.UpdateStatus(ctx, id, models.StatusPublished, StatusUpdate{})
}

// Cancel deletes a job that has not started (queued) or has failed.
func (s *Postgres) Cancel(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return fmt.Errorf("load job status: %w", err)
	}
	if status != models.StatusQueued && status != models.StatusFailed {
		return &models.InvalidTransitionError{JobID: id, From: status, To: "canceled"}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return tx.Commit(ctx)
}

// AddCategory attaches a category label to a job.
func (s *Postgres) AddCategory(ctx context.Context, jobID, label string) error {
	return s.addLabel(ctx, "job_categories", jobID, label)
}

// ListCategories returns the job's category labels.
func (s *Postgres) ListCategories(ctx context.Context, jobID string) ([]string, error) {
	return s.listLabels(ctx, "job_categories", jobID)
}

// RemoveCategory detaches a category label.
func (s *Postgres) RemoveCategory(ctx context.Context, jobID, label string) error {
	return s.removeLabel(ctx, "job_categories", jobID, label)
}

// AddTag attaches a tag label to a job.
func (s *Postgres) AddTag(ctx context.Context, jobID, label string) error {
	return s.addLabel(ctx, "job_tags", jobID, label)
}

// ListTags returns the job's tag labels.
func (s *Postgres) ListTags(ctx context.Context, jobID string) ([]string, error) {
	return s.listLabels(ctx, "job_tags", jobID)
}

// RemoveTag detaches a tag label.
func (s *Postgres) RemoveTag(ctx context.Context, jobID, label string) error {
	return s.removeLabel(ctx, "job_tags", jobID, label)
}

func (s *Postgres) addLabel(ctx context.Context, table, jobID, label string) error {
	if label == "" {
		return &models.ValidationError{Field: "label", Reason: "must not be empty"}
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return &models.NotFoundError{Resource: "job", ID: jobID}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO `+table+` (job_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`, jobID, label)
	if err != nil {
		return fmt.Errorf("insert label: %w", err)
	}
	return nil
}

func (s *Postgres) listLabels(ctx context.Context, table, jobID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT label FROM `+table+` WHERE job_id = $1 ORDER BY label`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func (s *Postgres) removeLabel(ctx context.Context, table, jobID, label string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE job_id = $1 AND label = $2`, jobID, label)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	return nil
}

// Stats summarizes the queue.
func (s *Postgres) Stats(ctx context.Context) (models.QueueStats, error) {
	stats := models.QueueStats{CountsByStatus: make(map[string]int64)}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountsByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status = $1 AND (scheduled_date IS NULL OR scheduled_date <= NOW())
	`, models.StatusQueued).Scan(&stats.ReadyNow); err != nil {
		return stats, fmt.Errorf("count ready jobs: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (processing_completed_at - processing_started_at))), 0)
		FROM jobs
		WHERE processing_started_at IS NOT NULL AND processing_completed_at IS NOT NULL
	`).Scan(&stats.AvgProcessingSeconds); err != nil {
		return stats, fmt.Errorf("average processing time: %w", err)
	}
	return stats, nil
}

// StaleProcessing returns jobs stuck in processing since before the cutoff.
func (s *Postgres) StaleProcessing(ctx context.Context, olderThan time.Duration) ([]models.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND processing_started_at < $2
		ORDER BY processing_started_at ASC
	`, models.StatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SaveAuditTrail persists one run's audit document.
func (s *Postgres) SaveAuditTrail(ctx context.Context, jobID string, trail any) error {
	doc, err := json.Marshal(trail)
	if err != nil {
		return fmt.Errorf("marshal audit trail: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_logs (job_id, document, created_at) VALUES ($1, $2, NOW())
	`, jobID, doc)
	if err != nil {
		return fmt.Errorf("insert audit trail: %w", err)
	}
	return nil
}

// ListAuditTrails returns every persisted audit document for a job, oldest
// attempt first.
func (s *Postgres) ListAuditTrails(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT document FROM execution_logs WHERE job_id = $1 ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list audit trails: %w", err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan audit trail: %w", err)
		}
		docs = append(docs, json.RawMessage(doc))
	}
	return docs, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var audience, style, errMsg, refID, resURL pgtype.Text
	var scheduled, started, completed pgtype.Timestamptz

	err := row.Scan(
		&job.ID, &job.ConfigurationID, &job.Status, &job.SeedKeyword,
		&audience, &style, &scheduled, &job.CreatedAt,
		&started, &completed, &errMsg, &job.RetryCount, &refID, &resURL,
	)
	if err != nil {
		return models.Job{}, err
	}
	job.TargetAudience = textPtr(audience)
	job.WritingStyle = textPtr(style)
	job.ScheduledDate = timePtr(scheduled)
	job.ProcessingStartedAt = timePtr(started)
	job.ProcessingCompletedAt = timePtr(completed)
	job.ErrorMessage = textPtr(errMsg)
	job.ResultRefID = textPtr(refID)
	job.ResultURL = textPtr(resURL)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
