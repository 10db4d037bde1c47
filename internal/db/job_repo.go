package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"payretry/internal/types"
)

// RetryJobRepository provides data access for the retry_jobs table.
type RetryJobRepository struct {
	db DBTX
}

// NewRetryJobRepository creates a new RetryJobRepository.
func NewRetryJobRepository(db DBTX) *RetryJobRepository {
	return &RetryJobRepository{db: db}
}

const jobColumns = `id, organisation_id, target_date, timezone, cutoff_time,
	scheduled_at, started_at, completed_at, status,
	total_attempts, successful_attempts, failed_attempts, skipped_attempts,
	error_message, failed_schedule_ids, failure_reasons,
	idempotency_key, triggered_by, is_manual, dry_run, created_at, updated_at`

func scanJob(row pgx.Row) (*types.RetryJob, error) {
	var j types.RetryJob
	var (
		errorMessage *string
		reasons      []byte
	)
	err := row.Scan(
		&j.ID,
		&j.OrganisationID,
		&j.TargetDate,
		&j.Timezone,
		&j.CutoffTime,
		&j.ScheduledAt,
		&j.StartedAt,
		&j.CompletedAt,
		&j.Status,
		&j.TotalAttempts,
		&j.SuccessfulAttempts,
		&j.FailedAttempts,
		&j.SkippedAttempts,
		&errorMessage,
		&j.FailedScheduleIDs,
		&reasons,
		&j.IdempotencyKey,
		&j.TriggeredBy,
		&j.IsManual,
		&j.DryRun,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.ErrorMessage = deref(errorMessage)
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &j.FailureReasons); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

func marshalReasons(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalSerialization, "failed to encode failure reasons", err)
	}
	return b, nil
}

// Create inserts a job. A taken idempotency key yields conflict_duplicate.
func (r *RetryJobRepository) Create(ctx context.Context, j *types.RetryJob) error {
	reasons, err := marshalReasons(j.FailureReasons)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO retry_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17, $18, $19, $20, COALESCE($21, NOW()), COALESCE($22, NOW()))`,
		j.ID,
		j.OrganisationID,
		j.TargetDate,
		j.Timezone,
		j.CutoffTime,
		j.ScheduledAt,
		j.StartedAt,
		j.CompletedAt,
		j.Status,
		j.TotalAttempts,
		j.SuccessfulAttempts,
		j.FailedAttempts,
		j.SkippedAttempts,
		nilIfEmpty(j.ErrorMessage),
		nonNilStrings(j.FailedScheduleIDs),
		reasons,
		j.IdempotencyKey,
		j.TriggeredBy,
		j.IsManual,
		j.DryRun,
		nilIfZeroTime(j.CreatedAt),
		nilIfZeroTime(j.UpdatedAt),
	)
	if err != nil {
		return insertError(err, "retry job")
	}
	return nil
}

// Update persists the lifecycle and counter columns of a job.
func (r *RetryJobRepository) Update(ctx context.Context, j *types.RetryJob) error {
	reasons, err := marshalReasons(j.FailureReasons)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE retry_jobs SET
		   started_at = $2, completed_at = $3, status = $4,
		   total_attempts = $5, successful_attempts = $6, failed_attempts = $7,
		   skipped_attempts = $8, error_message = $9, failed_schedule_ids = $10,
		   failure_reasons = $11, triggered_by = $12, updated_at = $13
		 WHERE id = $1`,
		j.ID,
		j.StartedAt,
		j.CompletedAt,
		j.Status,
		j.TotalAttempts,
		j.SuccessfulAttempts,
		j.FailedAttempts,
		j.SkippedAttempts,
		nilIfEmpty(j.ErrorMessage),
		nonNilStrings(j.FailedScheduleIDs),
		reasons,
		j.TriggeredBy,
		j.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update retry job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "retry job not found", nil)
	}
	return nil
}

// GetByID returns the job with the given id.
func (r *RetryJobRepository) GetByID(ctx context.Context, id string) (*types.RetryJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM retry_jobs WHERE id = $1`, id)
}

// GetByIdempotencyKey returns the job registered under key.
func (r *RetryJobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*types.RetryJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM retry_jobs WHERE idempotency_key = $1`, key)
}

func (r *RetryJobRepository) getOne(ctx context.Context, sql, arg string) (*types.RetryJob, error) {
	j, err := scanJob(r.db.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "retry job not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve retry job", err)
	}
	return j, nil
}

// List returns one page (Limit+1 rows) of jobs, most recent target date
// first. types.Unbounded as the limit returns every matching job.
func (r *RetryJobRepository) List(ctx context.Context, f types.JobFilter) ([]*types.RetryJob, error) {
	var w whereBuilder
	if f.OrganisationID != "" {
		w.add("organisation_id = ?", f.OrganisationID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		w.add("target_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("target_date < ?", f.To)
	}
	query := `SELECT ` + jobColumns + ` FROM retry_jobs ` + w.clause() + ` ORDER BY target_date DESC, created_at DESC, id`
	if f.Limit != types.Unbounded {
		page := f.Page.Normalize()
		query += ` LIMIT ` + w.next(page.Limit+1) + ` OFFSET ` + w.next(page.Offset)
	}

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retry jobs", err)
	}
	defer rows.Close()

	var out []*types.RetryJob
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan retry job row", scanErr)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating retry job rows", err)
	}
	return out, nil
}
