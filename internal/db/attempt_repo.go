package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"payretry/internal/types"
)

// RetryAttemptRepository provides data access for the retry_attempts table.
// Raw payment-network responses are stored zstd-compressed in
// raw_response_zstd and transparently decompressed on read.
type RetryAttemptRepository struct {
	db DBTX
}

// NewRetryAttemptRepository creates a new RetryAttemptRepository.
func NewRetryAttemptRepository(db DBTX) *RetryAttemptRepository {
	return &RetryAttemptRepository{db: db}
}

const attemptColumns = `id, retry_schedule_id, attempt_number, planned_date, executed_at, status,
	payment_intent_id, network_ref, raw_response_zstd, error_code, error_message,
	new_rejection_code, retry_job_id, idempotency_key, created_at, updated_at`

func scanAttempt(row pgx.Row) (*types.RetryAttempt, error) {
	var a types.RetryAttempt
	var (
		intentID, networkRef, errorCode, errorMessage *string
		newRejection, jobID                           *string
		raw                                           []byte
	)
	err := row.Scan(
		&a.ID,
		&a.RetryScheduleID,
		&a.AttemptNumber,
		&a.PlannedDate,
		&a.ExecutedAt,
		&a.Status,
		&intentID,
		&networkRef,
		&raw,
		&errorCode,
		&errorMessage,
		&newRejection,
		&jobID,
		&a.IdempotencyKey,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.PaymentIntentID = deref(intentID)
	a.NetworkRef = deref(networkRef)
	a.ErrorCode = deref(errorCode)
	a.ErrorMessage = deref(errorMessage)
	a.NewRejectionCode = deref(newRejection)
	a.RetryJobID = deref(jobID)
	if a.RawResponse, err = decompressRaw(raw); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts an attempt. Reusing (schedule, attempt number) or the
// idempotency key yields conflict_duplicate.
func (r *RetryAttemptRepository) Create(ctx context.Context, a *types.RetryAttempt) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO retry_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         COALESCE($15, NOW()), COALESCE($16, NOW()))`,
		a.ID,
		a.RetryScheduleID,
		a.AttemptNumber,
		a.PlannedDate,
		a.ExecutedAt,
		a.Status,
		nilIfEmpty(a.PaymentIntentID),
		nilIfEmpty(a.NetworkRef),
		compressRaw(a.RawResponse),
		nilIfEmpty(a.ErrorCode),
		nilIfEmpty(a.ErrorMessage),
		nilIfEmpty(a.NewRejectionCode),
		nilIfEmpty(a.RetryJobID),
		a.IdempotencyKey,
		nilIfZeroTime(a.CreatedAt),
		nilIfZeroTime(a.UpdatedAt),
	)
	if err != nil {
		return insertError(err, "retry attempt")
	}
	return nil
}

// Update persists the outcome columns of an attempt.
func (r *RetryAttemptRepository) Update(ctx context.Context, a *types.RetryAttempt) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE retry_attempts SET
		   executed_at = $2, status = $3, payment_intent_id = $4, network_ref = $5,
		   raw_response_zstd = $6, error_code = $7, error_message = $8,
		   new_rejection_code = $9, retry_job_id = $10, updated_at = $11
		 WHERE id = $1`,
		a.ID,
		a.ExecutedAt,
		a.Status,
		nilIfEmpty(a.PaymentIntentID),
		nilIfEmpty(a.NetworkRef),
		compressRaw(a.RawResponse),
		nilIfEmpty(a.ErrorCode),
		nilIfEmpty(a.ErrorMessage),
		nilIfEmpty(a.NewRejectionCode),
		nilIfEmpty(a.RetryJobID),
		a.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update retry attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAttempt, "retry attempt not found", nil)
	}
	return nil
}

// GetByID returns the attempt with the given id.
func (r *RetryAttemptRepository) GetByID(ctx context.Context, id string) (*types.RetryAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM retry_attempts WHERE id = $1`, id)
}

// GetByScheduleAndNumber returns attempt number n of a schedule.
func (r *RetryAttemptRepository) GetByScheduleAndNumber(ctx context.Context, scheduleID string, n int) (*types.RetryAttempt, error) {
	return r.getOne(ctx,
		`SELECT `+attemptColumns+` FROM retry_attempts WHERE retry_schedule_id = $1 AND attempt_number = $2`,
		scheduleID, n)
}

// GetByPaymentIntentID returns the attempt that produced the given payment
// intent, used to route asynchronous confirmations.
func (r *RetryAttemptRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*types.RetryAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM retry_attempts WHERE payment_intent_id = $1`, paymentIntentID)
}

func (r *RetryAttemptRepository) getOne(ctx context.Context, sql string, args ...any) (*types.RetryAttempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAttempt, "retry attempt not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve retry attempt", err)
	}
	return a, nil
}

// ListBySchedule returns the attempts of a schedule in attempt order.
func (r *RetryAttemptRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]*types.RetryAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM retry_attempts
		 WHERE retry_schedule_id = $1
		 ORDER BY attempt_number`,
		scheduleID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retry attempts", err)
	}
	defer rows.Close()

	var out []*types.RetryAttempt
	for rows.Next() {
		a, scanErr := scanAttempt(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan retry attempt row", scanErr)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating retry attempt rows", err)
	}
	return out, nil
}
