package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"payretry/internal/types"
)

// RetryScheduleRepository provides data access for the retry_schedules table.
// The idempotency_key unique constraint is what makes rejection ingress
// idempotent across racing writers.
type RetryScheduleRepository struct {
	db DBTX
}

// NewRetryScheduleRepository creates a new RetryScheduleRepository backed by
// the given database connection (pool or transaction).
func NewRetryScheduleRepository(db DBTX) *RetryScheduleRepository {
	return &RetryScheduleRepository{db: db}
}

const scheduleColumns = `id, organisation_id, company_id, product_id, channel,
	original_payment_id, subscription_id, invoice_id, contract_id, client_id, payment_method_ref,
	rejection_code, rejection_raw_code, rejection_message, rejection_date,
	retry_policy_id, amount_cents, currency, eligibility, eligibility_reason,
	current_attempt, max_attempts, next_retry_date,
	is_resolved, resolution_reason, resolved_at,
	idempotency_key, metadata, created_at, updated_at`

func scanSchedule(row pgx.Row) (*types.RetrySchedule, error) {
	var s types.RetrySchedule
	var (
		companyID, productID, channel       *string
		invoiceID, contractID, methodRef    *string
		rejectionMessage, eligibilityReason *string
		resolutionReason                    *string
	)
	err := row.Scan(
		&s.ID,
		&s.OrganisationID,
		&companyID,
		&productID,
		&channel,
		&s.OriginalPaymentID,
		&s.SubscriptionID,
		&invoiceID,
		&contractID,
		&s.ClientID,
		&methodRef,
		&s.RejectionCode,
		&s.RejectionRawCode,
		&rejectionMessage,
		&s.RejectionDate,
		&s.RetryPolicyID,
		&s.AmountCents,
		&s.Currency,
		&s.Eligibility,
		&eligibilityReason,
		&s.CurrentAttempt,
		&s.MaxAttempts,
		&s.NextRetryDate,
		&s.IsResolved,
		&resolutionReason,
		&s.ResolvedAt,
		&s.IdempotencyKey,
		&s.Metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.CompanyID = deref(companyID)
	s.ProductID = deref(productID)
	s.Channel = deref(channel)
	s.InvoiceID = deref(invoiceID)
	s.ContractID = deref(contractID)
	s.PaymentMethodRef = deref(methodRef)
	s.RejectionMessage = deref(rejectionMessage)
	s.EligibilityReason = deref(eligibilityReason)
	s.ResolutionReason = deref(resolutionReason)
	return &s, nil
}

// Create inserts a schedule. A taken idempotency key yields conflict_duplicate.
func (r *RetryScheduleRepository) Create(ctx context.Context, s *types.RetrySchedule) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO retry_schedules (`+scheduleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		         $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
		         COALESCE($29, NOW()), COALESCE($30, NOW()))`,
		s.ID,
		s.OrganisationID,
		nilIfEmpty(s.CompanyID),
		nilIfEmpty(s.ProductID),
		nilIfEmpty(s.Channel),
		s.OriginalPaymentID,
		s.SubscriptionID,
		nilIfEmpty(s.InvoiceID),
		nilIfEmpty(s.ContractID),
		s.ClientID,
		nilIfEmpty(s.PaymentMethodRef),
		s.RejectionCode,
		s.RejectionRawCode,
		nilIfEmpty(s.RejectionMessage),
		s.RejectionDate,
		s.RetryPolicyID,
		s.AmountCents,
		s.Currency,
		s.Eligibility,
		nilIfEmpty(s.EligibilityReason),
		s.CurrentAttempt,
		s.MaxAttempts,
		s.NextRetryDate,
		s.IsResolved,
		nilIfEmpty(s.ResolutionReason),
		s.ResolvedAt,
		s.IdempotencyKey,
		s.Metadata,
		nilIfZeroTime(s.CreatedAt),
		nilIfZeroTime(s.UpdatedAt),
	)
	if err != nil {
		return insertError(err, "retry schedule")
	}
	return nil
}

// Update persists the mutable lifecycle columns of a schedule. Scoping,
// payment references and the idempotency key never change after creation.
func (r *RetryScheduleRepository) Update(ctx context.Context, s *types.RetrySchedule) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE retry_schedules SET
		   rejection_code = $2, rejection_message = $3,
		   eligibility = $4, eligibility_reason = $5,
		   current_attempt = $6, next_retry_date = $7,
		   is_resolved = $8, resolution_reason = $9, resolved_at = $10,
		   metadata = $11, updated_at = $12
		 WHERE id = $1`,
		s.ID,
		s.RejectionCode,
		nilIfEmpty(s.RejectionMessage),
		s.Eligibility,
		nilIfEmpty(s.EligibilityReason),
		s.CurrentAttempt,
		s.NextRetryDate,
		s.IsResolved,
		nilIfEmpty(s.ResolutionReason),
		s.ResolvedAt,
		s.Metadata,
		s.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update retry schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "retry schedule not found", nil)
	}
	return nil
}

// GetByID returns the schedule with the given id.
func (r *RetryScheduleRepository) GetByID(ctx context.Context, id string) (*types.RetrySchedule, error) {
	return r.getOne(ctx, `SELECT `+scheduleColumns+` FROM retry_schedules WHERE id = $1`, id)
}

// GetByIdempotencyKey returns the schedule created for the given key.
func (r *RetryScheduleRepository) GetByIdempotencyKey(ctx context.Context, key string) (*types.RetrySchedule, error) {
	return r.getOne(ctx, `SELECT `+scheduleColumns+` FROM retry_schedules WHERE idempotency_key = $1`, key)
}

func (r *RetryScheduleRepository) getOne(ctx context.Context, sql string, arg string) (*types.RetrySchedule, error) {
	s, err := scanSchedule(r.db.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "retry schedule not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve retry schedule", err)
	}
	return s, nil
}

// List returns one page (Limit+1 rows) of schedules, newest first.
func (r *RetryScheduleRepository) List(ctx context.Context, f types.ScheduleFilter) ([]*types.RetrySchedule, error) {
	page := f.Page.Normalize()
	var w whereBuilder
	w.add("organisation_id = ?", f.OrganisationID)
	if f.Eligibility != "" {
		w.add("eligibility = ?", f.Eligibility)
	}
	if f.IsResolved != nil {
		w.add("is_resolved = ?", *f.IsResolved)
	}
	if f.ClientID != "" {
		w.add("client_id = ?", f.ClientID)
	}
	if f.SubscriptionID != "" {
		w.add("subscription_id = ?", f.SubscriptionID)
	}
	query := `SELECT ` + scheduleColumns + ` FROM retry_schedules ` + w.clause() +
		` ORDER BY created_at DESC, id LIMIT ` + w.next(page.Limit+1) + ` OFFSET ` + w.next(page.Offset)
	return r.query(ctx, query, w.args...)
}

// FindDue returns unresolved ELIGIBLE schedules of orgID due at cutoff,
// oldest retry date first.
func (r *RetryScheduleRepository) FindDue(ctx context.Context, orgID string, cutoff time.Time, limit int) ([]*types.RetrySchedule, error) {
	return r.query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM retry_schedules
		 WHERE organisation_id = $1
		   AND NOT is_resolved
		   AND eligibility = $2
		   AND next_retry_date <= $3
		 ORDER BY next_retry_date, id
		 LIMIT $4`,
		orgID, types.EligibilityEligible, cutoff, limit,
	)
}

// OrganisationsWithDue returns the organisations with at least one schedule
// due at cutoff.
func (r *RetryScheduleRepository) OrganisationsWithDue(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT organisation_id
		 FROM retry_schedules
		 WHERE NOT is_resolved AND eligibility = $1 AND next_retry_date <= $2
		 ORDER BY organisation_id`,
		types.EligibilityEligible, cutoff,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list organisations with due schedules", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan organisation id", err)
		}
		orgs = append(orgs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating organisation rows", err)
	}
	return orgs, nil
}

// CountByPolicy returns how many schedules reference policyID.
func (r *RetryScheduleRepository) CountByPolicy(ctx context.Context, policyID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM retry_schedules WHERE retry_policy_id = $1`, policyID,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count schedules by policy", err)
	}
	return n, nil
}

// Statistics aggregates the organisation's schedules by eligibility and
// resolution state.
func (r *RetryScheduleRepository) Statistics(ctx context.Context, orgID string) (*types.ScheduleStatistics, error) {
	rows, err := r.db.Query(ctx,
		`SELECT eligibility, is_resolved, COUNT(*)
		 FROM retry_schedules
		 WHERE organisation_id = $1
		 GROUP BY eligibility, is_resolved`,
		orgID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate schedules", err)
	}
	defer rows.Close()

	stats := &types.ScheduleStatistics{ByEligibility: make(map[types.Eligibility]int)}
	for rows.Next() {
		var (
			eligibility types.Eligibility
			resolved    bool
			count       int
		)
		if err := rows.Scan(&eligibility, &resolved, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule aggregate", err)
		}
		stats.Total += count
		stats.ByEligibility[eligibility] += count
		if eligibility == types.EligibilityEligible {
			stats.Eligible += count
		}
		if resolved {
			stats.Resolved += count
		} else {
			stats.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedule aggregates", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(AVG(current_attempt), 0)::float8
		 FROM retry_schedules
		 WHERE organisation_id = $1 AND is_resolved AND resolution_reason = $2`,
		orgID, types.ResolutionPaid,
	).Scan(&stats.AvgAttemptsBeforeSuccess)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to average attempts before success", err)
	}
	return stats, nil
}

func (r *RetryScheduleRepository) query(ctx context.Context, sql string, args ...any) ([]*types.RetrySchedule, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retry schedules", err)
	}
	defer rows.Close()

	var out []*types.RetrySchedule
	for rows.Next() {
		s, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan retry schedule row", scanErr)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating retry schedule rows", err)
	}
	return out, nil
}
