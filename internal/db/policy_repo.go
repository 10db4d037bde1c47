package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"payretry/internal/types"
)

// RetryPolicyRepository provides data access for the retry_policies table.
type RetryPolicyRepository struct {
	db DBTX
}

// NewRetryPolicyRepository creates a new RetryPolicyRepository backed by the
// given database connection (pool or transaction).
func NewRetryPolicyRepository(db DBTX) *RetryPolicyRepository {
	return &RetryPolicyRepository{db: db}
}

const retryPolicyColumns = `id, organisation_id, company_id, product_id, channel,
	name, description, retry_delays_days, max_attempts, max_total_days,
	retry_on_am04, retryable_codes, non_retryable_codes,
	stop_on_payment_settled, stop_on_contract_cancelled, stop_on_mandate_revoked,
	backoff_strategy, timezone, cutoff_time,
	is_active, is_default, priority, version, created_at, updated_at`

func scanRetryPolicy(row pgx.Row) (*types.RetryPolicy, error) {
	var p types.RetryPolicy
	var companyID, productID, channel, description *string
	err := row.Scan(
		&p.ID,
		&p.OrganisationID,
		&companyID,
		&productID,
		&channel,
		&p.Name,
		&description,
		&p.RetryDelaysDays,
		&p.MaxAttempts,
		&p.MaxTotalDays,
		&p.RetryOnAM04,
		&p.RetryableCodes,
		&p.NonRetryableCodes,
		&p.StopOnPaymentSettled,
		&p.StopOnContractCancelled,
		&p.StopOnMandateRevoked,
		&p.BackoffStrategy,
		&p.Timezone,
		&p.CutoffTime,
		&p.IsActive,
		&p.IsDefault,
		&p.Priority,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CompanyID = deref(companyID)
	p.ProductID = deref(productID)
	p.Channel = deref(channel)
	p.Description = deref(description)
	return &p, nil
}

// Create inserts a new retry policy.
func (r *RetryPolicyRepository) Create(ctx context.Context, p *types.RetryPolicy) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO retry_policies (`+retryPolicyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		         $14, $15, $16, $17, $18, $19, $20, $21, $22, $23,
		         COALESCE($24, NOW()), COALESCE($25, NOW()))`,
		p.ID,
		p.OrganisationID,
		nilIfEmpty(p.CompanyID),
		nilIfEmpty(p.ProductID),
		nilIfEmpty(p.Channel),
		p.Name,
		nilIfEmpty(p.Description),
		p.RetryDelaysDays,
		p.MaxAttempts,
		p.MaxTotalDays,
		p.RetryOnAM04,
		nonNilStrings(p.RetryableCodes),
		nonNilStrings(p.NonRetryableCodes),
		p.StopOnPaymentSettled,
		p.StopOnContractCancelled,
		p.StopOnMandateRevoked,
		p.BackoffStrategy,
		p.Timezone,
		p.CutoffTime,
		p.IsActive,
		p.IsDefault,
		p.Priority,
		p.Version,
		nilIfZeroTime(p.CreatedAt),
		nilIfZeroTime(p.UpdatedAt),
	)
	if err != nil {
		return insertError(err, "retry policy")
	}
	return nil
}

// Update overwrites every mutable column of the policy identified by p.ID.
func (r *RetryPolicyRepository) Update(ctx context.Context, p *types.RetryPolicy) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE retry_policies SET
		   company_id = $2, product_id = $3, channel = $4,
		   name = $5, description = $6, retry_delays_days = $7,
		   max_attempts = $8, max_total_days = $9, retry_on_am04 = $10,
		   retryable_codes = $11, non_retryable_codes = $12,
		   stop_on_payment_settled = $13, stop_on_contract_cancelled = $14,
		   stop_on_mandate_revoked = $15, backoff_strategy = $16,
		   timezone = $17, cutoff_time = $18, is_active = $19,
		   is_default = $20, priority = $21, version = $22, updated_at = $23
		 WHERE id = $1`,
		p.ID,
		nilIfEmpty(p.CompanyID),
		nilIfEmpty(p.ProductID),
		nilIfEmpty(p.Channel),
		p.Name,
		nilIfEmpty(p.Description),
		p.RetryDelaysDays,
		p.MaxAttempts,
		p.MaxTotalDays,
		p.RetryOnAM04,
		nonNilStrings(p.RetryableCodes),
		nonNilStrings(p.NonRetryableCodes),
		p.StopOnPaymentSettled,
		p.StopOnContractCancelled,
		p.StopOnMandateRevoked,
		p.BackoffStrategy,
		p.Timezone,
		p.CutoffTime,
		p.IsActive,
		p.IsDefault,
		p.Priority,
		p.Version,
		p.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update retry policy", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRetryPolicy, "retry policy not found", nil)
	}
	return nil
}

// GetByID returns the retry policy with the given id.
func (r *RetryPolicyRepository) GetByID(ctx context.Context, id string) (*types.RetryPolicy, error) {
	p, err := scanRetryPolicy(r.db.QueryRow(ctx,
		`SELECT `+retryPolicyColumns+` FROM retry_policies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRetryPolicy, "retry policy not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve retry policy", err)
	}
	return p, nil
}

// List returns one page of an organisation's policies, highest priority
// first. The page is fetched with Limit+1 rows so callers can paginate.
func (r *RetryPolicyRepository) List(ctx context.Context, f types.PolicyFilter) ([]*types.RetryPolicy, error) {
	page := f.Page.Normalize()
	var w whereBuilder
	w.add("organisation_id = ?", f.OrganisationID)
	if f.ActiveOnly {
		w.raw("is_active")
	}
	query := `SELECT ` + retryPolicyColumns + ` FROM retry_policies ` + w.clause() +
		` ORDER BY priority DESC, created_at, id LIMIT ` + w.next(page.Limit+1) + ` OFFSET ` + w.next(page.Offset)
	return r.query(ctx, query, w.args...)
}

// ListActive returns every active policy of orgID.
func (r *RetryPolicyRepository) ListActive(ctx context.Context, orgID string) ([]*types.RetryPolicy, error) {
	return r.query(ctx,
		`SELECT `+retryPolicyColumns+`
		 FROM retry_policies
		 WHERE organisation_id = $1 AND is_active
		 ORDER BY priority DESC, created_at, id`,
		orgID,
	)
}

// Delete removes a policy. Schedules referencing it make the delete fail
// with conflict_policy_in_use.
func (r *RetryPolicyRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM retry_policies WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return types.NewAppError(types.ErrCodeConflictPolicyInUse, "retry policy is referenced by schedules", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete retry policy", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRetryPolicy, "retry policy not found", nil)
	}
	return nil
}

func (r *RetryPolicyRepository) query(ctx context.Context, sql string, args ...any) ([]*types.RetryPolicy, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retry policies", err)
	}
	defer rows.Close()

	var out []*types.RetryPolicy
	for rows.Next() {
		p, scanErr := scanRetryPolicy(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan retry policy row", scanErr)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating retry policy rows", err)
	}
	return out, nil
}

// ReminderPolicyRepository provides data access for the reminder_policies
// table. Trigger rules are stored as a JSONB array.
type ReminderPolicyRepository struct {
	db DBTX
}

// NewReminderPolicyRepository creates a new ReminderPolicyRepository.
func NewReminderPolicyRepository(db DBTX) *ReminderPolicyRepository {
	return &ReminderPolicyRepository{db: db}
}

const reminderPolicyColumns = `id, organisation_id, company_id, product_id, channel,
	name, trigger_rules, cooldown_hours, max_reminders_per_day, max_reminders_per_week,
	allowed_start_hour, allowed_end_hour, allowed_days_of_week, timezone, respect_opt_out,
	is_active, is_default, priority, created_at, updated_at`

func scanReminderPolicy(row pgx.Row) (*types.ReminderPolicy, error) {
	var p types.ReminderPolicy
	var companyID, productID, channel *string
	err := row.Scan(
		&p.ID,
		&p.OrganisationID,
		&companyID,
		&productID,
		&channel,
		&p.Name,
		&p.TriggerRules,
		&p.CooldownHours,
		&p.MaxRemindersPerDay,
		&p.MaxRemindersPerWeek,
		&p.AllowedStartHour,
		&p.AllowedEndHour,
		&p.AllowedDaysOfWeek,
		&p.Timezone,
		&p.RespectOptOut,
		&p.IsActive,
		&p.IsDefault,
		&p.Priority,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CompanyID = deref(companyID)
	p.ProductID = deref(productID)
	p.Channel = deref(channel)
	return &p, nil
}

// Create inserts a new reminder policy.
func (r *ReminderPolicyRepository) Create(ctx context.Context, p *types.ReminderPolicy) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO reminder_policies (`+reminderPolicyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		         $14, $15, $16, $17, $18, COALESCE($19, NOW()), COALESCE($20, NOW()))`,
		p.ID,
		p.OrganisationID,
		nilIfEmpty(p.CompanyID),
		nilIfEmpty(p.ProductID),
		nilIfEmpty(p.Channel),
		p.Name,
		p.TriggerRules,
		p.CooldownHours,
		p.MaxRemindersPerDay,
		p.MaxRemindersPerWeek,
		p.AllowedStartHour,
		p.AllowedEndHour,
		p.AllowedDaysOfWeek,
		p.Timezone,
		p.RespectOptOut,
		p.IsActive,
		p.IsDefault,
		p.Priority,
		nilIfZeroTime(p.CreatedAt),
		nilIfZeroTime(p.UpdatedAt),
	)
	if err != nil {
		return insertError(err, "reminder policy")
	}
	return nil
}

// Update overwrites every mutable column of the policy identified by p.ID.
func (r *ReminderPolicyRepository) Update(ctx context.Context, p *types.ReminderPolicy) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminder_policies SET
		   company_id = $2, product_id = $3, channel = $4, name = $5,
		   trigger_rules = $6, cooldown_hours = $7, max_reminders_per_day = $8,
		   max_reminders_per_week = $9, allowed_start_hour = $10, allowed_end_hour = $11,
		   allowed_days_of_week = $12, timezone = $13, respect_opt_out = $14,
		   is_active = $15, is_default = $16, priority = $17, updated_at = $18
		 WHERE id = $1`,
		p.ID,
		nilIfEmpty(p.CompanyID),
		nilIfEmpty(p.ProductID),
		nilIfEmpty(p.Channel),
		p.Name,
		p.TriggerRules,
		p.CooldownHours,
		p.MaxRemindersPerDay,
		p.MaxRemindersPerWeek,
		p.AllowedStartHour,
		p.AllowedEndHour,
		p.AllowedDaysOfWeek,
		p.Timezone,
		p.RespectOptOut,
		p.IsActive,
		p.IsDefault,
		p.Priority,
		p.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update reminder policy", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReminderPolicy, "reminder policy not found", nil)
	}
	return nil
}

// GetByID returns the reminder policy with the given id.
func (r *ReminderPolicyRepository) GetByID(ctx context.Context, id string) (*types.ReminderPolicy, error) {
	p, err := scanReminderPolicy(r.db.QueryRow(ctx,
		`SELECT `+reminderPolicyColumns+` FROM reminder_policies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundReminderPolicy, "reminder policy not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve reminder policy", err)
	}
	return p, nil
}

// List returns one page (Limit+1 rows) of an organisation's reminder policies.
func (r *ReminderPolicyRepository) List(ctx context.Context, f types.PolicyFilter) ([]*types.ReminderPolicy, error) {
	page := f.Page.Normalize()
	var w whereBuilder
	w.add("organisation_id = ?", f.OrganisationID)
	if f.ActiveOnly {
		w.raw("is_active")
	}
	query := `SELECT ` + reminderPolicyColumns + ` FROM reminder_policies ` + w.clause() +
		` ORDER BY priority DESC, created_at, id LIMIT ` + w.next(page.Limit+1) + ` OFFSET ` + w.next(page.Offset)
	return r.query(ctx, query, w.args...)
}

// ListActive returns every active reminder policy of orgID.
func (r *ReminderPolicyRepository) ListActive(ctx context.Context, orgID string) ([]*types.ReminderPolicy, error) {
	return r.query(ctx,
		`SELECT `+reminderPolicyColumns+`
		 FROM reminder_policies
		 WHERE organisation_id = $1 AND is_active
		 ORDER BY priority DESC, created_at, id`,
		orgID,
	)
}

func (r *ReminderPolicyRepository) query(ctx context.Context, sql string, args ...any) ([]*types.ReminderPolicy, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reminder policies", err)
	}
	defer rows.Close()

	var out []*types.ReminderPolicy
	for rows.Next() {
		p, scanErr := scanReminderPolicy(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder policy row", scanErr)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reminder policy rows", err)
	}
	return out, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
