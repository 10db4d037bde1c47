package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"payretry/internal/types"
)

// ReminderRepository provides data access for the reminders table. The
// idempotency_key unique constraint deduplicates trigger occurrences.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a new ReminderRepository.
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, organisation_id, company_id, retry_schedule_id, retry_attempt_id,
	client_id, reminder_policy_id, trigger_rule_id, channel, template_id, template_variables,
	trigger_type, planned_at, sent_at, delivered_at, status,
	provider_name, provider_message_id, delivery_status_raw, error_code, error_message,
	retry_count, idempotency_key, created_at, updated_at`

func scanReminder(row pgx.Row) (*types.Reminder, error) {
	var rm types.Reminder
	var (
		companyID, attemptID, ruleID        *string
		providerName, providerMsgID, rawDSN *string
		errorCode, errorMessage             *string
	)
	err := row.Scan(
		&rm.ID,
		&rm.OrganisationID,
		&companyID,
		&rm.RetryScheduleID,
		&attemptID,
		&rm.ClientID,
		&rm.ReminderPolicyID,
		&ruleID,
		&rm.Channel,
		&rm.TemplateID,
		&rm.TemplateVariables,
		&rm.Trigger,
		&rm.PlannedAt,
		&rm.SentAt,
		&rm.DeliveredAt,
		&rm.Status,
		&providerName,
		&providerMsgID,
		&rawDSN,
		&errorCode,
		&errorMessage,
		&rm.RetryCount,
		&rm.IdempotencyKey,
		&rm.CreatedAt,
		&rm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rm.CompanyID = deref(companyID)
	rm.RetryAttemptID = deref(attemptID)
	rm.TriggerRuleID = deref(ruleID)
	rm.ProviderName = deref(providerName)
	rm.ProviderMessageID = deref(providerMsgID)
	rm.DeliveryStatusRaw = deref(rawDSN)
	rm.ErrorCode = deref(errorCode)
	rm.ErrorMessage = deref(errorMessage)
	return &rm, nil
}

// Create inserts a reminder. A taken occurrence key yields conflict_duplicate.
func (r *ReminderRepository) Create(ctx context.Context, rm *types.Reminder) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO reminders (`+reminderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		         $17, $18, $19, $20, $21, $22, $23, COALESCE($24, NOW()), COALESCE($25, NOW()))`,
		rm.ID,
		rm.OrganisationID,
		nilIfEmpty(rm.CompanyID),
		rm.RetryScheduleID,
		nilIfEmpty(rm.RetryAttemptID),
		rm.ClientID,
		rm.ReminderPolicyID,
		nilIfEmpty(rm.TriggerRuleID),
		rm.Channel,
		rm.TemplateID,
		rm.TemplateVariables,
		rm.Trigger,
		rm.PlannedAt,
		rm.SentAt,
		rm.DeliveredAt,
		rm.Status,
		nilIfEmpty(rm.ProviderName),
		nilIfEmpty(rm.ProviderMessageID),
		nilIfEmpty(rm.DeliveryStatusRaw),
		nilIfEmpty(rm.ErrorCode),
		nilIfEmpty(rm.ErrorMessage),
		rm.RetryCount,
		rm.IdempotencyKey,
		nilIfZeroTime(rm.CreatedAt),
		nilIfZeroTime(rm.UpdatedAt),
	)
	if err != nil {
		return insertError(err, "reminder")
	}
	return nil
}

// Update persists the dispatch and delivery columns of a reminder.
func (r *ReminderRepository) Update(ctx context.Context, rm *types.Reminder) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders SET
		   planned_at = $2, sent_at = $3, delivered_at = $4, status = $5,
		   provider_name = $6, provider_message_id = $7, delivery_status_raw = $8,
		   error_code = $9, error_message = $10, retry_count = $11,
		   template_variables = $12, updated_at = $13
		 WHERE id = $1`,
		rm.ID,
		rm.PlannedAt,
		rm.SentAt,
		rm.DeliveredAt,
		rm.Status,
		nilIfEmpty(rm.ProviderName),
		nilIfEmpty(rm.ProviderMessageID),
		nilIfEmpty(rm.DeliveryStatusRaw),
		nilIfEmpty(rm.ErrorCode),
		nilIfEmpty(rm.ErrorMessage),
		rm.RetryCount,
		rm.TemplateVariables,
		rm.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update reminder", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
	}
	return nil
}

// GetByID returns the reminder with the given id.
func (r *ReminderRepository) GetByID(ctx context.Context, id string) (*types.Reminder, error) {
	return r.getOne(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
}

// GetByIdempotencyKey returns the reminder of one trigger occurrence.
func (r *ReminderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*types.Reminder, error) {
	return r.getOne(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE idempotency_key = $1`, key)
}

// GetByProviderMessageID returns the reminder a provider callback refers to.
func (r *ReminderRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*types.Reminder, error) {
	return r.getOne(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE provider_message_id = $1`, providerMessageID)
}

func (r *ReminderRepository) getOne(ctx context.Context, sql, arg string) (*types.Reminder, error) {
	rm, err := scanReminder(r.db.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve reminder", err)
	}
	return rm, nil
}

// List returns one page (Limit+1 rows) of reminders, newest planned first.
func (r *ReminderRepository) List(ctx context.Context, f types.ReminderFilter) ([]*types.Reminder, error) {
	var w whereBuilder
	if f.OrganisationID != "" {
		w.add("organisation_id = ?", f.OrganisationID)
	}
	if f.RetryScheduleID != "" {
		w.add("retry_schedule_id = ?", f.RetryScheduleID)
	}
	if f.ClientID != "" {
		w.add("client_id = ?", f.ClientID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Channel != "" {
		w.add("channel = ?", f.Channel)
	}
	query := `SELECT ` + reminderColumns + ` FROM reminders ` + w.clause() + ` ORDER BY planned_at DESC, id`
	if f.Limit != types.Unbounded {
		page := f.Page.Normalize()
		query += ` LIMIT ` + w.next(page.Limit+1) + ` OFFSET ` + w.next(page.Offset)
	}
	return r.query(ctx, query, w.args...)
}

// ListDue returns PENDING reminders planned at or before now, oldest first.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*types.Reminder, error) {
	return r.query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE status = $1 AND planned_at <= $2
		 ORDER BY planned_at, id
		 LIMIT $3`,
		types.ReminderPending, now, limit,
	)
}

// ListSentSince returns the reminders that reached a client since the given
// instant, newest first.
func (r *ReminderRepository) ListSentSince(ctx context.Context, orgID, clientID string, since time.Time) ([]*types.Reminder, error) {
	return r.query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE organisation_id = $1 AND client_id = $2
		   AND sent_at >= $3
		   AND status = ANY($4)
		 ORDER BY sent_at DESC`,
		orgID, clientID, since, countedStatuses(),
	)
}

func countedStatuses() []string {
	var out []string
	for _, s := range types.ReminderStatuses() {
		if s.CountsTowardsCaps() {
			out = append(out, string(s))
		}
	}
	return out
}

func (r *ReminderRepository) query(ctx context.Context, sql string, args ...any) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reminders", err)
	}
	defer rows.Close()

	var out []*types.Reminder
	for rows.Next() {
		rm, scanErr := scanReminder(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder row", scanErr)
		}
		out = append(out, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reminder rows", err)
	}
	return out, nil
}
