package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"payretry/internal/types"
)

// AuditLogRepository is the insert-only store behind the audit_log table.
// The table carries a trigger rejecting UPDATE and DELETE, and the sequence
// column (BIGSERIAL) gives readers a stable cursor.
type AuditLogRepository struct {
	db DBTX
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(db DBTX) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

const auditColumns = `sequence, id, organisation_id, entity_type, entity_id, action,
	old_value, new_value, changed_fields,
	retry_schedule_id, retry_attempt_id, reminder_id, payment_id,
	actor_type, actor_id, actor_ip, timestamp, metadata`

// Append writes e, assigning its ID (when empty), Sequence and Timestamp
// (when zero).
func (r *AuditLogRepository) Append(ctx context.Context, e *types.AuditEntry) error {
	if e.ID == "" {
		e.ID = "aud_" + uuid.NewString()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO audit_log (id, organisation_id, entity_type, entity_id, action,
		   old_value, new_value, changed_fields,
		   retry_schedule_id, retry_attempt_id, reminder_id, payment_id,
		   actor_type, actor_id, actor_ip, timestamp, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		         COALESCE($16, NOW()), $17)
		 RETURNING sequence, timestamp`,
		e.ID,
		e.OrganisationID,
		e.EntityType,
		e.EntityID,
		e.Action,
		nilIfEmptyJSON(e.OldValue),
		nilIfEmptyJSON(e.NewValue),
		nonNilStrings(e.ChangedFields),
		nilIfEmpty(e.RetryScheduleID),
		nilIfEmpty(e.RetryAttemptID),
		nilIfEmpty(e.ReminderID),
		nilIfEmpty(e.PaymentID),
		e.ActorType,
		nilIfEmpty(e.ActorID),
		nilIfEmpty(e.ActorIP),
		nilIfZeroTime(e.Timestamp),
		e.Metadata,
	).Scan(&e.Sequence, &e.Timestamp)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append audit entry", err)
	}
	return nil
}

func nilIfEmptyJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func scanAuditEntry(row pgx.Row) (*types.AuditEntry, error) {
	var e types.AuditEntry
	var (
		scheduleID, attemptID, reminderID, paymentID *string
		actorID, actorIP                             *string
	)
	err := row.Scan(
		&e.Sequence,
		&e.ID,
		&e.OrganisationID,
		&e.EntityType,
		&e.EntityID,
		&e.Action,
		&e.OldValue,
		&e.NewValue,
		&e.ChangedFields,
		&scheduleID,
		&attemptID,
		&reminderID,
		&paymentID,
		&e.ActorType,
		&actorID,
		&actorIP,
		&e.Timestamp,
		&e.Metadata,
	)
	if err != nil {
		return nil, err
	}
	e.RetryScheduleID = deref(scheduleID)
	e.RetryAttemptID = deref(attemptID)
	e.ReminderID = deref(reminderID)
	e.PaymentID = deref(paymentID)
	e.ActorID = deref(actorID)
	e.ActorIP = deref(actorIP)
	return &e, nil
}

// List returns up to Limit+1 entries with a sequence above AfterSequence,
// in sequence order.
func (r *AuditLogRepository) List(ctx context.Context, f types.AuditFilter) ([]*types.AuditEntry, error) {
	limit := types.Page{Limit: f.Limit}.Normalize().Limit

	var w whereBuilder
	if f.OrganisationID != "" {
		w.add("organisation_id = ?", f.OrganisationID)
	}
	if f.EntityType != "" {
		w.add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		w.add("entity_id = ?", f.EntityID)
	}
	if f.RetryScheduleID != "" {
		w.add("retry_schedule_id = ?", f.RetryScheduleID)
	}
	if f.ActorType != "" {
		w.add("actor_type = ?", f.ActorType)
	}
	if !f.From.IsZero() {
		w.add("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("timestamp < ?", f.To)
	}
	if f.AfterSequence > 0 {
		w.add("sequence > ?", f.AfterSequence)
	}
	query := `SELECT ` + auditColumns + ` FROM audit_log ` + w.clause() +
		` ORDER BY sequence LIMIT ` + w.next(limit+1)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list audit entries", err)
	}
	defer rows.Close()

	var out []*types.AuditEntry
	for rows.Next() {
		e, scanErr := scanAuditEntry(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit entry", scanErr)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating audit rows", err)
	}
	return out, nil
}
