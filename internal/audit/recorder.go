// Package audit writes and queries the append-only audit trail. Every engine
// mutation records its entry through the repositories of the transaction that
// performs the mutation, so a state change and its audit entry commit or roll
// back together.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strconv"

	"payretry/internal/types"
)

// Change describes one audited state transition. Old and New are arbitrary
// values marshalled to JSON; either may be nil.
type Change struct {
	OrganisationID string
	EntityType     types.AuditEntityType
	EntityID       string
	Action         string
	Old            any
	New            any

	RetryScheduleID string
	RetryAttemptID  string
	ReminderID      string
	PaymentID       string

	Metadata types.JSONMap
}

// Recorder stamps and appends audit entries.
type Recorder struct {
	clock types.Clock
	actor types.AuditActor
}

// NewRecorder returns a Recorder. fallback is the actor used when the request
// context does not carry one (the scheduler, a worker).
func NewRecorder(clock types.Clock, fallback types.AuditActor) *Recorder {
	return &Recorder{clock: clock, actor: fallback}
}

// Record appends c to log, attributing it to the context actor.
func (r *Recorder) Record(ctx context.Context, log types.AuditLogRepository, c Change) error {
	oldJSON, newJSON, changed, err := Diff(c.Old, c.New)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalSerialization, "failed to snapshot audit values", err)
	}

	actor := types.ActorOrDefault(ctx, r.actor)
	entry := &types.AuditEntry{
		OrganisationID:  c.OrganisationID,
		EntityType:      c.EntityType,
		EntityID:        c.EntityID,
		Action:          c.Action,
		OldValue:        oldJSON,
		NewValue:        newJSON,
		ChangedFields:   changed,
		RetryScheduleID: c.RetryScheduleID,
		RetryAttemptID:  c.RetryAttemptID,
		ReminderID:      c.ReminderID,
		PaymentID:       c.PaymentID,
		ActorType:       actor.Type,
		ActorID:         actor.ID,
		ActorIP:         actor.IP,
		Timestamp:       r.clock.Now(),
		Metadata:        c.Metadata,
	}
	return log.Append(ctx, entry)
}

// Diff marshals old and new and returns the sorted top-level keys whose
// values differ. A creation lists every field of new and a deletion every
// field of old.
func Diff(oldValue, newValue any) (oldJSON, newJSON json.RawMessage, changed []string, err error) {
	oldJSON, oldFields, err := snapshot(oldValue)
	if err != nil {
		return nil, nil, nil, err
	}
	newJSON, newFields, err := snapshot(newValue)
	if err != nil {
		return nil, nil, nil, err
	}

	for k, nv := range newFields {
		if ov, ok := oldFields[k]; !ok || !bytes.Equal(ov, nv) {
			changed = append(changed, k)
		}
	}
	for k := range oldFields {
		if _, ok := newFields[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return oldJSON, newJSON, changed, nil
}

// snapshot returns the JSON of v and, for JSON objects, its top-level fields.
// Field values are compacted so that formatting never counts as a change.
func snapshot(v any) (json.RawMessage, map[string]json.RawMessage, error) {
	if v == nil {
		return nil, nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	if string(raw) == "null" {
		return nil, nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Scalars and arrays are snapshotted but have no fields to compare.
		return raw, nil, nil
	}
	for k, fv := range fields {
		var buf bytes.Buffer
		if err := json.Compact(&buf, fv); err == nil {
			fields[k] = buf.Bytes()
		}
	}
	return raw, fields, nil
}

// Service answers audit queries.
type Service struct {
	repo types.AuditLogRepository
}

// NewService returns a query Service over repo.
func NewService(repo types.AuditLogRepository) *Service {
	return &Service{repo: repo}
}

// List returns one page of entries in sequence order. The cursor is the
// sequence number of the last entry returned.
func (s *Service) List(ctx context.Context, f types.AuditFilter) ([]*types.AuditEntry, types.PageInfo, error) {
	f.Limit = types.Page{Limit: f.Limit}.Normalize().Limit
	entries, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	if len(entries) <= f.Limit {
		return entries, types.PageInfo{}, nil
	}
	entries = entries[:f.Limit]
	return entries, types.PageInfo{
		HasMore:    true,
		NextCursor: strconv.FormatInt(entries[len(entries)-1].Sequence, 10),
	}, nil
}
