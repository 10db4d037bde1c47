package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payretry/internal/memstore"
	"payretry/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestDiff(t *testing.T) {
	type rec struct {
		Status string `json:"status"`
		Next   *int   `json:"next"`
		Tags   []int  `json:"tags"`
	}
	one := 1

	tests := []struct {
		name    string
		old     any
		new     any
		changed []string
	}{
		{"creation lists every field", nil, rec{Status: "A"}, []string{"next", "status", "tags"}},
		{"deletion lists every field", rec{Status: "A"}, nil, []string{"next", "status", "tags"}},
		{"unchanged", rec{Status: "A"}, rec{Status: "A"}, nil},
		{"scalar and pointer", rec{Status: "A"}, rec{Status: "B", Next: &one}, []string{"next", "status"}},
		{"slices", rec{Tags: []int{1}}, rec{Tags: []int{1, 2}}, []string{"tags"}},
		{"maps", map[string]any{"a": 1, "b": 2}, map[string]any{"a": 1, "c": 3}, []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, changed, err := Diff(tt.old, tt.new)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestDiffRejectsUnmarshallable(t *testing.T) {
	_, _, _, err := Diff(nil, map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestRecorderUsesContextActor(t *testing.T) {
	store := memstore.New()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := NewRecorder(fixedClock{now}, types.SchedulerActor)

	ctx := types.WithActor(context.Background(), types.AuditActor{Type: types.ActorUser, ID: "usr_1", IP: "10.0.0.1"})
	require.NoError(t, rec.Record(ctx, store.AuditLog(), Change{
		OrganisationID:  "org_1",
		EntityType:      types.EntityRetrySchedule,
		EntityID:        "sch_1",
		Action:          types.AuditActionCancelled,
		Old:             map[string]any{"is_resolved": false},
		New:             map[string]any{"is_resolved": true},
		RetryScheduleID: "sch_1",
	}))
	require.NoError(t, rec.Record(context.Background(), store.AuditLog(), Change{
		OrganisationID: "org_1",
		EntityType:     types.EntityRetryJob,
		EntityID:       "job_1",
		Action:         types.AuditActionStarted,
	}))

	entries, err := store.AuditLog().List(context.Background(), types.AuditFilter{OrganisationID: "org_1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, types.ActorUser, entries[0].ActorType)
	assert.Equal(t, "10.0.0.1", entries[0].ActorIP)
	assert.Equal(t, []string{"is_resolved"}, entries[0].ChangedFields)
	assert.Equal(t, now, entries[0].Timestamp)
	assert.JSONEq(t, `{"is_resolved":true}`, string(entries[0].NewValue))

	assert.Equal(t, types.ActorScheduler, entries[1].ActorType)
	assert.Nil(t, entries[1].OldValue)
}

func TestServiceListCursor(t *testing.T) {
	store := memstore.New()
	rec := NewRecorder(types.RealClock{}, types.SystemActor)
	ctx := context.Background()
	for range 5 {
		require.NoError(t, rec.Record(ctx, store.AuditLog(), Change{
			OrganisationID: "org_1", EntityType: types.EntityRetryJob, EntityID: "job_1", Action: types.AuditActionUpdated,
		}))
	}

	svc := NewService(store.AuditLog())
	page, info, err := svc.List(ctx, types.AuditFilter{OrganisationID: "org_1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, "2", info.NextCursor)

	rest, info, err := svc.List(ctx, types.AuditFilter{OrganisationID: "org_1", Limit: 10, AfterSequence: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 3)
	assert.False(t, info.HasMore)
	assert.Equal(t, int64(3), rest[0].Sequence)
}
