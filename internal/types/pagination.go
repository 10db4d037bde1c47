package types

import (
	"strconv"
	"time"
)

// Pagination bounds shared by every list endpoint.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200

	// Unbounded as a Page limit disables pagination. Only internal
	// aggregations use it.
	Unbounded = -1
)

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// Page is the offset window requested by a caller. The cursor is an opaque
// decimal offset.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Normalize clamps the page size into [1, MaxPageSize].
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageFromCursor builds a Page from a limit and an opaque cursor.
func PageFromCursor(limit int, cursor string) Page {
	offset, _ := strconv.Atoi(cursor)
	return Page{Limit: limit, Offset: offset}.Normalize()
}

// Paginate trims items fetched with Limit+1 and reports whether more exist.
func Paginate[T any](items []T, p Page) ([]T, PageInfo) {
	if len(items) <= p.Limit {
		return items, PageInfo{}
	}
	return items[:p.Limit], PageInfo{
		HasMore:    true,
		NextCursor: strconv.Itoa(p.Offset + p.Limit),
	}
}

// PolicyFilter selects retry or reminder policies.
type PolicyFilter struct {
	OrganisationID string
	ActiveOnly     bool
	Page
}

// ScheduleFilter selects retry schedules.
type ScheduleFilter struct {
	OrganisationID string
	Eligibility    Eligibility
	IsResolved     *bool
	ClientID       string
	SubscriptionID string
	Page
}

// JobFilter selects retry jobs.
type JobFilter struct {
	OrganisationID string
	Status         JobStatus
	From           time.Time // inclusive, on target_date
	To             time.Time // exclusive, on target_date
	Page
}

// ReminderFilter selects reminders.
type ReminderFilter struct {
	OrganisationID  string
	RetryScheduleID string
	ClientID        string
	Status          ReminderStatus
	Channel         ReminderChannel
	Page
}

// AuditFilter selects audit entries. AfterSequence gives stable cursors on
// the append-only stream.
type AuditFilter struct {
	OrganisationID  string
	EntityType      AuditEntityType
	EntityID        string
	RetryScheduleID string
	ActorType       AuditActorType
	From            time.Time
	To              time.Time
	AfterSequence   int64
	Limit           int
}
