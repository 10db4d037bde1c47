package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"payretry/internal/types"
)

func notFound(code types.ErrorCode, what string) error {
	return types.NewAppError(code, what+" not found", nil)
}

func duplicate(what string) error {
	return types.NewAppError(types.ErrCodeConflictDuplicate, what+" already exists", nil)
}

// window applies a Page the way the SQL repositories do: Limit+1 rows from
// Offset, or everything for types.Unbounded.
func window[T any](items []T, p types.Page) []T {
	if p.Limit == types.Unbounded {
		return items
	}
	p = p.Normalize()
	if p.Offset >= len(items) {
		return nil
	}
	end := min(p.Offset+p.Limit+1, len(items))
	return items[p.Offset:end]
}

// --- retry policies ---

type retryPolicyRepo struct{ v view }

func (r *retryPolicyRepo) Create(_ context.Context, p *types.RetryPolicy) error {
	cp := copyRetryPolicy(p)
	return r.v.write(func(s *state) error {
		if _, ok := s.retryPolicies[cp.ID]; ok {
			return duplicate("retry policy")
		}
		s.retryPolicies[cp.ID] = copyRetryPolicy(cp)
		return nil
	})
}

func (r *retryPolicyRepo) Update(_ context.Context, p *types.RetryPolicy) error {
	cp := copyRetryPolicy(p)
	return r.v.write(func(s *state) error {
		if _, ok := s.retryPolicies[cp.ID]; !ok {
			return notFound(types.ErrCodeNotFoundRetryPolicy, "retry policy")
		}
		s.retryPolicies[cp.ID] = copyRetryPolicy(cp)
		return nil
	})
}

func (r *retryPolicyRepo) GetByID(_ context.Context, id string) (*types.RetryPolicy, error) {
	var out *types.RetryPolicy
	err := r.v.read(func(s *state) error {
		p, ok := s.retryPolicies[id]
		if !ok {
			return notFound(types.ErrCodeNotFoundRetryPolicy, "retry policy")
		}
		out = copyRetryPolicy(p)
		return nil
	})
	return out, err
}

func (r *retryPolicyRepo) List(_ context.Context, f types.PolicyFilter) ([]*types.RetryPolicy, error) {
	var out []*types.RetryPolicy
	err := r.v.read(func(s *state) error {
		out = sortedRetryPolicies(s, f.OrganisationID, f.ActiveOnly)
		return nil
	})
	return window(out, f.Page), err
}

func (r *retryPolicyRepo) ListActive(_ context.Context, orgID string) ([]*types.RetryPolicy, error) {
	var out []*types.RetryPolicy
	err := r.v.read(func(s *state) error {
		out = sortedRetryPolicies(s, orgID, true)
		return nil
	})
	return out, err
}

func (r *retryPolicyRepo) Delete(_ context.Context, id string) error {
	return r.v.write(func(s *state) error {
		if _, ok := s.retryPolicies[id]; !ok {
			return notFound(types.ErrCodeNotFoundRetryPolicy, "retry policy")
		}
		for _, sc := range s.schedules {
			if sc.RetryPolicyID == id {
				return types.NewAppError(types.ErrCodeConflictPolicyInUse, "retry policy is referenced by schedules", nil)
			}
		}
		delete(s.retryPolicies, id)
		return nil
	})
}

func sortedRetryPolicies(s *state, orgID string, activeOnly bool) []*types.RetryPolicy {
	var out []*types.RetryPolicy
	for _, p := range s.retryPolicies {
		if p.OrganisationID != orgID || (activeOnly && !p.IsActive) {
			continue
		}
		out = append(out, copyRetryPolicy(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return policyLess(out[i].Priority, out[j].Priority, out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

func policyLess(pi, pj int, ci, cj time.Time, idi, idj string) bool {
	if pi != pj {
		return pi > pj
	}
	if !ci.Equal(cj) {
		return ci.Before(cj)
	}
	return idi < idj
}

// --- reminder policies ---

type reminderPolicyRepo struct{ v view }

func (r *reminderPolicyRepo) Create(_ context.Context, p *types.ReminderPolicy) error {
	cp := copyReminderPolicy(p)
	return r.v.write(func(s *state) error {
		if _, ok := s.reminderPolicies[cp.ID]; ok {
			return duplicate("reminder policy")
		}
		s.reminderPolicies[cp.ID] = copyReminderPolicy(cp)
		return nil
	})
}

func (r *reminderPolicyRepo) Update(_ context.Context, p *types.ReminderPolicy) error {
	cp := copyReminderPolicy(p)
	return r.v.write(func(s *state) error {
		if _, ok := s.reminderPolicies[cp.ID]; !ok {
			return notFound(types.ErrCodeNotFoundReminderPolicy, "reminder policy")
		}
		s.reminderPolicies[cp.ID] = copyReminderPolicy(cp)
		return nil
	})
}

func (r *reminderPolicyRepo) GetByID(_ context.Context, id string) (*types.ReminderPolicy, error) {
	var out *types.ReminderPolicy
	err := r.v.read(func(s *state) error {
		p, ok := s.reminderPolicies[id]
		if !ok {
			return notFound(types.ErrCodeNotFoundReminderPolicy, "reminder policy")
		}
		out = copyReminderPolicy(p)
		return nil
	})
	return out, err
}

func (r *reminderPolicyRepo) List(_ context.Context, f types.PolicyFilter) ([]*types.ReminderPolicy, error) {
	var out []*types.ReminderPolicy
	err := r.v.read(func(s *state) error {
		out = sortedReminderPolicies(s, f.OrganisationID, f.ActiveOnly)
		return nil
	})
	return window(out, f.Page), err
}

func (r *reminderPolicyRepo) ListActive(_ context.Context, orgID string) ([]*types.ReminderPolicy, error) {
	var out []*types.ReminderPolicy
	err := r.v.read(func(s *state) error {
		out = sortedReminderPolicies(s, orgID, true)
		return nil
	})
	return out, err
}

func sortedReminderPolicies(s *state, orgID string, activeOnly bool) []*types.ReminderPolicy {
	var out []*types.ReminderPolicy
	for _, p := range s.reminderPolicies {
		if p.OrganisationID != orgID || (activeOnly && !p.IsActive) {
			continue
		}
		out = append(out, copyReminderPolicy(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return policyLess(out[i].Priority, out[j].Priority, out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

// --- schedules ---

type scheduleRepo struct{ v view }

func (r *scheduleRepo) Create(_ context.Context, sc *types.RetrySchedule) error {
	cp := copySchedule(sc)
	return r.v.write(func(s *state) error {
		if _, ok := s.schedules[cp.ID]; ok {
			return duplicate("retry schedule")
		}
		for _, existing := range s.schedules {
			if existing.IdempotencyKey == cp.IdempotencyKey {
				return duplicate("retry schedule")
			}
		}
		s.schedules[cp.ID] = copySchedule(cp)
		return nil
	})
}

func (r *scheduleRepo) Update(_ context.Context, sc *types.RetrySchedule) error {
	cp := copySchedule(sc)
	return r.v.write(func(s *state) error {
		if _, ok := s.schedules[cp.ID]; !ok {
			return notFound(types.ErrCodeNotFoundSchedule, "retry schedule")
		}
		s.schedules[cp.ID] = copySchedule(cp)
		return nil
	})
}

func (r *scheduleRepo) GetByID(_ context.Context, id string) (*types.RetrySchedule, error) {
	return r.find(func(sc *types.RetrySchedule) bool { return sc.ID == id })
}

func (r *scheduleRepo) GetByIdempotencyKey(_ context.Context, key string) (*types.RetrySchedule, error) {
	return r.find(func(sc *types.RetrySchedule) bool { return sc.IdempotencyKey == key })
}

func (r *scheduleRepo) find(match func(*types.RetrySchedule) bool) (*types.RetrySchedule, error) {
	var out *types.RetrySchedule
	err := r.v.read(func(s *state) error {
		for _, sc := range s.schedules {
			if match(sc) {
				out = copySchedule(sc)
				return nil
			}
		}
		return notFound(types.ErrCodeNotFoundSchedule, "retry schedule")
	})
	return out, err
}

func (r *scheduleRepo) filter(match func(*types.RetrySchedule) bool, less func(a, b *types.RetrySchedule) bool) ([]*types.RetrySchedule, error) {
	var out []*types.RetrySchedule
	err := r.v.read(func(s *state) error {
		for _, sc := range s.schedules {
			if match(sc) {
				out = append(out, copySchedule(sc))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, err
}

func (r *scheduleRepo) List(_ context.Context, f types.ScheduleFilter) ([]*types.RetrySchedule, error) {
	out, err := r.filter(func(sc *types.RetrySchedule) bool {
		return sc.OrganisationID == f.OrganisationID &&
			(f.Eligibility == "" || sc.Eligibility == f.Eligibility) &&
			(f.IsResolved == nil || sc.IsResolved == *f.IsResolved) &&
			(f.ClientID == "" || sc.ClientID == f.ClientID) &&
			(f.SubscriptionID == "" || sc.SubscriptionID == f.SubscriptionID)
	}, func(a, b *types.RetrySchedule) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return window(out, f.Page), err
}

func (r *scheduleRepo) FindDue(_ context.Context, orgID string, cutoff time.Time, limit int) ([]*types.RetrySchedule, error) {
	out, err := r.filter(func(sc *types.RetrySchedule) bool {
		return sc.OrganisationID == orgID && sc.IsDue(cutoff)
	}, func(a, b *types.RetrySchedule) bool {
		if !a.NextRetryDate.Equal(*b.NextRetryDate) {
			return a.NextRetryDate.Before(*b.NextRetryDate)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *scheduleRepo) OrganisationsWithDue(_ context.Context, cutoff time.Time) ([]string, error) {
	var orgs []string
	err := r.v.read(func(s *state) error {
		seen := make(map[string]bool)
		for _, sc := range s.schedules {
			if sc.IsDue(cutoff) && !seen[sc.OrganisationID] {
				seen[sc.OrganisationID] = true
				orgs = append(orgs, sc.OrganisationID)
			}
		}
		return nil
	})
	slices.Sort(orgs)
	return orgs, err
}

func (r *scheduleRepo) CountByPolicy(_ context.Context, policyID string) (int, error) {
	n := 0
	err := r.v.read(func(s *state) error {
		for _, sc := range s.schedules {
			if sc.RetryPolicyID == policyID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *scheduleRepo) Statistics(_ context.Context, orgID string) (*types.ScheduleStatistics, error) {
	stats := &types.ScheduleStatistics{ByEligibility: make(map[types.Eligibility]int)}
	err := r.v.read(func(s *state) error {
		paid, attempts := 0, 0
		for _, sc := range s.schedules {
			if sc.OrganisationID != orgID {
				continue
			}
			stats.Total++
			stats.ByEligibility[sc.Eligibility]++
			if sc.Eligibility == types.EligibilityEligible {
				stats.Eligible++
			}
			if sc.IsResolved {
				stats.Resolved++
			} else {
				stats.Pending++
			}
			if sc.IsResolved && sc.ResolutionReason == types.ResolutionPaid {
				paid++
				attempts += sc.CurrentAttempt
			}
		}
		if paid > 0 {
			stats.AvgAttemptsBeforeSuccess = float64(attempts) / float64(paid)
		}
		return nil
	})
	return stats, err
}

// --- attempts ---

type attemptRepo struct{ v view }

func (r *attemptRepo) Create(_ context.Context, a *types.RetryAttempt) error {
	cp := copyAttempt(a)
	return r.v.write(func(s *state) error {
		if _, ok := s.attempts[cp.ID]; ok {
			return duplicate("retry attempt")
		}
		for _, existing := range s.attempts {
			if existing.IdempotencyKey == cp.IdempotencyKey ||
				(existing.RetryScheduleID == cp.RetryScheduleID && existing.AttemptNumber == cp.AttemptNumber) {
				return duplicate("retry attempt")
			}
		}
		s.attempts[cp.ID] = copyAttempt(cp)
		return nil
	})
}

func (r *attemptRepo) Update(_ context.Context, a *types.RetryAttempt) error {
	cp := copyAttempt(a)
	return r.v.write(func(s *state) error {
		if _, ok := s.attempts[cp.ID]; !ok {
			return notFound(types.ErrCodeNotFoundAttempt, "retry attempt")
		}
		s.attempts[cp.ID] = copyAttempt(cp)
		return nil
	})
}

func (r *attemptRepo) GetByID(_ context.Context, id string) (*types.RetryAttempt, error) {
	return r.find(func(a *types.RetryAttempt) bool { return a.ID == id })
}

func (r *attemptRepo) GetByScheduleAndNumber(_ context.Context, scheduleID string, n int) (*types.RetryAttempt, error) {
	return r.find(func(a *types.RetryAttempt) bool { return a.RetryScheduleID == scheduleID && a.AttemptNumber == n })
}

func (r *attemptRepo) GetByPaymentIntentID(_ context.Context, intentID string) (*types.RetryAttempt, error) {
	return r.find(func(a *types.RetryAttempt) bool { return intentID != "" && a.PaymentIntentID == intentID })
}

func (r *attemptRepo) find(match func(*types.RetryAttempt) bool) (*types.RetryAttempt, error) {
	var out *types.RetryAttempt
	err := r.v.read(func(s *state) error {
		for _, a := range s.attempts {
			if match(a) {
				out = copyAttempt(a)
				return nil
			}
		}
		return notFound(types.ErrCodeNotFoundAttempt, "retry attempt")
	})
	return out, err
}

func (r *attemptRepo) ListBySchedule(_ context.Context, scheduleID string) ([]*types.RetryAttempt, error) {
	var out []*types.RetryAttempt
	err := r.v.read(func(s *state) error {
		for _, a := range s.attempts {
			if a.RetryScheduleID == scheduleID {
				out = append(out, copyAttempt(a))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, err
}

// --- jobs ---

type jobRepo struct{ v view }

func (r *jobRepo) Create(_ context.Context, j *types.RetryJob) error {
	cp := copyJob(j)
	return r.v.write(func(s *state) error {
		if _, ok := s.jobs[cp.ID]; ok {
			return duplicate("retry job")
		}
		for _, existing := range s.jobs {
			if existing.IdempotencyKey == cp.IdempotencyKey {
				return duplicate("retry job")
			}
		}
		s.jobs[cp.ID] = copyJob(cp)
		return nil
	})
}

func (r *jobRepo) Update(_ context.Context, j *types.RetryJob) error {
	cp := copyJob(j)
	return r.v.write(func(s *state) error {
		if _, ok := s.jobs[cp.ID]; !ok {
			return notFound(types.ErrCodeNotFoundJob, "retry job")
		}
		s.jobs[cp.ID] = copyJob(cp)
		return nil
	})
}

func (r *jobRepo) GetByID(_ context.Context, id string) (*types.RetryJob, error) {
	return r.find(func(j *types.RetryJob) bool { return j.ID == id })
}

func (r *jobRepo) GetByIdempotencyKey(_ context.Context, key string) (*types.RetryJob, error) {
	return r.find(func(j *types.RetryJob) bool { return j.IdempotencyKey == key })
}

func (r *jobRepo) find(match func(*types.RetryJob) bool) (*types.RetryJob, error) {
	var out *types.RetryJob
	err := r.v.read(func(s *state) error {
		for _, j := range s.jobs {
			if match(j) {
				out = copyJob(j)
				return nil
			}
		}
		return notFound(types.ErrCodeNotFoundJob, "retry job")
	})
	return out, err
}

func (r *jobRepo) List(_ context.Context, f types.JobFilter) ([]*types.RetryJob, error) {
	var out []*types.RetryJob
	err := r.v.read(func(s *state) error {
		for _, j := range s.jobs {
			if (f.OrganisationID == "" || j.OrganisationID == f.OrganisationID) &&
				(f.Status == "" || j.Status == f.Status) &&
				(f.From.IsZero() || !j.TargetDate.Before(f.From)) &&
				(f.To.IsZero() || j.TargetDate.Before(f.To)) {
				out = append(out, copyJob(j))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, k int) bool {
		a, b := out[i], out[k]
		if !a.TargetDate.Equal(b.TargetDate) {
			return a.TargetDate.After(b.TargetDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return window(out, f.Page), err
}

// --- reminders ---

type reminderRepo struct{ v view }

func (r *reminderRepo) Create(_ context.Context, rm *types.Reminder) error {
	cp := copyReminder(rm)
	return r.v.write(func(s *state) error {
		if _, ok := s.reminders[cp.ID]; ok {
			return duplicate("reminder")
		}
		for _, existing := range s.reminders {
			if existing.IdempotencyKey == cp.IdempotencyKey {
				return duplicate("reminder")
			}
		}
		s.reminders[cp.ID] = copyReminder(cp)
		return nil
	})
}

func (r *reminderRepo) Update(_ context.Context, rm *types.Reminder) error {
	cp := copyReminder(rm)
	return r.v.write(func(s *state) error {
		if _, ok := s.reminders[cp.ID]; !ok {
			return notFound(types.ErrCodeNotFoundReminder, "reminder")
		}
		s.reminders[cp.ID] = copyReminder(cp)
		return nil
	})
}

func (r *reminderRepo) GetByID(_ context.Context, id string) (*types.Reminder, error) {
	return r.find(func(rm *types.Reminder) bool { return rm.ID == id })
}

func (r *reminderRepo) GetByIdempotencyKey(_ context.Context, key string) (*types.Reminder, error) {
	return r.find(func(rm *types.Reminder) bool { return rm.IdempotencyKey == key })
}

func (r *reminderRepo) GetByProviderMessageID(_ context.Context, msgID string) (*types.Reminder, error) {
	return r.find(func(rm *types.Reminder) bool { return msgID != "" && rm.ProviderMessageID == msgID })
}

func (r *reminderRepo) find(match func(*types.Reminder) bool) (*types.Reminder, error) {
	var out *types.Reminder
	err := r.v.read(func(s *state) error {
		for _, rm := range s.reminders {
			if match(rm) {
				out = copyReminder(rm)
				return nil
			}
		}
		return notFound(types.ErrCodeNotFoundReminder, "reminder")
	})
	return out, err
}

func (r *reminderRepo) filter(match func(*types.Reminder) bool) ([]*types.Reminder, error) {
	var out []*types.Reminder
	err := r.v.read(func(s *state) error {
		for _, rm := range s.reminders {
			if match(rm) {
				out = append(out, copyReminder(rm))
			}
		}
		return nil
	})
	return out, err
}

func (r *reminderRepo) List(_ context.Context, f types.ReminderFilter) ([]*types.Reminder, error) {
	out, err := r.filter(func(rm *types.Reminder) bool {
		return (f.OrganisationID == "" || rm.OrganisationID == f.OrganisationID) &&
			(f.RetryScheduleID == "" || rm.RetryScheduleID == f.RetryScheduleID) &&
			(f.ClientID == "" || rm.ClientID == f.ClientID) &&
			(f.Status == "" || rm.Status == f.Status) &&
			(f.Channel == "" || rm.Channel == f.Channel)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlannedAt.Equal(out[j].PlannedAt) {
			return out[i].PlannedAt.After(out[j].PlannedAt)
		}
		return out[i].ID < out[j].ID
	})
	return window(out, f.Page), err
}

func (r *reminderRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*types.Reminder, error) {
	out, err := r.filter(func(rm *types.Reminder) bool {
		return rm.Status == types.ReminderPending && !rm.PlannedAt.After(now)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlannedAt.Equal(out[j].PlannedAt) {
			return out[i].PlannedAt.Before(out[j].PlannedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *reminderRepo) ListSentSince(_ context.Context, orgID, clientID string, since time.Time) ([]*types.Reminder, error) {
	out, err := r.filter(func(rm *types.Reminder) bool {
		return rm.OrganisationID == orgID && rm.ClientID == clientID &&
			rm.SentAt != nil && !rm.SentAt.Before(since) &&
			rm.Status.CountsTowardsCaps()
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	return out, err
}

// --- audit ---

type auditRepo struct{ v view }

func (r *auditRepo) Append(_ context.Context, e *types.AuditEntry) error {
	if e.ID == "" {
		e.ID = "aud_" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	cp := copyAudit(e)
	return r.v.write(func(s *state) error {
		s.seq++
		stored := copyAudit(cp)
		stored.Sequence = s.seq
		s.audit = append(s.audit, stored)
		e.Sequence = s.seq
		return nil
	})
}

func (r *auditRepo) List(_ context.Context, f types.AuditFilter) ([]*types.AuditEntry, error) {
	limit := types.Page{Limit: f.Limit}.Normalize().Limit
	var out []*types.AuditEntry
	err := r.v.read(func(s *state) error {
		for _, e := range s.audit {
			if len(out) > limit {
				break
			}
			if (f.OrganisationID == "" || e.OrganisationID == f.OrganisationID) &&
				(f.EntityType == "" || e.EntityType == f.EntityType) &&
				(f.EntityID == "" || e.EntityID == f.EntityID) &&
				(f.RetryScheduleID == "" || e.RetryScheduleID == f.RetryScheduleID) &&
				(f.ActorType == "" || e.ActorType == f.ActorType) &&
				(f.From.IsZero() || !e.Timestamp.Before(f.From)) &&
				(f.To.IsZero() || e.Timestamp.Before(f.To)) &&
				e.Sequence > f.AfterSequence {
				out = append(out, copyAudit(e))
			}
		}
		return nil
	})
	return out, err
}
