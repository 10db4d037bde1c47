// Package memstore is an in-process implementation of types.Store. It backs
// APP_ENV=local runs with DB_DRIVER=memory and the engine's scenario tests,
// and enforces the same unique constraints as the PostgreSQL schema.
//
// Transactions work on a private snapshot and record every write; Commit
// replays the journal against the live state under the write lock, so two
// transactions racing on the same idempotency key fail on the second commit
// exactly as two database transactions would.
package memstore

import (
	"context"
	"sync"

	"payretry/internal/types"
)

type state struct {
	retryPolicies    map[string]*types.RetryPolicy
	reminderPolicies map[string]*types.ReminderPolicy
	schedules        map[string]*types.RetrySchedule
	attempts         map[string]*types.RetryAttempt
	jobs             map[string]*types.RetryJob
	reminders        map[string]*types.Reminder
	audit            []*types.AuditEntry
	seq              int64
}

func newState() *state {
	return &state{
		retryPolicies:    make(map[string]*types.RetryPolicy),
		reminderPolicies: make(map[string]*types.ReminderPolicy),
		schedules:        make(map[string]*types.RetrySchedule),
		attempts:         make(map[string]*types.RetryAttempt),
		jobs:             make(map[string]*types.RetryJob),
		reminders:        make(map[string]*types.Reminder),
	}
}

// clone copies the maps. Entities are stored as private copies and replaced
// (never mutated) on write, so sharing the pointers is safe.
func (s *state) clone() *state {
	c := &state{
		retryPolicies:    make(map[string]*types.RetryPolicy, len(s.retryPolicies)),
		reminderPolicies: make(map[string]*types.ReminderPolicy, len(s.reminderPolicies)),
		schedules:        make(map[string]*types.RetrySchedule, len(s.schedules)),
		attempts:         make(map[string]*types.RetryAttempt, len(s.attempts)),
		jobs:             make(map[string]*types.RetryJob, len(s.jobs)),
		reminders:        make(map[string]*types.Reminder, len(s.reminders)),
		audit:            append([]*types.AuditEntry(nil), s.audit...),
		seq:              s.seq,
	}
	for k, v := range s.retryPolicies {
		c.retryPolicies[k] = v
	}
	for k, v := range s.reminderPolicies {
		c.reminderPolicies[k] = v
	}
	for k, v := range s.schedules {
		c.schedules[k] = v
	}
	for k, v := range s.attempts {
		c.attempts[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.reminders {
		c.reminders[k] = v
	}
	return c
}

// view is what repositories run their reads and writes through.
type view interface {
	read(fn func(*state) error) error
	write(fn func(*state) error) error
}

// Store implements types.Store in memory.
type Store struct {
	mu   sync.RWMutex
	live *state
	*repoSet

	contactsMu sync.RWMutex
	contacts   map[string]types.ClientContact
}

// New returns an empty Store.
func New() *Store {
	s := &Store{live: newState(), contacts: make(map[string]types.ClientContact)}
	s.repoSet = newRepoSet(s)
	return s
}

func (s *Store) read(fn func(*state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.live)
}

// write applies fn directly to the live state. Every write function checks
// its constraints before mutating, so an error leaves the state untouched.
func (s *Store) write(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.live)
}

// RunInTx runs fn against a snapshot and commits its writes atomically.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.Repositories) error) error {
	s.mu.RLock()
	tx := &txView{snapshot: s.live.clone()}
	s.mu.RUnlock()

	if err := fn(ctx, newRepoSet(tx)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.live.clone()
	for _, op := range tx.journal {
		if err := op(working); err != nil {
			return err
		}
	}
	s.live = working
	return nil
}

type txView struct {
	snapshot *state
	journal  []func(*state) error
}

func (t *txView) read(fn func(*state) error) error {
	return fn(t.snapshot)
}

func (t *txView) write(fn func(*state) error) error {
	if err := fn(t.snapshot); err != nil {
		return err
	}
	t.journal = append(t.journal, fn)
	return nil
}

type repoSet struct {
	retryPolicies    *retryPolicyRepo
	reminderPolicies *reminderPolicyRepo
	schedules        *scheduleRepo
	attempts         *attemptRepo
	jobs             *jobRepo
	reminders        *reminderRepo
	auditLog         *auditRepo
}

func newRepoSet(v view) *repoSet {
	return &repoSet{
		retryPolicies:    &retryPolicyRepo{v: v},
		reminderPolicies: &reminderPolicyRepo{v: v},
		schedules:        &scheduleRepo{v: v},
		attempts:         &attemptRepo{v: v},
		jobs:             &jobRepo{v: v},
		reminders:        &reminderRepo{v: v},
		auditLog:         &auditRepo{v: v},
	}
}

func (r *repoSet) RetryPolicies() types.RetryPolicyRepository       { return r.retryPolicies }
func (r *repoSet) ReminderPolicies() types.ReminderPolicyRepository { return r.reminderPolicies }
func (r *repoSet) Schedules() types.RetryScheduleRepository         { return r.schedules }
func (r *repoSet) Attempts() types.RetryAttemptRepository           { return r.attempts }
func (r *repoSet) Jobs() types.RetryJobRepository                   { return r.jobs }
func (r *repoSet) Reminders() types.ReminderRepository              { return r.reminders }
func (r *repoSet) AuditLog() types.AuditLogRepository               { return r.auditLog }

// Close is a no-op; it lets the API server treat every store alike.
func (s *Store) Close() error { return nil }

// UpsertContact registers a client contact card.
func (s *Store) UpsertContact(orgID string, c types.ClientContact) {
	s.contactsMu.Lock()
	defer s.contactsMu.Unlock()
	s.contacts[orgID+"/"+c.ClientID] = c
}

// GetContact implements types.ClientDirectory. Unknown clients yield an empty
// contact card.
func (s *Store) GetContact(_ context.Context, orgID, clientID string) (*types.ClientContact, error) {
	s.contactsMu.RLock()
	defer s.contactsMu.RUnlock()
	c, ok := s.contacts[orgID+"/"+clientID]
	if !ok {
		return &types.ClientContact{ClientID: clientID}, nil
	}
	return &c, nil
}
