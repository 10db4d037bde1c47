// Package policy stores retry and reminder policies and resolves the policy
// that applies to a given scope.
package policy

import (
	"context"
	"fmt"
	"slices"

	"payretry/internal/audit"
	"payretry/internal/eligibility"
	"payretry/internal/types"
)

// Defaults are the organisation-independent values applied to new policies.
type Defaults struct {
	Timezone   string
	CutoffTime string
}

// Store is the Policy Store.
type Store struct {
	store    types.Store
	recorder *audit.Recorder
	clock    types.Clock
	logger   types.Logger
	defaults Defaults
}

// NewStore creates a policy Store.
func NewStore(store types.Store, recorder *audit.Recorder, clock types.Clock, logger types.Logger, defaults Defaults) *Store {
	if defaults.Timezone == "" {
		defaults.Timezone = "Europe/Paris"
	}
	if defaults.CutoffTime == "" {
		defaults.CutoffTime = "10:00"
	}
	return &Store{store: store, recorder: recorder, clock: clock, logger: logger, defaults: defaults}
}

// --- retry policies ---

// CreateRetryPolicy validates req, fills defaults and persists version 1 of
// a new retry policy.
func (s *Store) CreateRetryPolicy(ctx context.Context, req CreateRetryPolicyRequest) (*types.RetryPolicy, error) {
	now := s.clock.Now()
	p := &types.RetryPolicy{
		ID:                      types.NewID(types.PrefixRetryPolicy),
		PolicyScope:             req.PolicyScope,
		Name:                    req.Name,
		Description:             req.Description,
		RetryDelaysDays:         req.RetryDelaysDays,
		MaxAttempts:             valueOr(req.MaxAttempts, 3),
		MaxTotalDays:            valueOr(req.MaxTotalDays, 30),
		RetryOnAM04:             valueOr(req.RetryOnAM04, true),
		RetryableCodes:          req.RetryableCodes,
		NonRetryableCodes:       req.NonRetryableCodes,
		StopOnPaymentSettled:    valueOr(req.StopOnPaymentSettled, true),
		StopOnContractCancelled: valueOr(req.StopOnContractCancelled, true),
		StopOnMandateRevoked:    valueOr(req.StopOnMandateRevoked, true),
		BackoffStrategy:         valueOr(req.BackoffStrategy, types.BackoffFixed),
		Timezone:                valueOr(req.Timezone, s.defaults.Timezone),
		CutoffTime:              valueOr(req.CutoffTime, s.defaults.CutoffTime),
		IsActive:                valueOr(req.IsActive, true),
		IsDefault:               req.IsDefault,
		Priority:                req.Priority,
		Version:                 1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if len(p.RetryDelaysDays) == 0 {
		p.RetryDelaysDays = []int{5, 10, 20}
	}
	if p.RetryableCodes == nil {
		p.RetryableCodes = eligibility.DefaultRetryableCodes()
	}
	if p.NonRetryableCodes == nil {
		p.NonRetryableCodes = []string{}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		if err := repos.RetryPolicies().Create(ctx, p); err != nil {
			return err
		}
		return s.recorder.Record(ctx, repos.AuditLog(), audit.Change{
			OrganisationID: p.OrganisationID,
			EntityType:     types.EntityRetryPolicy,
			EntityID:       p.ID,
			Action:         types.AuditActionCreated,
			New:            p,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("retry policy created", "policy_id", p.ID, "organisation_id", p.OrganisationID)
	return p, nil
}

// UpdateRetryPolicy applies a partial update. Policies referenced by a
// schedule are frozen: callers must create a new policy (a new version)
// instead.
func (s *Store) UpdateRetryPolicy(ctx context.Context, id string, req UpdateRetryPolicyRequest) (*types.RetryPolicy, error) {
	var updated *types.RetryPolicy
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		old, err := repos.RetryPolicies().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := types.CheckOrganisation(ctx, old.OrganisationID); err != nil {
			return err
		}
		n, err := repos.Schedules().CountByPolicy(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictPolicyInUse,
				"policy is referenced by schedules; create a new version instead", nil,
				map[string]any{"schedules": n})
		}

		p := *old
		applyRetryUpdate(&p, req)
		p.Version++
		p.UpdatedAt = s.clock.Now()
		if err := p.Validate(); err != nil {
			return err
		}
		if err := repos.RetryPolicies().Update(ctx, &p); err != nil {
			return err
		}
		updated = &p
		return s.recorder.Record(ctx, repos.AuditLog(), audit.Change{
			OrganisationID: p.OrganisationID,
			EntityType:     types.EntityRetryPolicy,
			EntityID:       p.ID,
			Action:         types.AuditActionUpdated,
			Old:            old,
			New:            &p,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyRetryUpdate(p *types.RetryPolicy, req UpdateRetryPolicyRequest) {
	p.Name = valueOr(req.Name, p.Name)
	p.Description = valueOr(req.Description, p.Description)
	if req.RetryDelaysDays != nil {
		p.RetryDelaysDays = slices.Clone(req.RetryDelaysDays)
	}
	p.MaxAttempts = valueOr(req.MaxAttempts, p.MaxAttempts)
	p.MaxTotalDays = valueOr(req.MaxTotalDays, p.MaxTotalDays)
	p.RetryOnAM04 = valueOr(req.RetryOnAM04, p.RetryOnAM04)
	if req.RetryableCodes != nil {
		p.RetryableCodes = slices.Clone(req.RetryableCodes)
	}
	if req.NonRetryableCodes != nil {
		p.NonRetryableCodes = slices.Clone(req.NonRetryableCodes)
	}
	p.StopOnPaymentSettled = valueOr(req.StopOnPaymentSettled, p.StopOnPaymentSettled)
	p.StopOnContractCancelled = valueOr(req.StopOnContractCancelled, p.StopOnContractCancelled)
	p.StopOnMandateRevoked = valueOr(req.StopOnMandateRevoked, p.StopOnMandateRevoked)
	p.BackoffStrategy = valueOr(req.BackoffStrategy, p.BackoffStrategy)
	p.Timezone = valueOr(req.Timezone, p.Timezone)
	p.CutoffTime = valueOr(req.CutoffTime, p.CutoffTime)
	p.IsActive = valueOr(req.IsActive, p.IsActive)
	p.IsDefault = valueOr(req.IsDefault, p.IsDefault)
	p.Priority = valueOr(req.Priority, p.Priority)
}

// GetRetryPolicy returns one retry policy.
func (s *Store) GetRetryPolicy(ctx context.Context, id string) (*types.RetryPolicy, error) {
	p, err := s.store.RetryPolicies().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := types.CheckOrganisation(ctx, p.OrganisationID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListRetryPolicies returns one page of an organisation's retry policies.
func (s *Store) ListRetryPolicies(ctx context.Context, f types.PolicyFilter) ([]*types.RetryPolicy, types.PageInfo, error) {
	f.Page = f.Page.Normalize()
	items, err := s.store.RetryPolicies().List(ctx, f)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	items, info := types.Paginate(items, f.Page)
	return items, info, nil
}

// DeleteRetryPolicy removes a policy no schedule references.
func (s *Store) DeleteRetryPolicy(ctx context.Context, id string) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		old, err := repos.RetryPolicies().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := types.CheckOrganisation(ctx, old.OrganisationID); err != nil {
			return err
		}
		if err := repos.RetryPolicies().Delete(ctx, id); err != nil {
			return err
		}
		return s.recorder.Record(ctx, repos.AuditLog(), audit.Change{
			OrganisationID: old.OrganisationID,
			EntityType:     types.EntityRetryPolicy,
			EntityID:       id,
			Action:         types.AuditActionDeleted,
			Old:            old,
		})
	})
}

// ResolveRetryPolicy returns the active retry policy that applies to scope,
// or a policy_not_resolved error.
func (s *Store) ResolveRetryPolicy(ctx context.Context, scope types.PolicyScope) (*types.RetryPolicy, error) {
	candidates, err := s.store.RetryPolicies().ListActive(ctx, scope.OrganisationID)
	if err != nil {
		return nil, err
	}
	best := Resolve(candidates, scope, func(p *types.RetryPolicy) Candidate {
		return Candidate{ID: p.ID, Scope: p.PolicyScope, Active: p.IsActive, Priority: p.Priority, IsDefault: p.IsDefault, CreatedAt: p.CreatedAt}
	})
	if best == nil {
		return nil, notResolved("retry", scope)
	}
	return best, nil
}

// --- reminder policies ---

// CreateReminderPolicy validates req, fills defaults and persists a new
// reminder policy. Trigger rules without an id get one.
func (s *Store) CreateReminderPolicy(ctx context.Context, req CreateReminderPolicyRequest) (*types.ReminderPolicy, error) {
	now := s.clock.Now()
	rules := make(types.TriggerRuleList, len(req.TriggerRules))
	for i, r := range req.TriggerRules {
		if r.ID == "" {
			r.ID = types.NewID(types.PrefixTriggerRule)
		}
		rules[i] = r
	}
	p := &types.ReminderPolicy{
		ID:                  types.NewID(types.PrefixReminderPolicy),
		PolicyScope:         req.PolicyScope,
		Name:                req.Name,
		TriggerRules:        rules,
		CooldownHours:       valueOr(req.CooldownHours, 24),
		MaxRemindersPerDay:  valueOr(req.MaxRemindersPerDay, 3),
		MaxRemindersPerWeek: valueOr(req.MaxRemindersPerWeek, 10),
		AllowedStartHour:    valueOr(req.AllowedStartHour, 9),
		AllowedEndHour:      valueOr(req.AllowedEndHour, 19),
		AllowedDaysOfWeek:   req.AllowedDaysOfWeek,
		Timezone:            valueOr(req.Timezone, s.defaults.Timezone),
		RespectOptOut:       valueOr(req.RespectOptOut, true),
		IsActive:            valueOr(req.IsActive, true),
		IsDefault:           req.IsDefault,
		Priority:            req.Priority,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if len(p.AllowedDaysOfWeek) == 0 {
		p.AllowedDaysOfWeek = []int{1, 2, 3, 4, 5}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		if err := repos.ReminderPolicies().Create(ctx, p); err != nil {
			return err
		}
		return s.recorder.Record(ctx, repos.AuditLog(), audit.Change{
			OrganisationID: p.OrganisationID,
			EntityType:     types.EntityReminderPolicy,
			EntityID:       p.ID,
			Action:         types.AuditActionCreated,
			New:            p,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reminder policy created", "policy_id", p.ID, "organisation_id", p.OrganisationID)
	return p, nil
}

// GetReminderPolicy returns one reminder policy.
func (s *Store) GetReminderPolicy(ctx context.Context, id string) (*types.ReminderPolicy, error) {
	p, err := s.store.ReminderPolicies().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := types.CheckOrganisation(ctx, p.OrganisationID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListReminderPolicies returns one page of an organisation's reminder
// policies.
func (s *Store) ListReminderPolicies(ctx context.Context, f types.PolicyFilter) ([]*types.ReminderPolicy, types.PageInfo, error) {
	f.Page = f.Page.Normalize()
	items, err := s.store.ReminderPolicies().List(ctx, f)
	if err != nil {
		return nil, types.PageInfo{}, err
	}
	items, info := types.Paginate(items, f.Page)
	return items, info, nil
}

// ResolveReminderPolicy returns the active reminder policy that applies to
// scope, or a policy_not_resolved error.
func (s *Store) ResolveReminderPolicy(ctx context.Context, scope types.PolicyScope) (*types.ReminderPolicy, error) {
	candidates, err := s.store.ReminderPolicies().ListActive(ctx, scope.OrganisationID)
	if err != nil {
		return nil, err
	}
	best := Resolve(candidates, scope, func(p *types.ReminderPolicy) Candidate {
		return Candidate{ID: p.ID, Scope: p.PolicyScope, Active: p.IsActive, Priority: p.Priority, IsDefault: p.IsDefault, CreatedAt: p.CreatedAt}
	})
	if best == nil {
		return nil, notResolved("reminder", scope)
	}
	return best, nil
}

func notResolved(kind string, scope types.PolicyScope) error {
	return types.NewAppErrorWithDetails(types.ErrCodePolicyNotResolved,
		fmt.Sprintf("no active %s policy applies", kind), nil,
		map[string]any{
			"organisation_id": scope.OrganisationID,
			"company_id":      scope.CompanyID,
			"product_id":      scope.ProductID,
			"channel":         scope.Channel,
		})
}
