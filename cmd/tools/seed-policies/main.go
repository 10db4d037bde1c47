// Package main implements seed-policies, an operator CLI that loads retry
// and reminder policies from a YAML, JSON or TOML file.
//
// Usage:
//
//	go run ./cmd/tools/seed-policies --file=policies.yaml
//	go run ./cmd/tools/seed-policies --file=policies.yaml --org=org_1 --dry-run
//	go run ./cmd/tools/seed-policies --file=policies.yaml --apply-schema
//
// File layout:
//
//	organisation_id: org_1
//	retry_policies:
//	  - name: Default
//	    is_default: true
//	    retry_delays_days: [3, 7, 14]
//	reminder_policies:
//	  - name: Dunning
//	    is_default: true
//	    trigger_rules:
//	      - {trigger: BEFORE_RETRY, channel: EMAIL, template_id: tpl_before, delay_hours: 24}
//
// A policy whose name already exists in its organisation is skipped, so the
// same file can be applied repeatedly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"payretry/internal/config"
	"payretry/internal/core"
	"payretry/internal/db"
	"payretry/internal/engine"
	"payretry/internal/policy"
	"payretry/internal/types"
)

var seedActor = types.AuditActor{Type: types.ActorSystem, ID: "seed-policies"}

// SeedFile is the document read from --file. OrganisationID applies to every
// entry that does not name its own.
type SeedFile struct {
	OrganisationID   string                               `json:"organisation_id"`
	RetryPolicies    []policy.CreateRetryPolicyRequest    `json:"retry_policies"`
	ReminderPolicies []policy.CreateReminderPolicyRequest `json:"reminder_policies"`
}

// PolicySeeder is the part of the Policy Store the tool writes through.
type PolicySeeder interface {
	CreateRetryPolicy(ctx context.Context, req policy.CreateRetryPolicyRequest) (*types.RetryPolicy, error)
	ListRetryPolicies(ctx context.Context, f types.PolicyFilter) ([]*types.RetryPolicy, types.PageInfo, error)
	CreateReminderPolicy(ctx context.Context, req policy.CreateReminderPolicyRequest) (*types.ReminderPolicy, error)
	ListReminderPolicies(ctx context.Context, f types.PolicyFilter) ([]*types.ReminderPolicy, types.PageInfo, error)
}

// Summary counts what a seed run did.
type Summary struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// loadSeedFile reads path with viper, whose decoder picks the format from
// the extension. Keys are normalised to lower case by viper and decoded
// through the request types' JSON tags.
func loadSeedFile(path, orgOverride string) (*SeedFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", path, err)
	}
	var f SeedFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	if orgOverride != "" {
		f.OrganisationID = orgOverride
	}
	for i := range f.RetryPolicies {
		if orgOverride != "" || f.RetryPolicies[i].OrganisationID == "" {
			f.RetryPolicies[i].OrganisationID = f.OrganisationID
		}
	}
	for i := range f.ReminderPolicies {
		if orgOverride != "" || f.ReminderPolicies[i].OrganisationID == "" {
			f.ReminderPolicies[i].OrganisationID = f.OrganisationID
		}
	}
	if len(f.RetryPolicies) == 0 && len(f.ReminderPolicies) == 0 {
		return nil, fmt.Errorf("%s declares no policies", path)
	}
	return &f, nil
}

// validate checks every entry before anything is written.
func (f *SeedFile) validate(v *core.Validator) error {
	for i, p := range f.RetryPolicies {
		if err := v.ValidateStruct(p); err != nil {
			return fmt.Errorf("retry_policies[%d] (%s): %w", i, p.Name, err)
		}
	}
	for i, p := range f.ReminderPolicies {
		if err := v.ValidateStruct(p); err != nil {
			return fmt.Errorf("reminder_policies[%d] (%s): %w", i, p.Name, err)
		}
	}
	return nil
}

// seed creates the file's policies. In dry-run mode nothing is written and
// Created counts what would be.
func seed(ctx context.Context, store PolicySeeder, f *SeedFile, dryRun bool, logger *slog.Logger) (Summary, error) {
	var sum Summary
	ctx = types.WithActor(ctx, seedActor)

	retryNames := map[string]map[string]bool{}
	for _, req := range f.RetryPolicies {
		names, err := existingNames(retryNames, req.OrganisationID, func(p types.Page) ([]string, types.PageInfo, error) {
			items, page, err := store.ListRetryPolicies(ctx, types.PolicyFilter{OrganisationID: req.OrganisationID, Page: p})
			out := make([]string, 0, len(items))
			for _, it := range items {
				out = append(out, it.Name)
			}
			return out, page, err
		})
		if err != nil {
			return sum, err
		}
		if names[req.Name] {
			logger.Info("retry policy exists, skipping", "organisation_id", req.OrganisationID, "name", req.Name)
			sum.Skipped++
			continue
		}
		if !dryRun {
			p, err := store.CreateRetryPolicy(ctx, req)
			if err != nil {
				return sum, fmt.Errorf("creating retry policy %q: %w", req.Name, err)
			}
			logger.Info("retry policy created", "organisation_id", p.OrganisationID, "policy_id", p.ID, "name", p.Name)
		}
		names[req.Name] = true
		sum.Created++
	}

	reminderNames := map[string]map[string]bool{}
	for _, req := range f.ReminderPolicies {
		names, err := existingNames(reminderNames, req.OrganisationID, func(p types.Page) ([]string, types.PageInfo, error) {
			items, page, err := store.ListReminderPolicies(ctx, types.PolicyFilter{OrganisationID: req.OrganisationID, Page: p})
			out := make([]string, 0, len(items))
			for _, it := range items {
				out = append(out, it.Name)
			}
			return out, page, err
		})
		if err != nil {
			return sum, err
		}
		if names[req.Name] {
			logger.Info("reminder policy exists, skipping", "organisation_id", req.OrganisationID, "name", req.Name)
			sum.Skipped++
			continue
		}
		if !dryRun {
			p, err := store.CreateReminderPolicy(ctx, req)
			if err != nil {
				return sum, fmt.Errorf("creating reminder policy %q: %w", req.Name, err)
			}
			logger.Info("reminder policy created", "organisation_id", p.OrganisationID, "policy_id", p.ID, "name", p.Name)
		}
		names[req.Name] = true
		sum.Created++
	}
	return sum, nil
}

// existingNames loads, once per organisation, the names already taken.
func existingNames(cache map[string]map[string]bool, orgID string, list func(types.Page) ([]string, types.PageInfo, error)) (map[string]bool, error) {
	if names, ok := cache[orgID]; ok {
		return names, nil
	}
	names := map[string]bool{}
	page := types.Page{Limit: types.MaxPageSize}
	for {
		batch, info, err := list(page)
		if err != nil {
			return nil, fmt.Errorf("listing policies of %s: %w", orgID, err)
		}
		for _, n := range batch {
			names[n] = true
		}
		if !info.HasMore {
			break
		}
		page.Offset += page.Limit
	}
	cache[orgID] = names
	return names, nil
}

type options struct {
	File        string
	Org         string
	DryRun      bool
	ApplySchema bool
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("seed-policies", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	fs.StringVar(&o.File, "file", "", "Policy file (.yaml, .json or .toml)")
	fs.StringVar(&o.Org, "org", "", "Force every policy into this organisation")
	fs.BoolVar(&o.DryRun, "dry-run", false, "Validate and report without writing")
	fs.BoolVar(&o.ApplySchema, "apply-schema", false, "Create the database schema before seeding")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.File == "" {
		return nil, errors.New("--file is required")
	}
	return &o, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	cfg, err := config.LoadConfig(engine.SecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.Driver == "memory" && !opts.DryRun {
		return errors.New("seeding the in-memory store has no lasting effect; use --dry-run or a database")
	}
	logger := engine.NewLogger(cfg.LogLevel).With("service", "seed-policies")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	file, err := loadSeedFile(opts.File, opts.Org)
	if err != nil {
		return err
	}
	v, err := core.NewValidator(logger)
	if err != nil {
		return err
	}
	if err := file.validate(v); err != nil {
		return err
	}

	if opts.ApplySchema && !opts.DryRun {
		pool, err := db.Connect(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{MaxConns: 1})
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		err = db.ApplySchema(ctx, pool)
		pool.Close()
		if err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	svc, err := engine.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building engine services: %w", err)
	}
	defer svc.Close()

	sum, err := seed(ctx, svc.Policies, file, opts.DryRun, logger)
	if err != nil {
		return err
	}
	logger.Info("seed complete", "created", sum.Created, "skipped", sum.Skipped, "dry_run", opts.DryRun)
	return nil
}
