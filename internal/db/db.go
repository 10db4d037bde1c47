// Package db provides PostgreSQL-backed repository implementations for the
// retry engine. All repositories accept a DBTX interface that is satisfied by
// both *pgxpool.Pool (for normal queries) and pgx.Tx (for transactional
// execution), so the same repository code runs inside or outside RunInTx.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"payretry/internal/types"
)

// Schema is the DDL for every table the repositories use.
//
//go:embed schema.sql
var Schema string

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner is a DBTX that can open transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolOptions tunes the connection pool created by Connect.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// Connect parses dsn, applies opts and pings the database.
func Connect(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = opts.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ApplySchema executes Schema against db.
func ApplySchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}

// repoSet binds every repository to one connection.
type repoSet struct {
	retryPolicies    *RetryPolicyRepository
	reminderPolicies *ReminderPolicyRepository
	schedules        *RetryScheduleRepository
	attempts         *RetryAttemptRepository
	jobs             *RetryJobRepository
	reminders        *ReminderRepository
	auditLog         *AuditLogRepository
}

func newRepoSet(db DBTX) *repoSet {
	return &repoSet{
		retryPolicies:    NewRetryPolicyRepository(db),
		reminderPolicies: NewReminderPolicyRepository(db),
		schedules:        NewRetryScheduleRepository(db),
		attempts:         NewRetryAttemptRepository(db),
		jobs:             NewRetryJobRepository(db),
		reminders:        NewReminderRepository(db),
		auditLog:         NewAuditLogRepository(db),
	}
}

func (s *repoSet) RetryPolicies() types.RetryPolicyRepository       { return s.retryPolicies }
func (s *repoSet) ReminderPolicies() types.ReminderPolicyRepository { return s.reminderPolicies }
func (s *repoSet) Schedules() types.RetryScheduleRepository         { return s.schedules }
func (s *repoSet) Attempts() types.RetryAttemptRepository           { return s.attempts }
func (s *repoSet) Jobs() types.RetryJobRepository                   { return s.jobs }
func (s *repoSet) Reminders() types.ReminderRepository              { return s.reminders }
func (s *repoSet) AuditLog() types.AuditLogRepository               { return s.auditLog }

// Store implements types.Store on top of a connection pool.
type Store struct {
	*repoSet
	conn Beginner
}

// NewStore creates a Store whose non-transactional calls run on conn.
func NewStore(conn Beginner) *Store {
	return &Store{repoSet: newRepoSet(conn), conn: conn}
}

// RunInTx runs fn inside a single database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.Repositories) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, newRepoSet(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// Contacts returns the client directory backed by the same connection.
func (s *Store) Contacts() *ClientContactRepository {
	return NewClientContactRepository(s.conn)
}

// Locks returns the job lock repository backed by the same connection.
func (s *Store) Locks() *JobLockRepository {
	return NewJobLockRepository(s.conn)
}

// Close releases the underlying pool when it supports closing.
func (s *Store) Close() error {
	if c, ok := s.conn.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}
