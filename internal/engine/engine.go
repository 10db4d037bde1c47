// Package engine assembles the retry and reminder services from
// configuration. Every binary (API, scheduler daemon, Lambda worker and the
// operator tools) builds the same graph through Build so the wiring lives in
// one place.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"payretry/internal/attempt"
	"payretry/internal/audit"
	"payretry/internal/config"
	"payretry/internal/db"
	"payretry/internal/events"
	"payretry/internal/external"
	"payretry/internal/jobs"
	"payretry/internal/memstore"
	"payretry/internal/metrics"
	"payretry/internal/policy"
	"payretry/internal/reminders"
	"payretry/internal/schedule"
	"payretry/internal/types"
)

// Metrics is what the engine needs from a telemetry sink: engine counters
// plus upstream failure reporting for the provider clients.
type Metrics interface {
	types.EngineMetrics
	external.FailureRecorder
}

// Services is the assembled service graph.
type Services struct {
	Config *config.Config
	Logger *slog.Logger

	Store     types.Store
	Contacts  types.ClientDirectory
	Locker    types.JobLocker
	Clients   *external.ClientRegistry
	Metrics   Metrics
	Publisher types.EventPublisher
	Clock     types.Clock

	Audit     *audit.Service
	Policies  *policy.Store
	Schedules *schedule.Manager
	Attempts  *attempt.Executor
	Jobs      *jobs.Runner
	Reminders *reminders.Engine

	// WorkerID names this process as a job lock owner.
	WorkerID string

	ping    func(ctx context.Context) error
	closers []io.Closer
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock    types.Clock
	workerID string
	awsCfg   *aws.Config
}

// WithClock overrides the wall clock, for backfills and tests.
func WithClock(c types.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithWorkerID sets the lock owner name. It defaults to the host name
// suffixed with a random id.
func WithWorkerID(id string) Option {
	return func(o *buildOptions) { o.workerID = id }
}

// WithAWSConfig skips loading the default AWS configuration.
func WithAWSConfig(c aws.Config) Option {
	return func(o *buildOptions) { o.awsCfg = &c }
}

// Build connects the store, the AWS clients and the providers selected by
// cfg and wires the engine services on top. Callers must Close the result.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions{clock: types.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workerID == "" {
		o.workerID = defaultWorkerID()
	}

	s := &Services{Config: cfg, Logger: logger, Clock: o.clock, WorkerID: o.workerID}
	typedLogger := types.NewSlogAdapter(logger)

	if err := s.openStore(ctx, cfg.Database); err != nil {
		return nil, err
	}

	var (
		sqsClient events.SQSSender
		cwClient  metrics.CloudWatchClient
	)
	if cfg.AWS.EnableMetrics || cfg.Events.Backend == "sqs" {
		awsCfg, err := s.loadAWS(ctx, cfg.AWS, o.awsCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		endpoint := cfg.AWS.EndpointURL
		sqsClient = sqs.NewFromConfig(awsCfg, func(so *sqs.Options) {
			if endpoint != "" {
				so.BaseEndpoint = aws.String(endpoint)
			}
		})
		cwClient = cloudwatch.NewFromConfig(awsCfg, func(co *cloudwatch.Options) {
			if endpoint != "" {
				co.BaseEndpoint = aws.String(endpoint)
			}
		})
	}

	if cfg.AWS.EnableMetrics && cwClient != nil {
		s.Metrics = metrics.NewCloudWatchMetrics(cwClient, cfg.AWS.MetricNamespace, typedLogger)
	} else {
		s.Metrics = metrics.NoopMetrics{}
	}

	publisher, closer, err := events.New(cfg.Events, cfg.AWS.EventsQueueURL, sqsClient, typedLogger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("building event publisher: %w", err)
	}
	s.Publisher = publisher
	s.closers = append(s.closers, closer)

	s.Clients = external.NewClientRegistry(cfg, logger, external.WithFailureRecorder(s.Metrics))

	recorder := audit.NewRecorder(s.Clock, types.SystemActor)
	s.Audit = audit.NewService(s.Store.AuditLog())
	s.Policies = policy.NewStore(s.Store, recorder, s.Clock, typedLogger, policy.Defaults{
		Timezone:   cfg.Engine.DefaultTimezone,
		CutoffTime: cfg.Engine.DefaultCutoffTime,
	})
	s.Schedules = schedule.NewManager(s.Store, s.Policies, recorder, s.Publisher, s.Clock, typedLogger)
	s.Attempts = attempt.NewExecutor(s.Store, s.Schedules, s.Clients.Payments, recorder, s.Publisher,
		s.Metrics, s.Clock, typedLogger, cfg.Payments.SubmitTimeout)
	s.Reminders = reminders.NewEngine(s.Store, s.Policies, s.Contacts, s.Clients.Notifier, recorder,
		s.Publisher, s.Metrics, s.Clock, typedLogger, cfg.Engine.ReminderBatchSize)
	s.Schedules.SetReminders(s.Reminders)
	s.Jobs = jobs.NewRunner(s.Store, s.Schedules, s.Attempts, s.Locker, recorder, s.Publisher,
		s.Metrics, s.Clock, typedLogger, jobs.Config{
			DefaultTimezone:   cfg.Engine.DefaultTimezone,
			DefaultCutoffTime: cfg.Engine.DefaultCutoffTime,
			Workers:           cfg.Engine.WorkerPoolSize,
			OrgConcurrency:    cfg.Engine.OrgConcurrency,
			DueLimit:          cfg.Engine.DueScheduleLimit,
			LockTTL:           cfg.Engine.JobLockTTL,
			WorkerID:          s.WorkerID,
		})

	logger.Info("engine services ready",
		"db_driver", cfg.Database.Driver,
		"events_backend", cfg.Events.Backend,
		"payment_provider", cfg.Payments.Provider,
		"email_provider", cfg.Notifications.EmailProvider,
		"metrics_enabled", cfg.AWS.EnableMetrics,
		"worker_id", s.WorkerID,
	)
	return s, nil
}

func (s *Services) openStore(ctx context.Context, cfg config.DatabaseConfig) error {
	if cfg.Driver == "memory" {
		store := memstore.New()
		s.Store = store
		s.Contacts = store
		s.Locker = memstore.NewLocker()
		s.ping = func(context.Context) error { return nil }
		return nil
	}

	pool, err := db.Connect(ctx, cfg.URL.Unmask(), db.PoolOptions{
		MaxConns:          int32(cfg.MaxConns),
		MinConns:          int32(cfg.MinConns),
		MaxConnLifetime:   cfg.MaxConnLifetime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	store := db.NewStore(pool)
	s.Store = store
	s.Contacts = store.Contacts()
	s.Locker = store.Locks()
	s.ping = pool.Ping
	s.closers = append(s.closers, store)
	return nil
}

func (s *Services) loadAWS(ctx context.Context, cfg config.AWSConfig, preset *aws.Config) (aws.Config, error) {
	if preset != nil {
		return *preset, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	return awsCfg, nil
}

// Ping checks the store is reachable.
func (s *Services) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Closers returns the resources to release on shutdown, in opening order.
func (s *Services) Closers() []io.Closer {
	return append([]io.Closer(nil), s.closers...)
}

// Close releases every resource in reverse opening order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "payretry"
	}
	return host + "-" + uuid.NewString()[:8]
}

// SecretProvider picks the secret reference resolver: files under
// SECRETS_DIR when set, environment variables otherwise.
func SecretProvider() config.SecretProvider {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return config.NewFileProvider(dir)
	}
	return config.NewEnvVarProvider()
}

// NewLogger creates the JSON slog.Logger every binary writes to stdout.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
