// Package config defines the process configuration for the payment retry
// engine. Configuration is loaded once at start-up and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret references (Lowest)
//
// Any missing required value or invalid format fails start-up.
package config

import (
	"time"

	"payretry/internal/types"
)

// SecretString is an alias for types.SecretString so config structs can be
// dumped to logs without leaking credentials.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"payretry"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Payments      PaymentsConfig
	Notifications NotificationsConfig
	Engine        EngineConfig
	Events        EventsConfig
	Security      SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	// Local runs net/http; anything else wraps the router for API Gateway.
	Mode string `envconfig:"SERVER_MODE" default:"http" validate:"oneof=http lambda"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// An empty URL selects the in-memory store, which is only allowed locally.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required_unless=Driver memory"`

	Driver            string        `envconfig:"DB_DRIVER" default:"postgres" validate:"oneof=postgres memory"`
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"eu-west-3"`
	EventsQueueURL  string `envconfig:"SQS_LIFECYCLE_EVENTS" validate:"omitempty,url"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PayRetry"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PaymentsConfig configures the payment network capability.
type PaymentsConfig struct {
	Provider            string        `envconfig:"PAYMENT_PROVIDER" default:"stripe" validate:"oneof=stripe stub"`
	StripeSecretKey     SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required_if=Provider stripe"`
	StripeWebhookSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeBaseURL       string        `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com" validate:"url"`
	SubmitTimeout       time.Duration `envconfig:"PAYMENT_SUBMIT_TIMEOUT" default:"20s"`
}

// NotificationsConfig configures the reminder delivery providers.
type NotificationsConfig struct {
	EmailProvider  string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid stub"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=EmailProvider sendgrid"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@payretry.io" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Billing"`

	// Base64 or PEM ECDSA key SendGrid signs Event Webhook batches with.
	SendGridWebhookPublicKey string `envconfig:"SENDGRID_WEBHOOK_PUBLIC_KEY"`

	SMSGatewayURL    string       `envconfig:"SMS_GATEWAY_URL" validate:"omitempty,url"`
	SMSGatewayAPIKey SecretString `envconfig:"SMS_GATEWAY_API_KEY"`
	SMSSenderID      string       `envconfig:"SMS_SENDER_ID" default:"BILLING"`
}

// EngineConfig holds retry and reminder engine defaults.
type EngineConfig struct {
	DefaultTimezone    string        `envconfig:"ENGINE_DEFAULT_TIMEZONE" default:"Europe/Paris" validate:"iana_tz"`
	DefaultCutoffTime  string        `envconfig:"ENGINE_DEFAULT_CUTOFF" default:"10:00" validate:"hhmm"`
	WorkerPoolSize     int           `envconfig:"ENGINE_WORKER_POOL_SIZE" default:"10" validate:"min=1,max=100"`
	OrgConcurrency     int           `envconfig:"ENGINE_ORG_CONCURRENCY" default:"4" validate:"min=1,max=50"`
	DailyRunCron       string        `envconfig:"ENGINE_DAILY_RUN_CRON" default:"CRON_TZ=Europe/Paris 5 10 * * *"`
	ReminderSweepCron  string        `envconfig:"ENGINE_REMINDER_SWEEP_CRON" default:"@every 5m"`
	ReminderBatchSize  int           `envconfig:"ENGINE_REMINDER_BATCH_SIZE" default:"100" validate:"min=1"`
	JobLockTTL         time.Duration `envconfig:"ENGINE_JOB_LOCK_TTL" default:"30m"`
	DueScheduleLimit   int           `envconfig:"ENGINE_DUE_SCHEDULE_LIMIT" default:"5000" validate:"min=1"`
}

// EventsConfig selects the lifecycle event bus.
type EventsConfig struct {
	Backend  string       `envconfig:"EVENTS_BACKEND" default:"none" validate:"oneof=sqs rabbitmq none"`
	AMQPURL  SecretString `envconfig:"AMQP_URL" validate:"required_if=Backend rabbitmq"`
	Exchange string       `envconfig:"AMQP_EXCHANGE" default:"payretry.events"`
}

// SecurityConfig holds credentials for callers of the admin API.
type SecurityConfig struct {
	// bcrypt hash of the machine API key accepted in X-API-Key.
	APIKeyHash         SecretString `envconfig:"API_KEY_HASH" validate:"required"`
	JWTSecret          SecretString `envconfig:"JWT_SECRET" validate:"required,min=32"`
	JWTIssuer          string       `envconfig:"JWT_ISSUER" default:"payretry"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	DeliveryWebhookKey SecretString `envconfig:"DELIVERY_WEBHOOK_KEY"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a secret reference could not be resolved.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
