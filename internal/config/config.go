// Package config holds the process configuration for the eventbell services.
// It is read once at startup from the environment (with .env and SSM
// Parameter Store as lower-priority sources) and never mutated afterward.
package config

import (
	"time"

	"eventbell/internal/types"
)

// SecretString is re-exported so config structs read naturally.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the section
// they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"eventbell"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Messaging     MessagingConfig
	Schedule      ScheduleConfig
	Dispatcher    DispatcherConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	MaxBodyBytes   int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	// Per-tenant request pacing on /v1/tenants and /v1/webhooks.
	TenantRatePerSecond float64 `envconfig:"API_TENANT_RATE_PER_SECOND" default:"10" validate:"gte=0"`
	TenantRateBurst     int     `envconfig:"API_TENANT_RATE_BURST" default:"20" validate:"gte=0"`
}

// DatabaseConfig holds the Postgres connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig is used for SSM resolution and CloudWatch metrics.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"ap-northeast-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"` // LocalStack
}

// MessagingConfig configures the chat-platform push client.
type MessagingConfig struct {
	BaseURL string `envconfig:"MESSAGING_BASE_URL" default:"https://api.line.me" validate:"required,url"`
	// Used when a tenant's own credentials cannot be resolved.
	DefaultChannelToken  SecretString  `envconfig:"MESSAGING_DEFAULT_TOKEN"`
	DefaultChannelSecret SecretString  `envconfig:"MESSAGING_DEFAULT_SECRET"`
	Timeout              time.Duration `envconfig:"MESSAGING_TIMEOUT" default:"10s"`
	MaxAttempts          int           `envconfig:"MESSAGING_MAX_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	RetryBaseWait        time.Duration `envconfig:"MESSAGING_RETRY_BASE_WAIT" default:"1s"`
	RetryMaxWait         time.Duration `envconfig:"MESSAGING_RETRY_MAX_WAIT" default:"30s"`
	RatePerSecond        float64       `envconfig:"MESSAGING_RATE_PER_SECOND" default:"20" validate:"gt=0"`
	CredentialCacheTTL   time.Duration `envconfig:"TENANT_CREDENTIAL_CACHE_TTL" default:"1m"`
}

// ScheduleConfig configures fire-time computation.
type ScheduleConfig struct {
	// Single zone for the whole system; tenants do not override it.
	Timezone string `envconfig:"LOCAL_TIMEZONE" default:"Asia/Tokyo" validate:"required,timezone"`
}

// Location loads the configured zone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DispatcherConfig configures the due-record poller.
type DispatcherConfig struct {
	BatchLimit  int           `envconfig:"DISPATCH_BATCH_LIMIT" default:"100" validate:"min=1,max=100"`
	Schedule    string        `envconfig:"DISPATCH_SCHEDULE" default:"@every 5m" validate:"required"`
	MaxFailures int           `envconfig:"DISPATCH_MAX_FAILURES" default:"5" validate:"min=1"`
	ClaimLease  time.Duration `envconfig:"DISPATCH_CLAIM_LEASE" default:"15m"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"EventBell"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
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
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
