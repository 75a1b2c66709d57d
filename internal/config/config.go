package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// CORS origins allowed by the HTTP server
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Jobs      JobsConfig
	Realtime  RealtimeConfig
	Cache     CacheConfig
	Email     EmailConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
	Health    HealthConfig
	Otel      OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // 8 hours for SSE
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`  // 8 hours for SSE
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings. The database only backs
// the job archive, so it can be switched off entirely.
type DatabaseConfig struct {
	Enabled      bool          `env:"DATABASE_ENABLED" envDefault:"false"`
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"pilgrimops"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"pilgrimops"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"2"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	// AutoMigrate runs pending goose migrations at startup
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// RedisConfig holds the shared Redis used for the event relay and the cache.
// An empty address keeps everything in process memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:""`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	// PoolSize is the maximum number of socket connections
	PoolSize int `env:"REDIS_POOL_SIZE" envDefault:"10"`
}

// IsConfigured returns true if a Redis address is set
func (r *RedisConfig) IsConfigured() bool {
	return r.Addr != ""
}

// AuthConfig holds handshake token settings
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify HS256 tokens
	JWTSecret string `env:"AUTH_JWT_SECRET" envDefault:""`
	// Issuer, when set, must match the token iss claim
	Issuer string `env:"AUTH_JWT_ISSUER" envDefault:""`
	// Leeway tolerates clock skew on exp/nbf
	Leeway time.Duration `env:"AUTH_JWT_LEEWAY" envDefault:"30s"`
}

// JobsConfig holds queue broker settings
type JobsConfig struct {
	// QueuesFile optionally overrides the built-in queue topology (YAML)
	QueuesFile string `env:"JOBS_QUEUES_FILE" envDefault:""`
	// DefaultAttempts is the broker-wide max attempts
	DefaultAttempts int `env:"JOBS_DEFAULT_ATTEMPTS" envDefault:"3"`
	// BackoffDelay is the base delay of the default exponential backoff
	BackoffDelay time.Duration `env:"JOBS_BACKOFF_DELAY" envDefault:"5s"`
	// KeepCompleted is how many completed jobs stay inspectable per queue
	KeepCompleted int `env:"JOBS_KEEP_COMPLETED" envDefault:"100"`
	// KeepFailed is how many failed jobs stay inspectable per queue
	KeepFailed int `env:"JOBS_KEEP_FAILED" envDefault:"500"`
	// ProgressInterval throttles job.progress events per job
	ProgressInterval time.Duration `env:"JOBS_PROGRESS_INTERVAL" envDefault:"1s"`
	// ArchiveRetention is how long archived terminal jobs are kept
	ArchiveRetention time.Duration `env:"JOB_ARCHIVE_RETENTION" envDefault:"720h"`
}

// RealtimeConfig holds gateway settings
type RealtimeConfig struct {
	// HistorySize is the per-tenant replay buffer capacity
	HistorySize int `env:"REALTIME_HISTORY_SIZE" envDefault:"100"`
	// HeartbeatInterval is how often every connection is pinged
	HeartbeatInterval time.Duration `env:"REALTIME_HEARTBEAT_INTERVAL" envDefault:"30s"`
	// SendBuffer is the per-connection outbound queue length
	SendBuffer int `env:"REALTIME_SEND_BUFFER" envDefault:"64"`
	// OpsPerSecond limits client-initiated operations per connection
	OpsPerSecond float64 `env:"REALTIME_OPS_PER_SECOND" envDefault:"10"`
	// OpsBurst is the burst allowed above OpsPerSecond
	OpsBurst int `env:"REALTIME_OPS_BURST" envDefault:"20"`
	// RelayChannel is the Redis pub/sub channel for cross-instance delivery
	RelayChannel string `env:"REALTIME_RELAY_CHANNEL" envDefault:"realtime:events"`
	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin
	AllowedOrigins []string `env:"REALTIME_ALLOWED_ORIGINS" envSeparator:","`
}

// CacheConfig holds tenant cache settings
type CacheConfig struct {
	// KeyPrefix namespaces cache keys inside a shared Redis
	KeyPrefix string `env:"CACHE_KEY_PREFIX" envDefault:"cache:"`
	// DefaultTTL applies to resources without a specific TTL
	DefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"10m"`
}

// EmailConfig holds email service configuration
type EmailConfig struct {
	// Enabled determines if email sending is enabled
	Enabled bool `env:"EMAIL_ENABLED" envDefault:"false"`
	// MailgunDomain is the Mailgun domain
	MailgunDomain string `env:"MAILGUN_DOMAIN" envDefault:""`
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string `env:"MAILGUN_API_KEY" envDefault:""`
	// FromEmail is the default from email address
	FromEmail string `env:"EMAIL_FROM_ADDRESS" envDefault:"noreply@example.com"`
	// FromName is the default from name
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"PilgrimOps"`
}

// IsConfigured returns true if Mailgun is configured
func (e *EmailConfig) IsConfigured() bool {
	return e.MailgunDomain != "" && e.MailgunAPIKey != ""
}

// StorageConfig holds storage (MinIO/S3) configuration for report exports
type StorageConfig struct {
	// Endpoint is the MinIO/S3 endpoint URL
	Endpoint string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	// AccessKeyID is the access key ID
	AccessKeyID string `env:"MINIO_ACCESS_KEY" envDefault:""`
	// SecretAccessKey is the secret access key
	SecretAccessKey string `env:"MINIO_SECRET_KEY" envDefault:""`
	// Bucket is the bucket name
	Bucket string `env:"MINIO_BUCKET" envDefault:"pilgrimops-exports"`
	// UseSSL determines if SSL should be used
	UseSSL bool `env:"MINIO_USE_SSL" envDefault:"false"`
	// Region is the bucket region (for S3 compatibility)
	Region string `env:"MINIO_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// SchedulerConfig holds periodic task settings
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	// QueueGaugesSchedule refreshes per-queue state gauges (cron, seconds field)
	QueueGaugesSchedule string `env:"SCHEDULER_QUEUE_GAUGES" envDefault:"*/15 * * * * *"`
	// ArchivePruneSchedule prunes the job archive
	ArchivePruneSchedule string `env:"SCHEDULER_ARCHIVE_PRUNE" envDefault:"0 30 3 * * *"`
}

// HealthConfig controls the host pressure monitor reported by /health
type HealthConfig struct {
	MonitorEnabled  bool          `env:"HEALTH_MONITOR_ENABLED" envDefault:"true"`
	MonitorInterval time.Duration `env:"HEALTH_MONITOR_INTERVAL" envDefault:"30s"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.Bool("database", cfg.Database.Enabled),
		slog.Bool("redis", cfg.Redis.IsConfigured()),
		slog.Bool("tracing", cfg.Otel.Enabled()),
	)

	return cfg, nil
}
