package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Storage     StorageConfig
	Queue       QueueConfig
	Pipeline    PipelineConfig
	Quota       QuotaConfig
	Transcriber TranscriberConfig
	Payments    PaymentsConfig
	Auth        AuthConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	Tracing     TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	ExportBucket    string
	Region          string
	UseSSL          bool
	URLExpiry       time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Prefetch int
}

// PipelineConfig holds request pipeline limits
type PipelineConfig struct {
	MaxFileSize           int64
	TempDir               string
	FFprobePath           string
	RejectUnknownDuration bool
	InlineTextLimit       int
	SubmissionsPerMinute  int64
	ResultTTL             time.Duration
}

// QuotaConfig holds quota ledger settings
type QuotaConfig struct {
	Timezone             string
	ReferralBonusMinutes float64
	HoldTTL              time.Duration
}

// TranscriberConfig holds the speech backend settings
type TranscriberConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries uint
}

// PaymentsConfig holds manual payment settings
type PaymentsConfig struct {
	ExchangeRate float64
	Method       string
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	JWTSecret string
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the metrics server settings
type MetricsConfig struct {
	Port int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that would break the quota ledger or the pipeline
func (c *Config) Validate() error {
	if _, err := c.Quota.Location(); err != nil {
		return err
	}
	if c.Pipeline.MaxFileSize <= 0 {
		return fmt.Errorf("pipeline.maxFileSize must be positive")
	}
	if c.Quota.ReferralBonusMinutes < 0 {
		return fmt.Errorf("quota.referralBonusMinutes must not be negative")
	}
	if c.Quota.HoldTTL <= 0 {
		return fmt.Errorf("quota.holdTTL must be positive")
	}
	return nil
}

// Location returns the timezone daily resets are computed in
func (q QuotaConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimitRPS", 20)
	v.SetDefault("server.rateLimitBurst", 40)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "transcribe")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "media")
	v.SetDefault("storage.exportBucket", "exports")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlExpiry", "1h")

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.prefetch", 2)

	// Pipeline defaults
	v.SetDefault("pipeline.maxFileSize", 25*1024*1024) // 25MB
	v.SetDefault("pipeline.tempDir", "/tmp/transcribe")
	v.SetDefault("pipeline.ffprobePath", "ffprobe")
	v.SetDefault("pipeline.rejectUnknownDuration", false)
	v.SetDefault("pipeline.inlineTextLimit", 4000)
	v.SetDefault("pipeline.submissionsPerMinute", 10)
	v.SetDefault("pipeline.resultTTL", "24h")

	// Quota defaults
	v.SetDefault("quota.timezone", "UTC")
	v.SetDefault("quota.referralBonusMinutes", 30)
	v.SetDefault("quota.holdTTL", "30m")

	// Transcriber defaults
	v.SetDefault("transcriber.url", "http://localhost:8387")
	v.SetDefault("transcriber.timeout", "10m")
	v.SetDefault("transcriber.maxRetries", 3)

	// Payments defaults
	v.SetDefault("payments.exchangeRate", 31.2)
	v.SetDefault("payments.method", "bank_transfer")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "transcribe")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
}
