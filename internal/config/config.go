package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Gateway   GatewayConfig
	Webhook   WebhookConfig
	AutoClose AutoCloseConfig
	Restart   RestartConfig
	Media     MediaConfig
	Broker    BrokerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	DedupeTTLHours int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// GatewayConfig points at the messaging gateway REST API.
type GatewayConfig struct {
	BaseURL               string
	APIKey                string
	TimeoutSeconds        int
	RetryCount            int
	StatusCacheSeconds    int
	WebhookPublicEndpoint string
}

// WebhookConfig controls the inbound webhook endpoint.
type WebhookConfig struct {
	Path   string
	Secret string
}

// AutoCloseConfig drives the idle ticket sweeper.
type AutoCloseConfig struct {
	Enabled     bool
	Schedule    string
	IdleMinutes int
}

// RestartConfig bounds the restart-all fan-out.
type RestartConfig struct {
	PoolSize int
}

// MediaConfig enables archiving inbound media in S3 compatible storage.
type MediaConfig struct {
	ArchiveEnabled bool
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	PathStyle      bool
	PublicURL      string
}

// BrokerConfig publishes domain events to RabbitMQ when URL is set.
type BrokerConfig struct {
	URL   string
	Queue string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "whatsapp-helpdesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:       os.Getenv("REDIS_PASSWORD"),
			DB:             redisDB,
			DedupeTTLHours: getEnvAsInt("REDIS_DEDUPE_TTL_HOURS", 72),
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 14),
		},
		Auth: AuthConfig{
			JWTSecret:             os.Getenv("AUTH_JWT_SECRET"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Gateway: GatewayConfig{
			BaseURL:               strings.TrimRight(os.Getenv("EVOLUTION_API_URL"), "/"),
			APIKey:                os.Getenv("EVOLUTION_API_KEY"),
			TimeoutSeconds:        getEnvAsInt("EVOLUTION_API_TIMEOUT_SECONDS", 15),
			RetryCount:            getEnvAsInt("EVOLUTION_API_RETRY_COUNT", 0),
			StatusCacheSeconds:    getEnvAsInt("EVOLUTION_STATUS_CACHE_SECONDS", 2),
			WebhookPublicEndpoint: os.Getenv("WEBHOOK_PUBLIC_URL"),
		},
		Webhook: WebhookConfig{
			Path:   getEnv("WEBHOOK_PATH", "/webhook"),
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
		AutoClose: AutoCloseConfig{
			Enabled:     getEnvAsBool("AUTO_CLOSE_ENABLED", true),
			Schedule:    getEnv("AUTO_CLOSE_SCHEDULE", "@every 5m"),
			IdleMinutes: getEnvAsInt("AUTO_CLOSE_IDLE_MINUTES", 1440),
		},
		Restart: RestartConfig{
			PoolSize: getEnvAsInt("RESTART_POOL_SIZE", 8),
		},
		Media: MediaConfig{
			ArchiveEnabled: getEnvAsBool("MEDIA_ARCHIVE_ENABLED", false),
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			Region:         getEnv("S3_REGION", "us-east-1"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			PathStyle:      getEnvAsBool("S3_PATH_STYLE", false),
			PublicURL:      strings.TrimRight(os.Getenv("S3_PUBLIC_URL"), "/"),
		},
		Broker: BrokerConfig{
			URL:   os.Getenv("RABBITMQ_URL"),
			Queue: getEnv("RABBITMQ_QUEUE", "helpdesk_events"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.App.Env == "production" && c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required in production")
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "dev-secret"
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		c.Webhook.Path = "/" + c.Webhook.Path
	}
	if c.Media.ArchiveEnabled && c.Media.Bucket == "" {
		return errors.New("S3_BUCKET is required when MEDIA_ARCHIVE_ENABLED is set")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the per-request gateway timeout.
func (g GatewayConfig) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// StatusCacheTTL returns how long a polled connection state is reused.
func (g GatewayConfig) StatusCacheTTL() time.Duration {
	if g.StatusCacheSeconds <= 0 {
		return 0
	}
	return time.Duration(g.StatusCacheSeconds) * time.Second
}

// DedupeTTL returns how long processed webhook message ids are remembered.
func (r RedisConfig) DedupeTTL() time.Duration {
	if r.DedupeTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.DedupeTTLHours) * time.Hour
}

// IdleTimeout returns the inactivity window after which tickets auto-close.
func (a AutoCloseConfig) IdleTimeout() time.Duration {
	if a.IdleMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.IdleMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
