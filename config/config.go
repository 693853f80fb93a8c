package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig
	HTTP        ServerConfig
	MySQL       MySQLConfig
	Log         LogConfig
	Gateway     GatewayConfig
	Fulfillment FulfillmentConfig
	RateLimit   RateLimitConfig
	Jobs        JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type GatewayConfig struct {
	WebhookSecret             string
	SecondaryWebhookSecret    string
	SignatureToleranceSeconds int64
}

type FulfillmentConfig struct {
	IdempotencyTTL          time.Duration
	DeliveryRetention       time.Duration
	DeferredMaxAttempts     int32
	DeferredRetryInterval   time.Duration
	NotificationEndpoint    string
	NotificationMaxAttempts int32
	NotificationRetryBase   time.Duration
	NotificationMaxBackoff  time.Duration
	NotificationHTTPTimeout time.Duration
	JobBatchSize            int32
}

type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

type JobsConfig struct {
	NotificationDispatchInterval time.Duration
	DeferredReprocessInterval    time.Duration
	IdempotencyPruneInterval     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "fulfillment-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Gateway: GatewayConfig{
			WebhookSecret:             getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			SecondaryWebhookSecret:    getEnv("GATEWAY_WEBHOOK_SECRET_SECONDARY", ""),
			SignatureToleranceSeconds: int64(getIntEnv("GATEWAY_SIGNATURE_TOLERANCE_SECONDS", 300)),
		},
		Fulfillment: FulfillmentConfig{
			IdempotencyTTL:          getHoursEnv("FULFILLMENT_IDEMPOTENCY_TTL_HOURS", 48*time.Hour),
			DeliveryRetention:       getHoursEnv("FULFILLMENT_DELIVERY_RETENTION_HOURS", 720*time.Hour),
			DeferredMaxAttempts:     int32(getIntEnv("FULFILLMENT_DEFERRED_MAX_ATTEMPTS", 10)),
			DeferredRetryInterval:   getMinutesEnv("FULFILLMENT_DEFERRED_RETRY_INTERVAL_MINUTES", time.Minute),
			NotificationEndpoint:    getEnv("FULFILLMENT_NOTIFICATION_ENDPOINT", ""),
			NotificationMaxAttempts: int32(getIntEnv("FULFILLMENT_NOTIFY_MAX_ATTEMPTS", 10)),
			NotificationRetryBase:   getSecondsEnv("FULFILLMENT_NOTIFY_RETRY_BASE_SECONDS", 30*time.Second),
			NotificationMaxBackoff:  getMinutesEnv("FULFILLMENT_NOTIFY_MAX_BACKOFF_MINUTES", 30*time.Minute),
			NotificationHTTPTimeout: getSecondsEnv("FULFILLMENT_NOTIFY_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			JobBatchSize:            int32(getIntEnv("FULFILLMENT_JOB_BATCH_SIZE", 100)),
		},
		RateLimit: RateLimitConfig{
			Window:      getSecondsEnv("WEBHOOK_RATE_LIMIT_WINDOW_SECONDS", time.Minute),
			MaxRequests: getIntEnv("WEBHOOK_RATE_LIMIT_MAX_REQUESTS", 120),
		},
		Jobs: JobsConfig{
			NotificationDispatchInterval: getMinutesEnv("FULFILLMENT_NOTIFY_DISPATCH_INTERVAL_MINUTES", time.Minute),
			DeferredReprocessInterval:    getMinutesEnv("FULFILLMENT_DEFERRED_REPROCESS_INTERVAL_MINUTES", time.Minute),
			IdempotencyPruneInterval:     getMinutesEnv("FULFILLMENT_IDEMPOTENCY_PRUNE_INTERVAL_MINUTES", 60*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getHoursEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if hours, err := strconv.Atoi(value); err == nil {
			return time.Duration(hours) * time.Hour
		}
	}
	return defaultValue
}
