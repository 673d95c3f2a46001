// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName string
	Env         string
	LogLevel    string
	LogFile     string

	HTTPAddr        string
	HealthAddr      string
	ShutdownTimeout time.Duration

	DatabaseURL string
	MongoURI    string
	MongoDB     string

	JWTSecret string

	WebhookSecret   string
	PaymentProvider string

	LowStockThreshold int
	IdempotencyLease  time.Duration

	NotifyTransport  string
	RedisURL         string
	KafkaBrokers     []string
	KafkaNotifyTopic string
}

const (
	TransportLog   = "log"
	TransportRedis = "redis"
	TransportKafka = "kafka"
)

// Load reads the environment. Malformed numbers and durations are errors;
// missing values take their defaults.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		ServiceName:      get("SERVICE_NAME", "nxtmarket"),
		Env:              get("ENV", "dev"),
		LogLevel:         get("LOG_LEVEL", "info"),
		LogFile:          get("LOG_FILE", ""),
		HTTPAddr:         get("HTTP_ADDR", ":5000"),
		HealthAddr:       get("HEALTH_ADDR", ":5001"),
		DatabaseURL:      get("DATABASE_URL", ""),
		MongoURI:         get("MONGO_URI", ""),
		MongoDB:          get("MONGO_DB", "nxtmarket"),
		JWTSecret:        get("JWT_SECRET", "change_me"),
		PaymentProvider:  get("PAYMENTS_PROVIDER", "stub"),
		NotifyTransport:  strings.ToLower(get("NOTIFY_TRANSPORT", TransportLog)),
		RedisURL:         get("REDIS_URL", "redis://localhost:6379/0"),
		KafkaNotifyTopic: get("KAFKA_NOTIFY_TOPIC", "marketplace.notifications"),
	}
	cfg.WebhookSecret = get("PAYMENTS_WEBHOOK_SECRET", cfg.JWTSecret)

	for _, b := range strings.Split(get("KAFKA_BROKERS", ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.LowStockThreshold, err = strconv.Atoi(get("LOW_STOCK_THRESHOLD", "5")); err != nil {
		return Config{}, fmt.Errorf("config: LOW_STOCK_THRESHOLD: %w", err)
	}
	if cfg.IdempotencyLease, err = time.ParseDuration(get("IDEMPOTENCY_LEASE", "30s")); err != nil {
		return Config{}, fmt.Errorf("config: IDEMPOTENCY_LEASE: %w", err)
	}
	if cfg.ShutdownTimeout, err = time.ParseDuration(get("SHUTDOWN_TIMEOUT", "10s")); err != nil {
		return Config{}, fmt.Errorf("config: SHUTDOWN_TIMEOUT: %w", err)
	}

	switch cfg.NotifyTransport {
	case TransportLog, TransportRedis:
	case TransportKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("config: NOTIFY_TRANSPORT=kafka requires KAFKA_BROKERS")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown NOTIFY_TRANSPORT %q", cfg.NotifyTransport)
	}

	return cfg, nil
}
