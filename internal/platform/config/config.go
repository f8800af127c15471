package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platstrings "meridian/pkg/platform/strings"
)

// Config is the full application configuration, built once in main.
type Config struct {
	Server     Server
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Projection ProjectionConfig
	Message    MessageConfig

	// Tenants is the static tenant set the dispatcher sweeps and the
	// bootstrap seeder provisions.
	Tenants []string

	// SeedTemplates provisions a default template per tenant at startup.
	SeedTemplates bool
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// PostgresConfig holds the event store connection settings. An empty DSN
// selects the in-memory event log.
type PostgresConfig struct {
	DSN          string
	PollInterval time.Duration
}

// RedisConfig holds projection cache settings. An empty URL keeps
// projections in process memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds event relay settings. No brokers means no relay.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ProjectionConfig tunes the catch-up supervision loop.
type ProjectionConfig struct {
	RestartBackoff time.Duration
}

// MessageConfig holds message lifecycle and dispatch policy.
type MessageConfig struct {
	MaxRetries       int
	DispatchInterval time.Duration
	DispatchBatch    int
}

// FromEnv builds the configuration from environment variables so main
// stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envOr("MERIDIAN_ADDR", ":8080"),
		},
		Postgres: PostgresConfig{
			DSN:          os.Getenv("MERIDIAN_POSTGRES_DSN"),
			PollInterval: envDuration("MERIDIAN_POSTGRES_POLL_INTERVAL", 250*time.Millisecond),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("MERIDIAN_REDIS_URL"),
			PoolSize:     envInt("MERIDIAN_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("MERIDIAN_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("MERIDIAN_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("MERIDIAN_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("MERIDIAN_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envHostList("MERIDIAN_KAFKA_BROKERS"),
			Topic:   os.Getenv("MERIDIAN_KAFKA_TOPIC"),
		},
		Projection: ProjectionConfig{
			RestartBackoff: envDuration("MERIDIAN_PROJECTION_RESTART_BACKOFF", 5*time.Second),
		},
		Message: MessageConfig{
			MaxRetries:       envInt("MERIDIAN_MESSAGE_MAX_RETRIES", 5),
			DispatchInterval: envDuration("MERIDIAN_DISPATCH_INTERVAL", 10*time.Second),
			DispatchBatch:    envInt("MERIDIAN_DISPATCH_BATCH", 100),
		},
		Tenants:       envList("MERIDIAN_TENANTS"),
		SeedTemplates: os.Getenv("MERIDIAN_SEED_TEMPLATES") == "true",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return platstrings.DedupeAndTrim(strings.Split(v, ","))
}

// envHostList is envList with case folding; hostnames are case-insensitive.
func envHostList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return platstrings.DedupeAndTrimLower(strings.Split(v, ","))
}
