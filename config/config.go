package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Event sink configuration
	EventSink          string // pubnub | nats | none
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	NATSURL            string
	NATSName           string

	// Persistence configuration
	Persist            string // redis | none
	PersistBufferSize  int
	PersistRetryPeriod time.Duration

	// Scheduler configuration
	SchedulerTickInterval  time.Duration
	PositionUpdateInterval time.Duration
	ReaperInterval         time.Duration
	MaxSchedulerWorkers    int

	// Engine configuration
	LockWaitTimeout     time.Duration
	ReleaseClaimTimeout time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Event sink
		EventSink:          getEnv("EVENT_SINK", "none"),
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		NATSURL:            getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NATSName:           getEnv("NATS_NAME", "queue-admission"),

		// Persistence
		Persist:            getEnv("PERSIST", "redis"),
		PersistBufferSize:  getEnvAsInt("PERSIST_BUFFER_SIZE", 1024),
		PersistRetryPeriod: getEnvAsDuration("PERSIST_RETRY_PERIOD", "5s"),

		// Scheduler. The tick must stay shorter than one release unit at
		// the slowest configured rate so fractional releases accumulate.
		SchedulerTickInterval:  getEnvAsDuration("SCHEDULER_TICK_INTERVAL", "5s"),
		PositionUpdateInterval: getEnvAsDuration("POSITION_UPDATE_INTERVAL", "2s"),
		ReaperInterval:         getEnvAsDuration("REAPER_INTERVAL", "15s"),
		MaxSchedulerWorkers:    getEnvAsInt("MAX_SCHEDULER_WORKERS", 8),

		// Engine
		LockWaitTimeout:     getEnvAsDuration("LOCK_WAIT_TIMEOUT", "2s"),
		ReleaseClaimTimeout: getEnvAsDuration("RELEASE_CLAIM_TIMEOUT", "5m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
