package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Gateway and store ceilings that configuration may not exceed.
const (
	MaxGatewayBatchSize  = 500
	MaxFinalizeBatchSize = 450
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Push gateway
	GatewayURL       string
	GatewayTimeout   time.Duration
	GatewayRateLimit int // bulk calls per second, 0 = unlimited
	GatewayBatchSize int

	// Sharding and identity
	ShardCount int
	WorkerID   string

	// Leases
	LeaseTTL   time.Duration
	LockTTL    time.Duration
	StaleAfter time.Duration

	// Drain round sizing; each fan-out phase has its own cap
	TaskPageSize      int
	ExpandConcurrency int
	SendConcurrency   int
	DeleteConcurrency int
	FinalizeBatchSize int
	MaxAttempts       int // 0 = unlimited

	// Triggers
	TimerSchedule string
	TimerBudget   time.Duration
	KickBudget    time.Duration

	// Trigger credentials
	JWTPublicKeyPath string
	JWTKeyID         string
	JWTIssuer        string
	JWTAudience      string
	JWTKeyTTL        time.Duration
}

// Load reads the environment. Malformed values that would change how tasks
// are routed (SHARD_COUNT, TIMER_SCHEDULE) fail here rather than mid-drain.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	shardCount, err := ShardCount()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Minute),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		GatewayURL:       getEnv("GATEWAY_URL", "http://localhost:9090/v1/send-batch"),
		GatewayTimeout:   getDuration("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayRateLimit: getInt("GATEWAY_RATE_LIMIT", 20),
		GatewayBatchSize: clamp(getInt("GATEWAY_BATCH_SIZE", MaxGatewayBatchSize), 1, MaxGatewayBatchSize),

		ShardCount: shardCount,
		WorkerID:   getEnv("WORKER_ID", defaultWorkerID()),

		LeaseTTL:   getDuration("LEASE_TTL", 2*time.Minute),
		LockTTL:    getDuration("LOCK_TTL", 2*time.Minute),
		StaleAfter: getDuration("STALE_AFTER", 30*time.Minute),

		TaskPageSize:      clamp(getInt("TASK_PAGE_SIZE", 200), 1, 500),
		ExpandConcurrency: clamp(getInt("EXPAND_CONCURRENCY", 10), 1, 100),
		SendConcurrency:   clamp(getInt("SEND_CONCURRENCY", 4), 1, 50),
		DeleteConcurrency: clamp(getInt("DELETE_CONCURRENCY", 30), 1, 100),
		FinalizeBatchSize: clamp(getInt("FINALIZE_BATCH_SIZE", 100), 1, MaxFinalizeBatchSize),
		MaxAttempts:       getInt("MAX_ATTEMPTS", 5),

		TimerSchedule: getEnv("TIMER_SCHEDULE", "*/5 * * * *"),
		TimerBudget:   getDuration("TIMER_BUDGET", 8*time.Minute+30*time.Second),
		KickBudget:    getDuration("KICK_BUDGET", 60*time.Second),

		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "./ed25519_public.pem"),
		JWTKeyID:         getEnv("JWT_KID", "k1"),
		JWTIssuer:        getEnv("JWT_ISSUER", "my-issuer"),
		JWTAudience:      getEnv("JWT_AUDIENCE", "push-kick"),
		JWTKeyTTL:        getDuration("JWT_KEY_TTL", 10*time.Minute),
	}

	if _, err := cron.ParseStandard(cfg.TimerSchedule); err != nil {
		return nil, fmt.Errorf("TIMER_SCHEDULE %q: %w", cfg.TimerSchedule, err)
	}

	return cfg, nil
}

// ShardCount parses SHARD_COUNT strictly; producers and workers must agree
// on it, so a bad value is an error instead of a silent default.
func ShardCount() (int, error) {
	v := os.Getenv("SHARD_COUNT")
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("SHARD_COUNT %q is not an integer: %w", v, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("SHARD_COUNT must be at least 1, got %d", n)
	}
	return n, nil
}

// defaultWorkerID prefers the Cloud Run revision, like the deployed worker.
func defaultWorkerID() string {
	if rev := os.Getenv("K_REVISION"); rev != "" {
		return rev
	}
	return "local-" + uuid.NewString()[:8]
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
