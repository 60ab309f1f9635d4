package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Common
	Env      string
	LogLevel string
	// API
	Port           string
	RequestTimeout time.Duration
	// Storage
	Storage         string
	DatabaseURL     string
	SQLitePath      string
	Nesting         string
	RollbackTimeout time.Duration
	// gRPC health
	GRPCAddr string
	// Redis (idempotency, event stream)
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	IdempotencyBackend string
	IdempotencyTTL     time.Duration
	// Outbox relay
	OutboxRelay  string
	Publisher    string
	OutboxStream string
	WebhookURL   string
	OutboxPoll   time.Duration
	OutboxBatch  int
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiDef(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func msDef(key string, def int) time.Duration {
	return time.Duration(atoiDef(getEnv(key, ""), def)) * time.Millisecond
}

// Load reads environment variables and applies defaults.
func Load() Config {
	return Config{
		Env:                getEnv("ENV", "local"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnv("PORT", "8080"),
		RequestTimeout:     msDef("REQUEST_TIMEOUT_MS", 3000),
		Storage:            getEnv("STORAGE", "pg"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "data/ledger.db"),
		Nesting:            getEnv("NESTING", "join"),
		RollbackTimeout:    msDef("TX_ROLLBACK_TIMEOUT_MS", 5000),
		GRPCAddr:           getEnv("GRPC_ADDR", ":9090"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            atoiDef(getEnv("REDIS_DB", "0"), 0),
		IdempotencyBackend: getEnv("IDEMPOTENCY_BACKEND", "none"),
		IdempotencyTTL:     msDef("IDEMPOTENCY_TTL_MS", 86400000),
		OutboxRelay:        getEnv("OUTBOX_RELAY", "worker"),
		Publisher:          getEnv("PUBLISHER", "log"),
		OutboxStream:       getEnv("OUTBOX_STREAM", "ledger.events"),
		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		OutboxPoll:         msDef("OUTBOX_POLL_MS", 250),
		OutboxBatch:        atoiDef(getEnv("OUTBOX_BATCH_LIMIT", "10"), 10),
	}
}
