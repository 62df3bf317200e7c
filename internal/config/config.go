// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration knobs for the store, the queue consumer,
// the HTTP server and workers.
type Config struct {
	HTTPAddr                string
	ShutdownTimeout         time.Duration
	InitialWorkerCount      int
	WorkerMin               int
	WorkerMax               int
	ScaleInterval           time.Duration
	ScaleUpBacklogPerWorker int
	ScaleDownIdleTicks      int
	QueueHighWatermark      int

	// StoreBackend is "redis" or "memory".
	StoreBackend      string
	RedisURL          string
	QueueName         string
	ConsumeEnabled    bool
	DeadLetterEnabled bool
	BatchedReads      bool
	LockStripes       int
	LogLevel          string

	// ConsumeBlockTimeout bounds each blocking pop. Redis takes whole
	// seconds here, so values under 1s are raised to 1s.
	ConsumeBlockTimeout time.Duration
}

// DeadLetterQueue is the list failed payloads are pushed to.
func (c Config) DeadLetterQueue() string { return c.QueueName + ":failed" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	minWorkers := atoienv("WORKER_MIN", 3)
	maxWorkers := atoienv("WORKER_MAX", 8)
	initialWorkers := atoienv("WORKER_COUNT", minWorkers)
	return Config{
		HTTPAddr:                getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:         durenvs("SHUTDOWN_TIMEOUT", 15),
		InitialWorkerCount:      initialWorkers,
		WorkerMin:               minWorkers,
		WorkerMax:               maxWorkers,
		ScaleInterval:           durenvms("SCALE_INTERVAL_MS", 500),
		ScaleUpBacklogPerWorker: atoienv("SCALE_UP_BACKLOG_PER_WORKER", 100),
		ScaleDownIdleTicks:      atoienv("SCALE_DOWN_IDLE_TICKS", 6),
		QueueHighWatermark:      atoienv("QUEUE_HIGH_WATERMARK", 5000),

		StoreBackend:        strings.ToLower(getenv("STORE_BACKEND", "redis")),
		RedisURL:            getenv("REDIS_URL", "redis://localhost:6379/0"),
		QueueName:           getenv("QUEUE_NAME", "aggr-data-change-queue"),
		ConsumeEnabled:      boolenv("CONSUME_ENABLED", true),
		ConsumeBlockTimeout: durenvms("CONSUME_BLOCK_TIMEOUT_MS", 1000),
		DeadLetterEnabled:   boolenv("DEAD_LETTER_ENABLED", true),
		BatchedReads:        boolenv("BATCHED_READS", false),
		LockStripes:         atoienv("LOCK_STRIPES", 256),
		LogLevel:            getenv("LOG_LEVEL", "info"),
	}
}
