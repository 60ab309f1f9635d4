package config

import "time"

const (
	DefaultHTTPPort        = "8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultOutboxPoll      = 250 * time.Millisecond
	DefaultOutboxBatch     = 10
	DefaultPGMaxConns      = 10
	DefaultPGMinConns      = 1
	DefaultStreamMaxLen    = 100_000
	DefaultProbeInterval   = 5 * time.Second
)
