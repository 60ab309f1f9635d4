package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"STORAGE", "NESTING", "OUTBOX_POLL_MS", "PUBLISHER", "OUTBOX_RELAY"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	require.Equal(t, "pg", cfg.Storage)
	require.Equal(t, "join", cfg.Nesting)
	require.Equal(t, 250*time.Millisecond, cfg.OutboxPoll)
	require.Equal(t, "log", cfg.Publisher)
	require.Equal(t, "worker", cfg.OutboxRelay)
	require.Equal(t, 5*time.Second, cfg.RollbackTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE", "sqlite")
	t.Setenv("NESTING", "savepoint")
	t.Setenv("OUTBOX_BATCH_LIMIT", "25")
	t.Setenv("REQUEST_TIMEOUT_MS", "not-a-number")
	cfg := Load()
	require.Equal(t, "sqlite", cfg.Storage)
	require.Equal(t, "savepoint", cfg.Nesting)
	require.Equal(t, 25, cfg.OutboxBatch)
	require.Equal(t, 3*time.Second, cfg.RequestTimeout)
}
