package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.False(t, cfg.UsesPostgres())
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, "* * * * *", cfg.RFQSweepCron)
	require.Equal(t, "10", cfg.LowStockThreshold.String())
}

func TestLoadConfigRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("PG_DSN", "")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "PG_DSN")

	t.Setenv("PG_DSN", "postgres://orderflow@localhost/orderflow")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.UsesPostgres())
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "STORE_BACKEND")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
