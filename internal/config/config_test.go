package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"POSTGRES_DSN", "MASTER_LIST_POLL_INTERVAL_S", "MASTER_LIST_MAX_BACKOFF_S",
		"POLL_INTERVAL_ACTIVE_S", "POLL_INTERVAL_EMPTY_S", "POLL_INTERVAL_OFFLINE_S",
		"OFFLINE_FAILURE_THRESHOLD", "SERVER_QUERY_TIMEOUT_S", "WORKER_COUNT",
		"LOG_LEVEL", "LOG_FORMAT", "MASTER_LIST_URL",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("POSTGRES_DSN", "postgres://localhost/scout")
	defer os.Unsetenv("POSTGRES_DSN")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 60, cfg.MasterListPollIntervalS)
	require.Equal(t, 300, cfg.MasterListMaxBackoffS)
	require.Equal(t, 20, cfg.PollIntervalActiveS)
	require.Equal(t, 180, cfg.PollIntervalEmptyS)
	require.Equal(t, 900, cfg.PollIntervalOfflineS)
	require.Equal(t, 3, cfg.OfflineFailureThreshold)
	require.Equal(t, 4.0, cfg.ServerQueryTimeoutS)
	require.Equal(t, 200, cfg.WorkerCount)
}

func TestLoadRequiresDSN(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsBadBackoff(t *testing.T) {
	cfg := Config{
		PostgresDSN:             "postgres://x",
		MasterListPollIntervalS: 60,
		MasterListMaxBackoffS:   10,
		PollIntervalActiveS:     20,
		PollIntervalEmptyS:      180,
		PollIntervalOfflineS:    900,
		OfflineFailureThreshold: 3,
		ServerQueryTimeoutS:     4,
		WorkerCount:             10,
	}
	require.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{ServerQueryTimeoutS: 4.0, PollIntervalActiveS: 20}
	require.Equal(t, int64(4_000_000_000), cfg.QueryTimeout().Nanoseconds())
	require.Equal(t, int64(20_000_000_000), cfg.PollIntervalActive().Nanoseconds())
}
