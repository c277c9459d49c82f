package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/push-worker/internal/config"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/push")
	t.Setenv("SHARD_COUNT", "")
	t.Setenv("WORKER_ID", "")
	t.Setenv("K_REVISION", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.ShardCount)
	assert.Equal(t, 2*time.Minute, cfg.LeaseTTL)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)
	assert.Equal(t, 30*time.Minute, cfg.StaleAfter)
	assert.Equal(t, 500, cfg.GatewayBatchSize)
	assert.Equal(t, 200, cfg.TaskPageSize)
	assert.Equal(t, 10, cfg.ExpandConcurrency)
	assert.Equal(t, 30, cfg.DeleteConcurrency)
	assert.Equal(t, 100, cfg.FinalizeBatchSize)
	assert.Equal(t, 8*time.Minute+30*time.Second, cfg.TimerBudget)
	assert.True(t, strings.HasPrefix(cfg.WorkerID, "local-"))
}

func TestLoad_WorkerIDFromRevision(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/push")
	t.Setenv("WORKER_ID", "")
	t.Setenv("K_REVISION", "push-worker-00042")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "push-worker-00042", cfg.WorkerID)
}

func TestLoad_ClampsCeilings(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/push")
	t.Setenv("GATEWAY_BATCH_SIZE", "2000")
	t.Setenv("FINALIZE_BATCH_SIZE", "1000")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.MaxGatewayBatchSize, cfg.GatewayBatchSize)
	assert.Equal(t, config.MaxFinalizeBatchSize, cfg.FinalizeBatchSize)
}

func TestLoad_ShardCountFailsFast(t *testing.T) {
	for _, v := range []string{"abc", "0", "-2", "1.5"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/push")
			t.Setenv("SHARD_COUNT", v)
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_ShardCount(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/push")
	t.Setenv("SHARD_COUNT", "20")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.ShardCount)
}

func TestLoad_RejectsBadSchedule(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/push")
	t.Setenv("TIMER_SCHEDULE", "every five minutes")
	_, err := config.Load()
	require.Error(t, err)
}
