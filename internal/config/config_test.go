package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchex/internal/apperrors"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New("node-a")
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Instance)
	assert.Equal(t, Memory, cfg.StorageDriver)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, DefaultVisibility, cfg.Visibility)
	assert.Equal(t, DefaultStaleBound, cfg.StaleBound)
	assert.Equal(t, DefaultWorkerCount, cfg.WorkerCount)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.False(t, cfg.HTTPEnabled)
	assert.Nil(t, cfg.RedisConfig)
	assert.Nil(t, cfg.RabbitMQConfig)
}

func TestNew_RequiresInstance(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "instance name is required")
}

func TestNew_AppliesOptions(t *testing.T) {
	cfg, err := New("node-a",
		WithPostgres(PostgresConfig{ConnectionUrl: "postgres://localhost/orchex"}),
		WithRedisLock(RedisConfig{Address: "localhost:6379"}),
		WithHTTP(8090),
		WithTickInterval(10*time.Second),
		WithVisibility(2*time.Minute),
		WithStaleBound(6*time.Hour),
		WithWorkerCount(3),
		WithBatchSize(25),
	)
	require.NoError(t, err)

	assert.Equal(t, Postgres, cfg.StorageDriver)
	assert.Equal(t, "postgres://localhost/orchex", cfg.PostgresConfig.ConnectionUrl)
	require.NotNil(t, cfg.RedisConfig)
	assert.Equal(t, "localhost:6379", cfg.RedisConfig.Address)
	assert.True(t, cfg.HTTPEnabled)
	assert.Equal(t, uint(8090), cfg.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.TickInterval)
	assert.Equal(t, 2*time.Minute, cfg.Visibility)
	assert.Equal(t, 6*time.Hour, cfg.StaleBound)
	assert.Equal(t, 3, cfg.WorkerCount)
	assert.Equal(t, 25, cfg.BatchSize)
	require.NoError(t, cfg.Validate())
}

func TestNew_CollectsEveryFailingOption(t *testing.T) {
	_, err := New("node-a",
		WithPostgres(PostgresConfig{}),
		WithHTTP(0),
		WithTickInterval(100*time.Millisecond),
		WithStaleBound(30*time.Second),
		WithWorkerCount(0),
	)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	msg := err.Error()
	assert.Contains(t, msg, "postgres: connection URL is required")
	assert.Contains(t, msg, "http port must be positive")
	assert.Contains(t, msg, "tick interval must be at least one second")
	assert.Contains(t, msg, "stale bound must be at least one minute")
	assert.Contains(t, msg, "worker count must be positive")
}

func TestValidate_PostgresDriverNeedsConnectionURL(t *testing.T) {
	cfg, err := New("node-a")
	require.NoError(t, err)

	cfg.StorageDriver = Postgres
	assert.Error(t, cfg.Validate())

	cfg.PostgresConfig.ConnectionUrl = "postgres://localhost/orchex"
	assert.NoError(t, cfg.Validate())
}

func TestStorageDriver_Valid(t *testing.T) {
	assert.True(t, Postgres.Valid())
	assert.True(t, Memory.Valid())
	assert.False(t, StorageDriver("sqlite").Valid())
}
