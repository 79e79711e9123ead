package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "LOCK_BACKEND", "STORE_TIMEOUT", "STAGNATION_WINDOW",
		"STAGNATION_SPEED_THRESHOLD", "STAGNATION_MOVEMENT_TOLERANCE_METERS", "GEOFENCE_DEFAULT_RADIUS_METERS",
		"PING_MAX_FUTURE_SKEW", "PING_MAX_PAST_WINDOW", "REDIS_NOTIFY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.LockBackend)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Engine.StagnationWindow)
	assert.Equal(t, 3, cfg.Engine.StagnationSpeedLimit)
	assert.Equal(t, 50.0, cfg.Engine.MovementToleranceMeters)
	assert.Equal(t, 250, cfg.Engine.DefaultRadiusMeters)
	assert.Equal(t, 2*time.Minute, cfg.Engine.MaxFutureSkew)
	assert.Equal(t, 24*time.Hour, cfg.Engine.MaxPastWindow)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STAGNATION_WINDOW", "45m")
	t.Setenv("STAGNATION_LOOKBACK", "90m")
	t.Setenv("STAGNATION_SPEED_THRESHOLD", "5")
	t.Setenv("STAGNATION_MOVEMENT_TOLERANCE_METERS", "75.5")
	t.Setenv("GEOFENCE_DEFAULT_RADIUS_METERS", "300")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("LOCK_BACKEND", "")
	t.Setenv("REDIS_NOTIFY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.Engine.StagnationWindow)
	assert.Equal(t, 90*time.Minute, cfg.Engine.StagnationLookback)
	assert.Equal(t, 5, cfg.Engine.StagnationSpeedLimit)
	assert.Equal(t, 75.5, cfg.Engine.MovementToleranceMeters)
	assert.Equal(t, 300, cfg.Engine.DefaultRadiusMeters)
	assert.Equal(t, 0, cfg.RedisDB, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	t.Run("redis lock needs address", func(t *testing.T) {
		t.Setenv("LOCK_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", "")
		_, err := Load()
		assert.ErrorContains(t, err, "REDIS_ADDR")
	})

	t.Run("unknown lock backend", func(t *testing.T) {
		t.Setenv("LOCK_BACKEND", "etcd")
		_, err := Load()
		assert.ErrorContains(t, err, "LOCK_BACKEND")
	})

	t.Run("lookback shorter than window", func(t *testing.T) {
		e := DefaultEngineConfig()
		e.StagnationLookback = 10 * time.Minute
		assert.ErrorContains(t, e.Validate(), "STAGNATION_LOOKBACK")
	})

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultEngineConfig().Validate())
	})
}
