package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("COORDINATOR_MAX_ATTEMPTS", "")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Coordinator.MaxAttempts)
	assert.True(t, cfg.Ledger.VerifyOnWrite)
	assert.Equal(t, 54*time.Second, cfg.Session.PingPeriod)
	assert.False(t, cfg.GiftCode.AllowRepeat)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("COORDINATOR_RETRY_DELAY", "40ms")
	t.Setenv("GIFTCODE_ALLOW_REPEAT", "yes")
	t.Setenv("SESSION_INBOUND_RATE", "0.5")
	t.Setenv("HUB_QUEUE_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.Equal(t, 40*time.Millisecond, cfg.Coordinator.RetryDelay)
	assert.True(t, cfg.GiftCode.AllowRepeat)
	assert.Equal(t, 0.5, cfg.Session.InboundRate)
	assert.Equal(t, 1024, cfg.Hub.QueueSize)
}

func TestValidateCore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg := Load()
	err := cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Database.Driver = "memory"
	cfg.JWT.Secret = "s3cret"
	assert.NoError(t, cfg.ValidateCore())

	cfg.Hub.RelayEnabled = true
	cfg.Redis.URL = ""
	assert.ErrorContains(t, cfg.ValidateCore(), "REDIS_URL")

	cfg.Hub.RelayEnabled = false
	cfg.Database.Driver = "sqlite"
	assert.ErrorContains(t, cfg.ValidateCore(), "STORE_DRIVER")
}
