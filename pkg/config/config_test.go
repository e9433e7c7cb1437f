package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMustLoadWorker_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "/tmp/queue.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("JITTER_MAX", "12s")

	MustLoadWorker()

	assert.Equal(t, "sqlite", Worker.DBDriver)
	assert.Equal(t, 25, Worker.BatchSize)
	assert.Equal(t, 60*time.Second, Worker.Cooldown)
	assert.Equal(t, 5*time.Second, Worker.JitterMin)
	assert.Equal(t, 12*time.Second, Worker.JitterMax)
	assert.Equal(t, 15*time.Minute, Worker.LeaseTTL)
	assert.Equal(t, "@every 1m", Worker.ReclaimSchedule)
	assert.Equal(t, 5, Worker.StoreRetryAttempts)
	assert.Equal(t, "http://localhost:3000", Worker.GatewayURL)
}

func TestMustLoadAPI_Defaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/campaigns")

	MustLoadAPI()

	assert.Equal(t, "pgx", API.DBDriver)
	assert.Equal(t, "8080", API.Port)
	assert.Equal(t, "campaign_events", API.Queue)
	assert.Equal(t, "client-1", API.DefaultSession)
}

func TestWorkerConfig_Validate(t *testing.T) {
	base := WorkerConfig{
		GatewayTimeout: 30 * time.Second,
		JitterMin:      5 * time.Second,
		JitterMax:      10 * time.Second,
		LeaseTTL:       15 * time.Minute,
	}
	assert.NoError(t, base.Validate())

	tight := base
	tight.LeaseTTL = 40 * time.Second
	assert.ErrorContains(t, tight.Validate(), "must exceed")

	slow := base
	slow.GatewayTimeout = 15 * time.Minute
	assert.Error(t, slow.Validate())

	inverted := base
	inverted.JitterMax = time.Second
	assert.Error(t, inverted.Validate())

	holdAll := base
	holdAll.RecoveryStaleAfter = 0
	assert.NoError(t, holdAll.Validate())
}

func TestMustLoadWorker_RecoveryHoldAll(t *testing.T) {
	t.Setenv("DB_DSN", "/tmp/queue.db")
	t.Setenv("RECOVERY_STALE_AFTER", "0s")

	MustLoadWorker()

	assert.Equal(t, time.Duration(0), Worker.RecoveryStaleAfter)
}
