package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_LockOutlivesMessageTask(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Greater(t, cfg.MessageLockTTL, cfg.AITaskTimeout)

	t.Setenv("AI_TASK_TIMEOUT", "5m")
	t.Setenv("MESSAGE_LOCK_TTL", "1m")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute+lockGrace, cfg.MessageLockTTL)
}

func TestMessageLockTTL(t *testing.T) {
	tests := []struct {
		ttl, timeout, want time.Duration
	}{
		{10 * time.Minute, 3 * time.Minute, 10 * time.Minute},
		{2 * time.Minute, 3 * time.Minute, 3*time.Minute + lockGrace},
		{3 * time.Minute, 3 * time.Minute, 3*time.Minute + lockGrace},
		{0, time.Minute, time.Minute + lockGrace},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, messageLockTTL(tt.ttl, tt.timeout))
	}
}
