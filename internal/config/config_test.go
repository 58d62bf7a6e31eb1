package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.Presence.CleanupInterval)
	assert.Equal(t, 2*time.Minute, cfg.Presence.OfflineThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Presence.DeleteThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resolver.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Enforcement.GracePeriod)
	assert.Equal(t, 8*time.Second, cfg.Remote.ReadTimeout)
	assert.Equal(t, 20*time.Second, cfg.Remote.CriticalWriteTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
}

func TestLoadRejectsMisorderedThresholds(t *testing.T) {
	t.Setenv("PRESENCE_OFFLINE_THRESHOLD", "5m")
	t.Setenv("PRESENCE_DELETE_THRESHOLD", "2m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be shorter than")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RESOLVER_POLL_INTERVAL", "10s")
	t.Setenv("REMOTE_FAILURE_THRESHOLD", "2")
	t.Setenv("OWNER_IDENTITY_ID", "u-root")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Resolver.PollInterval)
	assert.Equal(t, 2, cfg.Remote.FailureThreshold)
	assert.Equal(t, "u-root", cfg.App.OwnerIdentityID)
}
