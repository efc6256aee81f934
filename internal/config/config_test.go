package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.LogLevel)
	assert.Equal(t, ".hearthvault", cfg.DataDir)
	assert.Equal(t, "hearthvault.json", cfg.Sync.FilePath)
	assert.Equal(t, 2*time.Second, cfg.Sync.Debounce)
	assert.Equal(t, time.Minute, cfg.Sync.PollInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Sync.TombstoneRetention)
	assert.Equal(t, 24*time.Hour, cfg.Sync.SettingsLogMaxAge)
	assert.Equal(t, uint32(3), cfg.KDF.Time)
	assert.Equal(t, uint32(65536), cfg.KDF.MemKiB)
	assert.Equal(t, uint8(4), cfg.KDF.Par)
	assert.Empty(t, cfg.Drive.ClientID, "drive is not configured by default")
	assert.Equal(t, "hearthvault-files", cfg.Object.Bucket)
}

func TestNewConfig_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "-4")
	t.Setenv("DATA_DIR", "/var/lib/hearthvault")
	t.Setenv("SYNC_DEBOUNCE", "500ms")
	t.Setenv("SYNC_FAMILY_ID", "550e8400-e29b-41d4-a716-446655440000")
	t.Setenv("KDF_MEM", "131072")
	t.Setenv("DRIVE_CLIENT_ID", "client-123")
	t.Setenv("OBJECT_USE_SSL", "true")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, -4, cfg.LogLevel)
	assert.Equal(t, "/var/lib/hearthvault", cfg.DataDir)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.Debounce)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", cfg.Sync.FamilyID)
	assert.Equal(t, uint32(131072), cfg.KDF.MemKiB)
	assert.Equal(t, "client-123", cfg.Drive.ClientID)
	assert.True(t, cfg.Object.UseSSL)
}

func TestNewConfig_InvalidValue(t *testing.T) {
	t.Setenv("SYNC_DEBOUNCE", "not-a-duration")

	_, err := NewConfig()
	assert.Error(t, err)
}
