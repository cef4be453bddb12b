package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.GroupCapacity)
	assert.Equal(t, 2, cfg.GroupStartThreshold)
	assert.Equal(t, 30*time.Second, cfg.ArchiveInterval)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GROUP_CAPACITY", "3")
	t.Setenv("GROUP_START_THRESHOLD", "3")
	t.Setenv("WS_IDLE_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.GroupCapacity)
	assert.Equal(t, 3, cfg.GroupStartThreshold)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
}

func TestLoad_ThresholdAboveCapacity(t *testing.T) {
	t.Setenv("GROUP_CAPACITY", "2")
	t.Setenv("GROUP_START_THRESHOLD", "4")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MalformedDuration(t *testing.T) {
	t.Setenv("ARCHIVE_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_BcryptCostOutOfRange(t *testing.T) {
	t.Setenv("BCRYPT_COST", "64")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_ArchiveDurationsOnlyWithDatabase(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.ArchiveInterval = 0
	assert.NoError(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://localhost/studygroup"
	assert.Error(t, cfg.Validate())
}
