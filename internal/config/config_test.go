package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/pkg/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "local-user", cfg.User.ID)
	assert.Equal(t, 30, cfg.Sync.SyncIntervalMinutes)
	assert.Equal(t, 3.0, cfg.Sync.AnomalyThreshold)
	assert.Equal(t, BatteryOptimizationMedium, cfg.Sync.BatteryOptimization)
	assert.Equal(t, 15*time.Second, cfg.Sync.FetchTimeout)
	assert.True(t, cfg.Sync.Backup.Enabled)
	assert.Equal(t, BackupDaily, cfg.Sync.Backup.Frequency)
	assert.Equal(t, "filesystem", cfg.Sync.Backup.StorageLocation)
	assert.Equal(t, model.AllMetricTypes, cfg.Sync.EnabledMetrics)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SYNC_USER_ID", "user-42")
	t.Setenv("SYNC_INTERVAL_MINUTES", "5")
	t.Setenv("SYNC_BATTERY_OPTIMIZATION", "high")
	t.Setenv("SYNC_BACKUP_FREQUENCY", "weekly")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "user-42", cfg.User.ID)
	assert.Equal(t, 5, cfg.Sync.SyncIntervalMinutes)
	assert.Equal(t, BatteryOptimizationHigh, cfg.Sync.BatteryOptimization)
	assert.Equal(t, BackupWeekly, cfg.Sync.Backup.Frequency)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "non-positive sync interval",
			mutate: func(c *Config) { c.Sync.SyncIntervalMinutes = 0 },
		},
		{
			name:   "non-positive anomaly threshold",
			mutate: func(c *Config) { c.Sync.AnomalyThreshold = -1 },
		},
		{
			name:   "unknown battery optimization",
			mutate: func(c *Config) { c.Sync.BatteryOptimization = "extreme" },
		},
		{
			name:   "unknown backup frequency",
			mutate: func(c *Config) { c.Sync.Backup.Frequency = "hourly" },
		},
		{
			name: "azure backups without credentials",
			mutate: func(c *Config) {
				c.Sync.Backup.StorageLocation = "azure"
				c.Azure.AccountName = ""
			},
		},
		{
			name: "encryption enabled without a valid key",
			mutate: func(c *Config) {
				c.Sync.EncryptData = true
				c.Security.EncryptionKey = "too-short"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBackupFrequencyInterval(t *testing.T) {
	assert.Equal(t, 24*time.Hour, BackupDaily.Interval())
	assert.Equal(t, 7*24*time.Hour, BackupWeekly.Interval())
	assert.Equal(t, 30*24*time.Hour, BackupMonthly.Interval())
}

func TestManagerApplyMergesPatch(t *testing.T) {
	m := NewManager(DefaultSyncConfig(), zap.NewNop())

	interval := 60
	level := model.LogDebug
	updated, err := m.Apply(Patch{
		SyncIntervalMinutes: &interval,
		LogLevel:            &level,
	})
	require.NoError(t, err)

	assert.Equal(t, 60, updated.SyncIntervalMinutes)
	assert.Equal(t, model.LogDebug, updated.LogLevel)
	// Untouched fields keep their defaults
	assert.Equal(t, 3.0, updated.AnomalyThreshold)
	assert.Equal(t, BatteryOptimizationMedium, updated.BatteryOptimization)
}

func TestManagerApplyRejectsInvalidPatch(t *testing.T) {
	m := NewManager(DefaultSyncConfig(), zap.NewNop())

	bad := -10
	_, err := m.Apply(Patch{SyncIntervalMinutes: &bad})
	assert.Error(t, err)

	threshold := 0.0
	_, err = m.Apply(Patch{AnomalyThreshold: &threshold})
	assert.Error(t, err)

	// Failed patches leave the configuration untouched
	assert.Equal(t, 30, m.Snapshot().SyncIntervalMinutes)
	assert.Equal(t, 3.0, m.Snapshot().AnomalyThreshold)
}

func TestManagerSnapshotIsIsolated(t *testing.T) {
	m := NewManager(DefaultSyncConfig(), zap.NewNop())

	snap := m.Snapshot()
	snap.EnabledMetrics[0] = "tampered"
	snap.Platforms[model.SourceFitbit] = PlatformConfig{ClientID: "rogue"}

	fresh := m.Snapshot()
	assert.NotEqual(t, model.MetricType("tampered"), fresh.EnabledMetrics[0])
	_, ok := fresh.Platforms[model.SourceFitbit]
	assert.False(t, ok)
}

func TestManagerOnChange(t *testing.T) {
	m := NewManager(DefaultSyncConfig(), zap.NewNop())

	var seen []float64
	m.OnChange(func(cfg SyncConfig) {
		seen = append(seen, cfg.AnomalyThreshold)
	})

	threshold := 2.5
	_, err := m.Apply(Patch{AnomalyThreshold: &threshold})
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, 2.5, seen[0])
}

func TestManagerPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-config.json")
	logger := zap.NewNop()

	m := NewManagerFromFile(path, DefaultSyncConfig(), logger)
	m.SetPlatform(model.SourceFitbit, PlatformConfig{ClientID: "id", ClientSecret: "secret"})

	interval := 45
	_, err := m.Apply(Patch{SyncIntervalMinutes: &interval})
	require.NoError(t, err)

	// A new manager over the same path picks up the persisted state
	reloaded := NewManagerFromFile(path, DefaultSyncConfig(), logger)
	assert.Equal(t, 45, reloaded.Snapshot().SyncIntervalMinutes)

	platform, ok := reloaded.Platform(model.SourceFitbit)
	require.True(t, ok)
	assert.Equal(t, "id", platform.ClientID)
}

func TestManagerFromFileWithMissingOrBadFile(t *testing.T) {
	logger := zap.NewNop()
	dir := t.TempDir()

	m := NewManagerFromFile(filepath.Join(dir, "missing.json"), DefaultSyncConfig(), logger)
	assert.Equal(t, 30, m.Snapshot().SyncIntervalMinutes)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	m = NewManagerFromFile(bad, DefaultSyncConfig(), logger)
	assert.Equal(t, 30, m.Snapshot().SyncIntervalMinutes)
}
