package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
	"go.uber.org/zap"
)

// Patch is a partial SyncConfig update. Nil fields keep their current value.
type Patch struct {
	SyncIntervalMinutes *int                 `json:"sync_interval_minutes,omitempty"`
	EnabledMetrics      *[]model.MetricType  `json:"enabled_metrics,omitempty"`
	SyncHistoricalData  *bool                `json:"sync_historical_data,omitempty"`
	HistoricalDays      *int                 `json:"historical_days,omitempty"`
	AnomalyThreshold    *float64             `json:"anomaly_threshold,omitempty"`
	BatteryOptimization *BatteryOptimization `json:"battery_optimization,omitempty"`
	LogLevel            *model.LogLevel      `json:"log_level,omitempty"`
	EncryptData         *bool                `json:"encrypt_data,omitempty"`
	FetchTimeout        *time.Duration       `json:"fetch_timeout,omitempty"`
	Backup              *BackupConfig        `json:"backup,omitempty"`
}

// Manager owns the live SyncConfig. Every read goes through Snapshot and
// every mutation through Apply, so components never share mutable state.
type Manager struct {
	mu       sync.RWMutex
	cfg      SyncConfig
	path     string
	logger   *zap.Logger
	onChange []func(SyncConfig)
}

// NewManager creates a Manager seeded with the given configuration
func NewManager(cfg SyncConfig, logger *zap.Logger) *Manager {
	if cfg.Platforms == nil {
		cfg.Platforms = map[model.SourcePlatform]PlatformConfig{}
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
	}
}

// NewManagerFromFile creates a Manager that persists snapshots to path,
// reloading a previously persisted configuration if one exists.
func NewManagerFromFile(path string, fallback SyncConfig, logger *zap.Logger) *Manager {
	m := NewManager(fallback, logger)
	m.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read persisted sync config, using defaults",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return m
	}

	var cfg SyncConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("failed to parse persisted sync config, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
		return m
	}

	if cfg.Platforms == nil {
		cfg.Platforms = map[model.SourcePlatform]PlatformConfig{}
	}
	m.cfg = cfg
	logger.Info("sync config reloaded from disk", zap.String("path", path))
	return m
}

// Snapshot returns a copy of the current configuration
func (m *Manager) Snapshot() SyncConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

// copyLocked deep-copies the slices and maps so callers cannot mutate
// the manager's state through a snapshot.
func (m *Manager) copyLocked() SyncConfig {
	out := m.cfg
	out.EnabledMetrics = append([]model.MetricType(nil), m.cfg.EnabledMetrics...)
	out.Platforms = make(map[model.SourcePlatform]PlatformConfig, len(m.cfg.Platforms))
	for k, v := range m.cfg.Platforms {
		out.Platforms[k] = v
	}
	return out
}

// Apply merges the non-nil fields of the patch into the configuration and
// returns the updated snapshot. Unspecified options retain their prior value.
func (m *Manager) Apply(p Patch) (SyncConfig, error) {
	m.mu.Lock()

	if p.SyncIntervalMinutes != nil {
		if *p.SyncIntervalMinutes <= 0 {
			m.mu.Unlock()
			return SyncConfig{}, fmt.Errorf("sync interval must be positive, got %d", *p.SyncIntervalMinutes)
		}
		m.cfg.SyncIntervalMinutes = *p.SyncIntervalMinutes
	}
	if p.EnabledMetrics != nil {
		m.cfg.EnabledMetrics = append([]model.MetricType(nil), (*p.EnabledMetrics)...)
	}
	if p.SyncHistoricalData != nil {
		m.cfg.SyncHistoricalData = *p.SyncHistoricalData
	}
	if p.HistoricalDays != nil {
		m.cfg.HistoricalDays = *p.HistoricalDays
	}
	if p.AnomalyThreshold != nil {
		if *p.AnomalyThreshold <= 0 {
			m.mu.Unlock()
			return SyncConfig{}, fmt.Errorf("anomaly threshold must be positive, got %f", *p.AnomalyThreshold)
		}
		m.cfg.AnomalyThreshold = *p.AnomalyThreshold
	}
	if p.BatteryOptimization != nil {
		m.cfg.BatteryOptimization = *p.BatteryOptimization
	}
	if p.LogLevel != nil {
		m.cfg.LogLevel = *p.LogLevel
	}
	if p.EncryptData != nil {
		m.cfg.EncryptData = *p.EncryptData
	}
	if p.FetchTimeout != nil {
		m.cfg.FetchTimeout = *p.FetchTimeout
	}
	if p.Backup != nil {
		m.cfg.Backup = *p.Backup
	}

	snapshot := m.copyLocked()
	listeners := make([]func(SyncConfig), len(m.onChange))
	copy(listeners, m.onChange)
	m.mu.Unlock()

	m.persist(snapshot)
	for _, fn := range listeners {
		fn(snapshot)
	}

	m.logger.Info("sync config updated")
	return snapshot, nil
}

// SetPlatform stores the authorization settings for one platform
func (m *Manager) SetPlatform(platform model.SourcePlatform, cfg PlatformConfig) {
	m.mu.Lock()
	m.cfg.Platforms[platform] = cfg
	snapshot := m.copyLocked()
	m.mu.Unlock()

	m.persist(snapshot)
}

// Platform returns the stored settings for one platform
func (m *Manager) Platform(platform model.SourcePlatform) (PlatformConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.cfg.Platforms[platform]
	return cfg, ok
}

// OnChange registers a callback invoked after every successful Apply
func (m *Manager) OnChange(fn func(SyncConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// persist writes the snapshot to disk when a path is configured
func (m *Manager) persist(cfg SyncConfig) {
	if m.path == "" {
		return
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		m.logger.Error("failed to marshal sync config", zap.Error(err))
		return
	}

	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		m.logger.Error("failed to persist sync config",
			zap.String("path", m.path),
			zap.Error(err),
		)
	}
}
