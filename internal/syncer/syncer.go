// Package syncer runs the synchronization engine: it schedules sync passes,
// drives the registered connectors through the validation pipeline and
// persists the surviving points.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/backup"
	"github.com/pulseloop/wearsync/internal/battery"
	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/connector"
	"github.com/pulseloop/wearsync/internal/pipeline"
	"github.com/pulseloop/wearsync/internal/repository"
	"github.com/pulseloop/wearsync/internal/synclog"
	"github.com/pulseloop/wearsync/pkg/model"
)

var (
	// ErrSyncInProgress is returned when SyncNow is called while a pass is running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrAlreadyRunning is returned when Start is called twice
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNotRegistered is returned for operations on an unregistered platform
	ErrNotRegistered = errors.New("no connector registered for platform")
)

// Manager coordinates scheduled and on-demand sync passes
type Manager struct {
	cfg        *config.Manager
	repo       repository.HealthDataStore
	validator  *pipeline.Validator
	normalizer *pipeline.Normalizer
	anomalies  *pipeline.AnomalyDetector
	battery    *battery.Optimizer
	backups    *backup.Manager
	syncLog    *synclog.Log
	logger     *zap.Logger
	clock      func() time.Time
	userID     string

	mu         sync.Mutex
	connectors map[model.SourcePlatform]connector.Connector
	running    bool
	syncing    bool
	lastSync   *time.Time
	nextSync   *time.Time
	lastStats  model.SyncStats
	stop       chan struct{}
	wg         sync.WaitGroup
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock overrides the time source, used by tests
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager wires the sync engine together. The backup manager may be nil
// when backups are disabled entirely.
func NewManager(
	cfg *config.Manager,
	repo repository.HealthDataStore,
	validator *pipeline.Validator,
	normalizer *pipeline.Normalizer,
	anomalies *pipeline.AnomalyDetector,
	batteryOpt *battery.Optimizer,
	backups *backup.Manager,
	syncLog *synclog.Log,
	userID string,
	logger *zap.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		cfg:        cfg,
		repo:       repo,
		validator:  validator,
		normalizer: normalizer,
		anomalies:  anomalies,
		battery:    batteryOpt,
		backups:    backups,
		syncLog:    syncLog,
		logger:     logger,
		clock:      time.Now,
		userID:     userID,
		connectors: make(map[model.SourcePlatform]connector.Connector),
	}
	for _, opt := range opts {
		opt(m)
	}

	// keep the anomaly threshold in step with config updates
	cfg.OnChange(func(c config.SyncConfig) {
		anomalies.SetThreshold(c.AnomalyThreshold)
		syncLog.SetLevel(c.LogLevel)
	})

	return m
}

// RegisterConnector adds or replaces the connector for a platform
func (m *Manager) RegisterConnector(c connector.Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[c.Platform()] = c

	m.logger.Info("connector registered", zap.String("platform", string(c.Platform())))
}

// UnregisterConnector removes the connector for a platform
func (m *Manager) UnregisterConnector(platform model.SourcePlatform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connectors, platform)

	m.logger.Info("connector unregistered", zap.String("platform", string(platform)))
}

// Connector returns the registered connector for a platform
func (m *Manager) Connector(platform model.SourcePlatform) (connector.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, platform)
	}
	return c, nil
}

// ConnectedPlatforms lists platforms whose connector is currently authorized,
// in stable order.
func (m *Manager) ConnectedPlatforms() []model.SourcePlatform {
	m.mu.Lock()
	connectors := make([]connector.Connector, 0, len(m.connectors))
	for _, c := range m.connectors {
		connectors = append(connectors, c)
	}
	m.mu.Unlock()

	var platforms []model.SourcePlatform
	for _, c := range connectors {
		if c.IsAuthorized() {
			platforms = append(platforms, c.Platform())
		}
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// Start launches the scheduler loop: one immediate sync pass, then a
// recurring timer at the configured interval. It returns once the loop
// goroutine is running; Stop shuts it down without interrupting an
// in-flight pass.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop

	interval := m.interval()
	next := m.clock().Add(interval)
	m.nextSync = &next
	m.mu.Unlock()

	m.syncLog.Info("sync scheduler started", map[string]string{
		"interval": interval.String(),
	})

	m.wg.Add(1)
	go m.run(ctx, stop)

	return nil
}

// Stop halts the scheduler and waits for an in-flight pass to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.nextSync = nil
	m.mu.Unlock()

	m.wg.Wait()
	m.syncLog.Info("sync scheduler stopped", nil)
}

// run is the scheduler loop. The timer is rebuilt every iteration so config
// interval changes take effect on the next tick.
func (m *Manager) run(ctx context.Context, stop chan struct{}) {
	defer m.wg.Done()

	// The first pass runs immediately; battery policy gates only the
	// recurring ticks.
	if _, err := m.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		m.logger.Error("initial sync failed", zap.Error(err))
	}

	for {
		interval := m.interval()

		m.mu.Lock()
		next := m.clock().Add(interval)
		m.nextSync = &next
		m.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !m.battery.CanSync() {
			m.syncLog.Info("scheduled sync skipped, battery below threshold", nil)
			continue
		}

		if _, err := m.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			m.logger.Error("scheduled sync failed", zap.Error(err))
		}
	}
}

func (m *Manager) interval() time.Duration {
	cfg := m.cfg.Snapshot()
	return time.Duration(cfg.SyncIntervalMinutes) * time.Minute
}

// Status reports the current scheduler and sync state
func (m *Manager) Status() model.SyncStatus {
	m.mu.Lock()
	status := model.SyncStatus{
		Running:       m.running,
		Syncing:       m.syncing,
		LastSyncStats: m.lastStats,
	}
	if m.lastSync != nil {
		t := *m.lastSync
		status.LastSyncTime = &t
	}
	if m.running && m.nextSync != nil {
		t := *m.nextSync
		status.NextSyncTime = &t
	}
	m.mu.Unlock()

	status.ConnectedSources = m.ConnectedPlatforms()
	return status
}

// SyncNow runs one sync pass. When metrics are given the pass is scoped to
// those metric types; otherwise the configured enabled set is synced. Passes
// are single-flight: a call made while another pass is running returns the
// prior pass's stats with ErrSyncInProgress, without fetching anything.
func (m *Manager) SyncNow(ctx context.Context, metrics ...model.MetricType) (model.SyncStats, error) {
	m.mu.Lock()
	if m.syncing {
		prior := m.lastStats
		m.mu.Unlock()
		return prior, ErrSyncInProgress
	}
	m.syncing = true

	connectors := make([]connector.Connector, 0, len(m.connectors))
	for _, c := range m.connectors {
		connectors = append(connectors, c)
	}
	m.mu.Unlock()

	// deterministic connector order
	sort.Slice(connectors, func(i, j int) bool {
		return connectors[i].Platform() < connectors[j].Platform()
	})

	started := m.clock()
	stats := m.runPass(ctx, connectors, metrics, started)

	finished := m.clock()
	m.mu.Lock()
	m.syncing = false
	m.lastSync = &finished
	m.lastStats = stats
	m.mu.Unlock()

	m.syncLog.Info("sync pass finished", map[string]string{
		"total_synced": fmt.Sprintf("%d", stats.TotalSynced),
		"errors":       fmt.Sprintf("%d", len(stats.Errors)),
		"warnings":     fmt.Sprintf("%d", len(stats.Warnings)),
		"anomalies":    fmt.Sprintf("%d", stats.AnomaliesDetected),
		"duration":     finished.Sub(started).String(),
	})

	return stats, nil
}

// runPass executes the fetch/validate/normalize/detect/persist pipeline for
// every (connector, metric) pair. A failing pair is recorded and skipped so
// one bad platform cannot sink the whole pass.
func (m *Manager) runPass(ctx context.Context, connectors []connector.Connector, metrics []model.MetricType, now time.Time) (stats model.SyncStats) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sync pass panicked", zap.Any("panic", r))
			stats.Errors = append(stats.Errors, model.SyncError{
				Code:      "panic",
				Message:   fmt.Sprintf("sync pass panicked: %v", r),
				Timestamp: now,
			})
		}
	}()

	stats.SyncedByMetricType = make(map[model.MetricType]int)
	cfg := m.cfg.Snapshot()

	requested := metrics
	if len(requested) == 0 {
		requested = cfg.EnabledMetrics
	}

	if len(connectors) == 0 {
		m.syncLog.Warn("no connectors registered, nothing to sync", nil)
	}

	from := m.fetchWindowStart(cfg, now)

	for _, c := range connectors {
		platform := c.Platform()

		if !c.IsAuthorized() {
			stats.Errors = append(stats.Errors, model.SyncError{
				Source:    platform,
				Code:      "not_authorized",
				Message:   fmt.Sprintf("%s connector is not authorized", platform),
				Timestamp: now,
			})
			m.syncLog.Warn("skipping unauthorized connector", map[string]string{
				"platform": string(platform),
			})
			continue
		}

		supported := c.SupportedMetrics()
		for _, metric := range requested {
			if !metricSupported(supported, metric) {
				continue
			}
			m.syncPair(ctx, c, metric, from, now, cfg, &stats)
		}
	}

	if m.backups != nil && stats.TotalSynced > 0 {
		if _, err := m.backups.CreateBackupIfNeeded(ctx); err != nil {
			stats.Errors = append(stats.Errors, model.SyncError{
				Code:      "backup_failed",
				Message:   err.Error(),
				Timestamp: now,
			})
			m.syncLog.Error("post-sync backup failed", map[string]string{
				"error": err.Error(),
			})
		}
	}

	return stats
}

// fetchWindowStart picks the start of the fetch window: since the last pass,
// or the configured historical window on the very first sync.
func (m *Manager) fetchWindowStart(cfg config.SyncConfig, now time.Time) time.Time {
	m.mu.Lock()
	lastSync := m.lastSync
	m.mu.Unlock()

	if lastSync != nil {
		return *lastSync
	}
	if cfg.SyncHistoricalData && cfg.HistoricalDays > 0 {
		return now.AddDate(0, 0, -cfg.HistoricalDays)
	}
	return now.Add(-24 * time.Hour)
}

// syncPair fetches and processes one (connector, metric) pair
func (m *Manager) syncPair(ctx context.Context, c connector.Connector, metric model.MetricType, from, now time.Time, cfg config.SyncConfig, stats *model.SyncStats) {
	platform := c.Platform()

	fetchCtx := ctx
	if cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
		defer cancel()
	}

	points, err := c.FetchData(fetchCtx, metric, from, now)
	if err != nil {
		stats.Errors = append(stats.Errors, model.SyncError{
			Source:     platform,
			MetricType: metric,
			Code:       "fetch_failed",
			Message:    err.Error(),
			Timestamp:  now,
		})
		m.syncLog.Error("fetch failed", map[string]string{
			"platform":    string(platform),
			"metric_type": string(metric),
			"error":       err.Error(),
		})
		return
	}

	accepted := make([]model.HealthDataPoint, 0, len(points))
	for _, p := range points {
		p.UserID = m.userID
		p.SyncedAt = now

		if err := m.validator.Validate(p); err != nil {
			stats.Warnings = append(stats.Warnings, model.SyncWarning{
				Source:     platform,
				MetricType: metric,
				Code:       "validation_failed",
				Message:    err.Error(),
				Timestamp:  now,
			})
			continue
		}

		p = m.normalizer.Apply(p)

		// anomalies are flagged and kept, never dropped
		if anomalous, reason := m.anomalies.Check(p); anomalous {
			stats.AnomaliesDetected++
			stats.Warnings = append(stats.Warnings, model.SyncWarning{
				Source:     platform,
				MetricType: metric,
				Code:       "anomaly",
				Message:    reason,
				Timestamp:  now,
			})
			if p.Metadata == nil {
				p.Metadata = make(map[string]string, 1)
			}
			p.Metadata["anomaly"] = reason
		}

		accepted = append(accepted, p)
	}

	saved, err := m.repo.SavePoints(ctx, accepted)
	if err != nil {
		stats.Errors = append(stats.Errors, model.SyncError{
			Source:     platform,
			MetricType: metric,
			Code:       "store_failed",
			Message:    err.Error(),
			Timestamp:  now,
		})
		return
	}

	if saved > 0 {
		stats.TotalSynced += saved
		stats.SyncedByMetricType[metric] += saved
	}

	m.syncLog.Debug("pair synced", map[string]string{
		"platform":    string(platform),
		"metric_type": string(metric),
		"fetched":     fmt.Sprintf("%d", len(points)),
		"saved":       fmt.Sprintf("%d", saved),
	})
}

func metricSupported(supported []model.MetricType, metric model.MetricType) bool {
	for _, m := range supported {
		if m == metric {
			return true
		}
	}
	return false
}
