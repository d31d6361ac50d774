// Package wearable is the facade the rest of the application talks to.
// It ties the connector registry, the sync engine, configuration and
// backups together behind one service type.
package wearable

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/backup"
	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/connector"
	"github.com/pulseloop/wearsync/internal/syncer"
	"github.com/pulseloop/wearsync/internal/synclog"
	"github.com/pulseloop/wearsync/pkg/model"
)

// connectorFactory builds a connector for a platform, swapped out in tests
type connectorFactory func(platform model.SourcePlatform, logger *zap.Logger) (connector.Connector, error)

// Service is the top-level wearable synchronization API
type Service struct {
	cfg        *config.Manager
	sync       *syncer.Manager
	backups    *backup.Manager
	syncLog    *synclog.Log
	logger     *zap.Logger
	newConnFor connectorFactory
}

// Option customizes a Service
type Option func(*Service)

// WithConnectorFactory replaces the platform connector factory, used by tests
func WithConnectorFactory(factory connectorFactory) Option {
	return func(s *Service) {
		s.newConnFor = factory
	}
}

// NewService wires the facade. The backup manager may be nil when backups
// are disabled.
func NewService(cfg *config.Manager, sync *syncer.Manager, backups *backup.Manager, syncLog *synclog.Log, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		sync:       sync,
		backups:    backups,
		syncLog:    syncLog,
		logger:     logger,
		newConnFor: connector.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeConnector creates, configures and registers the connector for a
// platform. The platform must have settings stored in the configuration.
func (s *Service) InitializeConnector(ctx context.Context, platform model.SourcePlatform) error {
	if !platform.Valid() {
		return fmt.Errorf("unknown platform: %s", platform)
	}

	platformCfg, ok := s.cfg.Platform(platform)
	if !ok {
		return fmt.Errorf("platform %s is not configured", platform)
	}

	c, err := s.newConnFor(platform, s.logger)
	if err != nil {
		return err
	}

	if err := c.Initialize(ctx, platformCfg); err != nil {
		return fmt.Errorf("failed to initialize %s connector: %w", platform, err)
	}

	s.sync.RegisterConnector(c)
	s.syncLog.Info("connector initialized", map[string]string{
		"platform": string(platform),
	})
	return nil
}

// AuthURL returns the consent URL for an OAuth platform
func (s *Service) AuthURL(platform model.SourcePlatform, state string) (string, error) {
	c, err := s.sync.Connector(platform)
	if err != nil {
		return "", err
	}
	return c.AuthURL(state)
}

// Authorize completes a platform's authorization flow
func (s *Service) Authorize(ctx context.Context, platform model.SourcePlatform, code string) error {
	c, err := s.sync.Connector(platform)
	if err != nil {
		return err
	}
	if err := c.Authorize(ctx, code); err != nil {
		return err
	}

	s.syncLog.Info("platform authorized", map[string]string{
		"platform": string(platform),
	})
	return nil
}

// RevokeAuthorization revokes a platform's authorization. The connector
// stays registered so it can be re-authorized later.
func (s *Service) RevokeAuthorization(ctx context.Context, platform model.SourcePlatform) error {
	c, err := s.sync.Connector(platform)
	if err != nil {
		return err
	}
	if err := c.RevokeAuthorization(ctx); err != nil {
		return err
	}

	s.syncLog.Info("platform authorization revoked", map[string]string{
		"platform": string(platform),
	})
	return nil
}

// StartSync launches the background sync scheduler
func (s *Service) StartSync(ctx context.Context) error {
	return s.sync.Start(ctx)
}

// StopSync halts the background sync scheduler
func (s *Service) StopSync() {
	s.sync.Stop()
}

// SyncNow runs one sync pass immediately, optionally scoped to the given
// metric types
func (s *Service) SyncNow(ctx context.Context, metrics ...model.MetricType) (model.SyncStats, error) {
	return s.sync.SyncNow(ctx, metrics...)
}

// GetSyncStatus reports the current sync state
func (s *Service) GetSyncStatus() model.SyncStatus {
	return s.sync.Status()
}

// GetConfig returns a snapshot of the sync configuration with platform
// credentials redacted
func (s *Service) GetConfig() config.SyncConfig {
	return redactCredentials(s.cfg.Snapshot())
}

// UpdateConfig applies a partial configuration update
func (s *Service) UpdateConfig(patch config.Patch) (config.SyncConfig, error) {
	updated, err := s.cfg.Apply(patch)
	if err != nil {
		return config.SyncConfig{}, err
	}
	return redactCredentials(updated), nil
}

// redactCredentials strips OAuth client secrets from a configuration
// snapshot. Connectors read credentials through the config manager, never
// through the facade, so callers only ever see redacted copies.
func redactCredentials(cfg config.SyncConfig) config.SyncConfig {
	for platform, p := range cfg.Platforms {
		p.ClientSecret = ""
		cfg.Platforms[platform] = p
	}
	return cfg
}

// SetPlatformConfig stores the settings for one platform
func (s *Service) SetPlatformConfig(platform model.SourcePlatform, cfg config.PlatformConfig) error {
	if !platform.Valid() {
		return fmt.Errorf("unknown platform: %s", platform)
	}
	s.cfg.SetPlatform(platform, cfg)
	return nil
}

// GetConnectedPlatforms lists authorized platforms
func (s *Service) GetConnectedPlatforms() []model.SourcePlatform {
	return s.sync.ConnectedPlatforms()
}

// GetSyncLogs returns up to limit recent sync log entries
func (s *Service) GetSyncLogs(limit int) []model.LogEntry {
	return s.syncLog.Recent(limit)
}

// ListBackups lists stored backups, newest first
func (s *Service) ListBackups(ctx context.Context) ([]model.BackupInfo, error) {
	if s.backups == nil {
		return nil, fmt.Errorf("backups are not configured")
	}
	return s.backups.ListBackups(ctx)
}

// CreateBackup creates a backup immediately, outside the frequency gate
func (s *Service) CreateBackup(ctx context.Context) (*model.BackupInfo, error) {
	if s.backups == nil {
		return nil, fmt.Errorf("backups are not configured")
	}
	return s.backups.CreateBackup(ctx)
}

// RestoreBackup writes the points of a stored backup back into the repository
func (s *Service) RestoreBackup(ctx context.Context, backupID string) (int, error) {
	if s.backups == nil {
		return 0, fmt.Errorf("backups are not configured")
	}
	return s.backups.Restore(ctx, backupID)
}
