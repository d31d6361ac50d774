package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseloop/wearsync/internal/config"
	"github.com/pulseloop/wearsync/internal/repository"
	"github.com/pulseloop/wearsync/internal/security"
	"github.com/pulseloop/wearsync/pkg/model"
)

// snapshot is the serialized form of one backup
type snapshot struct {
	ID          string                  `json:"id"`
	CreatedAt   time.Time               `json:"created_at"`
	Incremental bool                    `json:"incremental"`
	Points      []model.HealthDataPoint `json:"points"`
}

// Manager creates and restores backups according to the configured policy
type Manager struct {
	mu        sync.Mutex
	store     Store
	repo      repository.HealthDataStore
	cfg       *config.Manager
	encryptor *security.Encryptor
	logger    *zap.Logger
	clock     func() time.Time
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock overrides the time source, used by tests
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a backup manager. The encryptor may be nil when
// encryption is disabled.
func NewManager(store Store, repo repository.HealthDataStore, cfg *config.Manager, encryptor *security.Encryptor, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		repo:      repo,
		cfg:       cfg,
		encryptor: encryptor,
		logger:    logger,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateBackupIfNeeded creates a backup when backups are enabled and the
// configured frequency interval has elapsed since the newest stored backup.
// Returns true when a backup was created.
func (m *Manager) CreateBackupIfNeeded(ctx context.Context) (bool, error) {
	cfg := m.cfg.Snapshot()
	if !cfg.Backup.Enabled {
		return false, nil
	}

	latest, err := m.latestBackup(ctx)
	if err != nil {
		return false, err
	}
	if latest != nil && m.clock().Sub(latest.CreatedAt) < cfg.Backup.Frequency.Interval() {
		m.logger.Debug("backup not due yet",
			zap.Time("last_backup", latest.CreatedAt),
			zap.String("frequency", string(cfg.Backup.Frequency)),
		)
		return false, nil
	}

	if _, err := m.CreateBackup(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// CreateBackup unconditionally creates a backup and prunes expired ones
func (m *Manager) CreateBackup(ctx context.Context) (*model.BackupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg.Snapshot()
	now := m.clock().UTC()

	latest, err := m.latestBackup(ctx)
	if err != nil {
		return nil, err
	}

	// Incremental backups only carry points synced since the previous
	// backup. The first backup is always full.
	incremental := cfg.Backup.Incremental && latest != nil

	var points []model.HealthDataPoint
	if incremental {
		points, err = m.repo.ListSince(ctx, latest.CreatedAt)
	} else {
		points, err = m.repo.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect points for backup: %w", err)
	}

	snap := snapshot{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		Incremental: incremental,
		Points:      points,
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	encrypted := cfg.EncryptData && m.encryptor != nil
	if encrypted {
		payload, err = m.encryptor.Encrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt snapshot: %w", err)
		}
	}

	name := snapshotName(snap.ID, now, incremental, encrypted)
	if err := m.store.Save(ctx, name, payload); err != nil {
		return nil, err
	}

	m.logger.Info("backup created",
		zap.String("backup_id", snap.ID),
		zap.Int("points", len(points)),
		zap.Bool("incremental", incremental),
		zap.Bool("encrypted", encrypted),
	)

	m.cleanupExpired(ctx, cfg, now)

	return &model.BackupInfo{
		ID:          snap.ID,
		CreatedAt:   now,
		SizeBytes:   int64(len(payload)),
		Incremental: incremental,
		Encrypted:   encrypted,
	}, nil
}

// Restore loads the backup with the given ID and writes its points back to
// the repository. Points already present are skipped. Returns the number of
// points written.
func (m *Manager) Restore(ctx context.Context, backupID string) (int, error) {
	entries, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}

	var target *Entry
	var info model.BackupInfo
	for i, entry := range entries {
		parsed, err := parseSnapshotName(entry.Name)
		if err != nil {
			continue
		}
		if parsed.ID == backupID {
			target = &entries[i]
			info = parsed
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("backup not found: %s", backupID)
	}

	payload, err := m.store.Load(ctx, target.Name)
	if err != nil {
		return 0, err
	}

	if info.Encrypted {
		if m.encryptor == nil {
			return 0, fmt.Errorf("backup %s is encrypted but no encryption key is configured", backupID)
		}
		payload, err = m.encryptor.Decrypt(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to decrypt snapshot: %w", err)
		}
	}

	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return 0, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	restored, err := m.repo.SavePoints(ctx, snap.Points)
	if err != nil {
		return restored, fmt.Errorf("failed to restore points: %w", err)
	}

	m.logger.Info("backup restored",
		zap.String("backup_id", backupID),
		zap.Int("points_restored", restored),
		zap.Int("points_in_snapshot", len(snap.Points)),
	)

	return restored, nil
}

// ListBackups returns stored backups, newest first. Files that do not parse
// as snapshots are skipped.
func (m *Manager) ListBackups(ctx context.Context) ([]model.BackupInfo, error) {
	entries, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]model.BackupInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := parseSnapshotName(entry.Name)
		if err != nil {
			m.logger.Warn("skipping unrecognized snapshot", zap.String("name", entry.Name))
			continue
		}
		info.SizeBytes = entry.SizeBytes
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })

	return infos, nil
}

func (m *Manager) latestBackup(ctx context.Context) (*model.BackupInfo, error) {
	infos, err := m.ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}

// cleanupExpired deletes backups older than the retention period. Failures
// are logged and do not fail the backup that triggered the cleanup.
func (m *Manager) cleanupExpired(ctx context.Context, cfg config.SyncConfig, now time.Time) {
	if cfg.Backup.RetentionPeriodDays <= 0 {
		return
	}

	cutoff := now.Add(-time.Duration(cfg.Backup.RetentionPeriodDays) * 24 * time.Hour)

	entries, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("failed to list backups for retention cleanup", zap.Error(err))
		return
	}

	for _, entry := range entries {
		info, err := parseSnapshotName(entry.Name)
		if err != nil {
			continue
		}
		if !info.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, entry.Name); err != nil {
			m.logger.Warn("failed to delete expired backup",
				zap.String("backup_id", info.ID),
				zap.Error(err),
			)
			continue
		}
		m.logger.Info("expired backup deleted",
			zap.String("backup_id", info.ID),
			zap.Time("created_at", info.CreatedAt),
		)
	}
}
