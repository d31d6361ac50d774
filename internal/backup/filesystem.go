package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FilesystemStore keeps snapshots as files in a local directory
type FilesystemStore struct {
	dir    string
	logger *zap.Logger
}

// NewFilesystemStore creates the snapshot directory if needed
func NewFilesystemStore(dir string, logger *zap.Logger) (*FilesystemStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &FilesystemStore{
		dir:    dir,
		logger: logger,
	}, nil
}

// Save writes a snapshot file
func (s *FilesystemStore) Save(ctx context.Context, name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.logger.Error("failed to write snapshot", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Info("snapshot written",
		zap.String("name", name),
		zap.Int("size_bytes", len(data)),
	)

	return nil
}

// Load reads a snapshot file
func (s *FilesystemStore) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Delete removes a snapshot file
func (s *FilesystemStore) Delete(ctx context.Context, name string) error {
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	s.logger.Info("snapshot deleted", zap.String("name", name))
	return nil
}

// List returns all snapshot files in the directory, sorted by name
func (s *FilesystemStore) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), snapshotExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), SizeBytes: info.Size()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

// Ensure FilesystemStore implements Store
var _ Store = (*FilesystemStore)(nil)
