// Package backup creates, retains and restores snapshots of synchronized
// health data. Snapshots are written through a pluggable Store so the same
// manager works against the local filesystem or Azure Blob Storage.
package backup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
)

// Entry describes one stored snapshot
type Entry struct {
	Name      string
	SizeBytes int64
}

// Store abstracts where snapshot payloads live
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Entry, error)
}

const snapshotExt = ".wsb"

// snapshotName encodes snapshot metadata into the stored file name so
// listings do not have to download payloads.
func snapshotName(id string, createdAt time.Time, incremental, encrypted bool) string {
	mode := "full"
	if incremental {
		mode = "inc"
	}
	enc := "plain"
	if encrypted {
		enc = "enc"
	}
	return fmt.Sprintf("%d_%s_%s_%s%s", createdAt.Unix(), id, mode, enc, snapshotExt)
}

// parseSnapshotName is the inverse of snapshotName. It tolerates a storage
// prefix such as "backups/" before the encoded name.
func parseSnapshotName(name string) (model.BackupInfo, error) {
	base := name
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, snapshotExt)

	parts := strings.Split(base, "_")
	if len(parts) != 4 {
		return model.BackupInfo{}, fmt.Errorf("malformed snapshot name: %s", name)
	}

	unix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return model.BackupInfo{}, fmt.Errorf("malformed snapshot timestamp in %s: %w", name, err)
	}

	return model.BackupInfo{
		ID:          parts[1],
		CreatedAt:   time.Unix(unix, 0).UTC(),
		Incremental: parts[2] == "inc",
		Encrypted:   parts[3] == "enc",
	}, nil
}
