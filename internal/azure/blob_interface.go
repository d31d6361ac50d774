package azure

import (
	"context"
)

// SnapshotItem describes one stored snapshot blob
type SnapshotItem struct {
	Name      string
	SizeBytes int64
}

// BlobStorage defines the interface for backup snapshot storage operations
// This interface allows for easier testing with mock implementations
type BlobStorage interface {
	UploadSnapshot(ctx context.Context, name string, data []byte) (string, error)
	DownloadSnapshot(ctx context.Context, blobName string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, blobName string) error
	ListSnapshots(ctx context.Context) ([]SnapshotItem, error)
}

// Ensure BlobStorageClient implements BlobStorage interface
var _ BlobStorage = (*BlobStorageClient)(nil)
