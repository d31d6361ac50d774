package backup

import (
	"context"
	"fmt"

	"github.com/pulseloop/wearsync/internal/azure"
)

// BlobStore adapts Azure Blob Storage to the snapshot Store interface.
// The blob client prefixes snapshot names with its own container path,
// so Load and Delete accept the names returned by List.
type BlobStore struct {
	storage azure.BlobStorage
}

// NewBlobStore wraps a blob storage client
func NewBlobStore(storage azure.BlobStorage) *BlobStore {
	return &BlobStore{storage: storage}
}

// Save uploads a snapshot blob
func (s *BlobStore) Save(ctx context.Context, name string, data []byte) error {
	if _, err := s.storage.UploadSnapshot(ctx, name, data); err != nil {
		return fmt.Errorf("failed to store snapshot blob: %w", err)
	}
	return nil
}

// Load downloads a snapshot blob
func (s *BlobStore) Load(ctx context.Context, name string) ([]byte, error) {
	return s.storage.DownloadSnapshot(ctx, name)
}

// Delete removes a snapshot blob
func (s *BlobStore) Delete(ctx context.Context, name string) error {
	return s.storage.DeleteSnapshot(ctx, name)
}

// List returns all snapshot blobs
func (s *BlobStore) List(ctx context.Context) ([]Entry, error) {
	items, err := s.storage.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{Name: item.Name, SizeBytes: item.SizeBytes})
	}

	return entries, nil
}

// Ensure BlobStore implements Store
var _ Store = (*BlobStore)(nil)
