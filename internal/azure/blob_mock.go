package azure

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MockBlobStorageClient is an in-memory implementation of BlobStorage for testing
type MockBlobStorageClient struct {
	Storage map[string][]byte
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewMockBlobStorageClient creates a new mock blob storage client
func NewMockBlobStorageClient(logger *zap.Logger) *MockBlobStorageClient {
	return &MockBlobStorageClient{
		Storage: make(map[string][]byte),
		logger:  logger,
	}
}

// UploadSnapshot uploads a backup snapshot to in-memory storage
func (c *MockBlobStorageClient) UploadSnapshot(ctx context.Context, name string, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blobName := fmt.Sprintf("backups/%s", name)
	c.Storage[blobName] = bytes.Clone(data)

	if c.logger != nil {
		c.logger.Info("mock: snapshot uploaded",
			zap.String("blob_name", blobName),
			zap.Int("size_bytes", len(data)),
		)
	}

	return blobName, nil
}

// DownloadSnapshot downloads a backup snapshot from in-memory storage
func (c *MockBlobStorageClient) DownloadSnapshot(ctx context.Context, blobName string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, exists := c.Storage[blobName]
	if !exists {
		return nil, fmt.Errorf("blob not found: %s", blobName)
	}

	if c.logger != nil {
		c.logger.Info("mock: snapshot downloaded",
			zap.String("blob_name", blobName),
			zap.Int("size_bytes", len(data)),
		)
	}

	return bytes.Clone(data), nil
}

// DeleteSnapshot removes a backup snapshot from in-memory storage
func (c *MockBlobStorageClient) DeleteSnapshot(ctx context.Context, blobName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.Storage[blobName]; !exists {
		return fmt.Errorf("blob not found: %s", blobName)
	}

	delete(c.Storage, blobName)

	if c.logger != nil {
		c.logger.Info("mock: snapshot deleted",
			zap.String("blob_name", blobName),
		)
	}

	return nil
}

// ListSnapshots returns all snapshots in storage, sorted by name
func (c *MockBlobStorageClient) ListSnapshots(ctx context.Context) ([]SnapshotItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]SnapshotItem, 0, len(c.Storage))
	for name, data := range c.Storage {
		items = append(items, SnapshotItem{Name: name, SizeBytes: int64(len(data))})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	return items, nil
}

// Clear removes all data from in-memory storage
func (c *MockBlobStorageClient) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Storage = make(map[string][]byte)

	if c.logger != nil {
		c.logger.Info("mock: storage cleared")
	}
}
