package azure

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"
)

// BlobStorageClient wraps Azure Blob Storage SDK for backup snapshot operations
type BlobStorageClient struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger
}

// NewBlobStorageClient creates a new Azure Blob Storage client
func NewBlobStorageClient(accountName, accountKey, containerName string, logger *zap.Logger) (*BlobStorageClient, error) {
	if accountName == "" || accountKey == "" || containerName == "" {
		return nil, fmt.Errorf("accountName, accountKey, and containerName are required")
	}

	// Create service URL
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)

	// Create shared key credential
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	// Create blob client
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStorageClient{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

// UploadSnapshot uploads a backup snapshot to Azure Blob Storage
func (c *BlobStorageClient) UploadSnapshot(ctx context.Context, name string, data []byte) (string, error) {
	c.logger.Info("uploading snapshot to blob storage",
		zap.String("name", name),
		zap.Int("size_bytes", len(data)),
	)

	blobName := fmt.Sprintf("backups/%s", name)

	// Get blob client
	blobClient := c.client.ServiceClient().NewContainerClient(c.containerName).NewBlockBlobClient(blobName)

	// Upload with metadata
	_, err := blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"contenttype": toPtr("application/octet-stream"),
		},
	})

	if err != nil {
		c.logger.Error("failed to upload snapshot",
			zap.String("name", name),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	c.logger.Info("snapshot uploaded successfully",
		zap.String("blob_name", blobName),
	)

	return blobName, nil
}

// DownloadSnapshot downloads a backup snapshot from Azure Blob Storage
func (c *BlobStorageClient) DownloadSnapshot(ctx context.Context, blobName string) ([]byte, error) {
	c.logger.Info("downloading snapshot from blob storage",
		zap.String("blob_name", blobName),
	)

	// Get blob client
	blobClient := c.client.ServiceClient().NewContainerClient(c.containerName).NewBlockBlobClient(blobName)

	// Download blob
	downloadResponse, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		c.logger.Error("failed to download snapshot",
			zap.String("blob_name", blobName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer downloadResponse.Body.Close()

	// Read all data
	data, err := io.ReadAll(downloadResponse.Body)
	if err != nil {
		c.logger.Error("failed to read snapshot data",
			zap.String("blob_name", blobName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to read snapshot data: %w", err)
	}

	c.logger.Info("snapshot downloaded successfully",
		zap.String("blob_name", blobName),
		zap.Int("size_bytes", len(data)),
	)

	return data, nil
}

// DeleteSnapshot removes a backup snapshot from Azure Blob Storage
func (c *BlobStorageClient) DeleteSnapshot(ctx context.Context, blobName string) error {
	c.logger.Info("deleting snapshot from blob storage",
		zap.String("blob_name", blobName),
	)

	_, err := c.client.DeleteBlob(ctx, c.containerName, blobName, nil)
	if err != nil {
		c.logger.Error("failed to delete snapshot",
			zap.String("blob_name", blobName),
			zap.Error(err),
		)
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	c.logger.Info("snapshot deleted successfully",
		zap.String("blob_name", blobName),
	)

	return nil
}

// ListSnapshots returns all backup snapshots in the container
func (c *BlobStorageClient) ListSnapshots(ctx context.Context) ([]SnapshotItem, error) {
	prefix := "backups/"
	pager := c.client.NewListBlobsFlatPager(c.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var items []SnapshotItem
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			c.logger.Error("failed to list snapshots", zap.Error(err))
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil {
				continue
			}
			item := SnapshotItem{Name: *blob.Name}
			if blob.Properties != nil && blob.Properties.ContentLength != nil {
				item.SizeBytes = *blob.Properties.ContentLength
			}
			items = append(items, item)
		}
	}

	return items, nil
}

// toPtr is a helper function to convert a value to a pointer
func toPtr(s string) *string {
	return &s
}
