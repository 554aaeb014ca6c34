package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/Log-Tools/linepipe/internal/config"
)

// AzureBlobAPI is the subset of the Azure Blob client used by AzureStore
type AzureBlobAPI interface {
	DownloadStream(ctx context.Context, containerName, blobName string, options *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, options *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	ContainerExists(ctx context.Context, containerName string) (bool, error)
	ListBlobs(ctx context.Context, containerName, prefix string) ([]ObjectInfo, error)
}

// AzureStore implements ObjectStore on Azure Blob Storage containers
type AzureStore struct {
	client AzureBlobAPI
}

// NewAzureStore creates an Azure store authenticated with the account's shared key
func NewAzureStore(cfg config.AzureConfig) (*AzureStore, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure shared key credential: %w", err)
	}

	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return NewAzureStoreWithClient(&azureClientWrapper{client: client}), nil
}

// NewAzureStoreWithClient creates an Azure store on an existing client
func NewAzureStoreWithClient(client AzureBlobAPI) *AzureStore {
	return &AzureStore{client: client}
}

// Get downloads a blob stream
func (s *AzureStore) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, key)
		}
		return nil, fmt.Errorf("failed to download blob %s/%s: %w", container, key, err)
	}
	return resp.Body, nil
}

// Put uploads data as a block blob
func (s *AzureStore) Put(ctx context.Context, container, key string, data []byte, contentType string) error {
	options := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := s.client.UploadBuffer(ctx, container, key, data, options); err != nil {
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return fmt.Errorf("%w: container %s", ErrNotFound, container)
		}
		return fmt.Errorf("failed to upload blob %s/%s: %w", container, key, err)
	}
	return nil
}

// BucketExists checks the container
func (s *AzureStore) BucketExists(ctx context.Context, container string) (bool, error) {
	return s.client.ContainerExists(ctx, container)
}

// List lists blobs under prefix
func (s *AzureStore) List(ctx context.Context, container, prefix string) ([]ObjectInfo, error) {
	objects, err := s.client.ListBlobs(ctx, container, prefix)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: container %s", ErrNotFound, container)
		}
		return nil, fmt.Errorf("failed to list blobs in %s: %w", container, err)
	}
	return objects, nil
}

// azureClientWrapper wraps the Azure client to implement the AzureBlobAPI interface
type azureClientWrapper struct {
	client *azblob.Client
}

// DownloadStream downloads blob stream
func (c *azureClientWrapper) DownloadStream(ctx context.Context, containerName, blobName string, options *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error) {
	return c.client.DownloadStream(ctx, containerName, blobName, options)
}

// UploadBuffer uploads a buffer as a block blob
func (c *azureClientWrapper) UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, options *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	return c.client.UploadBuffer(ctx, containerName, blobName, buffer, options)
}

// ContainerExists gets container properties and maps ContainerNotFound to false
func (c *azureClientWrapper) ContainerExists(ctx context.Context, containerName string) (bool, error) {
	_, err := c.client.ServiceClient().NewContainerClient(containerName).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get container properties for %s: %w", containerName, err)
	}
	return true, nil
}

// ListBlobs walks the flat listing pager
func (c *azureClientWrapper) ListBlobs(ctx context.Context, containerName, prefix string) ([]ObjectInfo, error) {
	pager := c.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var objects []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}
