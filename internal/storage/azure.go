package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/watzon/nanofield/internal/config"
)

// AzureBackend stores every nanofield bucket inside one blob container
// under {prefix}{bucket}/{key}.
type AzureBackend struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureBackend authenticates with the connection string when one is set,
// then managed identity when enabled, and DefaultAzureCredential otherwise.
func NewAzureBackend(cfg config.AzureConfig) (Backend, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: azure container is required", ErrInvalidConfig)
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountURL == "":
		return nil, fmt.Errorf("%w: azure account_url is required", ErrInvalidConfig)
	case cfg.UseManagedIdentity:
		var cred *azidentity.ManagedIdentityCredential
		cred, err = azidentity.NewManagedIdentityCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
		}
	default:
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}

	return &AzureBackend{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

func (b *AzureBackend) blobName(bucket, key string) string {
	return objectName(b.prefix, bucket, key)
}

func (b *AzureBackend) Put(ctx context.Context, bucket, key string, r io.Reader, _ int64) error {
	if _, err := b.client.UploadStream(ctx, b.container, b.blobName(bucket, key), r, nil); err != nil {
		return fmt.Errorf("uploading blob: %w", err)
	}
	return nil
}

func (b *AzureBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.blobName(bucket, key), nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("downloading blob: %w", err)
	}
	return resp.Body, nil
}

func (b *AzureBackend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteBlob(ctx, b.container, b.blobName(bucket, key), nil)
	if err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

func (b *AzureBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	blob := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(b.blobName(bucket, key))
	if _, err := blob.GetProperties(ctx, nil); err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading blob properties: %w", err)
	}
	return true, nil
}

func isAzureNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
