// Package azblob uploads report exports to Azure Blob Storage.
package azblob

import (
	"context"
	"fmt"
	"log/slog"

	sdk "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// Sink writes export artifacts into one container.
type Sink struct {
	client    *sdk.Client
	container string
	logger    *slog.Logger
}

// New wraps an existing client.
func New(client *sdk.Client, container string, logger *slog.Logger) *Sink {
	return &Sink{client: client, container: container, logger: logger}
}

// NewSharedKey builds a client for account using a shared key credential.
func NewSharedKey(account, key, container string, logger *slog.Logger) (*Sink, error) {
	cred, err := sdk.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("azure credentials: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := sdk.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}
	return New(client, container, logger), nil
}

// Put uploads data as blob name and returns the blob URL.
func (s *Sink) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &sdk.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("upload blob %s: %w", name, err)
	}
	url := s.client.URL() + s.container + "/" + name
	s.logger.Info("export uploaded", "container", s.container, "blob", name, "bytes", len(data))
	return url, nil
}
