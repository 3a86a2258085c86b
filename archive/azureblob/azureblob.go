// Package azureblob provides an optional archive storage backend
// writing whole archive bundles as single block blobs, for
// deployments that keep artifacts in Azure Blob Storage rather than a
// local filesystem.
package azureblob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/forestrie/go-verifiable-artifact/apperr"
	"github.com/forestrie/go-verifiable-artifact/archive"
)

// Store uploads and downloads whole archive bundles as block blobs in
// one container, keyed by artifact name.
type Store struct {
	container *container.Client
}

// NewStore builds a Store bound to an already-constructed container
// client. Credential selection (shared key, token, connection string)
// is the caller's concern; this package only moves bytes.
func NewStore(containerClient *container.Client) *Store {
	return &Store{container: containerClient}
}

// Put uploads bundle as a single gzip-compressed tar blob named key.
func (s *Store) Put(ctx context.Context, key string, bundle *archive.Bundle) error {
	var buf bytes.Buffer
	if err := archive.WriteTar(&buf, bundle); err != nil {
		return err
	}

	blockBlob := s.container.NewBlockBlobClient(key)
	_, err := blockBlob.UploadBuffer(ctx, buf.Bytes(), nil)
	if err != nil {
		return fmt.Errorf("%w: uploading archive blob %q: %v", apperr.IoError, key, err)
	}
	return nil
}

// Get downloads and parses the gzip-compressed tar blob named key.
func (s *Store) Get(ctx context.Context, key string) (*archive.Bundle, error) {
	blockBlob := s.container.NewBlockBlobClient(key)
	resp, err := blockBlob.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading archive blob %q: %v", apperr.IoError, key, err)
	}
	defer resp.Body.Close()

	bundle, err := archive.ReadTar(resp.Body)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}
