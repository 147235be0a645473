// Package azure provides an Azure Blob Storage-backed snapshot.Store.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"hometopology/internal/snapshot"
)

// Store is an Azure Blob Storage-backed snapshot.Store. Each snapshot is a
// blob named "<prefix><id>" in container.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

var _ snapshot.Store = (*Store)(nil)

// New builds a Store from a service URL and an azcore.TokenCredential,
// targeting container with blob names namespaced under prefix.
func New(serviceURL string, cred azcore.TokenCredential, container, prefix string) (*Store, error) {
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azblob client: %w", err)
	}
	return &Store{client: client, container: container, prefix: prefix}, nil
}

func (s *Store) blobName(id string) string {
	return s.prefix + id
}

// Put uploads data as the blob for id, overwriting any existing blob.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.container, s.blobName(id), data, nil)
	if err != nil {
		return fmt.Errorf("upload blob %q: %w", s.blobName(id), err)
	}
	return nil
}

// Get downloads the blob stored for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blobName(id), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("download blob %q: %w", s.blobName(id), err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read blob %q: %w", s.blobName(id), err)
	}
	return buf.Bytes(), nil
}
