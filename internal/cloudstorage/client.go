// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cloudstorage

import (
	"context"
	"fmt"

	"github.com/cardinalhq/eventrunner/config"
	"github.com/cardinalhq/eventrunner/internal/awsclient"
	"github.com/cardinalhq/eventrunner/internal/azureclient"
	"github.com/cardinalhq/eventrunner/internal/gcpclient"
	"github.com/cardinalhq/eventrunner/internal/retry"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Client provides a unified interface for the capture bucket across providers.
// All errors returned are *StorageError.
type Client interface {
	// Download writes the object to dest and returns the bytes written.
	// dest is replaced atomically; a failed download leaves no partial file.
	Download(ctx context.Context, key, dest string) (int64, error)

	// Upload stores the local file source at key and returns the stored path.
	Upload(ctx context.Context, source, key string) (string, error)

	// List returns every object below prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// NewClient builds the client for the configured provider, wrapped so that
// transient failures are retried with exponential backoff.
func NewClient(ctx context.Context, sc config.StorageConfig) (Client, error) {
	var (
		c   Client
		err error
	)
	switch sc.Provider {
	case config.StorageProviderAWS, config.StorageProviderGCP, "":
		var mgr *awsclient.Manager
		mgr, err = awsclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS manager: %w", err)
		}
		var s3c *awsclient.S3Client
		s3c, err = mgr.GetS3ForStorage(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		c = newS3Client(s3c, sc.Bucket)
	case config.StorageProviderGCS:
		var mgr *gcpclient.Manager
		mgr, err = gcpclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP manager: %w", err)
		}
		var gc *gcpclient.StorageClient
		gc, err = mgr.GetStorageForConfig(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		c = newGCSClient(gc, sc.Bucket)
	case config.StorageProviderAzure:
		var mgr *azureclient.Manager
		mgr, err = azureclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure manager: %w", err)
		}
		opts := []azureclient.BlobOption{azureclient.WithBlobStorageAccount(sc.StorageAccount)}
		if sc.Endpoint != "" {
			opts = append(opts, azureclient.WithBlobEndpoint(sc.Endpoint))
		}
		var bc *azureclient.BlobClient
		bc, err = mgr.GetBlob(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		c = newAzureClient(bc, sc.Bucket)
	case config.StorageProviderFile:
		c = NewFileClient(sc.Endpoint, sc.Bucket)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", sc.Provider)
	}

	policy := retry.DefaultPolicy
	if sc.MaxAttempts > 0 {
		policy.MaxAttempts = uint(sc.MaxAttempts)
	}
	return NewRetryingClient(c, policy), nil
}
