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
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/eventrunner/internal/azureclient"
)

// azureClient serves Azure Blob Storage; the configured bucket is the container.
type azureClient struct {
	blob      *azureclient.BlobClient
	container string
}

var _ Client = (*azureClient)(nil)

func newAzureClient(bc *azureclient.BlobClient, container string) *azureClient {
	return &azureClient{blob: bc, container: container}
}

func (c *azureClient) Download(ctx context.Context, key, dest string) (int64, error) {
	ctx, span := c.blob.Tracer.Start(ctx, "cloudstorage.azureDownload",
		trace.WithAttributes(
			attribute.String("container", c.container),
			attribute.String("key", key),
		),
	)
	defer span.End()

	n, err := writeFileAtomic(dest, func(f *os.File) (int64, error) {
		resp, err := c.blob.Client.DownloadStream(ctx, c.container, key, nil)
		if err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
				return 0, fmt.Errorf("%w: %v", ErrNotFound, err)
			}
			return 0, err
		}
		defer func() { _ = resp.Body.Close() }()
		return io.Copy(f, resp.Body)
	})
	err = classify("download", key, err)
	recordDownload(ctx, "azure", n, err)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return n, nil
}

func (c *azureClient) Upload(ctx context.Context, source, key string) (string, error) {
	ctx, span := c.blob.Tracer.Start(ctx, "cloudstorage.azureUpload",
		trace.WithAttributes(
			attribute.String("container", c.container),
			attribute.String("key", key),
		),
	)
	defer span.End()

	f, err := os.Open(source)
	if err != nil {
		return "", classify("upload", key, fmt.Errorf("open %s: %w", source, err))
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return "", classify("upload", key, fmt.Errorf("stat %s: %w", source, err))
	}

	_, err = c.blob.Client.UploadStream(ctx, c.container, key, f, &azblob.UploadStreamOptions{
		Metadata: map[string]*string{
			"writer": to.Ptr("eventrunner"),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentTypeFor(key)),
		},
	})
	err = classify("upload", key, err)
	recordUpload(ctx, "azure", stat.Size(), err)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return key, nil
}

func (c *azureClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := c.blob.Tracer.Start(ctx, "cloudstorage.azureList",
		trace.WithAttributes(
			attribute.String("container", c.container),
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	pager := c.blob.Client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})

	var out []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, classify("list", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			out = append(out, info)
		}
	}
	return out, nil
}
