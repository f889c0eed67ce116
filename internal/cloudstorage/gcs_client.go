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
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"

	"github.com/cardinalhq/eventrunner/internal/gcpclient"
)

// gcsClient talks to Google Cloud Storage through its native API.
type gcsClient struct {
	gcs    *gcpclient.StorageClient
	bucket string
}

var _ Client = (*gcsClient)(nil)

func newGCSClient(c *gcpclient.StorageClient, bucket string) *gcsClient {
	return &gcsClient{gcs: c, bucket: bucket}
}

func (c *gcsClient) Download(ctx context.Context, key, dest string) (int64, error) {
	ctx, span := c.gcs.Tracer.Start(ctx, "cloudstorage.gcsDownload",
		trace.WithAttributes(
			attribute.String("bucket", c.bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	n, err := writeFileAtomic(dest, func(f *os.File) (int64, error) {
		// Capture videos are stored as-is; never transcode on read.
		r, err := c.gcs.Client.Bucket(c.bucket).Object(key).ReadCompressed(true).NewReader(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return 0, fmt.Errorf("%w: %v", ErrNotFound, err)
			}
			return 0, err
		}
		defer func() { _ = r.Close() }()
		return io.Copy(f, r)
	})
	err = classify("download", key, err)
	recordDownload(ctx, "gcs", n, err)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return n, nil
}

func (c *gcsClient) Upload(ctx context.Context, source, key string) (string, error) {
	ctx, span := c.gcs.Tracer.Start(ctx, "cloudstorage.gcsUpload",
		trace.WithAttributes(
			attribute.String("bucket", c.bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	f, err := os.Open(source)
	if err != nil {
		return "", classify("upload", key, fmt.Errorf("open %s: %w", source, err))
	}
	defer func() { _ = f.Close() }()

	w := c.gcs.Client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeFor(key)
	w.Metadata = map[string]string{
		"writer": "eventrunner",
	}

	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
	} else {
		err = w.Close()
	}
	err = classify("upload", key, err)
	recordUpload(ctx, "gcs", n, err)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return key, nil
}

func (c *gcsClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := c.gcs.Tracer.Start(ctx, "cloudstorage.gcsList",
		trace.WithAttributes(
			attribute.String("bucket", c.bucket),
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	it := c.gcs.Client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			span.RecordError(err)
			return nil, classify("list", prefix, err)
		}
		out = append(out, ObjectInfo{Key: attrs.Name, Size: attrs.Size})
	}
	return out, nil
}
