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
	"mime"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/eventrunner/internal/awsclient"
)

// s3Client serves AWS S3 and S3-compatible stores (GCS interop, MinIO).
type s3Client struct {
	s3     *awsclient.S3Client
	bucket string
}

var _ Client = (*s3Client)(nil)

func newS3Client(c *awsclient.S3Client, bucket string) *s3Client {
	return &s3Client{s3: c, bucket: bucket}
}

func (c *s3Client) Download(ctx context.Context, key, dest string) (int64, error) {
	ctx, span := c.s3.Tracer.Start(ctx, "cloudstorage.s3Download",
		trace.WithAttributes(
			attribute.String("bucket", c.bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	downloader := manager.NewDownloader(c.s3.Client)
	n, err := writeFileAtomic(dest, func(f *os.File) (int64, error) {
		return downloader.Download(ctx, f, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
	})
	err = classify("download", key, err)
	recordDownload(ctx, "s3", n, err)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return n, nil
}

func (c *s3Client) Upload(ctx context.Context, source, key string) (string, error) {
	ctx, span := c.s3.Tracer.Start(ctx, "cloudstorage.s3Upload",
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

	stat, err := f.Stat()
	if err != nil {
		return "", classify("upload", key, fmt.Errorf("stat %s: %w", source, err))
	}

	uploader := manager.NewUploader(c.s3.Client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeFor(key)),
		Metadata: map[string]string{
			"writer": "eventrunner",
		},
	})
	err = classify("upload", key, err)
	recordUpload(ctx, "s3", stat.Size(), err)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return key, nil
}

func (c *s3Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := c.s3.Tracer.Start(ctx, "cloudstorage.s3List",
		trace.WithAttributes(
			attribute.String("bucket", c.bucket),
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	paginator := s3.NewListObjectsV2Paginator(c.s3.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var out []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".c3d":
		return "application/octet-stream"
	case ".mp4":
		return "video/mp4"
	}
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
