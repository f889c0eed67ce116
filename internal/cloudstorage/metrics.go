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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	downloadErrors metric.Int64Counter
	downloadCount  metric.Int64Counter
	downloadBytes  metric.Int64Counter
	uploadErrors   metric.Int64Counter
	uploadCount    metric.Int64Counter
	uploadBytes    metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/eventrunner/internal/cloudstorage")

	var err error
	downloadErrors, err = meter.Int64Counter(
		"eventrunner.storage.download.errors",
		metric.WithDescription("Number of blob download errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.errors counter: %w", err))
	}

	downloadCount, err = meter.Int64Counter(
		"eventrunner.storage.download.count",
		metric.WithDescription("Number of blob downloads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.count counter: %w", err))
	}

	downloadBytes, err = meter.Int64Counter(
		"eventrunner.storage.download.bytes",
		metric.WithDescription("Bytes downloaded from blob storage"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}

	uploadErrors, err = meter.Int64Counter(
		"eventrunner.storage.upload.errors",
		metric.WithDescription("Number of blob upload errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.errors counter: %w", err))
	}

	uploadCount, err = meter.Int64Counter(
		"eventrunner.storage.upload.count",
		metric.WithDescription("Number of blob uploads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"eventrunner.storage.upload.bytes",
		metric.WithDescription("Bytes uploaded to blob storage"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}
}

func errorReason(err error) string {
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return kindOf(err).String()
}

func recordDownload(ctx context.Context, provider string, n int64, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if err != nil {
		downloadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", errorReason(err)),
		))
		return
	}
	downloadCount.Add(ctx, 1, attrs)
	downloadBytes.Add(ctx, n, attrs)
}

func recordUpload(ctx context.Context, provider string, n int64, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if err != nil {
		uploadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", errorReason(err)),
		))
		return
	}
	uploadCount.Add(ctx, 1, attrs)
	uploadBytes.Add(ctx, n, attrs)
}
