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

package eventqueue

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	requestErrors  metric.Int64Counter
	claimConflicts metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/eventrunner/internal/eventqueue")

	var err error
	requestErrors, err = meter.Int64Counter(
		"eventrunner.queue.request.errors",
		metric.WithDescription("Number of event queue requests that failed after retries"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create queue.request.errors counter: %w", err))
	}

	claimConflicts, err = meter.Int64Counter(
		"eventrunner.queue.claim.conflicts",
		metric.WithDescription("Number of claims lost to another worker"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create queue.claim.conflicts counter: %w", err))
	}
}

func recordRequestError(ctx context.Context, op string, err error) {
	kind := "other"
	switch {
	case IsFatal(err):
		kind = "fatal"
	case IsTransient(err):
		kind = "transient"
	case errors.Is(err, context.Canceled):
		kind = "cancelled"
	}
	requestErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("kind", kind),
	))
}

func recordClaimConflict(ctx context.Context) {
	claimConflicts.Add(ctx, 1)
}
