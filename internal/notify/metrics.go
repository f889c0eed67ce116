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

package notify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var notifications metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/eventrunner/internal/notify")

	var err error
	notifications, err = meter.Int64Counter(
		"eventrunner.notify.messages",
		metric.WithDescription("Number of storage notifications received, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create notify.messages counter: %w", err))
	}
}

func recordNotification(ctx context.Context, backend, outcome string) {
	notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}
