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

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
)

var (
	pipelinesStarted  metric.Int64Counter
	pipelinesFinished metric.Int64Counter
	pipelinesInFlight metric.Int64UpDownCounter
	stageDuration     metric.Float64Histogram
	pollsSkipped      metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/eventrunner/internal/dispatcher")

	var err error
	pipelinesStarted, err = meter.Int64Counter(
		"eventrunner.pipeline.started",
		metric.WithDescription("Number of event pipelines started after a successful claim"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pipeline.started counter: %w", err))
	}

	pipelinesFinished, err = meter.Int64Counter(
		"eventrunner.pipeline.finished",
		metric.WithDescription("Number of event pipelines finished, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pipeline.finished counter: %w", err))
	}

	pipelinesInFlight, err = meter.Int64UpDownCounter(
		"eventrunner.pipeline.inflight",
		metric.WithDescription("Number of event pipelines currently running"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pipeline.inflight counter: %w", err))
	}

	stageDuration, err = meter.Float64Histogram(
		"eventrunner.pipeline.stage.duration",
		metric.WithDescription("Time spent in each pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pipeline.stage.duration histogram: %w", err))
	}

	pollsSkipped, err = meter.Int64Counter(
		"eventrunner.poll.skipped",
		metric.WithDescription("Number of poll ticks skipped, by reason"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create poll.skipped counter: %w", err))
	}
}

func kindAttr(k eventqueue.Kind) attribute.KeyValue {
	return attribute.String("kind", string(k))
}

func recordStarted(ctx context.Context, k eventqueue.Kind) {
	pipelinesStarted.Add(ctx, 1, metric.WithAttributes(kindAttr(k)))
	pipelinesInFlight.Add(ctx, 1)
}

func recordFinished(ctx context.Context, k eventqueue.Kind, outcome string) {
	pipelinesFinished.Add(ctx, 1, metric.WithAttributes(kindAttr(k), attribute.String("outcome", outcome)))
	pipelinesInFlight.Add(ctx, -1)
}

func recordStage(ctx context.Context, k eventqueue.Kind, stage Stage, d time.Duration) {
	stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(kindAttr(k), attribute.String("stage", string(stage))))
}

func recordSkippedPoll(ctx context.Context, reason string) {
	pollsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
