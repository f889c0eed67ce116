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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

// PubSubListener receives GCS object notifications from a Pub/Sub subscription.
type PubSubListener struct {
	tracer trace.Tracer
	client *pubsub.Client
	sub    *pubsub.Subscription
	h      *handler
}

var _ Listener = (*PubSubListener)(nil)

func NewPubSubListener(ctx context.Context, projectID, subscriptionID, basePath string, wake WakeFunc) (*PubSubListener, error) {
	// Only set credentials if explicitly provided; ADC covers GCE and Cloud Run.
	var opts []option.ClientOption
	if keyFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); keyFile != "" {
		opts = append(opts, option.WithCredentialsFile(keyFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &PubSubListener{
		tracer: otel.Tracer("github.com/cardinalhq/eventrunner/internal/notify/gcp"),
		client: client,
		sub:    client.Subscription(subscriptionID),
		h:      newHandler("gcp", basePath, wake),
	}, nil
}

func (l *PubSubListener) Name() string { return "gcp" }

func (l *PubSubListener) Run(ctx context.Context) error {
	slog.Info("Starting GCP Pub/Sub notification listener", slog.String("subscription", l.sub.ID()))
	defer func() {
		if err := l.client.Close(); err != nil {
			slog.Error("Failed to close GCP Pub/Sub client", slog.Any("error", err))
		}
	}()

	err := l.sub.Receive(ctx, l.receive)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("GCP Pub/Sub receive error: %w", err)
	}
	return nil
}

func (l *PubSubListener) receive(ctx context.Context, msg *pubsub.Message) {
	ctx, span := l.tracer.Start(ctx, "notify.gcp.message",
		trace.WithAttributes(attribute.String("messageId", msg.ID)))
	defer span.End()

	// Object change notifications carry the event type as an attribute.
	if et := msg.Attributes["eventType"]; et != "" && et != "OBJECT_FINALIZE" {
		msg.Ack()
		return
	}
	l.h.handle(ctx, msg.Data)
	msg.Ack()
}
