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
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// sqsAPI is the subset of the SQS client the listener uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSListener long-polls an SQS queue fed by S3 event notifications.
type SQSListener struct {
	client   sqsAPI
	queueURL string
	tracer   trace.Tracer
	h        *handler
	backoff  time.Duration
}

var _ Listener = (*SQSListener)(nil)

func NewSQSListener(client sqsAPI, tracer trace.Tracer, queueURL, basePath string, wake WakeFunc) *SQSListener {
	return &SQSListener{
		client:   client,
		queueURL: queueURL,
		tracer:   tracer,
		h:        newHandler("sqs", basePath, wake),
		backoff:  5 * time.Second,
	}
}

func (l *SQSListener) Name() string { return "sqs" }

func (l *SQSListener) Run(ctx context.Context) error {
	slog.Info("Starting SQS notification listener", slog.String("queueURL", l.queueURL))
	for {
		if ctx.Err() != nil {
			slog.Info("SQS notification listener stopped")
			return nil
		}

		result, err := l.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(l.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			if !sleepCtx(ctx, l.backoff) {
				return nil
			}
			continue
		}

		woke := false
		for _, msg := range result.Messages {
			if msg.Body != nil && !woke {
				_, span := l.tracer.Start(ctx, "notify.sqs.message",
					trace.WithAttributes(attribute.String("messageId", aws.ToString(msg.MessageId))))
				woke = l.h.handle(ctx, []byte(*msg.Body))
				span.End()
			}

			// Notifications are hints; always delete so they are not redelivered.
			deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_, err := l.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(l.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			})
			cancel()
			if err != nil {
				slog.Error("Failed to delete SQS message",
					slog.Any("error", err),
					slog.String("messageId", aws.ToString(msg.MessageId)))
			}
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
