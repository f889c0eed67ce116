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

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// azureQueueAPI is the subset of azqueue.QueueClient the listener uses.
type azureQueueAPI interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// AzureQueueListener polls an Azure Storage queue fed by Event Grid
// BlobCreated subscriptions.
type AzureQueueListener struct {
	client    azureQueueAPI
	queueName string
	h         *handler
	idle      time.Duration
	backoff   time.Duration
}

var _ Listener = (*AzureQueueListener)(nil)

func NewAzureQueueListener(client azureQueueAPI, queueName, basePath string, wake WakeFunc) *AzureQueueListener {
	return &AzureQueueListener{
		client:    client,
		queueName: queueName,
		h:         newHandler("azure", basePath, wake),
		idle:      time.Second,
		backoff:   5 * time.Second,
	}
}

func (l *AzureQueueListener) Name() string { return "azure" }

func (l *AzureQueueListener) Run(ctx context.Context) error {
	slog.Info("Starting Azure Queue notification listener", slog.String("queue", l.queueName))
	for {
		if ctx.Err() != nil {
			slog.Info("Azure Queue notification listener stopped")
			return nil
		}

		dqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		result, err := l.client.DequeueMessages(dqCtx, &azqueue.DequeueMessagesOptions{
			NumberOfMessages:  to.Ptr(int32(32)),
			VisibilityTimeout: to.Ptr(int32(30)),
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to receive messages from Azure Queue", slog.Any("error", err))
			if !sleepCtx(ctx, l.backoff) {
				return nil
			}
			continue
		}

		woke := false
		for _, msg := range result.Messages {
			if msg.MessageText != nil && !woke {
				woke = l.h.handle(ctx, decodeIfBase64(*msg.MessageText))
			}
			if msg.MessageID == nil || msg.PopReceipt == nil {
				continue
			}
			delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			_, err := l.client.DeleteMessage(delCtx, *msg.MessageID, *msg.PopReceipt, nil)
			cancel()
			if err != nil {
				slog.Error("Failed to delete Azure Queue message", slog.Any("error", err))
			}
		}

		if len(result.Messages) == 0 && !sleepCtx(ctx, l.idle) {
			return nil
		}
	}
}
