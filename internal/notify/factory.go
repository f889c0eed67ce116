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

	"github.com/cardinalhq/eventrunner/config"
	"github.com/cardinalhq/eventrunner/internal/awsclient"
	"github.com/cardinalhq/eventrunner/internal/azureclient"
)

// New builds the listener for the configured backend. It returns nil and no
// error when notifications are disabled.
func New(ctx context.Context, nc config.NotificationsConfig, basePath string, wake WakeFunc) (Listener, error) {
	switch nc.Backend {
	case config.NotificationBackendNone:
		return nil, nil
	case config.NotificationBackendSQS:
		mgr, err := awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName("eventrunner-notify"))
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS manager: %w", err)
		}
		sc, err := mgr.GetSQS(ctx, awsclient.WithSQSRole(nc.Role), awsclient.WithSQSRegion(nc.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS client: %w", err)
		}
		return NewSQSListener(sc.Client, sc.Tracer, nc.QueueURL, basePath, wake), nil
	case config.NotificationBackendGCP:
		return NewPubSubListener(ctx, nc.ProjectID, nc.SubscriptionID, basePath, wake)
	case config.NotificationBackendAzure:
		mgr, err := azureclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure manager: %w", err)
		}
		qc, err := mgr.GetQueue(ctx,
			azureclient.WithQueueStorageAccount(nc.StorageAccount),
			azureclient.WithQueueName(nc.QueueName),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Queue client: %w", err)
		}
		return NewAzureQueueListener(qc.QueueClient, nc.QueueName, basePath, wake), nil
	default:
		return nil, fmt.Errorf("unsupported notification backend: %s", nc.Backend)
	}
}
