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

package azureclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Manager holds the default Azure credential and caches blob and queue
// clients per storage account.
type Manager struct {
	baseCred *azidentity.DefaultAzureCredential

	sync.RWMutex
	blobClients  map[string]*BlobClient
	queueClients map[queueClientKey]*QueueClient
	tracer       trace.Tracer
}

// NewManager loads the default Azure credential chain.
func NewManager(ctx context.Context) (*Manager, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}

	return &Manager{
		baseCred:     cred,
		blobClients:  make(map[string]*BlobClient),
		queueClients: make(map[queueClientKey]*QueueClient),
		tracer:       otel.Tracer("github.com/cardinalhq/eventrunner/internal/azureclient"),
	}, nil
}

func blobEndpoint(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

func queueEndpoint(account, queue string) string {
	return fmt.Sprintf("https://%s.queue.core.windows.net/%s", account, queue)
}
