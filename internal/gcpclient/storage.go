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

package gcpclient

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"

	"github.com/cardinalhq/eventrunner/config"
)

// StorageClient wraps a GCS client with the tracer used for its spans.
type StorageClient struct {
	Client *storage.Client
	Tracer trace.Tracer
}

type storageConfig struct {
	serviceAccountEmail string
	endpoint            string
}

type StorageOption func(*storageConfig)

// WithImpersonateServiceAccount acts as the given service account, the GCS
// counterpart of an AWS role.
func WithImpersonateServiceAccount(email string) StorageOption {
	return func(c *storageConfig) {
		c.serviceAccountEmail = email
	}
}

// WithStorageEndpoint points the client at an emulator or private endpoint.
func WithStorageEndpoint(endpoint string) StorageOption {
	return func(c *storageConfig) {
		c.endpoint = endpoint
	}
}

func (c storageConfig) key() string {
	return c.serviceAccountEmail + "|" + c.endpoint
}

func (m *Manager) GetStorage(ctx context.Context, opts ...StorageOption) (*StorageClient, error) {
	cfg := storageConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	key := cfg.key()
	m.RLock()
	client, ok := m.storageClients[key]
	m.RUnlock()
	if ok {
		return client, nil
	}

	m.Lock()
	defer m.Unlock()
	if client, ok = m.storageClients[key]; ok {
		return client, nil
	}

	var clientOpts []option.ClientOption
	if cfg.serviceAccountEmail != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: cfg.serviceAccountEmail,
			Scopes:          []string{storage.ScopeReadWrite},
		})
		if err != nil {
			return nil, fmt.Errorf("creating impersonated token source: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	if cfg.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.endpoint))
	}

	sc, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	client = &StorageClient{Client: sc, Tracer: m.tracer}
	m.storageClients[key] = client
	return client, nil
}

// GetStorageForConfig builds the client for the native gcs storage provider.
// storage.role names the service account to impersonate.
func (m *Manager) GetStorageForConfig(ctx context.Context, sc config.StorageConfig) (*StorageClient, error) {
	var opts []StorageOption
	if sc.Role != "" {
		opts = append(opts, WithImpersonateServiceAccount(sc.Role))
	}
	if sc.Endpoint != "" {
		opts = append(opts, WithStorageEndpoint(sc.Endpoint))
	}
	return m.GetStorage(ctx, opts...)
}
