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

	"github.com/cardinalhq/eventrunner/internal/retry"
)

type retryingClient struct {
	next   Client
	policy retry.Policy
}

// NewRetryingClient retries transient StorageErrors from next with
// exponential backoff. Permanent errors are returned on the first attempt.
func NewRetryingClient(next Client, policy retry.Policy) Client {
	return &retryingClient{next: next, policy: policy}
}

func (c *retryingClient) Download(ctx context.Context, key, dest string) (int64, error) {
	return retry.Do(ctx, c.policy, "storage.download", IsTransient, func(ctx context.Context) (int64, error) {
		return c.next.Download(ctx, key, dest)
	})
}

func (c *retryingClient) Upload(ctx context.Context, source, key string) (string, error) {
	return retry.Do(ctx, c.policy, "storage.upload", IsTransient, func(ctx context.Context) (string, error) {
		return c.next.Upload(ctx, source, key)
	})
}

func (c *retryingClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return retry.Do(ctx, c.policy, "storage.list", IsTransient, func(ctx context.Context) ([]ObjectInfo, error) {
		return c.next.List(ctx, prefix)
	})
}
