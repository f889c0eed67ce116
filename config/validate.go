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

package config

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if _, err := c.APIBaseURL(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.API.OrganizationID == "" {
		add("api.organizationId is required")
	}
	if c.API.APIKey == "" {
		add("api.apiKey is required")
	}
	if c.API.LeaseHeartbeatSeconds < 0 {
		add("api.leaseHeartbeatSeconds must not be negative")
	}
	if c.API.RequestTimeoutSeconds <= 0 {
		add("api.requestTimeoutSeconds must be > 0")
	}
	if c.API.MaxAttempts < 1 {
		add("api.maxAttempts must be >= 1")
	}
	if c.ProcessingPropertiesMaker == "" {
		add("processingPropertiesMaker is required")
	}

	if pc, err := c.ActiveProfile(); err != nil {
		result = multierror.Append(result, err)
	} else {
		if pc.DataPath == "" {
			add("configurations.%s.dataPath is required", c.Profile)
		}
		if pc.EventAPICheckIntervalSeconds <= 0 {
			add("configurations.%s.eventAPICheckIntervalSeconds must be > 0", c.Profile)
		}
		if pc.ConcurrentEvents < 1 {
			add("configurations.%s.concurrentEvents must be >= 1", c.Profile)
		}
	}

	if err := c.Storage.validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Notifications.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	for i, p := range c.Processors {
		if p.Kind == "" || p.Version == "" || p.Path == "" {
			add("processors[%d]: kind, version and path are required", i)
		}
	}

	if c.Job.TimeoutHours <= 0 {
		add("job.timeoutHours must be > 0")
	}
	if c.Job.KillGraceSeconds < 0 {
		add("job.killGraceSeconds must not be negative")
	}
	if c.Job.PropertiesTimeoutSeconds <= 0 {
		add("job.propertiesTimeoutSeconds must be > 0")
	}
	if c.ShutdownGraceSeconds < 0 {
		add("shutdownGraceSeconds must not be negative")
	}
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		add("health.port must be between 0 and 65535")
	}

	return result.ErrorOrNil()
}

func (s StorageConfig) validate() error {
	switch s.Provider {
	case StorageProviderAWS, StorageProviderGCP, StorageProviderGCS:
		if s.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for provider %s", s.Provider)
		}
	case StorageProviderAzure:
		if s.Bucket == "" || s.StorageAccount == "" {
			return errors.New("storage.bucket and storage.storageAccount are required for provider azure")
		}
	case StorageProviderFile:
		if s.Endpoint == "" {
			return errors.New("storage.endpoint (base directory) is required for provider file")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", s.Provider)
	}
	if s.MaxAttempts < 1 {
		return errors.New("storage.maxAttempts must be >= 1")
	}
	return nil
}

func (n NotificationsConfig) validate() error {
	switch n.Backend {
	case NotificationBackendNone:
	case NotificationBackendSQS:
		if n.QueueURL == "" {
			return errors.New("notifications.queueURL is required for backend sqs")
		}
	case NotificationBackendGCP:
		if n.ProjectID == "" || n.SubscriptionID == "" {
			return errors.New("notifications.projectID and notifications.subscriptionID are required for backend gcp")
		}
	case NotificationBackendAzure:
		if n.StorageAccount == "" || n.QueueName == "" {
			return errors.New("notifications.storageAccount and notifications.queueName are required for backend azure")
		}
	default:
		return fmt.Errorf("unknown notifications.backend %q", n.Backend)
	}
	return nil
}
