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

const (
	EnvPrefix = "EVENTRUNNER"

	// ConfigPathEnv names the variable holding the config document path
	// when --config is not given.
	ConfigPathEnv = "EVENTRUNNER_CONFIG"

	ProfileCloud        = "cloud"
	ProfileLocalLinux   = "localLinux"
	ProfileLocalWindows = "localWindows"

	EnvironmentProd    = "prod"
	EnvironmentStaging = "staging"

	StorageProviderAWS   = "aws"
	StorageProviderGCP   = "gcp"
	StorageProviderGCS   = "gcs"
	StorageProviderAzure = "azure"
	StorageProviderFile  = "file"

	NotificationBackendNone  = ""
	NotificationBackendSQS   = "sqs"
	NotificationBackendGCP   = "gcp"
	NotificationBackendAzure = "azure"

	DefaultHealthPort               = 8090
	DefaultPollIntervalSeconds      = 60
	DefaultLeaseHeartbeatSeconds    = 300
	DefaultRequestTimeoutSeconds    = 30
	DefaultMaxAttempts              = 5
	DefaultJobTimeoutHours          = 8
	DefaultKillGraceSeconds         = 30
	DefaultPropertiesTimeoutSeconds = 120
	DefaultShutdownGraceSeconds     = 300

	DefaultProcessorsRoot = "/opt/kinatrax"
	DefaultResultsPattern = "*.c3d"
	DefaultOverlayPattern = "*.skeleton.mp4"

	// PreservedWorkDirPrefix marks working directories kept after a failure.
	PreservedWorkDirPrefix = "failed-"

	ProcessorVersion63  = "v6.3.0"
	ProcessorVersion64  = "v6.4.0"
	ProcessorVersionAny = "*"

	redactedValue = "REDACTED"
)

// defaultConcurrency is the documented concurrent event ceiling per profile.
var defaultConcurrency = map[string]int{
	ProfileCloud:        3,
	ProfileLocalLinux:   2,
	ProfileLocalWindows: 1,
}
