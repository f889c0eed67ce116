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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the queue-processor configuration document.
type Config struct {
	Environment               string                   `mapstructure:"environment" yaml:"environment"`
	Profile                   string                   `mapstructure:"profile" yaml:"profile"`
	API                       APIConfig                `mapstructure:"api" yaml:"api"`
	ProcessingPropertiesMaker string                   `mapstructure:"processingPropertiesMaker" yaml:"processingPropertiesMaker"`
	CloudBasePath             string                   `mapstructure:"cloudBasePath" yaml:"cloudBasePath"`
	Configurations            map[string]ProfileConfig `mapstructure:"configurations" yaml:"configurations"`
	Storage                   StorageConfig            `mapstructure:"storage" yaml:"storage"`
	ProcessorsRoot            string                   `mapstructure:"processorsRoot" yaml:"processorsRoot"`
	Processors                []ProcessorConfig        `mapstructure:"processors" yaml:"processors"`
	Job                       JobConfig                `mapstructure:"job" yaml:"job"`
	ShutdownGraceSeconds      int                      `mapstructure:"shutdownGraceSeconds" yaml:"shutdownGraceSeconds"`
	Notifications             NotificationsConfig      `mapstructure:"notifications" yaml:"notifications"`
	Health                    HealthConfig             `mapstructure:"health" yaml:"health"`
}

type APIConfig struct {
	URLProd               string `mapstructure:"urlProd" yaml:"urlProd"`
	URLStaging            string `mapstructure:"urlStaging" yaml:"urlStaging"`
	OrganizationID        string `mapstructure:"organizationId" yaml:"organizationId"`
	APIKey                string `mapstructure:"apiKey" yaml:"apiKey"`
	LeaseHeartbeatSeconds int    `mapstructure:"leaseHeartbeatSeconds" yaml:"leaseHeartbeatSeconds"`
	ReleaseOnShutdown     bool   `mapstructure:"releaseOnShutdown" yaml:"releaseOnShutdown"`
	RequestTimeoutSeconds int    `mapstructure:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
	MaxAttempts           int    `mapstructure:"maxAttempts" yaml:"maxAttempts"`
}

// ProfileConfig is one entry under configurations (cloud, localLinux, localWindows).
type ProfileConfig struct {
	DataPath                     string `mapstructure:"dataPath" yaml:"dataPath"`
	EventAPICheckIntervalSeconds int    `mapstructure:"eventAPICheckIntervalSeconds" yaml:"eventAPICheckIntervalSeconds"`
	ConcurrentEvents             int    `mapstructure:"concurrentEvents" yaml:"concurrentEvents"`
}

type StorageConfig struct {
	Provider       string `mapstructure:"provider" yaml:"provider"`
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Role           string `mapstructure:"role" yaml:"role,omitempty"`
	UsePathStyle   bool   `mapstructure:"usePathStyle" yaml:"usePathStyle"`
	InsecureTLS    bool   `mapstructure:"insecureTLS" yaml:"insecureTLS"`
	StorageAccount string `mapstructure:"storageAccount" yaml:"storageAccount,omitempty"`
	MaxAttempts    int    `mapstructure:"maxAttempts" yaml:"maxAttempts"`
}

// ProcessorConfig maps an event kind and processor version to an executable.
// Version "*" matches any version of the kind.
type ProcessorConfig struct {
	Kind    string `mapstructure:"kind" yaml:"kind"`
	Version string `mapstructure:"version" yaml:"version"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type JobConfig struct {
	TimeoutHours             float64 `mapstructure:"timeoutHours" yaml:"timeoutHours"`
	KillGraceSeconds         int     `mapstructure:"killGraceSeconds" yaml:"killGraceSeconds"`
	PropertiesTimeoutSeconds int     `mapstructure:"propertiesTimeoutSeconds" yaml:"propertiesTimeoutSeconds"`
	PreserveOnFailure        bool    `mapstructure:"preserveOnFailure" yaml:"preserveOnFailure"`
	ResultsPattern           string  `mapstructure:"resultsPattern" yaml:"resultsPattern"`
	OverlayPattern           string  `mapstructure:"overlayPattern" yaml:"overlayPattern"`
	MinFreeDiskGB            float64 `mapstructure:"minFreeDiskGB" yaml:"minFreeDiskGB"`
}

type NotificationsConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend"`
	QueueURL       string `mapstructure:"queueURL" yaml:"queueURL,omitempty"`
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Role           string `mapstructure:"role" yaml:"role,omitempty"`
	ProjectID      string `mapstructure:"projectID" yaml:"projectID,omitempty"`
	SubscriptionID string `mapstructure:"subscriptionID" yaml:"subscriptionID,omitempty"`
	StorageAccount string `mapstructure:"storageAccount" yaml:"storageAccount,omitempty"`
	QueueName      string `mapstructure:"queueName" yaml:"queueName,omitempty"`
}

type HealthConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// Load reads the configuration document at path and applies environment
// overrides. Environment variables use the prefix "EVENTRUNNER" and the dot
// character in keys is replaced by an underscore, so "api.apiKey" becomes
// "EVENTRUNNER_API_APIKEY". A path of the form "env:NAME" reads the document
// from the environment variable NAME. An empty path uses only defaults and
// the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, &Config{})
	for profile := range defaultConcurrency {
		bindEnvs(v, &ProfileConfig{}, "configurations", strings.ToLower(profile))
	}

	if err := readDocument(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func readDocument(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if envVar, ok := strings.CutPrefix(path, "env:"); ok {
		contents := os.Getenv(envVar)
		if contents == "" {
			return fmt.Errorf("environment variable %s is not set", envVar)
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader([]byte(contents))); err != nil {
			return fmt.Errorf("failed to parse configuration from %s: %w", envVar, err)
		}
		return nil
	}

	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvironmentProd)
	v.SetDefault("profile", ProfileCloud)
	v.SetDefault("api.leaseHeartbeatSeconds", DefaultLeaseHeartbeatSeconds)
	v.SetDefault("api.releaseOnShutdown", true)
	v.SetDefault("api.requestTimeoutSeconds", DefaultRequestTimeoutSeconds)
	v.SetDefault("api.maxAttempts", DefaultMaxAttempts)
	v.SetDefault("storage.provider", StorageProviderAWS)
	v.SetDefault("storage.maxAttempts", DefaultMaxAttempts)
	v.SetDefault("processorsRoot", DefaultProcessorsRoot)
	v.SetDefault("job.timeoutHours", DefaultJobTimeoutHours)
	v.SetDefault("job.killGraceSeconds", DefaultKillGraceSeconds)
	v.SetDefault("job.propertiesTimeoutSeconds", DefaultPropertiesTimeoutSeconds)
	v.SetDefault("job.resultsPattern", DefaultResultsPattern)
	v.SetDefault("job.overlayPattern", DefaultOverlayPattern)
	v.SetDefault("shutdownGraceSeconds", DefaultShutdownGraceSeconds)
	v.SetDefault("health.port", DefaultHealthPort)
}

// applyDefaults fills values that viper defaults cannot express:
// per-profile settings and the processor table.
func (c *Config) applyDefaults() {
	for name, pc := range c.Configurations {
		if pc.EventAPICheckIntervalSeconds == 0 {
			pc.EventAPICheckIntervalSeconds = DefaultPollIntervalSeconds
		}
		if pc.ConcurrentEvents == 0 {
			pc.ConcurrentEvents = concurrencyFor(name)
		}
		c.Configurations[name] = pc
	}
	if len(c.Processors) == 0 {
		c.Processors = DefaultProcessors(c.ProcessorsRoot)
	}
}

func concurrencyFor(profile string) int {
	for name, n := range defaultConcurrency {
		if strings.EqualFold(name, profile) {
			return n
		}
	}
	return 1
}

// DefaultProcessors returns the standard layout under root: batting and
// pitching for both supported versions plus the subject model generator.
func DefaultProcessors(root string) []ProcessorConfig {
	return []ProcessorConfig{
		{Kind: "batting", Version: ProcessorVersion63, Path: filepath.Join(root, ProcessorVersion63, "BattingProcessor")},
		{Kind: "batting", Version: ProcessorVersion64, Path: filepath.Join(root, ProcessorVersion64, "BattingProcessor")},
		{Kind: "pitching", Version: ProcessorVersion63, Path: filepath.Join(root, ProcessorVersion63, "PitchingProcessor")},
		{Kind: "pitching", Version: ProcessorVersion64, Path: filepath.Join(root, ProcessorVersion64, "PitchingProcessor")},
		{Kind: "subject-model-generation", Version: ProcessorVersionAny, Path: filepath.Join(root, "SubjectModelGenerator")},
	}
}

// ActiveProfile returns the configurations entry selected by Profile.
// Profile names match case-insensitively.
func (c *Config) ActiveProfile() (ProfileConfig, error) {
	for name, pc := range c.Configurations {
		if strings.EqualFold(name, c.Profile) {
			return pc, nil
		}
	}
	return ProfileConfig{}, fmt.Errorf("configurations.%s is not defined", c.Profile)
}

// APIBaseURL returns the queue API URL for Environment.
func (c *Config) APIBaseURL() (string, error) {
	var u string
	switch strings.ToLower(c.Environment) {
	case EnvironmentProd, "production":
		u = c.API.URLProd
	case EnvironmentStaging:
		u = c.API.URLStaging
	default:
		return "", fmt.Errorf("unknown environment %q", c.Environment)
	}
	if u == "" {
		return "", fmt.Errorf("no API URL configured for environment %q", c.Environment)
	}
	return u, nil
}

func (c *Config) PollInterval() time.Duration {
	pc, _ := c.ActiveProfile()
	return time.Duration(pc.EventAPICheckIntervalSeconds) * time.Second
}

func (c *Config) LeaseHeartbeat() time.Duration {
	return time.Duration(c.API.LeaseHeartbeatSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

func (j JobConfig) Timeout() time.Duration {
	return time.Duration(j.TimeoutHours * float64(time.Hour))
}

func (j JobConfig) KillGrace() time.Duration {
	return time.Duration(j.KillGraceSeconds) * time.Second
}

func (j JobConfig) PropertiesTimeout() time.Duration {
	return time.Duration(j.PropertiesTimeoutSeconds) * time.Second
}

func (j JobConfig) MinFreeDiskBytes() uint64 {
	if j.MinFreeDiskGB <= 0 {
		return 0
	}
	return uint64(j.MinFreeDiskGB * (1 << 30))
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.API.APIKey != "" {
		out.API.APIKey = redactedValue
	}
	out.Configurations = make(map[string]ProfileConfig, len(c.Configurations))
	for k, v := range c.Configurations {
		out.Configurations[k] = v
	}
	out.Processors = append([]ProcessorConfig(nil), c.Processors...)
	return &out
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		switch f.Type.Kind() {
		case reflect.Struct:
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		case reflect.Map, reflect.Slice:
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
