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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/eventrunner/config"
	"github.com/cardinalhq/eventrunner/internal/cloudstorage"
	"github.com/cardinalhq/eventrunner/internal/debugging"
	"github.com/cardinalhq/eventrunner/internal/dispatcher"
	"github.com/cardinalhq/eventrunner/internal/eventqueue"
	"github.com/cardinalhq/eventrunner/internal/executor"
	"github.com/cardinalhq/eventrunner/internal/healthcheck"
	"github.com/cardinalhq/eventrunner/internal/helpers"
	"github.com/cardinalhq/eventrunner/internal/notify"
	"github.com/cardinalhq/eventrunner/internal/propsgen"
	"github.com/cardinalhq/eventrunner/internal/retry"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "poll the event queue and process capture events until stopped",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "eventrunner"
			doneCtx, doneFx, err := setupTelemetry(servicename)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			debugging.RunPprof(doneCtx)

			cfg, err := loadConfig()
			if err != nil {
				slog.Error("Failed to load configuration", slog.Any("error", err))
				return err
			}
			return runDispatcher(doneCtx, cfg)
		},
	}

	rootCmd.AddCommand(cmd)
}

// loadConfig loads and validates the configuration named by --config,
// applying --profile when given.
func loadConfig() (*config.Config, error) {
	cfg, err := loadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setProfileEnv(name string) error {
	if err := os.Setenv(config.EnvPrefix+"_PROFILE", name); err != nil {
		return fmt.Errorf("failed to apply profile: %w", err)
	}
	return nil
}

func buildBinaries(procs []config.ProcessorConfig) (*executor.Binaries, error) {
	bins := make([]executor.Binary, 0, len(procs))
	for _, p := range procs {
		bins = append(bins, executor.Binary{
			Kind:    eventqueue.Kind(p.Kind),
			Version: p.Version,
			Path:    p.Path,
		})
	}
	return executor.NewBinaries(bins...)
}

func queuePolicy(cfg *config.Config) retry.Policy {
	policy := retry.DefaultPolicy
	if cfg.API.MaxAttempts > 0 {
		policy.MaxAttempts = uint(cfg.API.MaxAttempts)
	}
	return policy
}

func runDispatcher(ctx context.Context, cfg *config.Config) error {
	pc, err := cfg.ActiveProfile()
	if err != nil {
		return err
	}
	baseURL, err := cfg.APIBaseURL()
	if err != nil {
		return err
	}

	store, err := cloudstorage.NewClient(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}

	queue, err := eventqueue.NewClient(baseURL, cfg.API.APIKey,
		eventqueue.WithWorkerID(myWorkerID),
		eventqueue.WithRequestTimeout(cfg.RequestTimeout()),
		eventqueue.WithRetryPolicy(queuePolicy(cfg)),
	)
	if err != nil {
		return fmt.Errorf("failed to create event queue client: %w", err)
	}

	bins, err := buildBinaries(cfg.Processors)
	if err != nil {
		return fmt.Errorf("invalid processor table: %w", err)
	}
	runner := executor.New(bins,
		executor.WithKillGrace(cfg.Job.KillGrace()),
		executor.WithArtifactPatterns(cfg.Job.ResultsPattern, cfg.Job.OverlayPattern),
	)
	gen := propsgen.New(cfg.ProcessingPropertiesMaker, propsgen.WithTimeout(cfg.Job.PropertiesTimeout()))

	helpers.CleanWorkDirs(pc.DataPath, config.PreservedWorkDirPrefix)

	var d *dispatcher.Dispatcher
	var healthServer *healthcheck.Server
	if cfg.Health.Port > 0 {
		healthServer = healthcheck.NewServer(
			healthcheck.Config{Port: cfg.Health.Port},
			healthcheck.StatusProviderFunc(func() any { return d.Status() }),
		)
	}

	d, err = dispatcher.New(dispatcher.Config{
		OrganizationID:    cfg.API.OrganizationID,
		DataPath:          pc.DataPath,
		BasePath:          cfg.CloudBasePath,
		ConcurrentEvents:  pc.ConcurrentEvents,
		PollInterval:      cfg.PollInterval(),
		JobTimeout:        cfg.Job.Timeout(),
		LeaseHeartbeat:    cfg.LeaseHeartbeat(),
		ShutdownGrace:     cfg.ShutdownGrace(),
		ReleaseOnShutdown: cfg.API.ReleaseOnShutdown,
		PreserveOnFailure: cfg.Job.PreserveOnFailure,
		MinFreeDiskBytes:  cfg.Job.MinFreeDiskBytes(),
	}, queue, store, gen, runner, dispatcher.WithPollObserver(func(err error) {
		if healthServer == nil {
			return
		}
		switch {
		case err == nil:
			healthServer.SetStatus(healthcheck.StatusHealthy)
			healthServer.SetReady(true)
		case eventqueue.IsFatal(err):
			healthServer.SetStatus(healthcheck.StatusUnhealthy)
		}
	}))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	listener, err := notify.New(ctx, cfg.Notifications, cfg.CloudBasePath, d.Wake)
	if err != nil {
		return fmt.Errorf("failed to create notification listener: %w", err)
	}

	// Side services stop once the dispatcher has drained, not on the signal.
	auxCtx, auxCancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(auxCtx)
	if healthServer != nil {
		g.Go(func() error { return healthServer.Start(gctx) })
	}
	if listener != nil {
		g.Go(func() error {
			slog.Info("Starting storage notification listener", slog.String("backend", listener.Name()))
			if err := listener.Run(gctx); err != nil && gctx.Err() == nil {
				slog.Error("Notification listener stopped, relying on polling", slog.Any("error", err))
			}
			return nil
		})
	}

	slog.Info("Starting event runner",
		slog.String("environment", cfg.Environment),
		slog.String("profile", cfg.Profile),
		slog.String("queue", baseURL),
		slog.String("storage", cfg.Storage.Provider))

	runErr := d.Run(ctx)
	auxCancel()
	if err := g.Wait(); err != nil {
		slog.Warn("Side service stopped with error", slog.Any("error", err))
	}
	if runErr != nil {
		slog.Error("Event runner stopped", slog.Any("error", runErr))
		return runErr
	}
	slog.Info("Event runner stopped")
	return nil
}
