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

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/eventrunner/config"
	"github.com/cardinalhq/eventrunner/internal/blobpath"
	"github.com/cardinalhq/eventrunner/internal/cloudstorage"
	"github.com/cardinalhq/eventrunner/internal/eventqueue"
	"github.com/cardinalhq/eventrunner/internal/executor"
	"github.com/cardinalhq/eventrunner/internal/heartbeat"
	"github.com/cardinalhq/eventrunner/internal/logctx"
	"github.com/cardinalhq/eventrunner/internal/propsgen"
)

// source is the resolved input location of one event.
type source struct {
	base    string
	// prefix is the full key of the event folder, without a trailing slash.
	prefix  string
	layout  blobpath.EventPath
	parsed  bool
	cameras int
	bytes   int64
}

func workDirFor(dataPath, eventID, runID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, eventID)
	return filepath.Join(dataPath, safe+"-"+runID)
}

// process runs one claimed event to a terminal state and returns the
// outcome label used for metrics.
func (d *Dispatcher) process(ctx context.Context, j *job) string {
	ev := j.event
	ctx, ll := logctx.With(ctx,
		slog.String("eventID", ev.ID),
		slog.String("organizationID", ev.OrganizationID),
		slog.String("kind", string(ev.Kind)),
		slog.String("processorVersion", ev.ProcessorVersion))
	ll.Info("Event claimed", slog.String("workDir", j.workDir))

	hb := heartbeat.New(
		func(hctx context.Context) error { return d.queue.Heartbeat(hctx, ev.ID) },
		d.cfg.LeaseHeartbeat, ll,
		heartbeat.WithoutInitialBeat(),
		heartbeat.WithStopOn(
			func(err error) bool {
				return errors.Is(err, eventqueue.ErrLeaseLost) || errors.Is(err, eventqueue.ErrEventGone)
			},
			func(error) { j.cancel(errLeaseLost) },
		),
	)
	stopHeartbeat := hb.Start(ctx)
	resultLocation, err := d.runPipeline(ctx, j)
	stopHeartbeat()

	// Reporting must still happen after the pipeline context is cancelled.
	reportCtx := context.WithoutCancel(ctx)
	cause := context.Cause(ctx)

	if errors.Is(cause, errLeaseLost) {
		ll.Warn("Claim lease lost, abandoning event without reporting",
			slog.String("stage", string(j.currentStage())))
		d.cleanup(ll, j, err == nil)
		return "lease_lost"
	}

	if err == nil {
		ackErr := d.queue.Acknowledge(reportCtx, ev.ID, resultLocation)
		if errors.Is(ackErr, eventqueue.ErrEventGone) {
			ll.Warn("Event removed from queue before acknowledgement", slog.Any("error", ackErr))
			d.cleanup(ll, j, true)
			return "gone"
		}
		if ackErr != nil {
			ll.Error("Failed to acknowledge event",
				slog.String("resultLocation", resultLocation),
				slog.Any("error", ackErr))
			d.noteReportError(ev.ID, ackErr)
			d.escalate(ackErr)
			d.cleanup(ll, j, true)
			return "ack_failed"
		}
		d.setStage(ctx, j, StageAcknowledged)
		ll.Info("Event acknowledged",
			slog.String("resultLocation", resultLocation),
			slog.Duration("elapsed", time.Since(j.started)))
		d.cleanup(ll, j, true)
		return "succeeded"
	}

	failedAt := j.currentStage()
	d.setStage(ctx, j, StageFailed)

	reason := failureReason(err)
	outcome := "failed"
	var aborted *fatalError
	var reportErr error
	switch {
	case errors.Is(cause, ErrShutdownInProgress):
		reason = fmt.Sprintf("ShutdownInProgress: stopped during %s", failedAt)
		if d.cfg.ReleaseOnShutdown {
			outcome = "released"
			reportErr = d.queue.Release(reportCtx, ev.ID, reason)
		} else {
			outcome = "shutdown"
			reportErr = d.queue.Fail(reportCtx, ev.ID, reason)
		}
	case errors.As(cause, &aborted):
		outcome = "aborted"
		reason = truncateReason(fmt.Sprintf("Aborted: stopped during %s: %v", failedAt, aborted.err))
		reportErr = d.queue.Fail(reportCtx, ev.ID, reason)
	default:
		reportErr = d.queue.Fail(reportCtx, ev.ID, reason)
	}

	ll.Error("Event failed",
		slog.String("stage", string(failedAt)),
		slog.String("reason", reason),
		slog.Any("error", err))

	switch {
	case errors.Is(reportErr, eventqueue.ErrEventGone):
		ll.Warn("Event removed from queue before its outcome was reported",
			slog.String("outcome", outcome), slog.Any("error", reportErr))
		outcome = "gone"
	case reportErr != nil:
		ll.Error("Failed to report event outcome", slog.String("outcome", outcome), slog.Any("error", reportErr))
		d.noteReportError(ev.ID, reportErr)
		d.escalate(reportErr)
	default:
		d.setStage(ctx, j, StageReported)
	}
	d.cleanup(ll, j, false)

	if isResourceExhausted(err) {
		d.setFatal(fmt.Errorf("local resource exhaustion: %w", err))
	}
	return outcome
}

func failureReason(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return truncateReason(se.Reason)
	}
	return truncateReason(err.Error())
}

// runPipeline runs the stages in order and returns the result location.
func (d *Dispatcher) runPipeline(ctx context.Context, j *job) (string, error) {
	ev := j.event
	ll := logctx.FromContext(ctx)

	if err := os.MkdirAll(j.workDir, 0o755); err != nil {
		return "", stageError(StageClaimed, fmt.Sprintf("WorkDirFailed: %v", err), err)
	}

	if err := d.enter(ctx, j, StageDownloading); err != nil {
		return "", err
	}
	src, err := d.download(ctx, j)
	if err != nil {
		return "", err
	}
	ll.Info("Inputs downloaded",
		slog.String("prefix", src.prefix),
		slog.Int("cameras", src.cameras),
		slog.Int64("bytes", src.bytes))

	if err := d.enter(ctx, j, StageGeneratingConfig); err != nil {
		return "", err
	}
	md := propsgen.Metadata{
		EventID:     ev.ID,
		Team:        firstNonEmpty(ev.Team, src.layout.Team),
		Player:      firstNonEmpty(ev.Player, src.layout.Player),
		CameraCount: ev.CameraCount,
		Kind:        string(ev.Kind),
		Version:     ev.ProcessorVersion,
		SourceDir:   j.workDir,
	}
	if md.CameraCount == 0 {
		md.CameraCount = src.cameras
	}
	xmlPath, err := d.gen.Generate(ctx, md, j.workDir)
	if err != nil {
		return "", stageError(StageGeneratingConfig, fmt.Sprintf("GenerationError: %v", err), err)
	}

	if err := d.enter(ctx, j, StageExecuting); err != nil {
		return "", err
	}
	res := d.runner.Run(ctx, ev, xmlPath, j.workDir, d.cfg.JobTimeout)
	if !res.Success {
		return "", stageError(StageExecuting, res.Diagnostic(), res.Err)
	}
	ll.Info("Processor finished",
		slog.Duration("duration", res.Duration),
		slog.String("results", res.Artifacts.Results),
		slog.String("overlay", res.Artifacts.Overlay))

	if err := d.enter(ctx, j, StageUploading); err != nil {
		return "", err
	}
	return d.upload(ctx, src, res.Artifacts)
}

// enter moves j to stage unless the pipeline has been cancelled.
func (d *Dispatcher) enter(ctx context.Context, j *job, stage Stage) error {
	if ctx.Err() != nil {
		return stageError(j.currentStage(), "Cancelled", context.Cause(ctx))
	}
	d.setStage(ctx, j, stage)
	return nil
}

func (d *Dispatcher) setStage(ctx context.Context, j *job, stage Stage) {
	now := time.Now()
	j.mu.Lock()
	prev, since := j.stage, j.stageStart
	j.stage, j.stageStart = stage, now
	j.mu.Unlock()

	recordStage(context.WithoutCancel(ctx), j.event.Kind, prev, now.Sub(since))
	logctx.FromContext(ctx).Debug("Stage changed",
		slog.String("from", string(prev)),
		slog.String("stage", string(stage)))
}

func (d *Dispatcher) resolveSource(ev eventqueue.Event) (source, error) {
	loc := strings.Trim(ev.SourceLocation, "/")
	if loc == "" {
		return source{}, errors.New("event has no source location")
	}
	rel, under := blobpath.Strip(d.cfg.BasePath, loc)
	if !under {
		rel = loc
	}

	src := source{base: d.cfg.BasePath}
	if ep, err := blobpath.Parse(rel); err == nil {
		src.layout, src.parsed = ep, true
		src.prefix = blobpath.Join(d.cfg.BasePath, ep.EventPrefix())
	} else {
		src.prefix = blobpath.Join(d.cfg.BasePath, rel)
	}
	return src, nil
}

// download copies every object below the event folder into the working
// directory, keeping the relative layout.
func (d *Dispatcher) download(ctx context.Context, j *job) (source, error) {
	src, err := d.resolveSource(j.event)
	if err != nil {
		return src, stageError(StageDownloading, fmt.Sprintf("DownloadFailed: %v", err), err)
	}

	objects, err := d.store.List(ctx, src.prefix+"/")
	if err == nil && len(objects) == 0 {
		err = &cloudstorage.StorageError{
			Kind: cloudstorage.Permanent,
			Op:   "list",
			Key:  src.prefix,
			Err:  cloudstorage.ErrNotFound,
		}
	}
	if err != nil {
		return src, stageError(StageDownloading, fmt.Sprintf("DownloadFailed: %v", err), err)
	}

	cameras := mapset.NewThreadUnsafeSet[string]()
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.downloadConcurrency)
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, src.prefix+"/")
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		local := filepath.FromSlash(rel)
		if !filepath.IsLocal(local) {
			logctx.FromContext(ctx).Warn("Skipping object outside event folder", slog.String("key", obj.Key))
			continue
		}
		if camera, _, ok := strings.Cut(rel, "/"); ok && strings.EqualFold(path.Ext(rel), ".mp4") {
			cameras.Add(camera)
		}

		key, dest := obj.Key, filepath.Join(j.workDir, local)
		g.Go(func() error {
			n, err := d.store.Download(gctx, key, dest)
			total.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return src, stageError(StageDownloading, fmt.Sprintf("DownloadFailed: %v", err), err)
	}

	src.cameras = cameras.Cardinality()
	src.bytes = total.Load()
	return src, nil
}

// upload stores the artifacts next to the inputs and returns the results
// file location.
func (d *Dispatcher) upload(ctx context.Context, src source, arts executor.Artifacts) (string, error) {
	resultLocation, err := d.store.Upload(ctx, arts.Results, src.resultKey(arts.Results))
	if err != nil {
		return "", stageError(StageUploading, fmt.Sprintf("UploadFailed: %v", err), err)
	}
	if arts.Overlay != "" {
		if _, err := d.store.Upload(ctx, arts.Overlay, src.resultKey(arts.Overlay)); err != nil {
			return "", stageError(StageUploading, fmt.Sprintf("UploadFailed: %v", err), err)
		}
	}
	return resultLocation, nil
}

func (s source) resultKey(local string) string {
	name := filepath.Base(local)
	if s.parsed {
		return blobpath.Join(s.base, s.layout.ResultKey(name))
	}
	return path.Join(s.prefix, name)
}

// cleanup removes the working directory, or renames it aside when the
// event failed and failures are preserved.
func (d *Dispatcher) cleanup(ll *slog.Logger, j *job, succeeded bool) {
	if !succeeded && d.cfg.PreserveOnFailure {
		dest := filepath.Join(d.cfg.DataPath, config.PreservedWorkDirPrefix+filepath.Base(j.workDir))
		err := os.Rename(j.workDir, dest)
		if err == nil {
			ll.Info("Preserved working directory", slog.String("path", dest))
			return
		}
		ll.Warn("Failed to preserve working directory, removing", slog.Any("error", err))
	}
	if err := os.RemoveAll(j.workDir); err != nil {
		ll.Warn("Failed to remove working directory", slog.String("path", j.workDir), slog.Any("error", err))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
