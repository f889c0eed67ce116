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

// Package dispatcher runs the poll, claim and process loop. One control
// loop polls the event queue and claims work while a counting semaphore
// bounds how many per-event pipelines run at once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/eventrunner/internal/cloudstorage"
	"github.com/cardinalhq/eventrunner/internal/eventqueue"
	"github.com/cardinalhq/eventrunner/internal/executor"
	"github.com/cardinalhq/eventrunner/internal/helpers"
	"github.com/cardinalhq/eventrunner/internal/idgen"
	"github.com/cardinalhq/eventrunner/internal/propsgen"
)

const (
	DefaultConflictTTL         = 5 * time.Minute
	DefaultDownloadConcurrency = 4
)

// Generator produces the per-event processing properties file.
type Generator interface {
	Generate(ctx context.Context, md propsgen.Metadata, workDir string) (string, error)
}

type Config struct {
	OrganizationID string
	// DataPath is the root for per-event working directories.
	DataPath string
	// BasePath is the storage prefix all capture keys live under.
	BasePath         string
	ConcurrentEvents int
	PollInterval     time.Duration
	JobTimeout       time.Duration
	// LeaseHeartbeat is the claim renewal interval. Zero disables renewal.
	LeaseHeartbeat    time.Duration
	ShutdownGrace     time.Duration
	ReleaseOnShutdown bool
	PreserveOnFailure bool
	// MinFreeDiskBytes skips claiming while DataPath has less free space.
	MinFreeDiskBytes uint64
	// ConflictTTL is how long an event lost to another worker is not retried.
	ConflictTTL time.Duration
}

type Option func(*Dispatcher)

// WithPollObserver is called after every poll with its error, if any.
func WithPollObserver(fn func(error)) Option {
	return func(d *Dispatcher) {
		d.pollObserver = fn
	}
}

func WithDownloadConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.downloadConcurrency = n
		}
	}
}

type job struct {
	event   eventqueue.Event
	workDir string
	started time.Time
	cancel  context.CancelCauseFunc

	mu         sync.Mutex
	stage      Stage
	stageStart time.Time
}

func (j *job) currentStage() Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

type Dispatcher struct {
	cfg    Config
	queue  eventqueue.Queue
	store  cloudstorage.Client
	gen    Generator
	runner executor.Runner

	sem       *semaphore.Weighted
	runIDs    *idgen.RunIDGenerator
	conflicts *ttlcache.Cache[string, struct{}]
	inFlight  mapset.Set[string]

	mu          sync.RWMutex
	jobs        map[string]*job
	lastPoll    time.Time
	lastPollErr error

	wg        sync.WaitGroup
	wake      chan struct{}
	fatal     chan error
	fatalOnce sync.Once

	reportMu   sync.Mutex
	reportErrs *multierror.Error

	pollObserver        func(error)
	downloadConcurrency int
}

func New(cfg Config, queue eventqueue.Queue, store cloudstorage.Client, gen Generator, runner executor.Runner, opts ...Option) (*Dispatcher, error) {
	switch {
	case cfg.ConcurrentEvents < 1:
		return nil, fmt.Errorf("concurrent events must be >= 1, got %d", cfg.ConcurrentEvents)
	case cfg.PollInterval <= 0:
		return nil, errors.New("poll interval must be > 0")
	case cfg.DataPath == "":
		return nil, errors.New("data path is required")
	case cfg.JobTimeout <= 0:
		return nil, errors.New("job timeout must be > 0")
	}
	if cfg.ConflictTTL <= 0 {
		cfg.ConflictTTL = DefaultConflictTTL
	}

	d := &Dispatcher{
		cfg:    cfg,
		queue:  queue,
		store:  store,
		gen:    gen,
		runner: runner,
		sem:    semaphore.NewWeighted(int64(cfg.ConcurrentEvents)),
		runIDs: idgen.NewRunIDGenerator(),
		conflicts: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](cfg.ConflictTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		inFlight:            mapset.NewSet[string](),
		jobs:                make(map[string]*job),
		wake:                make(chan struct{}, 1),
		fatal:               make(chan error, 1),
		downloadConcurrency: DefaultDownloadConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Wake requests an immediate poll. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run polls and dispatches until ctx is done or a fatal error occurs. On
// shutdown it stops claiming, waits up to the shutdown grace for in-flight
// pipelines, then cancels the rest and reports them. It returns nil on a
// graceful shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.DataPath, 0o755); err != nil {
		return fmt.Errorf("failed to create data path: %w", err)
	}

	go d.conflicts.Start()
	defer d.conflicts.Stop()

	// Pipelines outlive the shutdown signal by up to the grace period.
	pipeCtx, cancelPipes := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelPipes(nil)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("Dispatcher started",
		slog.String("organizationID", d.cfg.OrganizationID),
		slog.Int("concurrentEvents", d.cfg.ConcurrentEvents),
		slog.Duration("pollInterval", d.cfg.PollInterval),
		slog.String("dataPath", d.cfg.DataPath))

	for {
		d.tick(ctx, pipeCtx)

		select {
		case <-ctx.Done():
			return d.shutdown(cancelPipes)
		case err := <-d.fatal:
			return d.abort(err, cancelPipes)
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) tick(ctx, pipeCtx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if d.inFlight.Cardinality() >= d.cfg.ConcurrentEvents {
		recordSkippedPoll(ctx, "at_capacity")
		return
	}
	if d.cfg.MinFreeDiskBytes > 0 {
		usage, err := helpers.CheckFreeSpace(d.cfg.DataPath, d.cfg.MinFreeDiskBytes)
		switch {
		case errors.Is(err, helpers.ErrLowDiskSpace):
			slog.Warn("Free disk space below minimum, not claiming",
				slog.String("path", d.cfg.DataPath),
				slog.Uint64("freeBytes", usage.FreeBytes),
				slog.Uint64("minFreeBytes", d.cfg.MinFreeDiskBytes))
			recordSkippedPoll(ctx, "low_disk")
			return
		case err != nil:
			slog.Warn("Failed to check free disk space", slog.Any("error", err))
		}
	}

	events, err := d.queue.Poll(ctx, d.cfg.OrganizationID)
	d.observePoll(err)
	if err != nil {
		switch {
		case eventqueue.IsFatal(err):
			d.setFatal(err)
		case ctx.Err() == nil:
			slog.Warn("Poll failed, retrying next interval", slog.Any("error", err))
		}
		return
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		if d.inFlight.Contains(ev.ID) || d.conflicts.Has(ev.ID) {
			continue
		}
		if !d.sem.TryAcquire(1) {
			return
		}

		// A claim the server committed must not be dropped because a
		// signal arrived while the response was in flight.
		claimed, err := d.queue.Claim(context.WithoutCancel(ctx), ev.ID)
		if err != nil {
			d.sem.Release(1)
			switch {
			case errors.Is(err, eventqueue.ErrClaimConflict):
				d.conflicts.Set(ev.ID, struct{}{}, ttlcache.DefaultTTL)
				slog.Debug("Event claimed by another worker", slog.String("eventID", ev.ID))
			case eventqueue.IsAuthFailure(err):
				d.setFatal(err)
				return
			case eventqueue.IsFatal(err):
				slog.Warn("Claim rejected", slog.String("eventID", ev.ID), slog.Any("error", err))
			default:
				slog.Warn("Failed to claim event", slog.String("eventID", ev.ID), slog.Any("error", err))
				d.releaseUnknownClaim(ctx, ev.ID, "ClaimUnconfirmed: "+err.Error())
			}
			continue
		}
		if ctx.Err() != nil {
			d.sem.Release(1)
			d.releaseUnknownClaim(ctx, ev.ID, fmt.Sprintf("ShutdownInProgress: stopped during %s", StageClaimed))
			return
		}
		d.launch(pipeCtx, mergeEvent(ev, claimed))
	}
}

// mergeEvent prefers the claimed copy and fills gaps from the polled one.
func mergeEvent(polled, claimed eventqueue.Event) eventqueue.Event {
	out := claimed
	if out.ID == "" {
		out.ID = polled.ID
	}
	if out.OrganizationID == "" {
		out.OrganizationID = polled.OrganizationID
	}
	if out.Kind == "" {
		out.Kind = polled.Kind
	}
	if out.ProcessorVersion == "" {
		out.ProcessorVersion = polled.ProcessorVersion
	}
	if out.SourceLocation == "" {
		out.SourceLocation = polled.SourceLocation
	}
	if out.Team == "" {
		out.Team = polled.Team
	}
	if out.Player == "" {
		out.Player = polled.Player
	}
	if out.CameraCount == 0 {
		out.CameraCount = polled.CameraCount
	}
	return out
}

// launch starts the pipeline for a claimed event. The caller holds one
// semaphore slot, which the pipeline releases when it ends.
func (d *Dispatcher) launch(pipeCtx context.Context, ev eventqueue.Event) {
	jobCtx, cancel := context.WithCancelCause(pipeCtx)
	now := time.Now()
	j := &job{
		event:      ev,
		workDir:    workDirFor(d.cfg.DataPath, ev.ID, d.runIDs.Make(now)),
		started:    now,
		cancel:     cancel,
		stage:      StageClaimed,
		stageStart: now,
	}

	d.mu.Lock()
	d.jobs[ev.ID] = j
	d.mu.Unlock()
	d.inFlight.Add(ev.ID)
	recordStarted(jobCtx, ev.Kind)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer d.forget(ev.ID)
		defer cancel(nil)

		outcome := d.process(jobCtx, j)
		recordFinished(context.WithoutCancel(jobCtx), ev.Kind, outcome)
	}()
}

func (d *Dispatcher) forget(eventID string) {
	d.mu.Lock()
	delete(d.jobs, eventID)
	d.mu.Unlock()
	d.inFlight.Remove(eventID)
}

func (d *Dispatcher) observePoll(err error) {
	d.mu.Lock()
	d.lastPoll = time.Now()
	d.lastPollErr = err
	d.mu.Unlock()
	if d.pollObserver != nil {
		d.pollObserver(err)
	}
}

// setFatal stops the loop. Only the first error is kept.
func (d *Dispatcher) setFatal(err error) {
	d.fatalOnce.Do(func() {
		d.fatal <- err
	})
}

// escalate stops the process when a reporting error means the queue
// rejected our credentials. Any other per-event rejection stays with
// its event.
func (d *Dispatcher) escalate(err error) {
	if eventqueue.IsAuthFailure(err) {
		d.setFatal(err)
	}
}

// releaseUnknownClaim hands back an event whose claim may have been
// committed without a confirmed response. A release from a worker that
// does not hold the claim is answered with a conflict and ignored.
func (d *Dispatcher) releaseUnknownClaim(ctx context.Context, eventID, reason string) {
	err := d.queue.Release(context.WithoutCancel(ctx), eventID, truncateReason(reason))
	switch {
	case err == nil:
		slog.Info("Released unconfirmed claim", slog.String("eventID", eventID))
	case errors.Is(err, eventqueue.ErrLeaseLost), errors.Is(err, eventqueue.ErrEventGone):
		slog.Debug("Unconfirmed claim was not ours", slog.String("eventID", eventID))
	default:
		slog.Warn("Failed to release unconfirmed claim", slog.String("eventID", eventID), slog.Any("error", err))
		d.escalate(err)
	}
}

func (d *Dispatcher) noteReportError(eventID string, err error) {
	d.reportMu.Lock()
	defer d.reportMu.Unlock()
	d.reportErrs = multierror.Append(d.reportErrs, fmt.Errorf("event %s: %w", eventID, err))
}

func (d *Dispatcher) reportErrors() error {
	d.reportMu.Lock()
	defer d.reportMu.Unlock()
	return d.reportErrs.ErrorOrNil()
}

// waitInFlight reports whether every pipeline finished within grace.
func (d *Dispatcher) waitInFlight(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	if grace <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (d *Dispatcher) shutdown(cancelPipes context.CancelCauseFunc) error {
	slog.Info("Shutdown requested, no longer claiming events",
		slog.Int("inFlight", d.inFlight.Cardinality()),
		slog.Duration("grace", d.cfg.ShutdownGrace))

	if !d.waitInFlight(d.cfg.ShutdownGrace) {
		slog.Warn("Shutdown grace period expired, stopping in-flight events",
			slog.Any("eventIDs", d.inFlight.ToSlice()))
		cancelPipes(ErrShutdownInProgress)
		d.wg.Wait()
	}

	if err := d.reportErrors(); err != nil {
		slog.Error("Some events could not be reported during shutdown", slog.Any("error", err))
	}
	slog.Info("Dispatcher stopped")
	return nil
}

// abort handles a fatal error: every in-flight pipeline is cancelled and
// reported failed where the queue still accepts it.
func (d *Dispatcher) abort(err error, cancelPipes context.CancelCauseFunc) error {
	slog.Error("Fatal error, stopping dispatcher",
		slog.Any("error", err),
		slog.Int("inFlight", d.inFlight.Cardinality()))

	fe := &fatalError{err: err}
	cancelPipes(fe)
	d.wg.Wait()

	if rerr := d.reportErrors(); rerr != nil {
		return multierror.Append(fe, rerr)
	}
	return fe
}

// JobStatus is one in-flight event as shown on /statusz.
type JobStatus struct {
	EventID          string          `json:"eventId"`
	Kind             eventqueue.Kind `json:"kind"`
	ProcessorVersion string          `json:"processorVersion"`
	Stage            Stage           `json:"stage"`
	Started          time.Time       `json:"started"`
	WorkDir          string          `json:"workDir"`
}

type Status struct {
	Capacity      int         `json:"capacity"`
	InFlight      []JobStatus `json:"inFlight"`
	LastPoll      *time.Time  `json:"lastPoll,omitempty"`
	LastPollError string      `json:"lastPollError,omitempty"`
}

// Status returns a snapshot of the in-flight events, oldest first.
func (d *Dispatcher) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		Capacity: d.cfg.ConcurrentEvents,
		InFlight: make([]JobStatus, 0, len(d.jobs)),
	}
	if !d.lastPoll.IsZero() {
		lp := d.lastPoll
		st.LastPoll = &lp
	}
	if d.lastPollErr != nil {
		st.LastPollError = d.lastPollErr.Error()
	}
	for _, j := range d.jobs {
		st.InFlight = append(st.InFlight, JobStatus{
			EventID:          j.event.ID,
			Kind:             j.event.Kind,
			ProcessorVersion: j.event.ProcessorVersion,
			Stage:            j.currentStage(),
			Started:          j.started,
			WorkDir:          j.workDir,
		})
	}
	sort.Slice(st.InFlight, func(a, b int) bool {
		return st.InFlight[a].Started.Before(st.InFlight[b].Started)
	})
	return st
}
