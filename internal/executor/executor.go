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

// Package executor launches and supervises one processor run per event.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
	"github.com/cardinalhq/eventrunner/internal/logctx"
	"github.com/cardinalhq/eventrunner/internal/procgroup"
)

const (
	DefaultKillGrace      = 30 * time.Second
	DefaultResultsPattern = "*.c3d"
	DefaultOverlayPattern = "*.skeleton.mp4"
	DefaultLogName        = "processor.log"

	// ExitCodeTimeout is reported when the run was stopped by its deadline.
	ExitCodeTimeout = -2
	// ExitCodeNone is reported when no exit status is available.
	ExitCodeNone = -1
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTimeout          Reason = "Timeout"
	ReasonNonZeroExit      Reason = "NonZeroExit"
	ReasonMissingArtifacts Reason = "MissingArtifacts"
	ReasonLaunchFailed     Reason = "LaunchFailed"
	ReasonCancelled        Reason = "Cancelled"
)

// Artifacts are the outputs a successful run must leave in its working directory.
type Artifacts struct {
	Results string
	Overlay string
}

type JobResult struct {
	Success   bool
	ExitCode  int
	LogPath   string
	Reason    Reason
	Artifacts Artifacts
	Duration  time.Duration
	Err       error
}

// Diagnostic is the short reason string reported to the queue for a failed run.
func (r JobResult) Diagnostic() string {
	switch r.Reason {
	case ReasonNone:
		return ""
	case ReasonNonZeroExit:
		return fmt.Sprintf("%s: %d", r.Reason, r.ExitCode)
	default:
		if r.Err != nil {
			return fmt.Sprintf("%s: %v", r.Reason, r.Err)
		}
		return string(r.Reason)
	}
}

// Runner is the narrow interface the dispatcher uses.
type Runner interface {
	Run(ctx context.Context, ev eventqueue.Event, xmlPath, workDir string, timeout time.Duration) JobResult
}

type Executor struct {
	binaries       *Binaries
	killGrace      time.Duration
	resultsPattern string
	overlayPattern string
	logName        string
}

var _ Runner = (*Executor)(nil)

type Option func(*Executor)

// WithKillGrace sets how long a terminated process may take to exit
// before it is force-killed.
func WithKillGrace(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.killGrace = d
		}
	}
}

func WithArtifactPatterns(results, overlay string) Option {
	return func(e *Executor) {
		if results != "" {
			e.resultsPattern = results
		}
		if overlay != "" {
			e.overlayPattern = overlay
		}
	}
}

func New(binaries *Binaries, opts ...Option) *Executor {
	e := &Executor{
		binaries:       binaries,
		killGrace:      DefaultKillGrace,
		resultsPattern: DefaultResultsPattern,
		overlayPattern: DefaultOverlayPattern,
		logName:        DefaultLogName,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts the processor for ev with xmlPath as its only argument and
// workDir as its cwd, and blocks until it exits, times out, or ctx is done.
// It never retries.
func (e *Executor) Run(ctx context.Context, ev eventqueue.Event, xmlPath, workDir string, timeout time.Duration) JobResult {
	ll := logctx.FromContext(ctx)
	res := JobResult{ExitCode: ExitCodeNone, LogPath: filepath.Join(workDir, e.logName)}

	bin, err := e.binaries.Lookup(ev.Kind, ev.ProcessorVersion)
	if err != nil {
		res.Reason = ReasonLaunchFailed
		res.Err = err
		return res
	}

	logFile, err := os.OpenFile(res.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		res.Reason = ReasonLaunchFailed
		res.Err = fmt.Errorf("open log file: %w", err)
		return res
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(bin, xmlPath)
	cmd.Dir = workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	procgroup.Prepare(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.Reason = ReasonLaunchFailed
		res.Err = err
		return res
	}
	ll.Info("Processor started",
		slog.String("binary", bin),
		slog.Int("pid", cmd.Process.Pid),
		slog.Duration("timeout", timeout))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		res.Reason = ReasonTimeout
		res.Err = fmt.Errorf("exceeded %s", timeout)
		e.stop(ll, cmd, done)
	case <-ctx.Done():
		res.Reason = ReasonCancelled
		res.Err = context.Cause(ctx)
		e.stop(ll, cmd, done)
	}
	// Descendants that outlived the leader.
	_ = procgroup.Kill(cmd)
	res.Duration = time.Since(start)

	switch res.Reason {
	case ReasonTimeout:
		res.ExitCode = ExitCodeTimeout
		return res
	case ReasonCancelled:
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.Reason = ReasonLaunchFailed
		res.Err = waitErr
		return res
	}

	if res.ExitCode != 0 {
		res.Reason = ReasonNonZeroExit
		return res
	}

	artifacts, err := e.findArtifacts(workDir)
	if err != nil {
		res.Reason = ReasonMissingArtifacts
		res.Err = err
		return res
	}
	res.Artifacts = artifacts
	res.Success = true
	return res
}

// stop sends SIGTERM to the process group, waits killGrace, then SIGKILLs.
func (e *Executor) stop(ll *slog.Logger, cmd *exec.Cmd, done <-chan error) {
	if err := procgroup.Terminate(cmd); err != nil {
		ll.Warn("Failed to terminate processor", slog.Any("error", err))
	}
	grace := time.NewTimer(e.killGrace)
	defer grace.Stop()

	select {
	case <-done:
		return
	case <-grace.C:
	}

	ll.Warn("Processor ignored termination, killing", slog.Duration("grace", e.killGrace))
	if err := procgroup.Kill(cmd); err != nil {
		ll.Error("Failed to kill processor", slog.Any("error", err))
	}
	<-done
}

func (e *Executor) findArtifacts(workDir string) (Artifacts, error) {
	var a Artifacts
	err := filepath.WalkDir(workDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if a.Results == "" {
			if ok, _ := filepath.Match(e.resultsPattern, name); ok {
				a.Results = p
			}
		}
		if a.Overlay == "" {
			if ok, _ := filepath.Match(e.overlayPattern, name); ok {
				a.Overlay = p
			}
		}
		return nil
	})
	if err != nil {
		return a, fmt.Errorf("scan working directory: %w", err)
	}

	switch {
	case a.Results == "" && a.Overlay == "":
		return a, fmt.Errorf("no results (%s) or overlay (%s) file", e.resultsPattern, e.overlayPattern)
	case a.Results == "":
		return a, fmt.Errorf("no results file (%s)", e.resultsPattern)
	case a.Overlay == "":
		return a, fmt.Errorf("no overlay video (%s)", e.overlayPattern)
	}
	return a, nil
}
