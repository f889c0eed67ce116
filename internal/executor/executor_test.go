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

//go:build !windows

package executor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
	"github.com/cardinalhq/eventrunner/internal/procgroup"
)

func script(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "processor.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func pitching() eventqueue.Event {
	return eventqueue.Event{ID: "e1", Kind: eventqueue.KindPitching, ProcessorVersion: "v6.4.0"}
}

func newExecutor(t *testing.T, body string, opts ...Option) *Executor {
	t.Helper()
	bins, err := NewBinaries(Binary{Kind: eventqueue.KindPitching, Version: "v6.4.0", Path: script(t, body)})
	require.NoError(t, err)
	return New(bins, opts...)
}

func TestRunSuccess(t *testing.T) {
	e := newExecutor(t, `
echo "config: $1"
echo data > results.c3d
mkdir -p video && echo vid > video/event.skeleton.mp4
`)
	workDir := t.TempDir()

	res := e.Run(context.Background(), pitching(), "/cfg/props.xml", workDir, 5*time.Second)
	require.True(t, res.Success, res.Diagnostic())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.Equal(t, filepath.Join(workDir, "results.c3d"), res.Artifacts.Results)
	assert.Equal(t, filepath.Join(workDir, "video", "event.skeleton.mp4"), res.Artifacts.Overlay)

	logData, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "config: /cfg/props.xml")
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	e := newExecutor(t, "echo $$ > "+pidFile+"\nsleep 10", WithKillGrace(time.Second))

	start := time.Now()
	res := e.Run(context.Background(), pitching(), "cfg.xml", t.TempDir(), 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.Equal(t, ExitCodeTimeout, res.ExitCode)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.False(t, procgroup.Alive(pid), "processor should be terminated")
}

func TestRunForceKillsAfterGrace(t *testing.T) {
	e := newExecutor(t, `trap '' TERM
while true; do sleep 0.05; done`, WithKillGrace(200*time.Millisecond))

	start := time.Now()
	res := e.Run(context.Background(), pitching(), "cfg.xml", t.TempDir(), 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRunMissingArtifacts(t *testing.T) {
	e := newExecutor(t, `exit 0`)

	res := e.Run(context.Background(), pitching(), "cfg.xml", t.TempDir(), 5*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, ReasonMissingArtifacts, res.Reason)
	assert.True(t, strings.HasPrefix(res.Diagnostic(), "MissingArtifacts"))
}

func TestRunMissingOverlay(t *testing.T) {
	e := newExecutor(t, `echo x > out.c3d`)

	res := e.Run(context.Background(), pitching(), "cfg.xml", t.TempDir(), 5*time.Second)
	assert.Equal(t, ReasonMissingArtifacts, res.Reason)
	assert.Contains(t, res.Err.Error(), "overlay")
}

func TestRunNonZeroExit(t *testing.T) {
	e := newExecutor(t, `echo boom >&2; exit 3`)

	res := e.Run(context.Background(), pitching(), "cfg.xml", t.TempDir(), 5*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, ReasonNonZeroExit, res.Reason)
	assert.Equal(t, "NonZeroExit: 3", res.Diagnostic())

	logData, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "boom")
}

func TestRunCancelled(t *testing.T) {
	e := newExecutor(t, `sleep 10`, WithKillGrace(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := e.Run(ctx, pitching(), "cfg.xml", t.TempDir(), time.Minute)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunUnknownProcessor(t *testing.T) {
	e := newExecutor(t, `exit 0`)
	ev := pitching()
	ev.ProcessorVersion = "v1.0.0"

	res := e.Run(context.Background(), ev, "cfg.xml", t.TempDir(), time.Second)
	assert.Equal(t, ReasonLaunchFailed, res.Reason)
	assert.ErrorIs(t, res.Err, ErrUnknownProcessor)
}

func TestRunLaunchFailure(t *testing.T) {
	bins, err := NewBinaries(Binary{Kind: eventqueue.KindPitching, Version: "v6.4.0", Path: filepath.Join(t.TempDir(), "absent")})
	require.NoError(t, err)

	res := New(bins).Run(context.Background(), pitching(), "cfg.xml", t.TempDir(), time.Second)
	assert.Equal(t, ReasonLaunchFailed, res.Reason)
	assert.Error(t, res.Err)
}
