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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/eventrunner/cmd"
)

func stderrf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

func init() {
	// Event timestamps and work directory names are all UTC.
	time.Local = time.UTC
	setProcessLimits()
}

// setProcessLimits sizes GOMAXPROCS and GOMEMLIMIT to the container. The
// processors are child processes, so the Go heap only needs a share of it.
func setProcessLimits() {
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(stderrf))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(stderrf))
	}
	if err != nil {
		stderrf("failed to set GOMAXPROCS: %v", err)
	}

	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		stderrf("failed to set GOMEMLIMIT: %v", err)
	}

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(50)
		_ = os.Setenv("GOGC", "50")
	}
}

// useScratchTempDir points TMPDIR at a directory owned by this service.
// Spawned processors inherit it.
func useScratchTempDir() {
	tmp := filepath.Join(os.TempDir(), "eventrunner")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		slog.Warn("Cannot create temp dir, keeping the default", slog.String("path", tmp), slog.Any("error", err))
		return
	}
	if err := os.Setenv("TMPDIR", tmp); err != nil {
		slog.Warn("Cannot set TMPDIR", slog.String("path", tmp), slog.Any("error", err))
		return
	}
	slog.Debug("Using temp dir", slog.String("path", os.TempDir()))
}

func main() {
	useScratchTempDir()
	cmd.Execute()
}
