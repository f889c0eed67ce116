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

// Package propsgen runs the external properties maker that turns event
// metadata into the XML configuration a processor consumes.
package propsgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cardinalhq/eventrunner/internal/logctx"
	"github.com/cardinalhq/eventrunner/internal/procgroup"
)

const (
	DefaultTimeout    = 2 * time.Minute
	DefaultOutputName = "processing_properties.xml"

	maxStderr = 4096
)

// Metadata is what the properties maker needs to know about one event.
type Metadata struct {
	EventID     string
	Team        string
	Player      string
	CameraCount int
	Kind        string
	Version     string
	SourceDir   string
}

func (m Metadata) args(output string) []string {
	return []string{
		"--event-id", m.EventID,
		"--team", m.Team,
		"--player", m.Player,
		"--cameras", strconv.Itoa(m.CameraCount),
		"--kind", m.Kind,
		"--version", m.Version,
		"--source", m.SourceDir,
		"--output", output,
	}
}

// GenerationError is returned when the properties maker fails or
// produces no configuration file.
type GenerationError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("properties generation failed: %v", e.Err)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("properties generation failed (exit %d): %v", e.ExitCode, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator is safe for concurrent use; each call runs its own process.
type Generator struct {
	path       string
	timeout    time.Duration
	outputName string
}

type Option func(*Generator)

func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithOutputName(name string) Option {
	return func(g *Generator) {
		if name != "" {
			g.outputName = name
		}
	}
}

func New(path string, opts ...Option) *Generator {
	g := &Generator{
		path:       path,
		timeout:    DefaultTimeout,
		outputName: DefaultOutputName,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs the properties maker in workDir and returns the path of the
// XML configuration it wrote.
func (g *Generator) Generate(ctx context.Context, md Metadata, workDir string) (string, error) {
	ll := logctx.FromContext(ctx)
	output := filepath.Join(workDir, g.outputName)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var combined bytes.Buffer
	cmd := exec.CommandContext(ctx, g.path, md.args(output)...)
	cmd.Dir = workDir
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	procgroup.Prepare(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd) }
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	ll.Debug("Properties maker finished",
		slog.String("path", g.path),
		slog.Duration("elapsed", time.Since(start)),
		slog.Any("error", err))

	if ctx.Err() == context.DeadlineExceeded {
		return "", &GenerationError{
			Stderr: tail(combined.Bytes()),
			Err:    fmt.Errorf("timed out after %s: %w", g.timeout, context.DeadlineExceeded),
		}
	}
	if err != nil {
		gerr := &GenerationError{Stderr: tail(combined.Bytes()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gerr.ExitCode = exitErr.ExitCode()
		}
		return "", gerr
	}

	info, err := os.Stat(output)
	if err != nil {
		return "", &GenerationError{
			Stderr: tail(combined.Bytes()),
			Err:    fmt.Errorf("no output file at %s: %w", output, err),
		}
	}
	if info.Size() == 0 {
		return "", &GenerationError{Err: fmt.Errorf("output file %s is empty", output)}
	}
	return output, nil
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderr {
		b = b[len(b)-maxStderr:]
	}
	return string(b)
}
