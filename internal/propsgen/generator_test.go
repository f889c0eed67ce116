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

package propsgen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	p := filepath.Join(t.TempDir(), "props.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

// The fake maker writes its arguments into the --output file.
const echoArgsScript = `
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
echo "<properties/>" > "$out"
`

var testMetadata = Metadata{
	EventID:     "e1",
	Team:        "PHI",
	Player:      "Smith",
	CameraCount: 8,
	Kind:        "pitching",
	Version:     "v6.4.0",
	SourceDir:   "/data/e1",
}

func TestGenerateWritesConfig(t *testing.T) {
	g := New(writeScript(t, echoArgsScript))
	workDir := t.TempDir()

	out, err := g.Generate(context.Background(), testMetadata, workDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, DefaultOutputName), out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<properties/>")
}

func TestGeneratePassesMetadata(t *testing.T) {
	script := writeScript(t, `
all="$*"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
echo "$all" > "$out"
`)
	workDir := t.TempDir()
	out, err := New(script, WithOutputName("custom.xml")).Generate(context.Background(), testMetadata, workDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "custom.xml"), out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--event-id e1 --team PHI --player Smith --cameras 8 --kind pitching --version v6.4.0 --source /data/e1")
}

func TestGenerateNonZeroExit(t *testing.T) {
	g := New(writeScript(t, `echo "bad team" >&2; exit 4`))

	_, err := g.Generate(context.Background(), testMetadata, t.TempDir())
	require.Error(t, err)

	var gerr *GenerationError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 4, gerr.ExitCode)
	assert.Contains(t, gerr.Stderr, "bad team")
}

func TestGenerateNoOutput(t *testing.T) {
	g := New(writeScript(t, `exit 0`))

	_, err := g.Generate(context.Background(), testMetadata, t.TempDir())
	var gerr *GenerationError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 0, gerr.ExitCode)
	assert.True(t, strings.Contains(gerr.Error(), "no output file"))
}

func TestGenerateTimeout(t *testing.T) {
	g := New(writeScript(t, `sleep 10`), WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := g.Generate(context.Background(), testMetadata, t.TempDir())
	elapsed := time.Since(start)

	var gerr *GenerationError
	require.True(t, errors.As(err, &gerr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestGenerateMissingExecutable(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "absent"))
	_, err := g.Generate(context.Background(), testMetadata, t.TempDir())
	var gerr *GenerationError
	assert.True(t, errors.As(err, &gerr))
}
