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

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
)

func TestBinariesLookup(t *testing.T) {
	bins, err := NewBinaries(
		Binary{Kind: eventqueue.KindBatting, Version: "v6.3.0", Path: "/opt/kt/bat63"},
		Binary{Kind: eventqueue.KindBatting, Version: "v6.4.0", Path: "/opt/kt/bat64"},
		Binary{Kind: eventqueue.KindPitching, Version: "v6.3.0", Path: "/opt/kt/pitch63"},
		Binary{Kind: eventqueue.KindPitching, Version: "v6.4.0", Path: "/opt/kt/pitch64"},
		Binary{Kind: eventqueue.KindSubjectModelGeneration, Version: AnyVersion, Path: "/opt/kt/subject"},
	)
	require.NoError(t, err)
	assert.Equal(t, 5, bins.Len())

	p, err := bins.Lookup(eventqueue.KindPitching, "v6.4.0")
	require.NoError(t, err)
	assert.Equal(t, "/opt/kt/pitch64", p)

	p, err = bins.Lookup(eventqueue.KindSubjectModelGeneration, "v9")
	require.NoError(t, err)
	assert.Equal(t, "/opt/kt/subject", p)

	_, err = bins.Lookup(eventqueue.KindBatting, "v5.0.0")
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestNewBinariesRejects(t *testing.T) {
	_, err := NewBinaries(Binary{Kind: "swimming", Version: "v1", Path: "/x"})
	assert.Error(t, err)

	_, err = NewBinaries(Binary{Kind: eventqueue.KindBatting, Version: "", Path: "/x"})
	assert.Error(t, err)

	_, err = NewBinaries(
		Binary{Kind: eventqueue.KindBatting, Version: "v1", Path: "/a"},
		Binary{Kind: eventqueue.KindBatting, Version: "v1", Path: "/b"},
	)
	assert.Error(t, err)
}

func TestDiagnostic(t *testing.T) {
	assert.Equal(t, "", JobResult{Success: true}.Diagnostic())
	assert.Equal(t, "NonZeroExit: 7", JobResult{Reason: ReasonNonZeroExit, ExitCode: 7}.Diagnostic())
	assert.Equal(t, "Timeout", JobResult{Reason: ReasonTimeout}.Diagnostic())
}
