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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/eventrunner/config"
	"github.com/cardinalhq/eventrunner/internal/eventqueue"
	"github.com/cardinalhq/eventrunner/internal/retry"
)

func TestBuildBinariesDefaults(t *testing.T) {
	bins, err := buildBinaries(config.DefaultProcessors("/opt/kt"))
	require.NoError(t, err)
	assert.Equal(t, 5, bins.Len())

	p, err := bins.Lookup(eventqueue.KindPitching, "v6.4.0")
	require.NoError(t, err)
	assert.Equal(t, "/opt/kt/v6.4.0/PitchingProcessor", p)
}

func TestBuildBinariesRejectsUnknownKind(t *testing.T) {
	_, err := buildBinaries([]config.ProcessorConfig{{Kind: "bowling", Version: "v1", Path: "/bin/true"}})
	assert.Error(t, err)
}

func TestQueuePolicy(t *testing.T) {
	cfg := &config.Config{}
	assert.Equal(t, retry.DefaultPolicy, queuePolicy(cfg))

	cfg.API.MaxAttempts = 9
	assert.Equal(t, uint(9), queuePolicy(cfg).MaxAttempts)
}

func TestWriteConfigRedactsKey(t *testing.T) {
	cfg := &config.Config{
		Environment: "staging",
		API:         config.APIConfig{OrganizationID: "org-1", APIKey: "secret-key"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, cfg))
	assert.NotContains(t, buf.String(), "secret-key")

	var back config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "REDACTED", back.API.APIKey)
	assert.Equal(t, "org-1", back.API.OrganizationID)
	assert.Equal(t, "secret-key", cfg.API.APIKey)
}
