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

package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSonyFlakeGenerator_NextID(t *testing.T) {
	gen, err := NewFlakeGenerator()
	require.NoError(t, err, "failed to create SonyFlakeGenerator")

	id := gen.NextID()
	id2 := gen.NextID()
	assert.Greater(t, id2, id, "NextID() did not return increasing id")
}

func TestWorkerID(t *testing.T) {
	a := WorkerID()
	b := WorkerID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-")
	assert.Equal(t, strings.ToLower(a), a)
}

func TestRunIDGenerator(t *testing.T) {
	g := NewRunIDGenerator()
	now := time.Now()

	var (
		mu  sync.Mutex
		ids = map[string]struct{}{}
		wg  sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := g.Make(now)
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1000)

	first := g.Make(now)
	second := g.Make(now)
	assert.Less(t, first, second, "ids within a millisecond are monotonic")
	assert.Len(t, first, 26)
}
