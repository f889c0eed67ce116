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

package queuetest

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
)

func post(t *testing.T, s *Server, path, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "k")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestServerClaimCompareAndSwap(t *testing.T) {
	s := NewServer("k")
	defer s.Close()
	s.AddEvent(eventqueue.Event{ID: "e1", OrganizationID: "o"})

	assert.Equal(t, http.StatusOK, post(t, s, "/events/e1/claim", `{"workerId":"a"}`))
	assert.Equal(t, http.StatusConflict, post(t, s, "/events/e1/claim", `{"workerId":"b"}`))
	assert.Equal(t, http.StatusOK, post(t, s, "/events/e1/claim", `{"workerId":"a"}`), "holder may repeat its claim")
	assert.Equal(t, "a", s.Owner("e1"))
	assert.Equal(t, 3, s.Calls("claim"))

	assert.Equal(t, http.StatusConflict, post(t, s, "/events/e1/acknowledge", `{"workerId":"b","resultLocation":"x"}`))
	assert.Empty(t, s.Acknowledgements("e1"))
}

func TestServerRejectsBadRequests(t *testing.T) {
	s := NewServer("k")
	defer s.Close()
	s.AddEvent(eventqueue.Event{ID: "e1", OrganizationID: "o"})

	assert.Equal(t, http.StatusBadRequest, post(t, s, "/events/e1/claim", `{}`))
	assert.Equal(t, http.StatusNotFound, post(t, s, "/events/nope/claim", `{"workerId":"a"}`))

	req, err := http.NewRequest(http.MethodGet, s.URL+"/organizations/o/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerInjectedStatuses(t *testing.T) {
	s := NewServer("k")
	defer s.Close()
	s.AddEvent(eventqueue.Event{ID: "e1", OrganizationID: "o"})
	s.FailNext("claim", http.StatusInternalServerError)

	assert.Equal(t, http.StatusInternalServerError, post(t, s, "/events/e1/claim", `{"workerId":"a"}`))
	assert.Equal(t, http.StatusOK, post(t, s, "/events/e1/claim", `{"workerId":"a"}`))
}
