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

package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestNewServerDefaultPort(t *testing.T) {
	s := NewServer(Config{}, nil)
	assert.Equal(t, 8090, s.port)
	assert.Equal(t, StatusStarting, s.GetStatus())
	assert.False(t, s.IsReady())
}

func fetch(t *testing.T, h http.Handler, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthEndpoints(t *testing.T) {
	s := NewServer(Config{Port: 9999}, nil)
	h := s.Handler()

	code, _ := fetch(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = fetch(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code)
	code, _ = fetch(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s.SetStatus(StatusHealthy)
	s.SetReady(true)
	code, resp := fetch(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Healthy)
	code, _ = fetch(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	s.SetStatus(StatusUnhealthy)
	code, resp = fetch(t, h, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	code, _ = fetch(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestStatuszUsesProvider(t *testing.T) {
	s := NewServer(Config{}, StatusProviderFunc(func() any {
		return map[string]any{"inFlight": []string{"e1"}}
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"inFlight":["e1"]}`, rec.Body.String())
}

func TestStatuszWithoutProvider(t *testing.T) {
	s := NewServer(Config{}, nil)
	code, resp := fetch(t, s.Handler(), "/statusz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "starting", resp.Status)
}
