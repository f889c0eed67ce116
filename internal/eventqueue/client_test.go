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

package eventqueue_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
	"github.com/cardinalhq/eventrunner/internal/eventqueue/queuetest"
	"github.com/cardinalhq/eventrunner/internal/retry"
)

const (
	testKey = "secret"
	testOrg = "org-1"
)

var fastRetry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func newClient(t *testing.T, baseURL, worker string) *eventqueue.Client {
	t.Helper()
	c, err := eventqueue.NewClient(baseURL, testKey,
		eventqueue.WithWorkerID(worker),
		eventqueue.WithRetryPolicy(fastRetry),
		eventqueue.WithHTTPClient(http.DefaultClient),
	)
	require.NoError(t, err)
	return c
}

func pitchingEvent(id string) eventqueue.Event {
	return eventqueue.Event{
		ID:               id,
		OrganizationID:   testOrg,
		Kind:             eventqueue.KindPitching,
		ProcessorVersion: "v6.4.0",
		SourceLocation:   "PHI/2025/g1/Pitching/20250401_PHI_Smith",
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := eventqueue.NewClient("ftp://queue", testKey)
	assert.Error(t, err)

	_, err = eventqueue.NewClient("https://queue.example.com", "")
	assert.Error(t, err)

	c, err := eventqueue.NewClient("https://queue.example.com", testKey)
	require.NoError(t, err)
	assert.NotEmpty(t, c.WorkerID())
}

func TestPollReturnsPendingOnly(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))
	srv.AddEvent(pitchingEvent("e2"))
	other := pitchingEvent("e3")
	other.OrganizationID = "org-2"
	srv.AddEvent(other)

	c := newClient(t, srv.URL, "w1")
	ctx := context.Background()

	_, err := c.Claim(ctx, "e1")
	require.NoError(t, err)

	events, err := c.Poll(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)
	assert.Equal(t, eventqueue.KindPitching, events[0].Kind)
}

func TestPollUsesETag(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))

	c := newClient(t, srv.URL, "w1")
	ctx := context.Background()

	first, err := c.Poll(ctx, testOrg)
	require.NoError(t, err)
	second, err := c.Poll(ctx, testOrg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, srv.Calls("poll"))

	srv.AddEvent(pitchingEvent("e2"))
	third, err := c.Poll(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, third, 2)
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))

	const workers = 8
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := range workers {
		c := newClient(t, srv.URL, fmt.Sprintf("w%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.Claim(context.Background(), "e1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, eventqueue.ErrClaimConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func TestClaimUnknownEventIsConflict(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()

	c := newClient(t, srv.URL, "w1")
	_, err := c.Claim(context.Background(), "missing")
	assert.ErrorIs(t, err, eventqueue.ErrClaimConflict)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))

	c := newClient(t, srv.URL, "w1")
	ctx := context.Background()

	_, err := c.Claim(ctx, "e1")
	require.NoError(t, err)

	loc := "PHI/2025/g1/Pitching/20250401_PHI_Smith/results.c3d"
	require.NoError(t, c.Acknowledge(ctx, "e1", loc))
	require.NoError(t, c.Acknowledge(ctx, "e1", loc))

	assert.Equal(t, []string{loc}, srv.Acknowledgements("e1"))
	ev, ok := srv.Event("e1")
	require.True(t, ok)
	assert.Equal(t, eventqueue.StateSucceeded, ev.State)
	assert.Equal(t, loc, ev.ResultLocation)
}

func TestFailIsIdempotent(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))

	c := newClient(t, srv.URL, "w1")
	ctx := context.Background()

	_, err := c.Claim(ctx, "e1")
	require.NoError(t, err)
	require.NoError(t, c.Fail(ctx, "e1", "NonZeroExit: 3"))
	require.NoError(t, c.Fail(ctx, "e1", "NonZeroExit: 3"))

	assert.Equal(t, []string{"NonZeroExit: 3"}, srv.Failures("e1"))
}

func TestReleaseAndHeartbeat(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))

	c := newClient(t, srv.URL, "w1")
	ctx := context.Background()

	_, err := c.Claim(ctx, "e1")
	require.NoError(t, err)
	require.NoError(t, c.Heartbeat(ctx, "e1"))

	require.NoError(t, c.Release(ctx, "e1", "shutdown"))
	ev, _ := srv.Event("e1")
	assert.Equal(t, eventqueue.StatePending, ev.State)

	err = c.Heartbeat(ctx, "e1")
	assert.ErrorIs(t, err, eventqueue.ErrLeaseLost)
}

func TestHeartbeatAfterExpiry(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))

	c := newClient(t, srv.URL, "w1")
	ctx := context.Background()
	_, err := c.Claim(ctx, "e1")
	require.NoError(t, err)

	srv.Expire("e1")
	assert.ErrorIs(t, c.Heartbeat(ctx, "e1"), eventqueue.ErrLeaseLost)
	assert.ErrorIs(t, c.Acknowledge(ctx, "e1", "x"), eventqueue.ErrLeaseLost)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))
	srv.FailNext("poll", http.StatusServiceUnavailable, http.StatusTooManyRequests)

	c := newClient(t, srv.URL, "w1")
	events, err := c.Poll(context.Background(), testOrg)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 3, srv.Calls("poll"))
}

func TestTransientErrorsExhaust(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.FailNext("poll", http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)

	c := newClient(t, srv.URL, "w1")
	_, err := c.Poll(context.Background(), testOrg)
	require.Error(t, err)
	assert.True(t, eventqueue.IsTransient(err))
	assert.False(t, eventqueue.IsFatal(err))

	var te *eventqueue.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
}

func TestAuthFailureIsFatal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, "w1")
	_, err := c.Poll(context.Background(), testOrg)
	require.Error(t, err)
	assert.True(t, eventqueue.IsFatal(err))
	assert.Equal(t, int32(1), hits.Load(), "auth failures are not retried")

	var fe *eventqueue.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusUnauthorized, fe.StatusCode)
}

func TestNetworkErrorIsTransient(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	c := newClient(t, url, "w1")
	_, err := c.Claim(context.Background(), "e1")
	require.Error(t, err)
	assert.True(t, eventqueue.IsTransient(err))
}

func TestRequestHeaders(t *testing.T) {
	var gotKey, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, "w1")
	require.NoError(t, c.Heartbeat(context.Background(), "e1"))
	assert.Equal(t, testKey, gotKey)
	assert.NotEmpty(t, gotRequestID)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()

	c := newClient(t, srv.URL, "w1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Poll(ctx, testOrg)
	require.Error(t, err)
	assert.False(t, eventqueue.IsFatal(err))
}

func TestClaimRetriedAfterLostResponse(t *testing.T) {
	srv := queuetest.NewServer(testKey)
	defer srv.Close()
	srv.AddEvent(pitchingEvent("e1"))

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	proxy := httputil.NewSingleHostReverseProxy(target)

	// The first claim reaches the queue, but the proxy answers 502.
	var dropped atomic.Bool
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/claim") && dropped.CompareAndSwap(false, true) {
			proxy.ServeHTTP(httptest.NewRecorder(), r)
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		proxy.ServeHTTP(w, r)
	}))
	defer front.Close()

	c := newClient(t, front.URL, "w1")
	ev, err := c.Claim(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, eventqueue.StateClaimed, ev.State)
	assert.Equal(t, "w1", srv.Owner("e1"))
	assert.Equal(t, 2, srv.Calls("claim"))

	other := newClient(t, srv.URL, "w2")
	_, err = other.Claim(context.Background(), "e1")
	assert.ErrorIs(t, err, eventqueue.ErrClaimConflict)
}

func TestReportStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		gone   bool
		fatal  bool
		auth   bool
	}{
		{status: http.StatusNotFound, gone: true},
		{status: http.StatusGone, gone: true},
		{status: http.StatusBadRequest, fatal: true},
		{status: http.StatusUnauthorized, fatal: true, auth: true},
		{status: http.StatusForbidden, fatal: true, auth: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := queuetest.NewServer(testKey)
			defer srv.Close()
			srv.AddEvent(pitchingEvent("e1"))

			c := newClient(t, srv.URL, "w1")
			_, err := c.Claim(context.Background(), "e1")
			require.NoError(t, err)

			srv.FailNext("fail", tt.status)
			err = c.Fail(context.Background(), "e1", "NonZeroExit: 3")
			require.Error(t, err)
			assert.Equal(t, tt.gone, errors.Is(err, eventqueue.ErrEventGone), "gone: %v", err)
			assert.Equal(t, tt.fatal, eventqueue.IsFatal(err), "fatal: %v", err)
			assert.Equal(t, tt.auth, eventqueue.IsAuthFailure(err), "auth: %v", err)
		})
	}
}
