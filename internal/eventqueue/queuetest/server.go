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

// Package queuetest provides an in-memory event queue API server with
// compare-and-swap claim semantics for tests.
package queuetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
)

type eventRecord struct {
	event eventqueue.Event
	owner string
}

// Server is a fake queue API. Only state transitions that actually change
// an event are recorded as acknowledgements, failures or releases.
type Server struct {
	*httptest.Server

	apiKey string

	mu       sync.Mutex
	order    []string
	events   map[string]*eventRecord
	version  int
	calls    map[string]int
	acks     map[string][]string
	failures map[string][]string
	releases map[string][]string
	inject   map[string][]int
}

func NewServer(apiKey string) *Server {
	s := &Server{
		apiKey:   apiKey,
		events:   map[string]*eventRecord{},
		calls:    map[string]int{},
		acks:     map[string][]string{},
		failures: map[string][]string{},
		releases: map[string][]string{},
		inject:   map[string][]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /organizations/{org}/events", s.handlePoll)
	mux.HandleFunc("POST /events/{id}/{action}", s.handleAction)
	s.Server = httptest.NewServer(s.auth(mux))
	return s
}

// AddEvent stores e as pending.
func (s *Server) AddEvent(e eventqueue.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.State = eventqueue.StatePending
	if _, ok := s.events[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.events[e.ID] = &eventRecord{event: e}
	s.version++
}

func (s *Server) Event(id string) (eventqueue.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[id]
	if !ok {
		return eventqueue.Event{}, false
	}
	return rec.event, true
}

// Owner returns the worker holding the claim on id.
func (s *Server) Owner(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.events[id]; ok {
		return rec.owner
	}
	return ""
}

// Calls returns how many requests were made for an action
// ("poll", "claim", "acknowledge", "fail", "release", "heartbeat").
func (s *Server) Calls(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[action]
}

func (s *Server) Acknowledgements(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acks[id]...)
}

func (s *Server) Failures(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failures[id]...)
}

func (s *Server) Releases(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.releases[id]...)
}

// FailNext makes the next requests for action answer with the given statuses,
// one per request, before normal handling resumes.
func (s *Server) FailNext(action string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject[action] = append(s.inject[action], statuses...)
}

// Expire drops the claim on id as if its lease had timed out.
func (s *Server) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.events[id]; ok {
		rec.owner = ""
		rec.event.State = eventqueue.StatePending
		rec.event.ClaimedAt = nil
		s.version++
	}
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.apiKey {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// injected must be called with s.mu held.
func (s *Server) injected(action string) int {
	queue := s.inject[action]
	if len(queue) == 0 {
		return 0
	}
	s.inject[action] = queue[1:]
	return queue[0]
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["poll"]++
	if code := s.injected("poll"); code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}

	org := r.PathValue("org")
	etag := fmt.Sprintf(`"v%d"`, s.version)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	events := []eventqueue.Event{}
	for _, id := range s.order {
		rec := s.events[id]
		if rec.event.OrganizationID == org && rec.event.State == eventqueue.StatePending {
			events = append(events, rec.event)
		}
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, map[string]any{"events": events})
}

type actionRequest struct {
	WorkerID       string `json:"workerId"`
	ResultLocation string `json:"resultLocation"`
	Reason         string `json:"reason"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	id := r.PathValue("id")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		http.Error(w, "workerId required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[action]++
	if code := s.injected(action); code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}

	rec, ok := s.events[id]
	if !ok {
		http.Error(w, "no such event", http.StatusNotFound)
		return
	}
	owned := rec.owner == req.WorkerID &&
		(rec.event.State == eventqueue.StateClaimed || rec.event.State == eventqueue.StateProcessing)

	switch action {
	case "claim":
		if owned {
			// A retried claim from the holder succeeds again.
			writeJSON(w, rec.event)
			return
		}
		if rec.event.State != eventqueue.StatePending {
			http.Error(w, "already claimed", http.StatusConflict)
			return
		}
		now := time.Now().UTC()
		rec.event.State = eventqueue.StateClaimed
		rec.event.ClaimedAt = &now
		rec.owner = req.WorkerID
		s.version++
		writeJSON(w, rec.event)

	case "acknowledge":
		if rec.event.State == eventqueue.StateSucceeded && rec.event.ResultLocation == req.ResultLocation {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !owned {
			http.Error(w, "not owner", http.StatusConflict)
			return
		}
		rec.event.State = eventqueue.StateSucceeded
		rec.event.ResultLocation = req.ResultLocation
		s.acks[id] = append(s.acks[id], req.ResultLocation)
		s.version++
		w.WriteHeader(http.StatusOK)

	case "fail":
		if rec.event.State == eventqueue.StateFailed {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !owned {
			http.Error(w, "not owner", http.StatusConflict)
			return
		}
		rec.event.State = eventqueue.StateFailed
		s.failures[id] = append(s.failures[id], req.Reason)
		s.version++
		w.WriteHeader(http.StatusOK)

	case "release":
		if rec.event.State == eventqueue.StatePending {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !owned {
			http.Error(w, "not owner", http.StatusConflict)
			return
		}
		rec.event.State = eventqueue.StatePending
		rec.event.ClaimedAt = nil
		rec.owner = ""
		s.releases[id] = append(s.releases[id], req.Reason)
		s.version++
		w.WriteHeader(http.StatusOK)

	case "heartbeat":
		if !owned {
			http.Error(w, "lease lost", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "unknown action", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
