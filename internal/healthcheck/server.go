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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type Response struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status,omitempty"`
}

// StatusProvider supplies the document served on /statusz.
type StatusProvider interface {
	Status() any
}

type StatusProviderFunc func() any

func (f StatusProviderFunc) Status() any { return f() }

type Server struct {
	port     int
	status   atomic.Int32
	ready    atomic.Bool
	provider StatusProvider
	server   *http.Server
}

type Config struct {
	Port int
}

func NewServer(config Config, provider StatusProvider) *Server {
	if config.Port == 0 {
		config.Port = 8090
	}

	return &Server{
		port:     config.Port,
		provider: provider,
	}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	if s.ready.Swap(ready) != ready {
		slog.Debug("Ready status updated", slog.Bool("ready", ready))
	}
}

func (s *Server) IsReady() bool {
	return s.ready.Load() && s.GetStatus() != StatusUnhealthy
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/readyz", s.readyzHandler)
	mux.HandleFunc("/livez", s.livezHandler)
	mux.HandleFunc("/statusz", s.statuszHandler)
	return mux
}

// Start serves until ctx is done, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting health check server", slog.Int("port", s.port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health check server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	status := s.GetStatus()
	writeProbe(w, status == StatusHealthy, status)
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.IsReady(), s.GetStatus())
}

func (s *Server) livezHandler(w http.ResponseWriter, r *http.Request) {
	status := s.GetStatus()
	writeProbe(w, status != StatusUnhealthy, status)
}

func (s *Server) statuszHandler(w http.ResponseWriter, r *http.Request) {
	var doc any = Response{Healthy: s.GetStatus() == StatusHealthy, Status: s.GetStatus().String()}
	if s.provider != nil {
		doc = s.provider.Status()
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeProbe(w http.ResponseWriter, ok bool, status Status) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, Response{Healthy: ok, Status: status.String()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}
