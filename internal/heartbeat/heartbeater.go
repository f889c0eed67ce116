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

package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

// HeartbeatFunc is the function signature for heartbeat callbacks
type HeartbeatFunc func(ctx context.Context) error

// Heartbeater manages periodic execution of a heartbeat function
type Heartbeater struct {
	heartbeatFunc HeartbeatFunc
	ll            *slog.Logger
	interval      time.Duration
	initialBeat   bool
	stopOn        func(error) bool
	onStop        func(error)
}

type Option func(*Heartbeater)

// WithoutInitialBeat waits one interval before the first heartbeat.
func WithoutInitialBeat() Option {
	return func(h *Heartbeater) {
		h.initialBeat = false
	}
}

// WithStopOn ends the loop when match reports true for a heartbeat error,
// then calls onStop with that error. Other errors are logged and the loop
// continues.
func WithStopOn(match func(error) bool, onStop func(error)) Option {
	return func(h *Heartbeater) {
		h.stopOn = match
		h.onStop = onStop
	}
}

// New creates a new generic heartbeater with the given callback function
func New(heartbeatFunc HeartbeatFunc, interval time.Duration, logger *slog.Logger, opts ...Option) *Heartbeater {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Heartbeater{
		heartbeatFunc: heartbeatFunc,
		ll:            logger.With("component", "heartbeater"),
		interval:      interval,
		initialBeat:   true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins the heartbeat process in a goroutine and returns a cancel function.
// A non-positive interval starts nothing.
func (h *Heartbeater) Start(ctx context.Context) context.CancelFunc {
	heartbeatCtx, cancel := context.WithCancel(ctx)
	if h.interval <= 0 {
		return cancel
	}

	go h.run(heartbeatCtx)

	return cancel
}

func (h *Heartbeater) run(ctx context.Context) {
	h.ll.Debug("Starting heartbeat loop", "interval", h.interval)

	if h.initialBeat && !h.sendHeartbeat(ctx) {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.ll.Debug("Context cancelled, stopping heartbeat loop")
			return
		case <-ticker.C:
			if !h.sendHeartbeat(ctx) {
				return
			}
		}
	}
}

// sendHeartbeat returns false when the loop should end.
func (h *Heartbeater) sendHeartbeat(ctx context.Context) bool {
	h.ll.Debug("Sending heartbeat")

	err := h.heartbeatFunc(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if h.stopOn != nil && h.stopOn(err) {
			h.ll.Warn("Heartbeat rejected, stopping", "error", err)
			if h.onStop != nil {
				h.onStop(err)
			}
			return false
		}
		h.ll.Error("Failed to send heartbeat (continuing)", "error", err)
		return true
	}

	h.ll.Debug("Heartbeat sent successfully")
	return true
}
