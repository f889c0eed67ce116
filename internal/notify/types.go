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

// Package notify listens for object-created notifications from cloud storage
// and wakes the dispatcher when new capture data lands. Notifications are
// hints only; the event queue remains the source of truth.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cardinalhq/eventrunner/internal/blobpath"
)

// Listener receives storage notifications until ctx is done.
type Listener interface {
	Run(ctx context.Context) error
	Name() string
}

// WakeFunc is called when a notification names a capture object.
type WakeFunc func()

// handler turns a raw notification body into at most one wake call.
type handler struct {
	backend  string
	basePath string
	wake     WakeFunc
	logger   *slog.Logger
}

func newHandler(backend, basePath string, wake WakeFunc) *handler {
	return &handler{
		backend:  backend,
		basePath: basePath,
		wake:     wake,
		logger:   slog.Default().With(slog.String("notifyBackend", backend)),
	}
}

// handle parses raw and wakes the dispatcher if any key is relevant. It
// reports whether a wake was issued.
func (h *handler) handle(ctx context.Context, raw []byte) bool {
	keys, err := ParseKeys(raw)
	if err != nil {
		h.logger.Debug("Ignoring unparseable storage notification", slog.Any("error", err))
		recordNotification(ctx, h.backend, "unparseable")
		return false
	}
	if !Relevant(h.basePath, keys) {
		recordNotification(ctx, h.backend, "ignored")
		return false
	}
	recordNotification(ctx, h.backend, "wake")
	h.logger.Debug("Capture data landed, waking dispatcher", slog.Int("keys", len(keys)))
	if h.wake != nil {
		h.wake()
	}
	return true
}

// Relevant reports whether any key names an object inside a capture event
// folder under basePath.
func Relevant(basePath string, keys []string) bool {
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		rel, ok := blobpath.Strip(basePath, key)
		if !ok {
			continue
		}
		if _, err := blobpath.Parse(rel); err == nil {
			return true
		}
	}
	return false
}
