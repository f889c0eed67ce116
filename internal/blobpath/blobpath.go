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

// Package blobpath parses and builds object keys for the capture layout:
//
//	{team}/{year}/{sessionTimestamp}/{Batting|Pitching}/{eventTimestamp}_{team}_{player}/{cameraId}/{file}
package blobpath

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Kind is the capture folder name for an event.
type Kind string

const (
	KindBatting  Kind = "Batting"
	KindPitching Kind = "Pitching"
)

var ErrNotCaptureKey = errors.New("key does not match capture layout")

// EventPath is a decoded capture key. CameraID and File are empty when the
// key names the event folder itself.
type EventPath struct {
	Team           string
	Year           string
	Session        string
	Kind           Kind
	EventTimestamp string
	Player         string
	CameraID       string
	File           string
}

// Parse decodes a key relative to the storage root. Keys may name the event
// folder, a camera folder, or a file inside a camera folder.
func Parse(key string) (EventPath, error) {
	key = strings.Trim(key, "/")
	parts := strings.Split(key, "/")
	if len(parts) < 5 || len(parts) > 7 {
		return EventPath{}, fmt.Errorf("%w: %q", ErrNotCaptureKey, key)
	}
	for _, p := range parts {
		if p == "" {
			return EventPath{}, fmt.Errorf("%w: empty segment in %q", ErrNotCaptureKey, key)
		}
	}

	ep := EventPath{
		Team:    parts[0],
		Year:    parts[1],
		Session: parts[2],
		Kind:    Kind(parts[3]),
	}
	if len(ep.Year) != 4 || strings.Trim(ep.Year, "0123456789") != "" {
		return EventPath{}, fmt.Errorf("%w: bad year %q", ErrNotCaptureKey, ep.Year)
	}
	if ep.Kind != KindBatting && ep.Kind != KindPitching {
		return EventPath{}, fmt.Errorf("%w: bad kind %q", ErrNotCaptureKey, parts[3])
	}

	// The event folder repeats the team, so split on it rather than on the
	// first underscore; timestamps and player names both contain underscores.
	sep := "_" + ep.Team + "_"
	idx := strings.Index(parts[4], sep)
	if idx <= 0 || idx+len(sep) >= len(parts[4]) {
		return EventPath{}, fmt.Errorf("%w: bad event folder %q", ErrNotCaptureKey, parts[4])
	}
	ep.EventTimestamp = parts[4][:idx]
	ep.Player = parts[4][idx+len(sep):]

	if len(parts) >= 6 {
		ep.CameraID = parts[5]
	}
	if len(parts) == 7 {
		ep.File = parts[6]
	}
	return ep, nil
}

// EventFolder is the folder name of the event, {eventTimestamp}_{team}_{player}.
func (p EventPath) EventFolder() string {
	return p.EventTimestamp + "_" + p.Team + "_" + p.Player
}

// EventPrefix is the key of the event folder, without a trailing slash.
func (p EventPath) EventPrefix() string {
	return path.Join(p.Team, p.Year, p.Session, string(p.Kind), p.EventFolder())
}

// CameraKey is the key of the raw video for one camera.
func (p EventPath) CameraKey(cameraID string) string {
	return path.Join(p.EventPrefix(), cameraID, cameraID+".mp4")
}

// ResultKey is the key of a result artifact stored next to the inputs.
func (p EventPath) ResultKey(name string) string {
	return path.Join(p.EventPrefix(), path.Base(name))
}

// Join prefixes key with base, as used for the configured cloud base path.
func Join(base, key string) string {
	base = strings.Trim(base, "/")
	key = strings.TrimLeft(key, "/")
	if base == "" {
		return key
	}
	return base + "/" + key
}

// Strip removes base from the front of key. The second return is false when
// key is not under base.
func Strip(base, key string) (string, bool) {
	base = strings.Trim(base, "/")
	key = strings.TrimLeft(key, "/")
	if base == "" {
		return key, true
	}
	rest, ok := strings.CutPrefix(key, base+"/")
	return rest, ok
}
