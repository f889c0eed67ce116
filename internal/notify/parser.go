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

package notify

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrUnknownFormat = errors.New("unable to determine notification format")

// ParseKeys extracts object keys from an S3 event (optionally wrapped in an
// SNS envelope), a GCS object notification, or an Azure Event Grid
// BlobCreated batch.
func ParseKeys(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrUnknownFormat
	}
	if raw[0] == '[' {
		return parseEventGrid(raw)
	}

	var shape struct {
		Kind    string            `json:"kind"`
		Records []json.RawMessage `json:"Records"`
		Type    string            `json:"Type"`
		Message string            `json:"Message"`
		Event   string            `json:"Event"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}

	switch {
	case shape.Kind == "storage#object":
		return parseGCS(raw)
	case len(shape.Records) > 0:
		return parseS3(raw)
	case shape.Type == "Notification" && shape.Message != "":
		return ParseKeys([]byte(shape.Message))
	case shape.Event == "s3:TestEvent":
		return nil, nil
	}
	return nil, ErrUnknownFormat
}

func parseS3(raw []byte) ([]string, error) {
	var evt struct {
		Records []struct {
			EventName string `json:"eventName"`
			S3        struct {
				Object struct {
					Key string `json:"key"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse S3 event: %w", err)
	}

	keys := make([]string, 0, len(evt.Records))
	for _, rec := range evt.Records {
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			continue
		}
		// S3 event keys are form encoded.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to unescape key %q: %w", rec.S3.Object.Key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func parseGCS(raw []byte) ([]string, error) {
	var evt struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse GCS event: %w", err)
	}
	if evt.Name == "" {
		return nil, errors.New("GCS event has no object name")
	}
	return []string{evt.Name}, nil
}

// parseEventGrid handles Event Grid schema batches. The subject has the form
// /blobServices/default/containers/{container}/blobs/{key}.
func parseEventGrid(raw []byte) ([]string, error) {
	var events []struct {
		EventType string `json:"eventType"`
		Subject   string `json:"subject"`
	}
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("failed to parse Event Grid batch: %w", err)
	}

	keys := make([]string, 0, len(events))
	for _, e := range events {
		if e.EventType != "" && e.EventType != "Microsoft.Storage.BlobCreated" {
			continue
		}
		_, key, ok := strings.Cut(e.Subject, "/blobs/")
		if !ok || key == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// decodeIfBase64 unwraps Azure Queue messages, which several event sources
// base64 encode.
func decodeIfBase64(s string) []byte {
	if len(s)%4 != 0 {
		return []byte(s)
	}
	for _, c := range s {
		if !(('A' <= c && c <= 'Z') ||
			('a' <= c && c <= 'z') ||
			('0' <= c && c <= '9') ||
			c == '+' || c == '/' || c == '=') {
			return []byte(s)
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return decoded
}
