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

package eventqueue

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrClaimConflict is returned by Claim when another worker holds the event.
	ErrClaimConflict = errors.New("event already claimed")

	// ErrLeaseLost is returned when this worker no longer owns a claimed event.
	ErrLeaseLost = errors.New("event lease lost")

	// ErrEventGone is returned when the queue no longer knows the event.
	ErrEventGone = errors.New("event no longer exists")
)

// TransientError covers network failures, throttling and server errors.
// Callers may retry it.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("queue %s: transient status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("queue %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError covers authentication failures and rejected requests.
// The dispatcher stops when it sees one.
type FatalError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("queue %s: fatal status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsAuthFailure reports whether err is a rejected API key or a forbidden
// organization. Only these stop the whole process.
func IsAuthFailure(err error) bool {
	var fe *FatalError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.StatusCode == http.StatusUnauthorized || fe.StatusCode == http.StatusForbidden
}
