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
	"context"
	"time"
)

// Kind is the type of capture an event carries.
type Kind string

const (
	KindBatting                Kind = "batting"
	KindPitching               Kind = "pitching"
	KindSubjectModelGeneration Kind = "subject-model-generation"
)

func (k Kind) Valid() bool {
	switch k {
	case KindBatting, KindPitching, KindSubjectModelGeneration:
		return true
	}
	return false
}

// State is the queue-side lifecycle state of an event.
type State string

const (
	StatePending    State = "pending"
	StateClaimed    State = "claimed"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Event is one unit of capture data awaiting processing.
type Event struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organizationId"`
	Kind             Kind       `json:"kind"`
	ProcessorVersion string     `json:"processorVersion"`
	SourceLocation   string     `json:"sourceLocation"`
	State            State      `json:"state"`
	ClaimedAt        *time.Time `json:"claimedAt,omitempty"`
	ResultLocation   string     `json:"resultLocation,omitempty"`
	Team             string     `json:"team,omitempty"`
	Player           string     `json:"player,omitempty"`
	CameraCount      int        `json:"cameraCount,omitempty"`
}

// Queue is the set of operations the dispatcher needs from the event queue.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Poll returns the pending events for an organization, in queue order.
	Poll(ctx context.Context, organizationID string) ([]Event, error)

	// Claim atomically moves a pending event to claimed. ErrClaimConflict
	// means another worker owns it.
	Claim(ctx context.Context, eventID string) (Event, error)

	// Acknowledge marks a claimed event succeeded. Repeating the call with the
	// same result location is a no-op.
	Acknowledge(ctx context.Context, eventID, resultLocation string) error

	// Fail marks a claimed event failed with a short diagnostic. Idempotent.
	Fail(ctx context.Context, eventID, reason string) error

	// Release returns a claimed event to pending.
	Release(ctx context.Context, eventID, reason string) error

	// Heartbeat renews the claim lease. ErrLeaseLost means the claim is gone.
	Heartbeat(ctx context.Context, eventID string) error
}

type workerRequest struct {
	WorkerID       string `json:"workerId"`
	ResultLocation string `json:"resultLocation,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type pollResponse struct {
	Events []Event `json:"events"`
}
