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

package dispatcher

import (
	"errors"
	"fmt"
	"syscall"
	"unicode/utf8"
)

// Stage is a step of the per-event pipeline.
type Stage string

const (
	StageClaimed          Stage = "CLAIMED"
	StageDownloading      Stage = "DOWNLOADING"
	StageGeneratingConfig Stage = "GENERATING_CONFIG"
	StageExecuting        Stage = "EXECUTING"
	StageUploading        Stage = "UPLOADING"
	StageAcknowledged     Stage = "ACKNOWLEDGED"
	StageFailed           Stage = "FAILED"
	StageReported         Stage = "REPORTED"
)

// maxReasonLen bounds the diagnostic sent with fail and release calls.
const maxReasonLen = 512

var (
	// ErrShutdownInProgress is the cancellation cause of pipelines stopped
	// because the process is shutting down.
	ErrShutdownInProgress = errors.New("shutdown in progress")

	// errLeaseLost is the cancellation cause when the queue revoked the claim.
	errLeaseLost = errors.New("claim lease lost")
)

// StageError is a per-event failure. Reason is the diagnostic reported to
// the queue.
type StageError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage Stage, reason string, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}

// fatalError aborts the dispatch loop.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "dispatcher aborted: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// isResourceExhausted reports whether err means the local disk is full.
func isResourceExhausted(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

func truncateReason(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	cut := maxReasonLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
