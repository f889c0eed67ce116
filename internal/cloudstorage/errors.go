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

package cloudstorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"google.golang.org/api/googleapi"
)

// ErrorKind separates failures worth retrying from those that are not.
type ErrorKind int

const (
	// Transient covers throttling, timeouts and server side errors.
	Transient ErrorKind = iota
	// Permanent covers not-found, permission denied and bad requests.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// ErrNotFound is wrapped by a Permanent StorageError when a key or prefix is missing.
var ErrNotFound = errors.New("object not found")

// StorageError is the single error type returned by Client implementations.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a StorageError that may succeed on retry.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == Transient
}

func newStorageError(op, key string, kind ErrorKind, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Key: key, Err: err}
}

// classify wraps a provider error, deciding its kind from the HTTP status,
// provider error codes, or local filesystem errors.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return newStorageError(op, key, kindOf(err), err)
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return Permanent
	case errors.Is(err, context.Canceled):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	}

	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return Permanent
	}

	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return Permanent
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return Permanent
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "RequestTimeTooSkewed", "InternalError", "ServiceUnavailable":
			return Transient
		case "AccessDenied", "NoSuchKey", "NotFound", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return Permanent
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return kindOfStatus(respErr.HTTPStatusCode())
	}
	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		return kindOfStatus(azErr.StatusCode)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return kindOfStatus(gErr.Code)
	}

	// Anything without a server verdict is a connection level problem.
	return Transient
}

func kindOfStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return Transient
	case code >= 400:
		return Permanent
	default:
		return Transient
	}
}
