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

package helpers

import (
	"errors"
	"fmt"
)

// FSUsage holds the on-disk usage stats for a given filesystem.
type FSUsage struct {
	TotalBytes uint64 // total capacity (in bytes)
	FreeBytes  uint64 // bytes available to non-root users
	UsedBytes  uint64 // TotalBytes - FreeBytes
}

var ErrLowDiskSpace = errors.New("insufficient free disk space")

// CheckFreeSpace returns ErrLowDiskSpace when the filesystem holding path
// has fewer than minBytes available.
func CheckFreeSpace(path string, minBytes uint64) (FSUsage, error) {
	usage, err := DiskUsage(path)
	if err != nil {
		return usage, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	if usage.FreeBytes < minBytes {
		return usage, fmt.Errorf("%w: %s has %d bytes free, need %d", ErrLowDiskSpace, path, usage.FreeBytes, minBytes)
	}
	return usage, nil
}
