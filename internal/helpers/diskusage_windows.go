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

//go:build windows

package helpers

import (
	"golang.org/x/sys/windows"
)

func DiskUsage(path string) (FSUsage, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return FSUsage{}, err
	}
	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree); err != nil {
		return FSUsage{}, err
	}
	return FSUsage{
		TotalBytes: total,
		FreeBytes:  free,
		UsedBytes:  total - totalFree,
	}, nil
}
