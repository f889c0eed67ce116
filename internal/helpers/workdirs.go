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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// CleanWorkDirs removes entries under root left behind by a previous
// process, except those whose name starts with keepPrefix. It returns how
// many entries were removed.
func CleanWorkDirs(root, keepPrefix string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Info("Failed to read data dir (ignoring)", slog.String("path", root), slog.Any("error", err))
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if keepPrefix != "" && strings.HasPrefix(entry.Name(), keepPrefix) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to remove stale working directory", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Removed stale working directories", slog.String("path", root), slog.Int("count", removed))
	}
	return removed
}
