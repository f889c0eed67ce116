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
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileClient stores objects on the local filesystem under base/bucket.
// It backs the local Linux/Windows profiles and the tests.
type FileClient struct {
	root string
}

var _ Client = (*FileClient)(nil)

// NewFileClient returns a client rooted at base/bucket.
func NewFileClient(base, bucket string) *FileClient {
	return &FileClient{root: filepath.Join(base, bucket)}
}

func (c *FileClient) path(key string) string {
	return filepath.Join(c.root, filepath.FromSlash(key))
}

func (c *FileClient) Download(ctx context.Context, key, dest string) (int64, error) {
	src, err := os.Open(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		err = classify("download", key, err)
		recordDownload(ctx, "file", 0, err)
		return 0, err
	}
	defer func() { _ = src.Close() }()

	n, err := writeFileAtomic(dest, func(f *os.File) (int64, error) {
		return io.Copy(f, src)
	})
	err = classify("download", key, err)
	recordDownload(ctx, "file", n, err)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *FileClient) Upload(ctx context.Context, source, key string) (string, error) {
	src, err := os.Open(source)
	if err != nil {
		return "", classify("upload", key, fmt.Errorf("open %s: %w", source, err))
	}
	defer func() { _ = src.Close() }()

	n, err := writeFileAtomic(c.path(key), func(f *os.File) (int64, error) {
		return io.Copy(f, src)
	})
	err = classify("upload", key, err)
	recordUpload(ctx, "file", n, err)
	if err != nil {
		return "", err
	}
	return key, nil
}

func (c *FileClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, classify("list", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
