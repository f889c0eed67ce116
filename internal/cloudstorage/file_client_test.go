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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c := NewFileClient(root, "bucket")

	src := filepath.Join(t.TempDir(), "cam1.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video-bytes"), 0o644))

	key := "PHI/2025/game1/Pitching/20250401_PHI_Smith/cam1/cam1.mp4"
	stored, err := c.Upload(ctx, src, key)
	require.NoError(t, err)
	assert.Equal(t, key, stored)

	dest := filepath.Join(t.TempDir(), "nested", "cam1.mp4")
	n, err := c.Download(ctx, key, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("video-bytes")), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(got))
}

func TestFileClientDownloadMissing(t *testing.T) {
	c := NewFileClient(t.TempDir(), "bucket")
	dest := filepath.Join(t.TempDir(), "out.mp4")

	_, err := c.Download(context.Background(), "missing/key.mp4", dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsTransient(err))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file should be left at dest")
}

func TestFileClientList(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c := NewFileClient(root, "bucket")

	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	for _, key := range []string{
		"PHI/2025/g1/Batting/evt_PHI_Jones/cam2/cam2.mp4",
		"PHI/2025/g1/Batting/evt_PHI_Jones/cam1/cam1.mp4",
		"PHI/2025/g1/Batting/other_PHI_Lee/cam1/cam1.mp4",
	} {
		_, err := c.Upload(ctx, src, key)
		require.NoError(t, err)
	}

	objs, err := c.List(ctx, "PHI/2025/g1/Batting/evt_PHI_Jones/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "PHI/2025/g1/Batting/evt_PHI_Jones/cam1/cam1.mp4", objs[0].Key)
	assert.Equal(t, int64(1), objs[0].Size)

	objs, err = c.List(ctx, "nothing/here/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestFileClientListMissingRoot(t *testing.T) {
	c := NewFileClient(filepath.Join(t.TempDir(), "absent"), "bucket")
	objs, err := c.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestWriteFileAtomicLeavesNoPartial(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	_, err := writeFileAtomic(dest, func(f *os.File) (int64, error) {
		_, _ = f.Write([]byte("half"))
		return 4, errors.New("connection reset")
	})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	n, err := writeFileAtomic(dest, func(f *os.File) (int64, error) {
		w, err := f.Write([]byte("new contents"))
		return int64(w), err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new contents", string(got))
}
