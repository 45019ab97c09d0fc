// SPDX-License-Identifier: Apache 2.0

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmsync/swarmsync/internal/manifest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddGetRemove(t *testing.T) {
	s := openTestStore(t)

	f := manifest.SyncedFile{
		RelativePath: "notes.txt",
		ContentHash:  "abc123",
		LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FileSize:     6,
	}
	require.NoError(t, s.AddOrUpdate(f))

	got, ok, err := s.Get("notes.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.ContentHash, got.ContentHash)

	require.NoError(t, s.Remove("notes.txt"))
	_, ok, err = s.Get("notes.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCaseInsensitiveLookup(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddOrUpdate(manifest.SyncedFile{RelativePath: "Docs/Readme.TXT"}))

	ok, err := s.Exists("docs/readme.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRenamePrefixSubtree(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddOrUpdate(manifest.SyncedFile{RelativePath: "photos", IsDirectory: true}))
	require.NoError(t, s.AddOrUpdate(manifest.SyncedFile{RelativePath: "photos/a.jpg"}))
	require.NoError(t, s.AddOrUpdate(manifest.SyncedFile{RelativePath: "photos/b.jpg"}))

	require.NoError(t, s.RenamePrefix("photos", "pictures"))

	_, ok, err := s.Get("photos/a.jpg")
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := s.Get("pictures/a.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pictures/a.jpg", got.RelativePath)
}

func TestMigratesLegacyJSONSnapshot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")
	jsonPath := dbPath + ".json"

	legacy := manifest.Manifest{Files: []manifest.SyncedFile{
		{RelativePath: "old.txt", ContentHash: "deadbeef", FileSize: 3},
	}}
	b, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(jsonPath, b, 0o600))

	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.Get("old.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "deadbeef", got.ContentHash)

	_, err = os.Stat(jsonPath + ".migrated")
	require.NoError(t, err, "legacy snapshot should be archived after migration")
}

func TestCount(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddOrUpdate(manifest.SyncedFile{RelativePath: "a"}))
	require.NoError(t, s.AddOrUpdate(manifest.SyncedFile{RelativePath: "b"}))

	n, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
