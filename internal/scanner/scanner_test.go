// SPDX-License-Identifier: Apache 2.0

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmsync/swarmsync/internal/hasher"
	"github.com/swarmsync/swarmsync/internal/ignore"
	"github.com/swarmsync/swarmsync/internal/manifest"
	"github.com/swarmsync/swarmsync/internal/store"
)

func newTestScanner(t *testing.T, root string, trigger func()) (*Scanner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	matcher, err := ignore.Load(root)
	require.NoError(t, err)

	return New(root, st, matcher, time.Hour, trigger), st
}

func TestNewClampsIntervalToMinimum(t *testing.T) {
	s := New(t.TempDir(), nil, nil, time.Minute, nil)
	require.Equal(t, MinInterval, s.interval)
}

func TestScanFindsNoDiscrepanciesWhenInSync(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	s, st := newTestScanner(t, root, nil)

	h, err := hasher.HashFile(context.Background(), filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.NoError(t, st.AddOrUpdate(manifest.SyncedFile{RelativePath: "a.txt", ContentHash: h, LastModified: time.Now().UTC(), FileSize: 5}))

	discrepancies, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, discrepancies)
}

func TestScanDetectsHashMismatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	s, st := newTestScanner(t, root, nil)
	require.NoError(t, st.AddOrUpdate(manifest.SyncedFile{RelativePath: "a.txt", ContentHash: "stale-hash", LastModified: time.Now().UTC(), FileSize: 5}))

	discrepancies, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	require.Equal(t, HashMismatch, discrepancies[0].Kind)
	require.Equal(t, "a.txt", discrepancies[0].RelPath)
}

func TestScanDetectsUnknownToStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("hello"), 0o644))

	s, _ := newTestScanner(t, root, nil)

	discrepancies, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	require.Equal(t, UnknownToStore, discrepancies[0].Kind)
}

func TestScanDetectsMissingOnDisk(t *testing.T) {
	root := t.TempDir()
	s, st := newTestScanner(t, root, nil)
	require.NoError(t, st.AddOrUpdate(manifest.SyncedFile{RelativePath: "ghost.txt", ContentHash: "h", LastModified: time.Now().UTC(), FileSize: 1}))

	discrepancies, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	require.Equal(t, MissingOnDisk, discrepancies[0].Kind)
	require.Equal(t, "ghost.txt", discrepancies[0].RelPath)
}

func TestScanSkipsIgnoredFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignore.me"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".swarmignore"), []byte("ignore.me\n"), 0o644))

	s, _ := newTestScanner(t, root, nil)
	discrepancies, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, discrepancies)
}

func TestScanTriggersRescanOnDiscrepancy(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("hello"), 0o644))

	fired := make(chan struct{}, 1)
	s, _ := newTestScanner(t, root, func() { fired <- struct{}{} })

	discrepancies, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, discrepancies)

	s.triggerRescan()
	select {
	case <-fired:
	default:
		t.Fatal("expected a rescan signal")
	}
}
