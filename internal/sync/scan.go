// SPDX-License-Identifier: Apache 2.0

package sync

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/swarmsync/swarmsync/internal/hasher"
	"github.com/swarmsync/swarmsync/internal/ignore"
	"github.com/swarmsync/swarmsync/internal/logging"
	"github.com/swarmsync/swarmsync/internal/manifest"
)

// InitialScan walks the managed root and brings the state store up to
// date before the engine starts processing live watcher events (spec
// §4.6/§4.11). Files whose size and mtime match the cached fingerprint
// adopt the cached hash rather than being rehashed; everything else is
// rehashed from disk.
func (e *Engine) InitialScan(ctx context.Context) error {
	seen := make(map[string]bool)

	err := filepath.WalkDir(e.root, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(e.root, fullPath)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() && strings.HasPrefix(rel, ignore.VaultDir) {
			return filepath.SkipDir
		}
		if e.matcher.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		seen[manifest.SyncedFile{RelativePath: rel}.Key()] = true

		cached, exists, getErr := e.store.Get(rel)
		if getErr != nil {
			return getErr
		}
		if exists && cached.FileSize == info.Size() && sameSecond(cached.LastModified, info.ModTime()) {
			return nil // fast path: trust the cached hash
		}

		hash, hashErr := hasher.HashFile(ctx, fullPath)
		if hashErr != nil {
			logging.Log(fmt.Errorf("%w: %v", logging.ErrIntegrity, hashErr), "initial scan: hash failed", "path", rel)
			return nil
		}
		fp := manifest.SyncedFile{
			RelativePath: rel,
			ContentHash:  hash,
			LastModified: info.ModTime().UTC(),
			FileSize:     info.Size(),
		}
		if err := e.store.AddOrUpdate(fp); err != nil {
			return fmt.Errorf("%w: %v", logging.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync: initial scan: %w", err)
	}

	locals, err := e.store.All()
	if err != nil {
		return err
	}
	for _, l := range locals {
		if !seen[l.Key()] {
			if rmErr := e.store.Remove(l.RelativePath); rmErr != nil {
				return fmt.Errorf("%w: %v", logging.ErrStorage, rmErr)
			}
		}
	}
	return nil
}

// sameSecond compares two mtimes with one-second granularity, the
// coarsest resolution some filesystems round to.
func sameSecond(a, b time.Time) bool {
	return a.Unix() == b.Unix()
}
