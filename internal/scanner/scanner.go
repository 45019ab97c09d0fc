// SPDX-License-Identifier: Apache 2.0

// Package scanner implements the integrity scanner (C12): a periodic
// background walk of the managed root that rehashes every file and
// compares it against the state store, reporting discrepancies and
// triggering a forced sync pass when it finds any.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/swarmsync/swarmsync/internal/hasher"
	"github.com/swarmsync/swarmsync/internal/ignore"
	"github.com/swarmsync/swarmsync/internal/logging"
	"github.com/swarmsync/swarmsync/internal/manifest"
	"github.com/swarmsync/swarmsync/internal/store"
)

// DefaultInterval and MinInterval bound the scan period (spec §4.12).
const (
	DefaultInterval = 4 * time.Hour
	MinInterval     = 15 * time.Minute
)

// DiscrepancyKind classifies one mismatch between the live tree and
// the state store.
type DiscrepancyKind int

const (
	UnknownToStore DiscrepancyKind = iota
	MissingOnDisk
	HashMismatch
)

func (k DiscrepancyKind) String() string {
	switch k {
	case UnknownToStore:
		return "unknown_to_store"
	case MissingOnDisk:
		return "missing_on_disk"
	case HashMismatch:
		return "hash_mismatch"
	default:
		return "unknown"
	}
}

// Discrepancy is one file whose live state disagrees with the store.
type Discrepancy struct {
	Kind    DiscrepancyKind
	RelPath string
}

// Scanner periodically rehashes the managed root against the state
// store. Concurrency is bounded by CPU count, per spec §4.12.
type Scanner struct {
	root     string
	store    *store.Store
	matcher  *ignore.Matcher
	interval time.Duration
	trigger  func()
	workers  int64
}

// New constructs a Scanner. trigger is called, at most once per scan
// cycle, when the cycle finds any discrepancy; it is typically
// (*watcher.Watcher).RequestRescan. nil is accepted for tests that
// only care about the reported discrepancies.
func New(root string, st *store.Store, matcher *ignore.Matcher, interval time.Duration, trigger func()) *Scanner {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Scanner{
		root:     root,
		store:    st,
		matcher:  matcher,
		interval: interval,
		trigger:  trigger,
		workers:  int64(runtime.NumCPU()),
	}
}

// Run blocks, scanning at the configured interval until ctx is
// canceled. Each cycle's errors are logged, not returned, so one bad
// cycle never stops the next.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			discrepancies, err := s.Scan(ctx)
			if err != nil {
				logging.Log(fmt.Errorf("%w: %v", logging.ErrIntegrity, err), "integrity scan failed")
				continue
			}
			if len(discrepancies) > 0 {
				s.triggerRescan()
			}
		}
	}
}

func (s *Scanner) triggerRescan() {
	if s.trigger == nil {
		return
	}
	s.trigger()
}

// Scan walks the managed root once, hashing every non-ignored file in
// parallel (bounded by CPU count) and diffing the result against the
// state store.
func (s *Scanner) Scan(ctx context.Context) ([]Discrepancy, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(full string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(s.root, full)
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
		if s.matcher.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk: %w", err)
	}

	hashes := make(map[string]string, len(paths))
	var mu sync.Mutex
	sem := semaphore.NewWeighted(s.workers)
	g, gctx := errgroup.WithContext(ctx)

	for _, rel := range paths {
		rel := rel
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			h, hashErr := hasher.HashFile(gctx, filepath.Join(s.root, filepath.FromSlash(rel)))
			if hashErr != nil {
				return fmt.Errorf("%w: hash %s: %v", logging.ErrIntegrity, rel, hashErr)
			}
			mu.Lock()
			hashes[rel] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stored, err := s.store.All()
	if err != nil {
		return nil, err
	}
	storedIdx := make(map[string]manifest.SyncedFile, len(stored))
	for _, f := range stored {
		storedIdx[f.Key()] = f
	}

	onDisk := make(map[string]bool, len(hashes))
	var discrepancies []Discrepancy
	for rel, h := range hashes {
		key := manifest.SyncedFile{RelativePath: rel}.Key()
		onDisk[key] = true
		fp, ok := storedIdx[key]
		switch {
		case !ok:
			discrepancies = append(discrepancies, Discrepancy{Kind: UnknownToStore, RelPath: rel})
		case fp.ContentHash != h:
			discrepancies = append(discrepancies, Discrepancy{Kind: HashMismatch, RelPath: rel})
		}
	}
	for _, fp := range stored {
		if fp.IsDirectory {
			continue
		}
		if !onDisk[fp.Key()] {
			discrepancies = append(discrepancies, Discrepancy{Kind: MissingOnDisk, RelPath: fp.RelativePath})
		}
	}
	return discrepancies, nil
}
