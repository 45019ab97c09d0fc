// SPDX-License-Identifier: Apache 2.0

// Package store implements the state store (C3): a persistent,
// crash-safe map from relative path to file fingerprint, backed by
// gorm over a WAL-mode sqlite database the way the teacher's
// internal/db package backs device state over gorm + sqlite/postgres
// drivers.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/swarmsync/swarmsync/internal/manifest"
)

// row is the gorm model backing one fingerprint. The table is keyed by
// a case-folded path so lookups are case-insensitive regardless of the
// host filesystem's own convention (spec §4.3).
type row struct {
	PathLower       string `gorm:"primaryKey"`
	RelativePath    string
	ContentHash     string
	LastModified    time.Time
	FileSize        int64
	IsDirectory     bool
	OldRelativePath string
	SourcePeerID    string
}

func (row) TableName() string { return "synced_files" }

// Store is the state store. All mutations go through a single mutex
// per spec §5's shared-resource policy; reads snapshot under the same
// lock.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite-backed state store at
// path, with WAL journaling for crash resilience, and transparently
// migrates an older JSON snapshot found alongside it.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateLegacyJSON(legacySnapshotPath(path)); err != nil {
		return nil, err
	}
	return s, nil
}

// legacySnapshotPath is where the pre-gorm JSON snapshot format, if
// any, is expected to live alongside the new database file.
func legacySnapshotPath(dbPath string) string {
	return dbPath + ".json"
}

// migrateLegacyJSON imports a legacy JSON snapshot on first startup
// and archives it by renaming with a .migrated suffix, so a second
// call is a no-op (spec §4.3: "must migrate transparently ... if
// found on startup").
func (s *Store) migrateLegacyJSON(jsonPath string) error {
	b, err := os.ReadFile(jsonPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read legacy snapshot: %w", err)
	}

	var legacy manifest.Manifest
	if err := json.Unmarshal(b, &legacy); err != nil {
		return fmt.Errorf("store: parse legacy snapshot: %w", err)
	}

	slog.Info("migrating legacy JSON state snapshot", "path", jsonPath, "entries", len(legacy.Files))
	for _, f := range legacy.Files {
		if err := s.AddOrUpdate(f); err != nil {
			return fmt.Errorf("store: migrate entry %s: %w", f.RelativePath, err)
		}
	}

	if err := os.Rename(jsonPath, jsonPath+".migrated"); err != nil {
		slog.Warn("could not archive legacy snapshot after migration", "path", jsonPath, "err", err)
	}
	return nil
}

// AddOrUpdate atomically inserts or replaces the fingerprint for f's path.
func (s *Store) AddOrUpdate(f manifest.SyncedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := row{
		PathLower:       strings.ToLower(f.RelativePath),
		RelativePath:    f.RelativePath,
		ContentHash:     f.ContentHash,
		LastModified:    f.LastModified,
		FileSize:        f.FileSize,
		IsDirectory:     f.IsDirectory,
		OldRelativePath: f.OldRelativePath,
		SourcePeerID:    f.SourcePeerID,
	}
	return s.db.Save(&r).Error
}

// Remove deletes the entry for relPath, case-insensitively.
func (s *Store) Remove(relPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(&row{}, "path_lower = ?", strings.ToLower(relPath)).Error
}

// Get returns the fingerprint for relPath, case-insensitively.
func (s *Store) Get(relPath string) (manifest.SyncedFile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r row
	err := s.db.Where("path_lower = ?", strings.ToLower(relPath)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return manifest.SyncedFile{}, false, nil
	}
	if err != nil {
		return manifest.SyncedFile{}, false, err
	}
	return toFingerprint(r), true, nil
}

// Exists reports whether relPath has a stored fingerprint.
func (s *Store) Exists(relPath string) (bool, error) {
	_, ok, err := s.Get(relPath)
	return ok, err
}

// All enumerates every stored fingerprint.
func (s *Store) All() ([]manifest.SyncedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []row
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]manifest.SyncedFile, 0, len(rows))
	for _, r := range rows {
		out = append(out, toFingerprint(r))
	}
	return out, nil
}

// Count returns the number of stored fingerprints.
func (s *Store) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.Model(&row{}).Count(&n).Error
	return n, err
}

// RenamePrefix updates every entry whose path is oldPrefix or lies
// beneath it (oldPrefix + "/") to the corresponding newPrefix path,
// supporting both single-file renames and whole-subtree directory
// renames in one call (spec §4.11: "for directories, update all
// descendants").
func (s *Store) RenamePrefix(oldPrefix, newPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []row
	oldLower := strings.ToLower(oldPrefix)
	if err := s.db.Find(&rows).Error; err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			if r.PathLower != oldLower && !strings.HasPrefix(r.PathLower, oldLower+"/") {
				continue
			}
			suffix := strings.TrimPrefix(r.RelativePath, oldPrefix)
			newPath := newPrefix + suffix
			updated := r
			updated.RelativePath = newPath
			updated.PathLower = strings.ToLower(newPath)
			if err := tx.Delete(&row{}, "path_lower = ?", r.PathLower).Error; err != nil {
				return err
			}
			if err := tx.Save(&updated).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush is a no-op placeholder for symmetry with the spec's "flushed
// on normal shutdown" language: gorm/sqlite commit synchronously
// already, so there is nothing buffered to force out. It exists so
// callers have an explicit, documented shutdown step.
func (s *Store) Flush() error {
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toFingerprint(r row) manifest.SyncedFile {
	return manifest.SyncedFile{
		RelativePath:    r.RelativePath,
		ContentHash:     r.ContentHash,
		LastModified:    r.LastModified,
		FileSize:        r.FileSize,
		IsDirectory:     r.IsDirectory,
		OldRelativePath: r.OldRelativePath,
		SourcePeerID:    r.SourcePeerID,
	}
}
