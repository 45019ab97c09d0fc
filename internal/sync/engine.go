// SPDX-License-Identifier: Apache 2.0

// Package sync implements the sync engine (C11), the coordination core
// that absorbs watcher events and incoming protocol messages, keeps
// the state store current, and drives manifest reconciliation, delta
// orchestration and conflict resolution.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/swarmsync/swarmsync/internal/config"
	"github.com/swarmsync/swarmsync/internal/hasher"
	"github.com/swarmsync/swarmsync/internal/ignore"
	"github.com/swarmsync/swarmsync/internal/logging"
	"github.com/swarmsync/swarmsync/internal/manifest"
	"github.com/swarmsync/swarmsync/internal/peer"
	"github.com/swarmsync/swarmsync/internal/store"
	"github.com/swarmsync/swarmsync/internal/watcher"
	"github.com/swarmsync/swarmsync/internal/wire"
)

// Sender delivers one wire message to a peer. Production wiring is
// internal/transport (over internal/pool + internal/channel); tests
// supply a fake.
type Sender interface {
	SendMessage(ctx context.Context, peerID string, msg wire.Message) error
}

// VersioningService archives the current on-disk copy of a file before
// it is overwritten by an incoming conflict resolution. It is an
// external collaborator (spec §4.11); NoopVersioning is the default
// when none is configured.
type VersioningService interface {
	Archive(ctx context.Context, relPath string) error
}

// NoopVersioning is the default VersioningService: it keeps no archive.
type NoopVersioning struct{}

// Archive does nothing.
func (NoopVersioning) Archive(context.Context, string) error { return nil }

// Event is emitted on the engine's event stream for conditions
// external listeners (the status API, logs) care about.
type Event struct {
	Kind   string // "TimeTravelDetected", "StatusChanged", ...
	Path   string
	Detail string
	At     time.Time
}

const (
	EventTimeTravelDetected = "TimeTravelDetected"
	EventStatusChanged      = "StatusChanged"
)

type pendingDeltaEntry struct {
	peerID      string
	fingerprint manifest.SyncedFile
}

// Engine is the sync coordination core (C11).
type Engine struct {
	root       string
	deviceID   string
	store      *store.Store
	matcher    *ignore.Matcher
	directory  *peer.Directory
	echo       *watcher.EchoSuppressor
	sender     Sender
	resolver   ConflictResolutionService
	versioning VersioningService
	pause      func() bool

	thresholds config.ThresholdsConfig

	mu           sync.Mutex
	pendingDelta map[string]pendingDeltaEntry

	events chan Event
	rescan <-chan struct{}
}

// New constructs an Engine. sender is required. The engine starts with
// the spec-mandated defaults (auto-newest-wins resolver, no-op
// versioning, never paused); SetConflictResolver, SetVersioningService
// and SetPause replace them.
func New(root, deviceID string, st *store.Store, matcher *ignore.Matcher, directory *peer.Directory, echo *watcher.EchoSuppressor, sender Sender, thresholds config.ThresholdsConfig, rescan <-chan struct{}) *Engine {
	return &Engine{
		root:         root,
		deviceID:     deviceID,
		store:        st,
		matcher:      matcher,
		directory:    directory,
		echo:         echo,
		sender:       sender,
		resolver:     defaultResolver{},
		versioning:   NoopVersioning{},
		pause:        func() bool { return false },
		thresholds:   thresholds,
		pendingDelta: make(map[string]pendingDeltaEntry),
		events:       make(chan Event, 64),
		rescan:       rescan,
	}
}

// SetConflictResolver overrides the default auto-newest-wins policy.
func (e *Engine) SetConflictResolver(r ConflictResolutionService) { e.resolver = r }

// SetVersioningService overrides the default no-op archival.
func (e *Engine) SetVersioningService(v VersioningService) { e.versioning = v }

// SetPause installs the global pause predicate: when it reports true,
// local changes are absorbed into the store but not broadcast.
func (e *Engine) SetPause(p func() bool) { e.pause = p }

// Events returns the engine's status/diagnostic event stream.
func (e *Engine) Events() <-chan Event { return e.events }

// RescanRequested exposes the shared rescan-requested signal raised by
// the watcher on buffer overflow or by the integrity scanner on gross
// discrepancy (spec §4.11).
func (e *Engine) RescanRequested() <-chan struct{} { return e.rescan }

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) fullPath(relPath string) string {
	return filepath.Join(e.root, filepath.FromSlash(relPath))
}

// PeerUp pushes the full local manifest to a newly-reachable trusted,
// sync-enabled peer (spec §4.11 (b)).
func (e *Engine) PeerUp(ctx context.Context, p peer.Peer) error {
	if !p.CanInitiateSync() {
		return nil
	}
	files, err := e.store.All()
	if err != nil {
		return err
	}
	return e.pushManifest(ctx, p.DeviceID, files)
}

func (e *Engine) pushManifest(ctx context.Context, peerID string, files []manifest.SyncedFile) error {
	mf := manifest.Manifest{Files: files}
	payload, err := marshalManifest(mf)
	if err != nil {
		return err
	}
	return e.sender.SendMessage(ctx, peerID, wire.Message{Type: wire.SyncManifest, ManifestJSON: payload})
}

// HandleLocalEvent absorbs one watcher event: updates the state store
// and, unless the engine is paused, broadcasts the change to every
// trusted, sync-enabled peer (spec §4.11's per-event handling).
func (e *Engine) HandleLocalEvent(ctx context.Context, ev watcher.Event) error {
	switch ev.Kind {
	case watcher.Created, watcher.Modified:
		return e.handleLocalWrite(ctx, ev)
	case watcher.Deleted:
		return e.handleLocalDelete(ctx, ev)
	case watcher.Renamed, watcher.DirectoryRenamed:
		return e.handleLocalRename(ctx, ev.OldPath, ev.Path)
	case watcher.Rescan:
		return e.InitialScan(ctx)
	default:
		return nil
	}
}

func (e *Engine) handleLocalWrite(ctx context.Context, ev watcher.Event) error {
	full := e.fullPath(ev.Path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // raced with a delete; the debouncer will settle it
		}
		return fmt.Errorf("sync: stat %s: %w", ev.Path, err)
	}

	var hash string
	if !info.IsDir() {
		hash, err = hasher.HashFile(ctx, full)
		if err != nil {
			return fmt.Errorf("sync: hash %s: %w", ev.Path, err)
		}
	}

	fp := manifest.SyncedFile{
		RelativePath: ev.Path,
		ContentHash:  hash,
		LastModified: info.ModTime().UTC(),
		FileSize:     info.Size(),
		IsDirectory:  info.IsDir(),
	}
	if err := e.store.AddOrUpdate(fp); err != nil {
		return fmt.Errorf("%w: add/update %s: %v", logging.ErrStorage, ev.Path, err)
	}

	if e.pause() {
		return nil
	}
	return e.broadcastAll(ctx, fp)
}

func (e *Engine) handleLocalDelete(ctx context.Context, ev watcher.Event) error {
	if err := e.store.Remove(ev.Path); err != nil {
		return fmt.Errorf("%w: remove %s: %v", logging.ErrStorage, ev.Path, err)
	}
	if e.pause() {
		return nil
	}
	for _, p := range e.directory.TrustedSyncEnabled() {
		if err := e.sender.SendMessage(ctx, p.DeviceID, wire.Message{Type: wire.FileDeleted, RelPath: ev.Path}); err != nil {
			logging.Log(fmt.Errorf("%w: %v", logging.ErrPeerUnreachable, err), "broadcast delete failed", "peer", p.DeviceID, "path", ev.Path)
		}
	}
	return nil
}

func (e *Engine) handleLocalRename(ctx context.Context, oldPath, newPath string) error {
	if err := e.store.RenamePrefix(oldPath, newPath); err != nil {
		return fmt.Errorf("%w: rename %s->%s: %v", logging.ErrStorage, oldPath, newPath, err)
	}
	if e.pause() {
		return nil
	}
	for _, p := range e.directory.TrustedSyncEnabled() {
		msg := wire.Message{Type: wire.FileRenamed, OldRelPath: oldPath, RelPath: newPath}
		if err := e.sender.SendMessage(ctx, p.DeviceID, msg); err != nil {
			logging.Log(fmt.Errorf("%w: %v", logging.ErrPeerUnreachable, err), "broadcast rename failed", "peer", p.DeviceID)
		}
	}
	return nil
}

func (e *Engine) broadcastAll(ctx context.Context, fp manifest.SyncedFile) error {
	for _, p := range e.directory.TrustedSyncEnabled() {
		if err := e.pushManifest(ctx, p.DeviceID, []manifest.SyncedFile{fp}); err != nil {
			logging.Log(fmt.Errorf("%w: %v", logging.ErrPeerUnreachable, err), "broadcast failed", "peer", p.DeviceID, "path", fp.RelativePath)
		}
	}
	return nil
}
