// SPDX-License-Identifier: Apache 2.0

package watcher

import (
	"path"
	"strings"
	"sync"
	"time"
)

// Default timing constants from spec §6.5 / §4.6.
const (
	DefaultDebounceWindow    = 300 * time.Millisecond
	DefaultDirRenameWindow   = 500 * time.Millisecond
	DefaultDirRenameMinFiles = 5
	DefaultStragglerTTL      = 2000 * time.Millisecond
)

// StatFunc reports whether path currently exists and, if so, whether
// it is a directory. The debouncer calls this at most once per path
// when its debounce window closes, to classify the final event; it is
// not called when the path resolves a pending rename.
type StatFunc func(relPath string) (exists, isDir bool)

type pendingPath struct {
	timer  *time.Timer
	isInit bool // true if any raw op seen for this path was a create
}

type removedEntry struct {
	at time.Time
}

// renameBatchKey identifies a group of single-file renames that share
// the same parent-directory transformation, the unit the K-within-D_dir
// coalescing rule groups over (spec §4.6).
type renameBatchKey struct {
	oldParent string
	newParent string
}

type renameBatch struct {
	members []renamePair
	timer   *time.Timer
}

type renamePair struct {
	old, new string
}

// Debouncer implements the single-task debounce processor described in
// spec §4.6: per-path debounce, rename coalescing into DirectoryRenamed,
// and straggler suppression. All raw filesystem notifications funnel
// through Notify*; semantic Events are delivered on Out().
type Debouncer struct {
	window       time.Duration
	dirWindow    time.Duration
	dirMinFiles  int
	stragglerTTL time.Duration
	stat         StatFunc
	out          chan Event

	mu       sync.Mutex
	pending  map[string]*pendingPath
	removed  map[string]removedEntry
	batches  map[renameBatchKey]*renameBatch
	swallow  map[string]time.Time // old-parent -> swallow-until, for stragglers
}

// NewDebouncer constructs a Debouncer with the given windows. stat is
// called to resolve final filesystem state when a path's debounce
// window closes.
func NewDebouncer(window, dirWindow time.Duration, dirMinFiles int, stragglerTTL time.Duration, stat StatFunc) *Debouncer {
	return &Debouncer{
		window:       window,
		dirWindow:    dirWindow,
		dirMinFiles:  dirMinFiles,
		stragglerTTL: stragglerTTL,
		stat:         stat,
		out:          make(chan Event, 256),
		pending:      make(map[string]*pendingPath),
		removed:      make(map[string]removedEntry),
		batches:      make(map[renameBatchKey]*renameBatch),
		swallow:      make(map[string]time.Time),
	}
}

// Out returns the channel of finalized semantic events. Publication is
// lock-free from the caller's perspective: a bounded buffered channel,
// matching spec §4.6's "event publication is lock-free via a bounded
// channel/queue to C11".
func (d *Debouncer) Out() <-chan Event {
	return d.out
}

// NotifyWrite records a write/modify raw event on relPath.
func (d *Debouncer) NotifyWrite(relPath string) {
	d.scheduleFinalize(relPath, false)
}

// NotifyCreate records a create raw event on relPath.
func (d *Debouncer) NotifyCreate(relPath string) {
	d.scheduleFinalize(relPath, true)
}

// NotifyRemove records a remove raw event on relPath. It does not fire
// a Deleted event immediately: it waits up to dirWindow to see whether
// a matching NotifyCreate arrives, which would make this half of a
// rename rather than a real delete.
func (d *Debouncer) NotifyRemove(relPath string) {
	d.mu.Lock()
	d.removed[strings.ToLower(relPath)] = removedEntry{at: time.Now()}
	lowerPath := strings.ToLower(relPath)
	d.mu.Unlock()

	time.AfterFunc(d.dirWindow, func() {
		d.mu.Lock()
		entry, ok := d.removed[lowerPath]
		if ok {
			delete(d.removed, lowerPath)
		}
		d.mu.Unlock()
		if !ok {
			return // a matching create already consumed this removal
		}
		_ = entry
		d.emit(Event{Kind: Deleted, Path: relPath, Observed: time.Now()})
	})
}

func (d *Debouncer) scheduleFinalize(relPath string, isCreateHint bool) {
	key := strings.ToLower(relPath)
	d.mu.Lock()
	defer d.mu.Unlock()

	if pp, ok := d.pending[key]; ok {
		pp.timer.Stop()
		pp.isInit = pp.isInit || isCreateHint
		pp.timer = time.AfterFunc(d.window, func() { d.finalize(relPath) })
		return
	}
	pp := &pendingPath{isInit: isCreateHint}
	pp.timer = time.AfterFunc(d.window, func() { d.finalize(relPath) })
	d.pending[key] = pp
}

func (d *Debouncer) finalize(relPath string) {
	key := strings.ToLower(relPath)
	d.mu.Lock()
	delete(d.pending, key)

	// Check whether this create resolves a pending removal into a
	// single-file rename: a removal with the same file name, or else
	// the only pending removal in the same directory.
	base := path.Base(relPath)
	dir := strings.ToLower(path.Dir(relPath))
	var matchedOld, sameDirOld string
	sameDirCount := 0
	for oldPath, entry := range d.removed {
		if time.Since(entry.at) > d.dirWindow {
			continue
		}
		if path.Base(oldPath) == strings.ToLower(base) {
			matchedOld = oldPath
			break
		}
		if path.Dir(oldPath) == dir {
			sameDirOld = oldPath
			sameDirCount++
		}
	}
	if matchedOld == "" && sameDirCount == 1 {
		matchedOld = sameDirOld
	}
	if matchedOld != "" {
		delete(d.removed, matchedOld)
	}
	d.mu.Unlock()

	if matchedOld != "" {
		d.handleRename(matchedOld, relPath)
		return
	}

	exists, isDir := d.stat(relPath)
	if !exists {
		d.emit(Event{Kind: Deleted, Path: relPath, Observed: time.Now()})
		return
	}
	d.emit(Event{Kind: Created, Path: relPath, IsDir: isDir, Observed: time.Now()})
}

// handleRename groups a resolved single-file rename into its
// parent-transformation batch, flushing the batch as either individual
// Renamed events or one coalesced DirectoryRenamed once the batch
// either reaches dirMinFiles or its window expires (spec §4.6).
func (d *Debouncer) handleRename(oldPath, newPath string) {
	oldParent, newParent := path.Dir(oldPath), path.Dir(newPath)
	key := renameBatchKey{oldParent: oldParent, newParent: newParent}

	d.mu.Lock()
	if until, ok := d.swallow[strings.ToLower(oldParent)]; ok && time.Now().Before(until) {
		d.mu.Unlock()
		return // straggler from an already-coalesced directory rename
	}

	b, ok := d.batches[key]
	if !ok {
		b = &renameBatch{}
		d.batches[key] = b
	}
	b.members = append(b.members, renamePair{old: oldPath, new: newPath})
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d.dirWindow, func() { d.flushBatch(key) })
	shouldFlushNow := len(b.members) >= d.dirMinFiles
	d.mu.Unlock()

	if shouldFlushNow {
		d.flushBatch(key)
	}
}

func (d *Debouncer) flushBatch(key renameBatchKey) {
	d.mu.Lock()
	b, ok := d.batches[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.batches, key)
	members := b.members
	d.mu.Unlock()

	if len(members) == 0 {
		return
	}

	if len(members) >= d.dirMinFiles && sameFilenames(members) {
		d.mu.Lock()
		d.swallow[strings.ToLower(key.oldParent)] = time.Now().Add(d.stragglerTTL)
		d.mu.Unlock()
		d.emit(Event{
			Kind:     DirectoryRenamed,
			Path:     key.newParent,
			OldPath:  key.oldParent,
			IsDir:    true,
			Observed: time.Now(),
		})
		return
	}

	for _, m := range members {
		d.emit(Event{Kind: Renamed, Path: m.new, OldPath: m.old, Observed: time.Now()})
	}
}

func sameFilenames(members []renamePair) bool {
	for _, m := range members {
		if path.Base(m.old) != path.Base(m.new) {
			return false
		}
	}
	return true
}

func (d *Debouncer) emit(ev Event) {
	select {
	case d.out <- ev:
	default:
		// Output is a bounded queue; a stuck consumer must not block
		// the single debounce task indefinitely. Drop and rely on the
		// integrity scanner / next rescan to reconcile.
	}
}
