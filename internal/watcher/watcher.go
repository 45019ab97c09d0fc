// SPDX-License-Identifier: Apache 2.0

package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/swarmsync/swarmsync/internal/ignore"
)

// Watcher owns the OS filesystem-event source for one managed root,
// applying echo suppression and ignore-pattern exclusion before
// handing raw notifications to the Debouncer (spec §4.6).
type Watcher struct {
	root      string
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	echo      *EchoSuppressor
	matcher   *ignore.Matcher
	rescan    chan struct{}
}

// New creates a Watcher rooted at root. The caller must call Run to
// begin watching and Close to release OS resources.
func New(root string, matcher *ignore.Matcher, echo *EchoSuppressor) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:    root,
		fsw:     fsw,
		echo:    echo,
		matcher: matcher,
		rescan:  make(chan struct{}, 1),
	}
	w.debouncer = NewDebouncer(
		DefaultDebounceWindow, DefaultDirRenameWindow, DefaultDirRenameMinFiles, DefaultStragglerTTL,
		w.statRelative,
	)
	if err := w.addTreeWatches(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the semantic event stream.
func (w *Watcher) Events() <-chan Event {
	return w.debouncer.Out()
}

// RescanRequested signals a full tree walk is needed (overflow
// recovery or, via RequestRescan, an external caller such as the integrity
// scanner).
func (w *Watcher) RescanRequested() <-chan struct{} {
	return w.rescan
}

// RequestRescan lets another component (e.g. the integrity scanner on
// gross discrepancy) trigger the same full-walk path as an overflow
// recovery.
func (w *Watcher) RequestRescan() {
	select {
	case w.rescan <- struct{}{}:
	default:
	}
}

func (w *Watcher) addTreeWatches(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			if rel != "." && w.matcher.Ignored(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run processes OS events until ctx is cancelled. Buffer-overflow
// recovery: on fsnotify.ErrEventOverflow the watcher rebuilds its
// watch tree and emits a single Rescan signal (spec §4.6).
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				slog.Warn("watcher lost events, triggering rescan", "err", err)
				w.recover(ctx)
			} else {
				slog.Debug("watcher error", "err", err)
			}
		}
	}
}

func (w *Watcher) recover(ctx context.Context) {
	_ = w.fsw.Close()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("watcher restart failed", "err", err)
		return
	}
	w.fsw = fsw
	if err := w.addTreeWatches(w.root); err != nil {
		slog.Error("watcher re-add tree failed", "err", err)
	}
	w.RequestRescan()
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return
	}

	isDir := false
	if info, statErr := os.Stat(ev.Name); statErr == nil {
		isDir = info.IsDir()
	}
	if w.matcher.Ignored(rel, isDir) {
		return
	}
	if w.echo.ShouldSuppress(rel) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		if isDir {
			_ = w.fsw.Add(ev.Name)
		}
		w.debouncer.NotifyCreate(rel)
	case ev.Has(fsnotify.Write):
		w.debouncer.NotifyWrite(rel)
	case ev.Has(fsnotify.Remove):
		w.debouncer.NotifyRemove(rel)
	case ev.Has(fsnotify.Rename):
		// fsnotify reports only the old name for a rename; the
		// corresponding Create for the new name arrives as a separate
		// event, which the debouncer correlates (spec §4.6).
		w.debouncer.NotifyRemove(rel)
	}
}

func (w *Watcher) statRelative(relPath string) (exists, isDir bool) {
	full := filepath.Join(w.root, filepath.FromSlash(relPath))
	info, err := os.Stat(full)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

// Close releases the underlying OS watch handles.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
