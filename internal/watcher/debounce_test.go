// SPDX-License-Identifier: Apache 2.0

package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func shortDebouncer(t *testing.T, existing map[string]bool) *Debouncer {
	t.Helper()
	stat := func(relPath string) (bool, bool) {
		exists := existing[relPath]
		return exists, false
	}
	return NewDebouncer(20*time.Millisecond, 40*time.Millisecond, 3, 100*time.Millisecond, stat)
}

func recvEvent(t *testing.T, d *Debouncer, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-d.Out():
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestDebounceCoalescesRepeatedWrites(t *testing.T) {
	d := shortDebouncer(t, map[string]bool{"a.txt": true})
	d.NotifyCreate("a.txt")
	d.NotifyWrite("a.txt")
	d.NotifyWrite("a.txt")

	ev := recvEvent(t, d, 200*time.Millisecond)
	require.Equal(t, Created, ev.Kind)
	require.Equal(t, "a.txt", ev.Path)

	select {
	case ev2 := <-d.Out():
		t.Fatalf("expected no second event, got %+v", ev2)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebounceClassifiesDeleteAtWindowClose(t *testing.T) {
	d := shortDebouncer(t, map[string]bool{})
	d.NotifyWrite("gone.txt")

	ev := recvEvent(t, d, 200*time.Millisecond)
	require.Equal(t, Deleted, ev.Kind)
}

func TestDebounceResolvesSingleFileRename(t *testing.T) {
	d := shortDebouncer(t, map[string]bool{"dir/new.txt": true})
	d.NotifyRemove("dir/old.txt")
	d.NotifyCreate("dir/new.txt")

	ev := recvEvent(t, d, 200*time.Millisecond)
	require.Equal(t, Renamed, ev.Kind)
	require.Equal(t, "dir/old.txt", ev.OldPath)
	require.Equal(t, "dir/new.txt", ev.Path)
}

func TestDebounceCoalescesDirectoryRename(t *testing.T) {
	existing := map[string]bool{
		"newdir/a.txt": true, "newdir/b.txt": true, "newdir/c.txt": true,
	}
	d := shortDebouncer(t, existing)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		d.NotifyRemove("olddir/" + name)
		d.NotifyCreate("newdir/" + name)
	}

	ev := recvEvent(t, d, 300*time.Millisecond)
	require.Equal(t, DirectoryRenamed, ev.Kind)
	require.Equal(t, "olddir", ev.OldPath)
	require.Equal(t, "newdir", ev.Path)

	// No individual Renamed events should follow.
	select {
	case stray := <-d.Out():
		t.Fatalf("expected no individual rename events, got %+v", stray)
	case <-time.After(100 * time.Millisecond):
	}
}
