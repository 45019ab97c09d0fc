// SPDX-License-Identifier: Apache 2.0

package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyFoldsCase(t *testing.T) {
	a := SyncedFile{RelativePath: "Docs/Notes.TXT"}
	b := SyncedFile{RelativePath: "docs/notes.txt"}
	require.Equal(t, a.Key(), b.Key())
}

func TestActionString(t *testing.T) {
	cases := map[Action]string{
		ActionCreate: "create",
		ActionUpdate: "update",
		ActionDelete: "delete",
		ActionRename: "rename",
		Action(99):   "unknown",
	}
	for action, want := range cases {
		require.Equal(t, want, action.String())
	}
}

func TestByPathIndexesByFoldedKey(t *testing.T) {
	m := Manifest{Files: []SyncedFile{
		{RelativePath: "A.txt"},
		{RelativePath: "b.txt"},
	}}
	idx := m.ByPath()
	require.Len(t, idx, 2)
	_, ok := idx["a.txt"]
	require.True(t, ok)
	_, ok = idx["b.txt"]
	require.True(t, ok)
}
