// SPDX-License-Identifier: Apache 2.0

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmsync/swarmsync/internal/delta"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	r := NewReader(&buf)
	typeByte, err := r.Byte()
	require.NoError(t, err)

	got, err := Decode(r, typeByte)
	require.NoError(t, err)
	return got
}

func TestFileChangedRoundTrip(t *testing.T) {
	m := Message{
		Type:    FileChanged,
		RelPath: "docs/readme.txt",
		Hash:    "deadbeef",
		ModTime: 1700000000,
		Size:    5,
		Data:    []byte("hello"),
	}
	got := roundTrip(t, m)
	require.Equal(t, m, got)
}

func TestFileChangedCompressedRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("swarmsync payload content "), 200)
	m := Message{
		Type:    FileChangedCompressed,
		RelPath: "big/file.bin",
		Hash:    "cafebabe",
		ModTime: 1700000001,
		Size:    int64(len(payload)),
		Data:    payload,
	}
	got := roundTrip(t, m)
	require.Equal(t, m.RelPath, got.RelPath)
	require.Equal(t, m.Hash, got.Hash)
	require.Equal(t, m.Data, got.Data)
}

func TestFileDeletedRoundTrip(t *testing.T) {
	m := Message{Type: FileDeleted, RelPath: "old/file.txt", IsDir: false}
	got := roundTrip(t, m)
	require.Equal(t, m, got)
}

func TestFileRenamedRoundTrip(t *testing.T) {
	m := Message{Type: FileRenamed, OldRelPath: "a/old.txt", RelPath: "a/new.txt", IsDir: false}
	got := roundTrip(t, m)
	require.Equal(t, m, got)
}

func TestBlockSignaturesRoundTrip(t *testing.T) {
	m := Message{
		Type:    BlockSignatures,
		RelPath: "movie.mp4",
		Signatures: []delta.BlockSignature{
			{Index: 0, Weak: 111, Strong: "aa"},
			{Index: 1, Weak: 222, Strong: "bb"},
		},
	}
	got := roundTrip(t, m)
	require.Equal(t, m, got)
}

func TestDeltaDataRoundTrip(t *testing.T) {
	m := Message{
		Type:    DeltaData,
		RelPath: "movie.mp4",
		Hash:    "feedface",
		ModTime: 1700000002,
		Size:    200,
		Instructions: []delta.Instruction{
			{Type: delta.InstructionCopy, SourceBlockIndex: 0, Length: delta.BlockSize},
			{Type: delta.InstructionInsert, Data: []byte("abc"), Length: 3},
		},
	}
	got := roundTrip(t, m)
	require.Equal(t, m, got)
}

func TestSyncManifestRoundTrip(t *testing.T) {
	m := Message{Type: SyncManifest, ManifestJSON: `[{"relative_path":"a.txt"}]`}
	got := roundTrip(t, m)
	require.Equal(t, m, got)
}

func TestRequestFileRoundTrip(t *testing.T) {
	m := Message{Type: RequestFile, RelPath: "some/path.txt"}
	got := roundTrip(t, m)
	require.Equal(t, m, got)
}
