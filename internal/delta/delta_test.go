// SPDX-License-Identifier: Apache 2.0

package delta

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignaturesDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte("swarmsync-block-content-"), 4000)
	sigs1, err := Signatures(bytes.NewReader(data), BlockSize)
	require.NoError(t, err)
	sigs2, err := Signatures(bytes.NewReader(data), BlockSize)
	require.NoError(t, err)
	require.Equal(t, sigs1, sigs2)
}

func TestDeltaRoundTripSmallEdit(t *testing.T) {
	old := bytes.Repeat([]byte{0xAB}, 300*1024)
	newData := make([]byte, len(old))
	copy(newData, old)
	newData[150000] = 0xFF
	newData[150001] = 0xFE

	sigs, err := Signatures(bytes.NewReader(old), BlockSize)
	require.NoError(t, err)

	instructions := Compute(newData, sigs, BlockSize)
	require.NotEmpty(t, instructions)

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.bin")
	newPath := filepath.Join(dir, "new.bin")
	require.NoError(t, os.WriteFile(oldPath, old, 0o644))

	require.NoError(t, Apply(oldPath, newPath, instructions))

	got, err := os.ReadFile(newPath)
	require.NoError(t, err)
	require.Equal(t, newData, got)
}

// TestDeltaScenarioZeroFilePatch reproduces the spec's worked example:
// 128 KiB of zero bytes, a 3-byte patch at offset 40000, block size
// 64 KiB. Both old blocks are all zeros, so the scan emits the bytes
// up to the end of the patch as an Insert, copies the zero block once
// for the next 64 KiB window, and inserts the short tail; the round
// trip must reproduce newData exactly.
func TestDeltaScenarioZeroFilePatch(t *testing.T) {
	const size = 128 * 1024
	old := make([]byte, size)
	newData := make([]byte, size)
	copy(newData, old)
	copy(newData[40000:], []byte("abc"))

	sigs, err := Signatures(bytes.NewReader(old), BlockSize)
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	instructions := Compute(newData, sigs, BlockSize)
	require.NotEmpty(t, instructions)

	var copies, inserts int
	for _, ins := range instructions {
		switch ins.Type {
		case InstructionCopy:
			copies++
		case InstructionInsert:
			inserts++
		}
	}
	require.GreaterOrEqual(t, copies, 1)
	require.GreaterOrEqual(t, inserts, 1)

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.bin")
	newPath := filepath.Join(dir, "new.bin")
	require.NoError(t, os.WriteFile(oldPath, old, 0o644))
	require.NoError(t, Apply(oldPath, newPath, instructions))

	got, err := os.ReadFile(newPath)
	require.NoError(t, err)
	require.Equal(t, newData, got)
}

func TestShouldFallbackToFullSend(t *testing.T) {
	big := []Instruction{{Type: InstructionInsert, Data: bytes.Repeat([]byte{1}, 1000)}}
	require.True(t, ShouldFallbackToFullSend(big, 1000))

	small := []Instruction{{Type: InstructionCopy, SourceBlockIndex: 0, Length: BlockSize}}
	require.False(t, ShouldFallbackToFullSend(small, 10*BlockSize))
}

func TestApplyNoOldFileInsertsOnly(t *testing.T) {
	newData := []byte("brand new content, no prior version exists")
	instructions := []Instruction{{Type: InstructionInsert, Data: newData, Length: int32(len(newData))}}

	dir := t.TempDir()
	newPath := filepath.Join(dir, "new.bin")
	require.NoError(t, Apply(filepath.Join(dir, "missing.bin"), newPath, instructions))

	got, err := os.ReadFile(newPath)
	require.NoError(t, err)
	require.Equal(t, newData, got)
}
