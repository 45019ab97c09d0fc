// SPDX-License-Identifier: Apache 2.0

package sync

import (
	"context"

	"github.com/swarmsync/swarmsync/internal/manifest"
)

// Decision is the outcome a ConflictResolutionService returns when
// both sides have changed a file since the last sync (spec §4.11's
// conflict escalation).
type Decision int

const (
	KeepLocal Decision = iota
	KeepRemote
	KeepBoth
	Skip
)

// ConflictResolutionService is the pluggable, external policy consulted
// when writing a remote file whose local hash differs from both the
// remote hash and the state-store baseline. defaultResolver supplies
// the spec's fallback: auto-newest-wins, KeepLocal when local wins.
type ConflictResolutionService interface {
	Resolve(ctx context.Context, local, remote manifest.SyncedFile) (Decision, error)
}

type defaultResolver struct{}

func (defaultResolver) Resolve(_ context.Context, local, remote manifest.SyncedFile) (Decision, error) {
	if remoteWins(local, remote) {
		return KeepRemote, nil
	}
	return KeepLocal, nil
}

// remoteWins implements the LWW rule with deterministic lexicographic
// tie-break (spec §4.11, §8 "Conflict determinism"): remote wins iff
// its mtime is strictly newer, or mtimes tie and its content hash
// sorts lexicographically smaller.
func remoteWins(local, remote manifest.SyncedFile) bool {
	if remote.LastModified.After(local.LastModified) {
		return true
	}
	if remote.LastModified.Equal(local.LastModified) && remote.ContentHash < local.ContentHash {
		return true
	}
	return false
}
