// SPDX-License-Identifier: Apache 2.0

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmsync/swarmsync/internal/manifest"
	"github.com/swarmsync/swarmsync/internal/wire"
)

// ProcessIncomingManifest implements spec §4.11's manifest diff: for
// every remote fingerprint, decide whether to request it (absent
// locally, or present but superseded under LWW); for every local
// fingerprint the remote manifest omits, push it.
func (e *Engine) ProcessIncomingManifest(ctx context.Context, peerID string, remote manifest.Manifest) error {
	now := time.Now().UTC()
	remoteIdx := remote.ByPath()

	for _, r := range remoteIdx {
		local, exists, err := e.store.Get(r.RelativePath)
		if err != nil {
			return fmt.Errorf("sync: lookup %s: %w", r.RelativePath, err)
		}

		if !exists {
			if r.Action != manifest.ActionDelete {
				if err := e.requestFile(ctx, peerID, r.RelativePath); err != nil {
					return err
				}
			}
			continue
		}
		if local.ContentHash == r.ContentHash {
			continue
		}

		if r.LastModified.After(now.Add(e.thresholds.FutureTimestampTolerance)) {
			e.emit(Event{Kind: EventTimeTravelDetected, Path: r.RelativePath, Detail: r.LastModified.String(), At: now})
			continue
		}

		if remoteWins(local, r) {
			if err := e.requestFile(ctx, peerID, r.RelativePath); err != nil {
				return err
			}
		}
		// local wins: nothing is requested. The companion sweep below
		// only pushes paths the remote manifest lacks, so the local
		// version reaches the peer through a later manifest push
		// (peer-up or a local-change broadcast).
	}

	locals, err := e.store.All()
	if err != nil {
		return err
	}
	for _, l := range locals {
		if _, ok := remoteIdx[l.Key()]; !ok {
			if err := e.pushManifest(ctx, peerID, []manifest.SyncedFile{l}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) requestFile(ctx context.Context, peerID, relPath string) error {
	return e.sender.SendMessage(ctx, peerID, wire.Message{Type: wire.RequestFile, RelPath: relPath})
}
