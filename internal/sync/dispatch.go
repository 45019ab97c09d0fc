// SPDX-License-Identifier: Apache 2.0

package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swarmsync/swarmsync/internal/delta"
	"github.com/swarmsync/swarmsync/internal/logging"
	"github.com/swarmsync/swarmsync/internal/wire"
)

// HandleMessage dispatches one inbound wire message from peerID. It is
// the receive-side counterpart of HandleLocalEvent and drives both
// manifest reconciliation and delta orchestration (spec §4.11, §6.1).
func (e *Engine) HandleMessage(ctx context.Context, peerID string, msg wire.Message) error {
	switch msg.Type {
	case wire.FileDeleted, wire.FileRenamed, wire.DeltaData, wire.FileChanged, wire.FileChangedCompressed:
		// State-mutating messages are applied only from trusted,
		// sync-enabled peers; untrusted peers may exchange manifests.
		if p, ok := e.directory.Get(peerID); !ok || !p.CanInitiateSync() {
			return fmt.Errorf("%w: %s from peer %s that may not sync", logging.ErrUserRejected, msg.Type, peerID)
		}
	}

	switch msg.Type {
	case wire.SyncManifest:
		mf, err := unmarshalManifest(msg.ManifestJSON)
		if err != nil {
			return fmt.Errorf("%w: %v", logging.ErrProtocolViolation, err)
		}
		return e.ProcessIncomingManifest(ctx, peerID, mf)

	case wire.FileDeleted:
		return e.handleIncomingDelete(msg.RelPath)

	case wire.FileRenamed:
		return e.handleIncomingRename(msg.OldRelPath, msg.RelPath)

	case wire.RequestFile:
		return e.handleRequestFile(ctx, peerID, msg.RelPath)

	case wire.RequestSignatures:
		return e.handleRequestSignatures(ctx, peerID, msg.RelPath)

	case wire.BlockSignatures:
		return e.handleBlockSignatures(ctx, peerID, msg)

	case wire.DeltaData:
		return e.handleDeltaData(ctx, peerID, msg)

	case wire.FileChanged, wire.FileChangedCompressed:
		return e.handleIncomingFileContent(ctx, peerID, msg)

	case wire.DirCreated, wire.DirDeleted:
		// Directory lifecycle rides along with the file-level
		// fingerprints that live under it; no separate bookkeeping
		// is needed on receipt.
		return nil

	default:
		return fmt.Errorf("%w: unknown message type %d", logging.ErrProtocolViolation, msg.Type)
	}
}

func (e *Engine) handleIncomingDelete(relPath string) error {
	e.echo.Suppress(relPath)
	full := e.fullPath(relPath)
	if err := os.RemoveAll(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete %s: %v", logging.ErrStorage, relPath, err)
	}
	if err := e.store.Remove(relPath); err != nil {
		return fmt.Errorf("%w: %v", logging.ErrStorage, err)
	}
	return nil
}

func (e *Engine) handleIncomingRename(oldPath, newPath string) error {
	e.echo.Suppress(oldPath)
	e.echo.Suppress(newPath)
	oldFull, newFull := e.fullPath(oldPath), e.fullPath(newPath)
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", logging.ErrStorage, newPath, err)
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return fmt.Errorf("%w: rename %s->%s: %v", logging.ErrStorage, oldPath, newPath, err)
	}
	if err := e.store.RenamePrefix(oldPath, newPath); err != nil {
		return fmt.Errorf("%w: %v", logging.ErrStorage, err)
	}
	return nil
}

// handleRequestFile is the pusher side of a transfer: small files go
// out whole, large ones trigger delta orchestration starting with a
// signature request (spec §4.11's delta threshold).
func (e *Engine) handleRequestFile(ctx context.Context, peerID, relPath string) error {
	fp, exists, err := e.store.Get(relPath)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	full := e.fullPath(relPath)
	info, err := os.Stat(full)
	if err != nil {
		return nil
	}

	if info.Size() >= int64(e.thresholds.DeltaThresholdBytes) {
		e.mu.Lock()
		e.pendingDelta[relPath] = pendingDeltaEntry{peerID: peerID, fingerprint: fp}
		e.mu.Unlock()
		return e.sender.SendMessage(ctx, peerID, wire.Message{Type: wire.RequestSignatures, RelPath: relPath})
	}
	return e.sendFullFile(ctx, peerID, relPath, fp)
}

// handleRequestSignatures is the receiver-side signature service: it
// signs whatever is currently on disk, or an empty signature set if
// the file no longer exists (the pusher falls back to a full send).
func (e *Engine) handleRequestSignatures(ctx context.Context, peerID, relPath string) error {
	full := e.fullPath(relPath)
	sigs, err := delta.SignaturesFile(full, e.thresholds.BlockSizeBytes)
	if err != nil {
		if os.IsNotExist(err) {
			sigs = nil
		} else {
			return fmt.Errorf("%w: signatures %s: %v", logging.ErrTransient, relPath, err)
		}
	}
	return e.sender.SendMessage(ctx, peerID, wire.Message{Type: wire.BlockSignatures, RelPath: relPath, Signatures: sigs})
}

// handleBlockSignatures completes the pusher side of delta
// orchestration: compute the instruction stream against the peer's
// signatures and send it, or fall back to a full send when the
// signatures were empty or the delta isn't worthwhile.
func (e *Engine) handleBlockSignatures(ctx context.Context, peerID string, msg wire.Message) error {
	e.mu.Lock()
	entry, ok := e.pendingDelta[msg.RelPath]
	if ok {
		delete(e.pendingDelta, msg.RelPath)
	}
	e.mu.Unlock()
	if !ok || entry.peerID != peerID {
		// Unexpected path, or the wrong peer answering someone else's
		// request: drop rather than act on unsolicited state.
		return nil
	}

	if len(msg.Signatures) == 0 {
		return e.sendFullFile(ctx, peerID, msg.RelPath, entry.fingerprint)
	}

	data, err := os.ReadFile(e.fullPath(msg.RelPath))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", logging.ErrTransient, msg.RelPath, err)
	}
	instructions := delta.Compute(data, msg.Signatures, e.thresholds.BlockSizeBytes)
	if delta.ShouldFallbackToFullSend(instructions, int64(len(data))) {
		return e.sendFullFile(ctx, peerID, msg.RelPath, entry.fingerprint)
	}

	out := wire.Message{
		Type:         wire.DeltaData,
		RelPath:      msg.RelPath,
		Hash:         entry.fingerprint.ContentHash,
		ModTime:      timeToWire(entry.fingerprint.LastModified),
		Size:         int64(len(data)),
		Instructions: instructions,
	}
	return e.sender.SendMessage(ctx, peerID, out)
}
