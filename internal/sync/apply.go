// SPDX-License-Identifier: Apache 2.0

package sync

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/swarmsync/swarmsync/internal/delta"
	"github.com/swarmsync/swarmsync/internal/hasher"
	"github.com/swarmsync/swarmsync/internal/logging"
	"github.com/swarmsync/swarmsync/internal/manifest"
	"github.com/swarmsync/swarmsync/internal/wire"
)

func timeToWire(t time.Time) int64 { return t.UnixNano() }
func wireToTime(v int64) time.Time { return time.Unix(0, v).UTC() }

// writeDecision is the outcome of decideWrite: whether to proceed, and
// under what relative path (KeepBoth redirects to a conflict-copy
// name; everything else writes to the incoming fingerprint's own
// path).
type writeDecision struct {
	proceed    bool
	targetPath string
}

// decideWrite implements spec §4.11's conflict escalation: it only
// engages the resolver when both the local file and the remote file
// have actually changed since the last synced baseline; a simply-stale
// store entry (local untouched since baseline) is not a conflict and
// the incoming write proceeds directly.
func (e *Engine) decideWrite(ctx context.Context, peerID string, incoming manifest.SyncedFile) (writeDecision, error) {
	baseline, exists, err := e.store.Get(incoming.RelativePath)
	if err != nil {
		return writeDecision{}, err
	}
	if !exists || baseline.ContentHash == incoming.ContentHash {
		return writeDecision{proceed: true, targetPath: incoming.RelativePath}, nil
	}

	currentHash := baseline.ContentHash
	full := e.fullPath(incoming.RelativePath)
	if info, statErr := os.Stat(full); statErr == nil && !info.IsDir() {
		if h, hashErr := hasher.HashFile(ctx, full); hashErr == nil {
			currentHash = h
		}
	}
	if currentHash == incoming.ContentHash || currentHash == baseline.ContentHash {
		// Either the write already landed, or the local copy never
		// diverged from the synced baseline: no genuine conflict.
		return writeDecision{proceed: true, targetPath: incoming.RelativePath}, nil
	}

	local := baseline
	local.ContentHash = currentHash
	decision, err := e.resolver.Resolve(ctx, local, incoming)
	if err != nil {
		return writeDecision{}, fmt.Errorf("sync: conflict resolver: %w", err)
	}
	switch decision {
	case KeepRemote:
		if err := e.versioning.Archive(ctx, incoming.RelativePath); err != nil {
			logging.Log(fmt.Errorf("%w: %v", logging.ErrStorage, err), "archive before overwrite failed", "path", incoming.RelativePath)
		}
		return writeDecision{proceed: true, targetPath: incoming.RelativePath}, nil
	case KeepBoth:
		return writeDecision{proceed: true, targetPath: conflictCopyName(incoming.RelativePath, peerID)}, nil
	case KeepLocal, Skip:
		return writeDecision{proceed: false}, nil
	default:
		return writeDecision{proceed: false}, nil
	}
}

// conflictCopyName builds "<name> (conflict from <peer>).<ext>" next
// to the original file, the KeepBoth path (spec §4.11).
func conflictCopyName(relPath, peerID string) string {
	dir := path.Dir(relPath)
	base := path.Base(relPath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s (conflict from %s)%s", stem, peerID, ext)
	if dir == "." {
		return name
	}
	return dir + "/" + name
}

func (e *Engine) writeIncomingBytes(relPath string, data []byte, fp manifest.SyncedFile) error {
	full := e.fullPath(relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", logging.ErrStorage, relPath, err)
	}
	e.echo.Suppress(relPath)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", logging.ErrStorage, relPath, err)
	}
	mt := fp.LastModified
	_ = os.Chtimes(full, mt, mt)

	stored := fp
	stored.RelativePath = relPath
	if err := e.store.AddOrUpdate(stored); err != nil {
		return fmt.Errorf("%w: %v", logging.ErrStorage, err)
	}
	return nil
}

func (e *Engine) handleIncomingFileContent(ctx context.Context, peerID string, msg wire.Message) error {
	incoming := manifest.SyncedFile{
		RelativePath: msg.RelPath,
		ContentHash:  msg.Hash,
		LastModified: wireToTime(msg.ModTime),
		FileSize:     msg.Size,
		IsDirectory:  msg.IsDir,
	}
	decision, err := e.decideWrite(ctx, peerID, incoming)
	if err != nil {
		return err
	}
	if !decision.proceed {
		return nil
	}
	return e.writeIncomingBytes(decision.targetPath, msg.Data, incoming)
}

// handleDeltaData applies an incoming delta to the local file,
// registering the target path in the echo-suppression set first
// (spec §4.11's "receiver-side signature service" paragraph).
func (e *Engine) handleDeltaData(ctx context.Context, peerID string, msg wire.Message) error {
	incoming := manifest.SyncedFile{
		RelativePath: msg.RelPath,
		ContentHash:  msg.Hash,
		LastModified: wireToTime(msg.ModTime),
		FileSize:     msg.Size,
	}
	decision, err := e.decideWrite(ctx, peerID, incoming)
	if err != nil {
		return err
	}
	if !decision.proceed {
		return nil
	}

	full := e.fullPath(decision.targetPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", logging.ErrStorage, decision.targetPath, err)
	}
	e.echo.Suppress(decision.targetPath)
	if err := delta.Apply(e.fullPath(msg.RelPath), full, msg.Instructions); err != nil {
		return fmt.Errorf("%w: apply delta %s: %v", logging.ErrIntegrity, msg.RelPath, err)
	}
	mt := incoming.LastModified
	_ = os.Chtimes(full, mt, mt)

	stored := incoming
	stored.RelativePath = decision.targetPath
	if err := e.store.AddOrUpdate(stored); err != nil {
		return fmt.Errorf("%w: %v", logging.ErrStorage, err)
	}
	return nil
}

func (e *Engine) sendFullFile(ctx context.Context, peerID, relPath string, fp manifest.SyncedFile) error {
	data, err := os.ReadFile(e.fullPath(relPath))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", logging.ErrTransient, relPath, err)
	}
	msg := wire.Message{
		Type:    wire.FileChangedCompressed,
		RelPath: relPath,
		Hash:    fp.ContentHash,
		ModTime: timeToWire(fp.LastModified),
		Size:    int64(len(data)),
		IsDir:   fp.IsDirectory,
		Data:    data,
	}
	return e.sender.SendMessage(ctx, peerID, msg)
}
