// SPDX-License-Identifier: Apache 2.0

// Package manifest defines SyncedFile, the atomic unit of manifest
// state (spec §3), and the set-of-fingerprints Manifest type exchanged
// between peers as SYNC_MANIFEST (wire code 5).
package manifest

import (
	"strings"
	"time"
)

// Action tags a fingerprint with the operation it represents on the
// wire. It is transient: the state store itself only ever holds
// ActionCreate/ActionUpdate-shaped rows.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
	ActionRename
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionRename:
		return "rename"
	default:
		return "unknown"
	}
}

// SyncedFile is a single file fingerprint: the unit of state tracked by
// the state store and exchanged in manifests.
type SyncedFile struct {
	RelativePath    string    `json:"relative_path"`
	ContentHash     string    `json:"content_hash"`
	LastModified    time.Time `json:"last_modified"`
	FileSize        int64     `json:"file_size"`
	IsDirectory     bool      `json:"is_directory"`
	Action          Action    `json:"action,omitempty"`
	OldRelativePath string    `json:"old_relative_path,omitempty"`
	SourcePeerID    string    `json:"source_peer_id,omitempty"`
}

// Key returns the case-insensitive identity key for this fingerprint,
// matching the host filesystem's convention is the state store's job
// (it may fold further); this is the canonical fold used on the wire
// and for in-memory comparisons.
func (f SyncedFile) Key() string {
	return strings.ToLower(f.RelativePath)
}

// Manifest is the set of all file fingerprints for a managed root, as
// held by one peer. No global manifest exists; each peer's view is
// reconciled pairwise (spec §3).
type Manifest struct {
	Files []SyncedFile `json:"files"`
}

// ByPath indexes a manifest by its case-folded relative path for O(1)
// diffing.
func (m Manifest) ByPath() map[string]SyncedFile {
	idx := make(map[string]SyncedFile, len(m.Files))
	for _, f := range m.Files {
		idx[f.Key()] = f
	}
	return idx
}
