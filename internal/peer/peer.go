// SPDX-License-Identifier: Apache 2.0

// Package peer holds the in-memory directory of currently-reachable
// peers (C2). The discovery beacon that actually populates this
// directory is an external collaborator (spec §4.1); this package only
// defines the data it carries and the trust/reachability bookkeeping
// the sync engine depends on.
package peer

import (
	"crypto/ecdsa"
	"net"
	"sync"
	"time"
)

// IdleTimeout is the default duration after which a peer that stopped
// sending peer-up refreshes is evicted from the directory (§6.5).
const IdleTimeout = 60 * time.Second

// Peer is a remote device known to this engine.
type Peer struct {
	DeviceID    string
	DisplayName string
	Endpoint    net.TCPAddr
	LastSeen    time.Time
	SyncEnabled bool
	PublicKey   *ecdsa.PublicKey
	Trusted     bool
}

// CanInitiateSync reports whether this peer may mutate local state:
// it must be both trusted and sync-enabled. Untrusted handshaken peers
// may still observe manifests (see DESIGN.md's resolution of the
// "trust enforcement" open question) but never write.
func (p *Peer) CanInitiateSync() bool {
	return p.Trusted && p.SyncEnabled
}

// Directory is the process-wide set of reachable peers. It is a
// concurrent map, not a singleton of the language runtime — callers
// construct and own one per engine instance.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	// pending holds peers mid-pairing: seen on the wire, not yet
	// confirmed by the user via ConfirmPairing.
	pending map[string]string // deviceID -> pairing code
}

// NewDirectory creates an empty peer directory.
func NewDirectory() *Directory {
	return &Directory{
		peers:   make(map[string]*Peer),
		pending: make(map[string]string),
	}
}

// Upsert records a peer-up event, overwriting endpoint/name/key but
// preserving a previously-set Trusted bit (trust is a durable user
// decision, not something the discovery beacon can grant or revoke).
func (d *Directory) Upsert(p Peer) *Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.peers[p.DeviceID]; ok {
		p.Trusted = existing.Trusted
	}
	p.LastSeen = time.Now().UTC()
	stored := p
	d.peers[p.DeviceID] = &stored
	return &stored
}

// Remove handles a peer-down event.
func (d *Directory) Remove(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, deviceID)
}

// Get returns a snapshot copy of a peer record, if present.
func (d *Directory) Get(deviceID string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[deviceID]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every currently-reachable peer.
func (d *Directory) Snapshot() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	return out
}

// Trust marks a peer trusted following a pairing-code confirmation.
// The pairing-code UI itself is out of scope (§1); this is the core's
// side of that handshake.
func (d *Directory) Trust(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[deviceID]
	if !ok {
		return false
	}
	p.Trusted = true
	delete(d.pending, deviceID)
	return true
}

// Untrust revokes trust for a peer without removing it from the
// directory (it remains visible, per §3).
func (d *Directory) Untrust(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[deviceID]; ok {
		p.Trusted = false
	}
}

// BeginPairing records a pairing code offered to the user for a given
// device, so a later ConfirmPairing call can check it.
func (d *Directory) BeginPairing(deviceID, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[deviceID] = code
}

// ConfirmPairing is the core's contribution to the (externally owned)
// TOFU pairing flow: the GUI collects the code from the user and calls
// this to promote a pending peer to trusted.
func (d *Directory) ConfirmPairing(deviceID, code string) (bool, error) {
	d.mu.Lock()
	want, ok := d.pending[deviceID]
	d.mu.Unlock()
	if !ok || want != code {
		return false, nil
	}
	return d.Trust(deviceID), nil
}

// EvictIdle removes peers whose LastSeen exceeds IdleTimeout. Intended
// to be called periodically by the engine; the discovery beacon is not
// assumed to reliably deliver peer-down events (§4.1).
func (d *Directory) EvictIdle(now time.Time, timeout time.Duration) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var evicted []string
	for id, p := range d.peers {
		if now.Sub(p.LastSeen) > timeout {
			evicted = append(evicted, id)
			delete(d.peers, id)
		}
	}
	return evicted
}

// TrustedSyncEnabled returns a snapshot of peers eligible to receive
// broadcasts: trusted and sync-enabled.
func (d *Directory) TrustedSyncEnabled() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Peer
	for _, p := range d.peers {
		if p.CanInitiateSync() {
			out = append(out, *p)
		}
	}
	return out
}
