// SPDX-License-Identifier: Apache 2.0

// Package discovery defines the external peer-source interface the
// sync engine consumes (spec §4.1). Production and validation of
// discovery beacons (UDP broadcast, mDNS, the legacy pipe-delimited
// form) are out of scope; this package only declares the consumer
// boundary and a current-snapshot accessor.
package discovery

import "github.com/swarmsync/swarmsync/internal/peer"

// Source emits peer-up/peer-down events and exposes a current
// snapshot. The core does not assume reliable delivery from a Source;
// it reconciles missed events by manifest exchange on every PeerUp
// (spec §4.1).
type Source interface {
	// PeerUp is called whenever a peer becomes reachable, including
	// re-announcements of an already-known peer.
	PeerUp() <-chan peer.Peer
	// PeerDown is called with a device ID when a peer is no longer
	// reachable.
	PeerDown() <-chan string
	// Snapshot returns the source's current view of reachable peers,
	// independent of the PeerUp/PeerDown streams.
	Snapshot() []peer.Peer
}
