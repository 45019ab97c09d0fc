// SPDX-License-Identifier: Apache 2.0

package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpsertPreservesExistingTrust(t *testing.T) {
	d := NewDirectory()
	d.Upsert(Peer{DeviceID: "dev-1", DisplayName: "Laptop"})
	d.Trust("dev-1")

	d.Upsert(Peer{DeviceID: "dev-1", DisplayName: "Laptop (renamed)"})

	p, ok := d.Get("dev-1")
	require.True(t, ok)
	require.True(t, p.Trusted)
	require.Equal(t, "Laptop (renamed)", p.DisplayName)
}

func TestConfirmPairingRequiresMatchingCode(t *testing.T) {
	d := NewDirectory()
	d.Upsert(Peer{DeviceID: "dev-1"})
	d.BeginPairing("dev-1", "123456")

	ok, err := d.ConfirmPairing("dev-1", "wrong")
	require.NoError(t, err)
	require.False(t, ok)
	p, _ := d.Get("dev-1")
	require.False(t, p.Trusted)

	ok, err = d.ConfirmPairing("dev-1", "123456")
	require.NoError(t, err)
	require.True(t, ok)
	p, _ = d.Get("dev-1")
	require.True(t, p.Trusted)
}

func TestUntrustKeepsPeerVisible(t *testing.T) {
	d := NewDirectory()
	d.Upsert(Peer{DeviceID: "dev-1"})
	d.Trust("dev-1")
	d.Untrust("dev-1")

	p, ok := d.Get("dev-1")
	require.True(t, ok)
	require.False(t, p.Trusted)
}

func TestEvictIdleRemovesStalePeers(t *testing.T) {
	d := NewDirectory()
	d.Upsert(Peer{DeviceID: "stale"})
	d.mu.Lock()
	d.peers["stale"].LastSeen = time.Now().UTC().Add(-time.Hour)
	d.mu.Unlock()
	d.Upsert(Peer{DeviceID: "fresh"})

	evicted := d.EvictIdle(time.Now().UTC(), IdleTimeout)
	require.Equal(t, []string{"stale"}, evicted)

	_, ok := d.Get("stale")
	require.False(t, ok)
	_, ok = d.Get("fresh")
	require.True(t, ok)
}

func TestTrustedSyncEnabledFiltersSnapshot(t *testing.T) {
	d := NewDirectory()
	d.Upsert(Peer{DeviceID: "dev-1", SyncEnabled: true})
	d.Trust("dev-1")
	d.Upsert(Peer{DeviceID: "dev-2", SyncEnabled: false})
	d.Trust("dev-2")
	d.Upsert(Peer{DeviceID: "dev-3", SyncEnabled: true}) // not trusted

	eligible := d.TrustedSyncEnabled()
	require.Len(t, eligible, 1)
	require.Equal(t, "dev-1", eligible[0].DeviceID)
}
