// SPDX-License-Identifier: Apache 2.0

package channel

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmsync/swarmsync/internal/cryptoid"
)

func TestHandshakeAndSealedExchange(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientID, err := cryptoid.GenerateIdentity()
	require.NoError(t, err)
	serverID, err := cryptoid.GenerateIdentity()
	require.NoError(t, err)

	type result struct {
		ch  *Channel
		err error
	}
	clientDone := make(chan result, 1)
	serverDone := make(chan result, 1)

	go func() {
		ch, err := DialAndHandshake(clientConn, clientID, "client-device", "client")
		clientDone <- result{ch, err}
	}()
	go func() {
		ch, err := AcceptAndHandshake(serverConn, serverID)
		serverDone <- result{ch, err}
	}()

	cr := <-clientDone
	sr := <-serverDone
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)
	require.Equal(t, "client-device", sr.ch.Peer.DeviceID)

	go func() {
		_ = cr.ch.Send([]byte("hello from client"))
	}()
	got, err := sr.ch.Recv()
	require.NoError(t, err)
	require.Equal(t, "hello from client", string(got))
}

func TestReplayGuardRejectsDuplicateSequence(t *testing.T) {
	g := newReplayGuard()
	require.True(t, g.accept(0))
	require.True(t, g.accept(1))
	require.True(t, g.accept(2))
	require.True(t, g.accept(3))

	// Attacker re-injects seq = 1.
	require.False(t, g.accept(1))

	// Legitimate next sequence is still accepted.
	require.True(t, g.accept(4))
}

func TestReplayGuardAcceptsReorderingWithinGap(t *testing.T) {
	g := newReplayGuard()
	require.True(t, g.accept(0))
	require.True(t, g.accept(2))
	require.True(t, g.accept(1)) // arrived late but within the gap window
	require.False(t, g.accept(1))
}

func TestReplayGuardRejectsBeyondMaxGap(t *testing.T) {
	g := newReplayGuard()
	require.True(t, g.accept(0))
	require.False(t, g.accept(MaxGap+2))
}
