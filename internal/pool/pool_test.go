// SPDX-License-Identifier: Apache 2.0

package pool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBufferClassThresholds(t *testing.T) {
	require.Equal(t, MaxBuffer, BufferClass(2*time.Millisecond))
	require.Equal(t, DefaultBuffer, BufferClass(25*time.Millisecond))
	require.Equal(t, MinBuffer, BufferClass(150*time.Millisecond))
}

func TestClassifyRTTLoopback(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	require.Equal(t, 2*time.Millisecond, ClassifyRTT(addr))
}

func TestClassifyRTTPrivateRange(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.168.1.50"), Port: 9000}
	require.Equal(t, 2*time.Millisecond, ClassifyRTT(addr))
}

func TestClassifyRTTPublic(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 9000}
	require.Equal(t, 25*time.Millisecond, ClassifyRTT(addr))
}

func TestAcceptGuardRejectsBeyondCapacity(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	guard := NewAcceptGuard(ln, 1)

	dial := func() net.Conn {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		return c
	}

	c1 := dial()
	defer c1.Close()
	accepted1, err := guard.Accept()
	require.NoError(t, err)
	defer accepted1.Close()

	c2 := dial()
	defer c2.Close()

	done := make(chan struct{})
	go func() {
		_, _ = guard.Accept()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second connection should have been rejected, not handed to caller")
	case <-time.After(100 * time.Millisecond):
	}
}
