// SPDX-License-Identifier: Apache 2.0

package pool

import (
	"log/slog"
	"net"

	"golang.org/x/time/rate"
)

// MaxConcurrentAccepts bounds simultaneous in-flight accepted
// connections server-side, to resist exhaustion (spec §4.8).
const MaxConcurrentAccepts = 50

// MaxAcceptsPerSecond caps the sustained rate of new connections
// handed to the caller, independent of MaxConcurrentAccepts: a burst
// of short-lived connections could otherwise churn through the
// concurrency slots fast enough to starve legitimate peers.
const MaxAcceptsPerSecond = 20

// AcceptGuard wraps a net.Listener, rejecting connections beyond
// MaxConcurrentAccepts by closing them immediately instead of handing
// them to the caller, and pacing the remainder to MaxAcceptsPerSecond.
type AcceptGuard struct {
	ln      net.Listener
	slots   chan struct{}
	limiter *rate.Limiter
}

// NewAcceptGuard wraps ln with a semaphore of the given capacity
// (default MaxConcurrentAccepts when capacity <= 0).
func NewAcceptGuard(ln net.Listener, capacity int) *AcceptGuard {
	if capacity <= 0 {
		capacity = MaxConcurrentAccepts
	}
	return &AcceptGuard{
		ln:      ln,
		slots:   make(chan struct{}, capacity),
		limiter: rate.NewLimiter(rate.Limit(MaxAcceptsPerSecond), MaxAcceptsPerSecond),
	}
}

// Accept blocks for the next connection that acquires a free slot and
// a token from the accept-rate limiter. Connections arriving while all
// slots are in use are closed immediately rather than queued, matching
// spec §4.8's "excess accepts are closed immediately".
func (g *AcceptGuard) Accept() (net.Conn, error) {
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			return nil, err
		}
		if !g.limiter.Allow() {
			slog.Debug("pool: rejecting connection, accept rate exceeded", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		select {
		case g.slots <- struct{}{}:
			return &guardedConn{Conn: conn, guard: g}, nil
		default:
			slog.Debug("pool: rejecting connection, accept semaphore full", "remote", conn.RemoteAddr())
			_ = conn.Close()
		}
	}
}

// Close closes the underlying listener.
func (g *AcceptGuard) Close() error { return g.ln.Close() }

// Addr returns the underlying listener's address.
func (g *AcceptGuard) Addr() net.Addr { return g.ln.Addr() }

type guardedConn struct {
	net.Conn
	guard *AcceptGuard
}

func (c *guardedConn) Close() error {
	err := c.Conn.Close()
	select {
	case <-c.guard.slots:
	default:
	}
	return err
}
