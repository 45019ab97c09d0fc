// SPDX-License-Identifier: Apache 2.0

// Package pool implements the per-peer connection pool (C8): bounded
// pool size, health checks, exponential-backoff dial retries, and RTT
// based buffer-size classification.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/swarmsync/swarmsync/internal/channel"
	"github.com/swarmsync/swarmsync/internal/cryptoid"
)

// Defaults from spec §4.8 / §6.5.
const (
	DefaultPoolSize       = 6
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultDialTimeout    = 5 * time.Second

	MinBuffer     = 16 * 1024
	DefaultBuffer = 256 * 1024
	MaxBuffer     = 1 << 20
)

var ErrPoolClosed = errors.New("pool: closed")

// BufferClass reports the wire-buffer size bucket to use for a
// connection, based on its measured or heuristic RTT (spec §4.8).
func BufferClass(rtt time.Duration) int {
	switch {
	case rtt <= 5*time.Millisecond:
		return MaxBuffer
	case rtt <= 100*time.Millisecond:
		return DefaultBuffer
	default:
		return MinBuffer
	}
}

// ClassifyRTT returns the heuristic RTT spec §4.8 assigns based on
// address shape, used when no real round-trip probe is recorded.
func ClassifyRTT(addr net.Addr) time.Duration {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return 25 * time.Millisecond
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return 2 * time.Millisecond
	}
	return 25 * time.Millisecond
}

// Conn is one pooled, handshaken connection plus its RTT-derived
// buffer class.
type Conn struct {
	*channel.Channel
	BufferSize int

	pool    *Pool
	healthy bool
}

// Release returns the connection to its owning pool.
func (c *Conn) Release() {
	c.pool.release(c)
}

// Pool is one peer endpoint's bounded set of handshaken connections
// (spec §4.8). Acquire returns a locked, healthy, handshaken
// connection; Release returns it to the pool.
type Pool struct {
	mu       sync.Mutex
	addr     string
	size     int
	identity *cryptoid.Identity
	deviceID string
	name     string

	idle   []*Conn
	closed bool
}

// New creates a Pool dialing addr on demand, up to size live
// connections (default DefaultPoolSize).
func New(addr string, size int, id *cryptoid.Identity, deviceID, displayName string) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{addr: addr, size: size, identity: id, deviceID: deviceID, name: displayName}
}

// Acquire returns a healthy handshaken connection, reusing an idle one
// if available and healthy, otherwise dialing a fresh one with
// exponential backoff retries (spec §4.8).
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()
		if IsHealthy(c.Conn()) {
			return c, nil
		}
		_ = c.Close()
		p.mu.Lock()
	}
	p.mu.Unlock()

	return p.dialWithRetry(ctx)
}

func (p *Pool) dialWithRetry(ctx context.Context) (*Conn, error) {
	var lastErr error
	delay := DefaultRetryBaseDelay
	for attempt := 0; attempt < DefaultMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		conn, err := p.dialOnce(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Debug("pool: dial attempt failed", "addr", p.addr, "attempt", attempt, "err", err)
	}
	return nil, fmt.Errorf("pool: dial %s failed after %d attempts: %w", p.addr, DefaultMaxRetries, lastErr)
}

func (p *Pool) dialOnce(ctx context.Context) (*Conn, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	raw, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetNoDelay(true) // Nagle off, per spec §4.8
	}

	ch, err := channel.DialAndHandshake(raw, p.identity, p.deviceID, p.name)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	rtt := ClassifyRTT(raw.RemoteAddr())
	return &Conn{Channel: ch, BufferSize: BufferClass(rtt), pool: p, healthy: true}, nil
}

func (p *Pool) release(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.size {
		_ = c.Close()
		return
	}
	p.idle = append(p.idle, c)
}

// Close drains and closes every idle connection in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, c := range p.idle {
		_ = c.Close()
	}
	p.idle = nil
	return nil
}

// IsHealthy polls conn for a readable-with-zero-bytes-available
// condition, which indicates the peer closed the socket (spec §4.8).
// A real zero-timeout poll requires OS-specific syscalls; this uses a
// tiny read deadline as the portable equivalent; a timeout expiring
// with no bytes read is treated as healthy (idle-but-open), while an
// immediate EOF means the peer closed it.
func IsHealthy(conn net.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	n, err := conn.Read(one)
	if n > 0 {
		// Unexpected application data ahead of a message boundary; treat
		// the connection as unhealthy rather than risk desyncing the
		// framer.
		return false
	}
	if err == nil {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
