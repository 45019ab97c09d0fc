// SPDX-License-Identifier: Apache 2.0

// Package transport wires the wire codec (C9) onto the secure channel
// (C7) and connection pool (C8), giving the sync engine (C11) a
// Sender and giving the listener side a dispatch loop into the
// engine's HandleMessage.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/swarmsync/swarmsync/internal/channel"
	"github.com/swarmsync/swarmsync/internal/cryptoid"
	"github.com/swarmsync/swarmsync/internal/peer"
	"github.com/swarmsync/swarmsync/internal/pool"
	"github.com/swarmsync/swarmsync/internal/wire"
)

// MessageHandler absorbs one inbound wire message from a peer. The
// sync Engine satisfies this (HandleMessage).
type MessageHandler interface {
	HandleMessage(ctx context.Context, peerID string, msg wire.Message) error
}

// Peers is the transport's view of the peer directory: just enough to
// resolve a device ID to a dial address.
type Peers interface {
	Get(deviceID string) (peer.Peer, bool)
}

// PeerTransport implements sync.Sender over one connection pool per
// peer, lazily created on first use.
type PeerTransport struct {
	identity    *cryptoid.Identity
	deviceID    string
	displayName string
	directory   Peers
	poolSize    int

	mu    sync.Mutex
	pools map[string]*pool.Pool
}

// New constructs a PeerTransport. poolSize <= 0 uses pool.DefaultPoolSize.
func New(id *cryptoid.Identity, deviceID, displayName string, directory Peers, poolSize int) *PeerTransport {
	return &PeerTransport{
		identity:    id,
		deviceID:    deviceID,
		displayName: displayName,
		directory:   directory,
		poolSize:    poolSize,
		pools:       make(map[string]*pool.Pool),
	}
}

func (t *PeerTransport) poolFor(peerID string) (*pool.Pool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pools[peerID]; ok {
		return p, nil
	}
	info, ok := t.directory.Get(peerID)
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %s", peerID)
	}
	p := pool.New(info.Endpoint.String(), t.poolSize, t.identity, t.deviceID, t.displayName)
	t.pools[peerID] = p
	return p, nil
}

// SendMessage encodes msg and sends it over a pooled connection to peerID.
func (t *PeerTransport) SendMessage(ctx context.Context, peerID string, msg wire.Message) error {
	p, err := t.poolFor(peerID)
	if err != nil {
		return err
	}
	conn, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("transport: acquire connection to %s: %w", peerID, err)
	}

	var buf bytes.Buffer
	if err := wire.Encode(&buf, msg); err != nil {
		conn.Release()
		return fmt.Errorf("transport: encode message for %s: %w", peerID, err)
	}
	if err := conn.Send(buf.Bytes()); err != nil {
		_ = conn.Close()
		return fmt.Errorf("transport: send to %s: %w", peerID, err)
	}
	conn.Release()
	return nil
}

// Close releases every pool's idle connections.
func (t *PeerTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		_ = p.Close()
	}
}

// Serve accepts handshaken connections from ln until ctx is canceled,
// reading one message at a time off each and dispatching it to
// handler. Each connection is served on its own goroutine. q tracks
// per-peer protocol offenses and may be nil to disable quarantine.
func Serve(ctx context.Context, ln net.Listener, id *cryptoid.Identity, handler MessageHandler, q *pool.Quarantine) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go serveConn(ctx, raw, id, handler, q)
	}
}

func serveConn(ctx context.Context, raw net.Conn, id *cryptoid.Identity, handler MessageHandler, q *pool.Quarantine) {
	// connID correlates this connection's log lines independent of the
	// peer's self-reported device ID, which isn't known until after the
	// handshake (and isn't trustworthy before the signature check).
	connID := uuid.NewString()

	ch, err := channel.AcceptAndHandshake(raw, id)
	if err != nil {
		slog.Warn("transport: handshake failed", "conn", connID, "remote", raw.RemoteAddr(), "err", err)
		_ = raw.Close()
		return
	}
	defer ch.Close()

	peerID := ch.Peer.DeviceID
	if q != nil && q.IsQuarantined(peerID) {
		slog.Warn("transport: refusing connection from quarantined peer", "conn", connID, "peer", peerID)
		return
	}

	offense := func(reason string, err error) {
		slog.Warn("transport: "+reason, "conn", connID, "peer", peerID, "err", err)
		if q != nil && q.Offense(peerID) {
			slog.Warn("transport: peer quarantined after repeat protocol offenses", "peer", peerID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		plaintext, err := ch.Recv()
		if err != nil {
			if err == io.EOF {
				return
			}
			if err == channel.ErrReplay {
				offense("dropped replayed record", err)
				continue
			}
			slog.Debug("transport: recv failed, closing", "conn", connID, "peer", peerID, "err", err)
			return
		}

		r := wire.NewReader(bytes.NewReader(plaintext))
		typeByte, err := r.Byte()
		if err != nil {
			offense("malformed record", err)
			continue
		}
		msg, err := wire.Decode(r, typeByte)
		if err != nil {
			offense("decode failed", err)
			continue
		}
		if err := handler.HandleMessage(ctx, peerID, msg); err != nil {
			slog.Warn("transport: handle message failed", "peer", peerID, "type", msg.Type, "err", err)
		}

		if q != nil && q.IsQuarantined(peerID) {
			slog.Warn("transport: closing connection, peer now quarantined", "conn", connID, "peer", peerID)
			return
		}
	}
}
