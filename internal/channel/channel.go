// SPDX-License-Identifier: Apache 2.0

// Package channel implements the secure channel (C7): the
// SWARM-SECURE-HANDSHAKE-1.0 handshake, per-connection AEAD framing,
// and the sequence/replay guard.
package channel

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/swarmsync/swarmsync/internal/cryptoid"
	"github.com/swarmsync/swarmsync/internal/wire"
)

// MaxGap and ReceivedWindow are the replay-guard defaults (spec §4.7,
// §6.5).
const (
	MaxGap         = 100
	ReceivedWindow = 1000
)

var (
	// ErrHandshakeFailed covers any handshake rejection: bad signature,
	// malformed header, or an explicit FAIL: response from the peer.
	ErrHandshakeFailed = errors.New("channel: handshake failed")
	// ErrReplay is returned by Recv when a record's sequence number was
	// already seen or falls outside the accepted gap window.
	ErrReplay = errors.New("channel: sequence replay or out-of-range")
)

// PeerInfo is what the handshake learns about the remote side.
type PeerInfo struct {
	DeviceID    string
	DisplayName string
	PublicKey   *ecdsa.PublicKey
}

// Channel is one handshaken, AEAD-sealed connection to a peer (spec
// §4.7). A Channel owns a single mutex covering both the framer and
// the session key; callers hold it for the duration of one message
// exchange (Send or Recv) and no longer.
type Channel struct {
	mu sync.Mutex

	conn       net.Conn
	sessionKey []byte
	sendSeq    uint64
	guard      *replayGuard

	Peer PeerInfo
}

// DialAndHandshake opens conn as a client: it sends the handshake
// request, verifies the server's response, and derives the shared
// session key (spec §4.7 steps 1-4).
func DialAndHandshake(conn net.Conn, id *cryptoid.Identity, deviceID, displayName string) (*Channel, error) {
	eph, err := cryptoid.NewEphemeralKey()
	if err != nil {
		return nil, err
	}
	defer eph.Zeroize()

	sigPayload := append([]byte(deviceID), []byte(base64.StdEncoding.EncodeToString(eph.PublicBytes()))...)
	sig, err := cryptoid.Sign(id.Private, sigPayload)
	if err != nil {
		return nil, err
	}

	bw := wire.NewWriter(conn)
	bw.String(wire.HeaderSecure)
	bw.String(deviceID)
	bw.String(displayName)
	bw.Bytes(eph.PublicBytes())
	bw.Bytes(marshalPublicKey(id.Public()))
	bw.Bytes(sig)
	if err := bw.Err(); err != nil {
		return nil, fmt.Errorf("channel: write handshake request: %w", err)
	}

	br := wire.NewReader(conn)
	status, err := br.String()
	if err != nil {
		return nil, fmt.Errorf("channel: read handshake response: %w", err)
	}
	if status != wire.SentinelOK {
		return nil, fmt.Errorf("%w: %s", ErrHandshakeFailed, status)
	}
	theirEphBytes, err := br.Bytes()
	if err != nil {
		return nil, fmt.Errorf("channel: read server ephemeral key: %w", err)
	}

	key, err := cryptoid.DeriveSessionKey(eph, theirEphBytes)
	if err != nil {
		return nil, fmt.Errorf("channel: derive session key: %w", err)
	}

	return &Channel{
		conn:       conn,
		sessionKey: key,
		guard:      newReplayGuard(),
	}, nil
}

// AcceptAndHandshake runs the server side of the handshake on an
// already-accepted connection: it reads the client's request,
// verifies the signature, and replies OK/FAIL plus its own ephemeral
// key (spec §4.7 steps 1-4).
//
// A malformed public key or a failed signature check is answered with
// a FAIL: sentinel and returns ErrHandshakeFailed. Whether the peer is
// trusted is not checked here: an untrusted peer with a valid
// signature completes the handshake, and callers enforce the
// trusted-and-handshaken rule for state-mutating operations (spec §7
// open question resolution, recorded in the design ledger).
func AcceptAndHandshake(conn net.Conn, id *cryptoid.Identity) (*Channel, error) {
	br := wire.NewReader(conn)
	header, err := br.String()
	if err != nil {
		return nil, fmt.Errorf("channel: read handshake header: %w", err)
	}
	if header != wire.HeaderSecure {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrHandshakeFailed, header)
	}
	deviceID, err := br.String()
	if err != nil {
		return nil, err
	}
	displayName, err := br.String()
	if err != nil {
		return nil, err
	}
	theirEphBytes, err := br.Bytes()
	if err != nil {
		return nil, err
	}
	theirPubBytes, err := br.Bytes()
	if err != nil {
		return nil, err
	}
	sig, err := br.Bytes()
	if err != nil {
		return nil, err
	}

	theirPub, err := unmarshalPublicKey(theirPubBytes)
	if err != nil {
		bw := wire.NewWriter(conn)
		bw.String(wire.SentinelFailPrefix + "malformed public key")
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	sigPayload := append([]byte(deviceID), []byte(base64.StdEncoding.EncodeToString(theirEphBytes))...)
	if !cryptoid.Verify(theirPub, sigPayload, sig) {
		bw := wire.NewWriter(conn)
		bw.String(wire.SentinelFailPrefix + "signature verification failed")
		return nil, fmt.Errorf("%w: bad signature from %s", ErrHandshakeFailed, deviceID)
	}

	eph, err := cryptoid.NewEphemeralKey()
	if err != nil {
		return nil, err
	}
	defer eph.Zeroize()

	bw := wire.NewWriter(conn)
	bw.String(wire.SentinelOK)
	bw.Bytes(eph.PublicBytes())
	if err := bw.Err(); err != nil {
		return nil, fmt.Errorf("channel: write handshake response: %w", err)
	}

	key, err := cryptoid.DeriveSessionKey(eph, theirEphBytes)
	if err != nil {
		return nil, fmt.Errorf("channel: derive session key: %w", err)
	}

	return &Channel{
		conn:       conn,
		sessionKey: key,
		guard:      newReplayGuard(),
		Peer:       PeerInfo{DeviceID: deviceID, DisplayName: displayName, PublicKey: theirPub},
	}, nil
}

// Send seals plaintext under the session key and writes the framed
// AEAD record seq(8) ‖ len(4) ‖ aead_encrypt(key, plaintext), seq and
// len little-endian (spec §4.7). The outgoing counter increments per
// record and is never reused.
func (c *Channel) Send(plaintext []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sealed, err := cryptoid.AEADEncrypt(c.sessionKey, plaintext)
	if err != nil {
		return err
	}
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], c.sendSeq)
	c.sendSeq++

	if _, err := c.conn.Write(seqBuf[:]); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = c.conn.Write(sealed)
	return err
}

// Recv reads one framed AEAD record and returns the opened plaintext.
// Records whose sequence number is a duplicate or falls outside the
// accepted gap window are dropped with ErrReplay (spec §4.7's
// sequence/replay guard); the caller should log and continue reading,
// not treat this as connection-fatal.
func (c *Channel) Recv() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var seqBuf [8]byte
	if _, err := io.ReadFull(c.conn, seqBuf[:]); err != nil {
		return nil, err
	}
	seq := binary.LittleEndian.Uint64(seqBuf[:])

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	sealed := make([]byte, n)
	if _, err := io.ReadFull(c.conn, sealed); err != nil {
		return nil, err
	}

	if !c.guard.accept(seq) {
		return nil, ErrReplay
	}

	plaintext, err := cryptoid.AEADDecrypt(c.sessionKey, sealed)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Conn exposes the underlying net.Conn for pool health checks and
// address inspection.
func (c *Channel) Conn() net.Conn { return c.conn }

// Close tears down the underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }

func marshalPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}

func unmarshalPublicKey(b []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), b)
	if x == nil {
		return nil, fmt.Errorf("channel: invalid public key encoding")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
