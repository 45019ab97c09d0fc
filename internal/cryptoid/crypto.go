// SPDX-License-Identifier: Apache 2.0

// Package cryptoid implements the cryptographic primitives the sync
// engine builds its identity, handshake and AEAD framing on: ECDSA-P256
// signing, ephemeral ECDH key agreement, HKDF-SHA256 session key
// derivation and AES-256-GCM sealing.
package cryptoid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionInfo is the HKDF info label mixed into every session key
// derivation so session keys from this protocol can never collide
// with keys derived for an unrelated purpose from the same ECDH secret.
const SessionInfo = "SWARM-SESSION"

const (
	nonceSize = 12
	tagSize   = 16
	// KeySize is the length in bytes of a derived AES-256-GCM session key.
	KeySize = 32
)

var (
	// ErrDecrypt is returned when AEAD authentication fails. Per §7 kind 4
	// this is always fatal for the record in question: discard, never
	// half-apply.
	ErrDecrypt = errors.New("cryptoid: aead authentication failed")
	// ErrShortCiphertext is returned when a blob is too short to contain
	// a nonce and tag.
	ErrShortCiphertext = errors.New("cryptoid: ciphertext too short")
)

// Identity is a device's long-lived ECDSA-P256 keypair. The public
// key's SHA-256 digest is the stable device identifier; see Fingerprint.
type Identity struct {
	Private *ecdsa.PrivateKey
}

// GenerateIdentity creates a fresh ECDSA-P256 identity keypair.
func GenerateIdentity() (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: generate identity: %w", err)
	}
	return &Identity{Private: priv}, nil
}

// Public returns the identity's public key.
func (id *Identity) Public() *ecdsa.PublicKey {
	return &id.Private.PublicKey
}

// Fingerprint returns the SHA-256 digest of the public key's uncompressed
// point encoding, the stable device identifier shown to users.
func (id *Identity) Fingerprint() [32]byte {
	return sha256.Sum256(elliptic.Marshal(id.Private.Curve, id.Private.X, id.Private.Y))
}

// Zeroize overwrites the private scalar in place. Callers must not use
// the Identity after calling Zeroize.
func (id *Identity) Zeroize() {
	if id == nil || id.Private == nil {
		return
	}
	if id.Private.D != nil {
		b := id.Private.D.Bits()
		for i := range b {
			b[i] = 0
		}
	}
}

// Sign produces an ECDSA signature (ASN.1 DER) over SHA-256(data).
func Sign(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoid: sign: %w", err)
	}
	return sig, nil
}

// Verify checks an ECDSA signature over SHA-256(data).
func Verify(pub *ecdsa.PublicKey, data, sig []byte) bool {
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// EphemeralKey is a single-use ECDH keypair generated fresh per handshake.
type EphemeralKey struct {
	priv *ecdh.PrivateKey
}

// NewEphemeralKey generates a fresh P-256 ECDH keypair for one handshake.
func NewEphemeralKey() (*EphemeralKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: ephemeral ecdh: %w", err)
	}
	return &EphemeralKey{priv: priv}, nil
}

// PublicBytes returns the uncompressed point encoding sent on the wire.
func (e *EphemeralKey) PublicBytes() []byte {
	return e.priv.PublicKey().Bytes()
}

// Zeroize discards the ephemeral private key material.
func (e *EphemeralKey) Zeroize() {
	e.priv = nil
}

// DeriveSessionKey computes the ECDH shared secret between our ephemeral
// private key and the peer's ephemeral public key bytes, then passes it
// through HKDF-SHA256 with the SWARM-SESSION info label to produce a
// 32-byte AES-256-GCM key.
func DeriveSessionKey(mine *EphemeralKey, theirPubBytes []byte) ([]byte, error) {
	theirPub, err := ecdh.P256().NewPublicKey(theirPubBytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: parse peer ephemeral key: %w", err)
	}
	shared, err := mine.priv.ECDH(theirPub)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: ecdh: %w", err)
	}
	defer zero(shared)

	kdf := hkdf.New(sha256.New, shared, nil, []byte(SessionInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptoid: hkdf expand: %w", err)
	}
	return key, nil
}

// AEADEncrypt seals plaintext under key, returning nonce(12) ‖ ciphertext ‖ tag(16).
// The nonce is drawn fresh from crypto/rand for every call.
func AEADEncrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoid: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// AEADDecrypt opens a blob produced by AEADEncrypt. Any authentication
// failure, including a single-bit corruption, returns ErrDecrypt and the
// caller must discard the record rather than attempt partial use.
func AEADDecrypt(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < nonceSize+tagSize {
		return nil, ErrShortCiphertext
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptoid: session key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: gcm: %w", err)
	}
	return gcm, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
