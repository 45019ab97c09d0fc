// SPDX-License-Identifier: Apache 2.0

package cryptoid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("device-id" + "eph-pub-bytes")
	sig, err := Sign(id.Private, msg)
	require.NoError(t, err)
	require.True(t, Verify(id.Public(), msg, sig))

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	require.False(t, Verify(id.Public(), tampered, sig))
}

func TestDeriveSessionKeyAgreement(t *testing.T) {
	a, err := NewEphemeralKey()
	require.NoError(t, err)
	b, err := NewEphemeralKey()
	require.NoError(t, err)

	keyA, err := DeriveSessionKey(a, b.PublicBytes())
	require.NoError(t, err)
	keyB, err := DeriveSessionKey(b, a.PublicBytes())
	require.NoError(t, err)

	require.Equal(t, keyA, keyB)
	require.Len(t, keyA, KeySize)
}

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("hello\n")

	blob, err := AEADEncrypt(key, plaintext)
	require.NoError(t, err)

	out, err := AEADDecrypt(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

// TestAEADBitFlipFails verifies the AEAD integrity property from spec §8:
// any single-bit flip in a framed record causes decrypt failure.
func TestAEADBitFlipFails(t *testing.T) {
	key := make([]byte, KeySize)
	blob, err := AEADEncrypt(key, []byte("payload"))
	require.NoError(t, err)

	for i := range blob {
		corrupt := append([]byte(nil), blob...)
		corrupt[i] ^= 0x01
		_, err := AEADDecrypt(key, corrupt)
		require.ErrorIs(t, err, ErrDecrypt, "byte %d", i)
	}
}

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.pem")

	first, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	second, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	require.Equal(t, first.Fingerprint(), second.Fingerprint())
}
