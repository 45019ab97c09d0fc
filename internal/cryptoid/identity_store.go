// SPDX-License-Identifier: Apache 2.0

package cryptoid

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// ShortID returns the 8 hex char random-looking device identifier used
// on the wire. It's derived from the fingerprint, not random, so it is
// stable across restarts without a separate persisted value.
func (id *Identity) ShortID() string {
	fp := id.Fingerprint()
	return hex.EncodeToString(fp[:4])
}

// LoadOrCreateIdentity reads the PKCS#8 PEM-encoded private key at path,
// generating and persisting a fresh identity if none exists. The file is
// written with mode 0600; on platforms with an OS-provided user-scoped
// key-protection facility a higher layer may wrap this path with one
// (not implemented here — none of this module's target platforms expose
// a stable cross-platform API in the standard library).
func LoadOrCreateIdentity(path string) (*Identity, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		return parseIdentityPEM(b)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cryptoid: read identity file: %w", err)
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := saveIdentityPEM(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func parseIdentityPEM(b []byte) (*Identity, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("cryptoid: no PEM block in identity file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: parse identity key: %w", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cryptoid: identity key is not ECDSA")
	}
	return &Identity{Private: priv}, nil
}

func saveIdentityPEM(path string, id *Identity) error {
	der, err := x509.MarshalPKCS8PrivateKey(id.Private)
	if err != nil {
		return fmt.Errorf("cryptoid: marshal identity key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cryptoid: create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("cryptoid: write identity file: %w", err)
	}
	return nil
}
