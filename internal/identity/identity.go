// Package identity manages a hub node's long-lived Ed25519 identity: key
// generation, fingerprinting, and passphrase-protected storage on disk.
package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/collabhub/server/internal/crypto"
)

// Identity is a hub node's Ed25519 keypair plus its derived node id.
type Identity struct {
	NodeID     string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 identity. NodeID is the key's SHA-256
// fingerprint, matching crypto.ComputeFingerprint.
func Generate() (*Identity, error) {
	kp, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("identity: generate: %w", err)
	}
	return &Identity{
		NodeID:     crypto.ComputeFingerprint(kp.PublicKey),
		PublicKey:  kp.PublicKey,
		PrivateKey: kp.PrivateKey,
	}, nil
}

// Sign signs message with the identity's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.PrivateKey, message)
}

// Verify reports whether sig is a valid signature of message under pub.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}

// Save persists the identity's private key to keystorePath, encrypted with
// passphrase (Argon2id + AES-256-GCM), or unencrypted if passphrase is "".
func (id *Identity) Save(keystorePath, passphrase string) error {
	return crypto.SaveKey(id.PrivateKey, keystorePath, passphrase)
}

// Load reads and decrypts the private key at keystorePath and reconstructs
// the Identity, deriving the public key and node id from it.
func Load(keystorePath, passphrase string) (*Identity, error) {
	priv, err := crypto.LoadKey(keystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("identity: load: %w", err)
	}
	privKey := ed25519.PrivateKey(priv)
	pub := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		NodeID:     crypto.ComputeFingerprint(pub),
		PublicKey:  pub,
		PrivateKey: privKey,
	}, nil
}

// LoadOrGenerate loads the identity at keystorePath, generating and saving
// a new one if no keystore file exists yet there (or at its .insecure
// sibling, used when passphrase is "").
func LoadOrGenerate(keystorePath, passphrase string) (*Identity, error) {
	path := keystorePath
	if passphrase == "" {
		path += ".insecure"
	}
	if _, err := os.Stat(path); err == nil {
		return Load(keystorePath, passphrase)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keystorePath), 0700); err != nil {
		return nil, fmt.Errorf("identity: create keystore directory: %w", err)
	}
	if err := id.Save(keystorePath, passphrase); err != nil {
		return nil, err
	}
	return id, nil
}
