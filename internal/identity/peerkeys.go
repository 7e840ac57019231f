package identity

import (
	"crypto/ed25519"
	"sync"
)

// PeerKeyStore tracks the Ed25519 public keys of other hub nodes a
// replication session trusts, keyed by their node id (the fingerprint
// Generate derives from that same public key). It lets a session verify a
// replicated message's signature without re-deriving trust on every call.
type PeerKeyStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewPeerKeyStore returns an empty store.
func NewPeerKeyStore() *PeerKeyStore {
	return &PeerKeyStore{keys: make(map[string]ed25519.PublicKey)}
}

// Register records peer's public key under nodeID, replacing any previous
// key recorded for that id.
func (p *PeerKeyStore) Register(nodeID string, pub ed25519.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[nodeID] = pub
}

// Lookup returns the public key registered for nodeID, if any.
func (p *PeerKeyStore) Lookup(nodeID string) (ed25519.PublicKey, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pub, ok := p.keys[nodeID]
	return pub, ok
}
