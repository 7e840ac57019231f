package transfer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/collabhub/server/internal/crypto"
	"github.com/collabhub/server/internal/merkle"
)

// EncryptedChunkOverhead is the per-chunk framing an AEADEncryptor adds: a
// 12-byte nonce followed by the 16-byte GCM authentication tag. A caller
// chunking a file for encrypted transfer should split it at
// EncryptedChunkSize, not DefaultChunkSize, so the encrypted chunk still
// fits the wire's nominal chunk size.
const EncryptedChunkOverhead = 12 + 16

// EncryptedChunkSize is the plaintext chunk size used when encryption is in
// effect: DefaultChunkSize minus the AEAD framing overhead.
const EncryptedChunkSize = DefaultChunkSize - EncryptedChunkOverhead

// AEADEncryptor implements Encryptor over AES-256-GCM, with a fresh random
// nonce per chunk carried alongside the ciphertext so chunks remain
// independently decryptable regardless of arrival order.
type AEADEncryptor struct {
	Key [32]byte
}

// Encrypt seals plaintext under e.Key with a fresh random nonce, returning
// nonce || ciphertext || tag. chunkIndex is folded into the AAD so a chunk
// cannot be replayed under a different index.
func (e *AEADEncryptor) Encrypt(ctx context.Context, chunkIndex uint64, plaintext []byte) ([]byte, error) {
	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("transfer: generate nonce: %w", err)
	}
	aad := aadForChunk(chunkIndex)
	ciphertext, err := crypto.Seal(e.Key[:], nonce[:], aad, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt splits the leading nonce from encrypted and opens the remainder
// under e.Key, verifying chunkIndex via the AAD.
func (e *AEADEncryptor) Decrypt(ctx context.Context, chunkIndex uint64, encrypted []byte) ([]byte, error) {
	if len(encrypted) < 12 {
		return nil, fmt.Errorf("transfer: encrypted chunk %d shorter than nonce", chunkIndex)
	}
	nonce := encrypted[:12]
	ciphertext := encrypted[12:]
	return crypto.Open(e.Key[:], nonce, aadForChunk(chunkIndex), ciphertext)
}

// EphemeralKeyExchange holds one side of a forward-secret X25519 handshake
// negotiated for a single file transfer. Each transfer gets a fresh keypair
// so compromising one transfer's key never exposes another's.
type EphemeralKeyExchange struct {
	keys *crypto.X25519KeyPair
}

// NewEphemeralKeyExchange generates a fresh X25519 keypair for one transfer.
func NewEphemeralKeyExchange() (*EphemeralKeyExchange, error) {
	keys, err := crypto.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("transfer: generate ephemeral keypair: %w", err)
	}
	return &EphemeralKeyExchange{keys: keys}, nil
}

// PublicKey returns the half of the handshake to send to the peer.
func (kx *EphemeralKeyExchange) PublicKey() [32]byte {
	return kx.keys.PublicKey
}

// DeriveEncryptor completes the ECDH exchange against the peer's public key
// and derives an AEADEncryptor keyed for root, so the same peer keypair
// reused across two different transfers never produces the same chunk key.
func (kx *EphemeralKeyExchange) DeriveEncryptor(theirPublic [32]byte, root merkle.Hash) (*AEADEncryptor, error) {
	sessionKeys, err := crypto.DeriveSessionKeys(&kx.keys.PrivateKey, &theirPublic, root[:])
	if err != nil {
		return nil, fmt.Errorf("transfer: derive session keys for root %x: %w", root, err)
	}
	return &AEADEncryptor{Key: sessionKeys.PayloadKey}, nil
}

func aadForChunk(chunkIndex uint64) []byte {
	var aad [8]byte
	binary.LittleEndian.PutUint64(aad[:], chunkIndex)
	return aad[:]
}
