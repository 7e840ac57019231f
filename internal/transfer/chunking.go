// Package transfer implements chunked file upload and download over the
// wire protocol's file messages: splitting a file into fixed-size chunks
// with a Merkle proof per chunk, sending progress frames, and verifying
// each chunk a peer sends before it is accepted.
package transfer

import (
	"context"
	"fmt"
)

// DefaultChunkSize is the chunk size used when a caller doesn't specify one.
const DefaultChunkSize = 65536

// TotalChunks computes the chunk count for a file of size bytes, always
// at least 1 (a zero-byte file is still one empty chunk).
func TotalChunks(size int64, chunkSize int64) uint64 {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if size <= 0 {
		return 1
	}
	n := uint64(size) / uint64(chunkSize)
	if uint64(size)%uint64(chunkSize) != 0 {
		n++
	}
	return n
}

// SplitChunks splits content into chunkSize-sized pieces, always returning
// at least one (possibly empty) chunk.
func SplitChunks(content []byte, chunkSize int64) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(content) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for start := 0; start < len(content); start += int(chunkSize) {
		end := start + int(chunkSize)
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[start:end])
	}
	return chunks
}

// Encryptor optionally transforms chunk bytes before they go on the wire
// (encrypt) and back after they arrive (decrypt). A nil Encryptor is a
// no-op, matching an unencrypted transfer.
type Encryptor interface {
	Encrypt(ctx context.Context, chunkIndex uint64, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, chunkIndex uint64, ciphertext []byte) ([]byte, error)
}

func encryptChunk(ctx context.Context, enc Encryptor, index uint64, chunk []byte) ([]byte, bool, error) {
	if enc == nil {
		return chunk, false, nil
	}
	out, err := enc.Encrypt(ctx, index, chunk)
	if err != nil {
		return nil, false, fmt.Errorf("transfer: encrypt chunk %d: %w", index, err)
	}
	return out, true, nil
}

func decryptChunk(ctx context.Context, enc Encryptor, index uint64, encrypted bool, chunk []byte) ([]byte, error) {
	if !encrypted {
		return chunk, nil
	}
	if enc == nil {
		return nil, fmt.Errorf("transfer: chunk %d is encrypted but no decryptor is configured", index)
	}
	out, err := enc.Decrypt(ctx, index, chunk)
	if err != nil {
		return nil, fmt.Errorf("transfer: decrypt chunk %d: %w", index, err)
	}
	return out, nil
}
