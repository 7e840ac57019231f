package transfer

import (
	"context"
	"fmt"

	"github.com/collabhub/server/internal/merkle"
	"github.com/collabhub/server/internal/wire"
)

// ChunkSource supplies one chunk of an upload's content at a time, letting
// StreamingUpload hash and send a file without ever holding more than one
// chunk in memory, unlike Upload which splits the whole content up front.
type ChunkSource interface {
	// NumChunks returns the total number of chunks the source will yield.
	NumChunks() int
	// ReadChunk returns the bytes for chunk i. Implementations may re-read
	// from disk each call; StreamingUpload reads every chunk twice, once to
	// compute the root and once to send it.
	ReadChunk(i int) ([]byte, error)
}

// StreamingUpload drives the same request/progress wire exchange as Upload,
// but sources chunks from a ChunkSource and builds the Merkle root
// incrementally through merkle.StreamingBuilder instead of buffering every
// chunk in a slice, so a large file's peak memory is bounded by its chunk
// size rather than its total size.
type StreamingUpload struct {
	FileID    string
	Document  string
	Encrypted bool
	Encryptor Encryptor

	src     ChunkSource
	builder *merkle.StreamingBuilder
	rooted  bool
}

// NewStreamingUpload wires a ChunkSource to an as-yet-unrooted upload; call
// ComputeRoot before SendRequest or SendAll.
func NewStreamingUpload(fileID, document string, encrypted bool, enc Encryptor, src ChunkSource) *StreamingUpload {
	return &StreamingUpload{
		FileID:    fileID,
		Document:  document,
		Encrypted: encrypted,
		Encryptor: enc,
		src:       src,
		builder:   merkle.NewStreamingBuilder(src.NumChunks()),
	}
}

// ComputeRoot reads every chunk once, in order, feeding each into the
// streaming builder so the Merkle root is known before any chunk is sent.
func (u *StreamingUpload) ComputeRoot(ctx context.Context) error {
	for i := 0; i < u.src.NumChunks(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := u.src.ReadChunk(i)
		if err != nil {
			return fmt.Errorf("transfer: reading chunk %d for root: %w", i, err)
		}
		u.builder.AddChunk(i, chunk)
	}
	u.rooted = true
	return nil
}

// Root returns the Merkle root a receiver should verify chunks against.
// Valid only after ComputeRoot has returned successfully.
func (u *StreamingUpload) Root() merkle.Hash {
	return u.builder.Root()
}

// TotalChunks is the number of chunks this upload will send.
func (u *StreamingUpload) TotalChunks() uint64 {
	return uint64(u.src.NumChunks())
}

// SendRequest announces the transfer, carrying the root computed by
// ComputeRoot in ContentID.
func (u *StreamingUpload) SendRequest(sender Sender, filename string, size uint64, mimeType string) error {
	if !u.rooted {
		return fmt.Errorf("transfer: SendRequest called before ComputeRoot for file %s", u.FileID)
	}
	root := u.Root()
	msg := wire.NewFileMessage(u.Document, u.Encrypted, wire.FileBody{
		PayloadType: wire.FileRequestType,
		Direction:   wire.FileDirectionUpload,
		FileID:      u.FileID,
		Filename:    filename,
		Size:        size,
		MimeType:    mimeType,
		ContentID:   root[:],
	})
	return sender.Send(msg)
}

// SendAll re-reads every chunk from the source and sends it as a progress
// frame with its Merkle proof, stopping at the first error. ComputeRoot must
// have completed first, so every proof is available without waiting on
// chunks further downstream.
func (u *StreamingUpload) SendAll(ctx context.Context, sender Sender) error {
	if !u.rooted {
		return fmt.Errorf("transfer: SendAll called before ComputeRoot for file %s", u.FileID)
	}
	total := u.TotalChunks()
	var sent uint64
	for i := 0; i < u.src.NumChunks(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := u.src.ReadChunk(i)
		if err != nil {
			return fmt.Errorf("transfer: reading chunk %d for send: %w", i, err)
		}
		sent += uint64(len(chunk))
		if err := u.sendChunk(ctx, sender, i, chunk, total, sent); err != nil {
			return err
		}
	}
	return nil
}

func (u *StreamingUpload) sendChunk(ctx context.Context, sender Sender, index int, chunk []byte, total, bytesUploaded uint64) error {
	if !u.builder.CanGenerateProof(index) {
		return fmt.Errorf("transfer: proof for chunk %d not yet available", index)
	}
	proof := u.builder.Proof(index)
	payload, encrypted, err := encryptChunk(ctx, u.Encryptor, uint64(index), chunk)
	if err != nil {
		return err
	}

	wireProof := make([][32]byte, len(proof))
	for i, h := range proof {
		wireProof[i] = h
	}

	msg := wire.NewFileMessage(u.Document, u.Encrypted, wire.FileBody{
		PayloadType:   wire.FileProgressType,
		FileID:        u.FileID,
		ChunkIndex:    uint64(index),
		ChunkData:     payload,
		TotalChunks:   total,
		BytesUploaded: bytesUploaded,
		Encrypted:     encrypted,
		Proof:         wireProof,
	})
	return sender.Send(msg)
}
