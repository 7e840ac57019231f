package transfer

import (
	"context"
	"fmt"

	"github.com/collabhub/server/internal/merkle"
	"github.com/collabhub/server/internal/wire"
)

// Sender is the minimal outbound surface an upload needs; *client.Client
// satisfies it.
type Sender interface {
	Send(msg *wire.Message) error
}

// Upload drives sending one file's worth of chunks to a peer: a request
// frame announcing the transfer, followed by one progress frame per chunk,
// each carrying that chunk's Merkle inclusion proof against the root
// committed to in the request frame.
type Upload struct {
	FileID    string
	Document  string
	Encrypted bool
	ChunkSize int64
	Encryptor Encryptor

	tree   *merkle.Tree
	chunks [][]byte
}

// NewUpload splits content into chunks and builds the Merkle tree a
// receiver will verify each chunk against.
func NewUpload(fileID, document string, content []byte, chunkSize int64, encrypted bool, enc Encryptor) *Upload {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := SplitChunks(content, chunkSize)
	return &Upload{
		FileID:    fileID,
		Document:  document,
		Encrypted: encrypted,
		ChunkSize: chunkSize,
		Encryptor: enc,
		tree:      merkle.Build(chunks),
		chunks:    chunks,
	}
}

// Root returns the Merkle root a receiver should verify chunks against.
func (u *Upload) Root() merkle.Hash {
	return u.tree.Root()
}

// TotalChunks is the number of chunks this upload will send.
func (u *Upload) TotalChunks() uint64 {
	return uint64(len(u.chunks))
}

// SendRequest announces the transfer: filename, total size, mime type, and
// the Merkle root the receiver will verify every chunk against (carried in
// ContentID, which is otherwise opaque to the wire codec).
func (u *Upload) SendRequest(sender Sender, filename string, size uint64, mimeType string) error {
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

// SendAll sends every chunk in order as a progress frame, stopping at the
// first send error. Each frame carries the chunk's Merkle proof so the
// receiver can verify it against the root sent in SendRequest without
// holding the whole file in memory.
func (u *Upload) SendAll(ctx context.Context, sender Sender) error {
	total := u.TotalChunks()
	var sent uint64
	for i, chunk := range u.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		sent += uint64(len(chunk))
		if err := u.sendChunk(ctx, sender, uint64(i), chunk, total, sent); err != nil {
			return err
		}
	}
	return nil
}

func (u *Upload) sendChunk(ctx context.Context, sender Sender, index uint64, chunk []byte, total, bytesUploaded uint64) error {
	proof, err := u.tree.Proof(int(index))
	if err != nil {
		return fmt.Errorf("transfer: proof for chunk %d: %w", index, err)
	}
	payload, encrypted, err := encryptChunk(ctx, u.Encryptor, index, chunk)
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
		ChunkIndex:    index,
		ChunkData:     payload,
		TotalChunks:   total,
		BytesUploaded: bytesUploaded,
		Encrypted:     encrypted,
		Proof:         wireProof,
	})
	return sender.Send(msg)
}
