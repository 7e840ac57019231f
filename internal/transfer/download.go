package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/collabhub/server/internal/merkle"
	"github.com/collabhub/server/internal/wire"
)

// ErrProofFailed is returned when a received chunk's Merkle proof does not
// reduce to the transfer's committed root.
var ErrProofFailed = errors.New("transfer: chunk failed merkle verification")

// ErrIncomplete is returned by Assemble before every chunk has arrived.
var ErrIncomplete = errors.New("transfer: download incomplete")

// ErrTransferTimeout is returned by CheckTimeout once a download has gone
// longer than its timeout without a new chunk arriving. A Manager's
// SweepTimeouts reports the affected file ids rather than this error.
var ErrTransferTimeout = errors.New("transfer: download timed out waiting for the next chunk")

// DefaultTransferTimeout bounds how long a download waits between chunk
// arrivals before it is considered stalled.
const DefaultTransferTimeout = 2 * time.Minute

// Download tracks an in-progress incoming file: which chunks have arrived,
// a bitmap for resumability, and the assembled bytes once complete.
type Download struct {
	FileID   string
	Filename string
	Size     uint64
	MimeType string
	Root     merkle.Hash

	chunkSize   int64
	totalChunks uint64
	encryptor   Encryptor
	timeout     time.Duration

	mu           sync.Mutex
	bitmap       *Bitmap
	chunks       [][]byte
	lastActivity time.Time
}

// ParseRoot extracts the Merkle root carried in a file-request message's
// ContentID field, as populated by Upload.SendRequest.
func ParseRoot(contentID []byte) (merkle.Hash, error) {
	var root merkle.Hash
	if len(contentID) != len(root) {
		return root, fmt.Errorf("transfer: content id is %d bytes, want %d", len(contentID), len(root))
	}
	copy(root[:], contentID)
	return root, nil
}

// NewDownload begins tracking a download announced by a file-request
// message. root is the Merkle root the request carried (its ContentID).
func NewDownload(fileID, filename string, size uint64, mimeType string, root merkle.Hash, chunkSize int64, enc Encryptor) *Download {
	return NewDownloadWithTimeout(fileID, filename, size, mimeType, root, chunkSize, enc, DefaultTransferTimeout)
}

// NewDownloadWithTimeout is NewDownload with an explicit stall timeout: a
// download that receives no chunk for longer than timeout is considered
// stalled by CheckTimeout.
func NewDownloadWithTimeout(fileID, filename string, size uint64, mimeType string, root merkle.Hash, chunkSize int64, enc Encryptor, timeout time.Duration) *Download {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	total := TotalChunks(int64(size), chunkSize)
	return &Download{
		FileID:       fileID,
		Filename:     filename,
		Size:         size,
		MimeType:     mimeType,
		Root:         root,
		chunkSize:    chunkSize,
		totalChunks:  total,
		encryptor:    enc,
		timeout:      timeout,
		bitmap:       NewBitmap(total),
		chunks:       make([][]byte, total),
		lastActivity: time.Now(),
	}
}

// ResumeFrom rebuilds tracking state around a bitmap loaded from a
// BitmapStore, so a restarted process only re-requests missing chunks.
func (d *Download) ResumeFrom(bitmap *Bitmap) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bitmap = bitmap
}

// Bitmap returns the download's chunk-received bitmap, for periodic
// persistence by the caller.
func (d *Download) Bitmap() *Bitmap {
	return d.bitmap
}

// AcceptChunk verifies body's proof against the download's root and, if it
// passes, records the chunk. A duplicate delivery of an already-received
// chunk is accepted as a no-op rather than an error.
func (d *Download) AcceptChunk(ctx context.Context, body *wire.FileBody) error {
	if body.FileID != d.FileID {
		return fmt.Errorf("transfer: chunk for file %q delivered to download of %q", body.FileID, d.FileID)
	}
	if d.bitmap.Has(body.ChunkIndex) {
		return nil
	}

	proof := make([]merkle.Hash, len(body.Proof))
	for i, h := range body.Proof {
		proof[i] = h
	}

	plain, err := decryptChunk(ctx, d.encryptor, body.ChunkIndex, body.Encrypted, body.ChunkData)
	if err != nil {
		return err
	}
	if !merkle.Verify(plain, proof, d.Root, int(body.ChunkIndex)) {
		return fmt.Errorf("%w: chunk %d of file %s", ErrProofFailed, body.ChunkIndex, d.FileID)
	}

	d.mu.Lock()
	if int(body.ChunkIndex) >= len(d.chunks) {
		d.mu.Unlock()
		return fmt.Errorf("transfer: chunk index %d out of range (total %d)", body.ChunkIndex, d.totalChunks)
	}
	d.chunks[body.ChunkIndex] = plain
	d.lastActivity = time.Now()
	d.mu.Unlock()

	_, err = d.bitmap.Set(body.ChunkIndex)
	return err
}

// CheckTimeout returns ErrTransferTimeout if the download is incomplete and
// no chunk has arrived within its timeout as of now. A complete download
// never times out.
func (d *Download) CheckTimeout(now time.Time) error {
	if d.Complete() {
		return nil
	}
	d.mu.Lock()
	last := d.lastActivity
	d.mu.Unlock()
	if now.Sub(last) > d.timeout {
		return fmt.Errorf("%w: file %s", ErrTransferTimeout, d.FileID)
	}
	return nil
}

// Progress reports how many of the download's chunks have arrived.
func (d *Download) Progress() (received, total uint64) {
	return d.bitmap.Progress()
}

// Missing returns the indices still needed, for requesting retransmission.
func (d *Download) Missing() []uint64 {
	return d.bitmap.Missing()
}

// Complete reports whether every chunk has arrived.
func (d *Download) Complete() bool {
	return d.bitmap.Complete()
}

// Assemble concatenates every chunk into the file's full contents. It
// fails with ErrIncomplete if any chunk is still missing.
func (d *Download) Assemble() ([]byte, error) {
	if !d.Complete() {
		return nil, ErrIncomplete
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	buf.Grow(int(d.Size))
	for _, c := range d.chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}
