package transfer

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrBitmapNotFound is returned by BitmapStore.Load when no row exists yet
// for a download id.
var ErrBitmapNotFound = errors.New("transfer: bitmap not found")

// Bitmap tracks, one bit per chunk, which chunks of a download have already
// landed. It is safe for concurrent use by a single download's handler and
// its periodic persistence goroutine.
type Bitmap struct {
	mu          sync.RWMutex
	totalChunks uint64
	bits        []byte
	received    uint64
}

// NewBitmap allocates a bitmap sized for totalChunks, all unset.
func NewBitmap(totalChunks uint64) *Bitmap {
	return &Bitmap{
		totalChunks: totalChunks,
		bits:        make([]byte, (totalChunks+7)/8),
	}
}

// Set marks chunkIndex received, returning false if it was already set (so
// a caller can treat a repeat delivery as a no-op rather than double-count
// it towards completion).
func (b *Bitmap) Set(chunkIndex uint64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if chunkIndex >= b.totalChunks {
		return false, fmt.Errorf("transfer: chunk index %d out of range (total %d)", chunkIndex, b.totalChunks)
	}
	byteIdx, bitIdx := chunkIndex/8, chunkIndex%8
	if b.bits[byteIdx]&(1<<bitIdx) != 0 {
		return false, nil
	}
	b.bits[byteIdx] |= 1 << bitIdx
	b.received++
	return true, nil
}

// Has reports whether chunkIndex has already been received.
func (b *Bitmap) Has(chunkIndex uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if chunkIndex >= b.totalChunks {
		return false
	}
	byteIdx, bitIdx := chunkIndex/8, chunkIndex%8
	return b.bits[byteIdx]&(1<<bitIdx) != 0
}

// Missing returns the indices of every chunk not yet received, in order.
func (b *Bitmap) Missing() []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []uint64
	for i := uint64(0); i < b.totalChunks; i++ {
		byteIdx, bitIdx := i/8, i%8
		if b.bits[byteIdx]&(1<<bitIdx) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Progress returns the number of chunks received against the total.
func (b *Bitmap) Progress() (received, total uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.received, b.totalChunks
}

// Complete reports whether every chunk has been received.
func (b *Bitmap) Complete() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.received == b.totalChunks
}

func (b *Bitmap) snapshot() ([]byte, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data := make([]byte, len(b.bits))
	copy(data, b.bits)
	return data, b.received
}

func (b *Bitmap) restore(data []byte, received uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(data) != len(b.bits) {
		return fmt.Errorf("transfer: bitmap size mismatch: expected %d bytes, got %d", len(b.bits), len(data))
	}
	copy(b.bits, data)
	b.received = received
	return nil
}

// BitmapStore persists download bitmaps to SQLite so an interrupted
// download can resume instead of restarting from chunk zero.
type BitmapStore struct {
	db *sql.DB
}

// OpenBitmapStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func OpenBitmapStore(path string) (*BitmapStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("transfer: open bitmap store: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS download_bitmaps (
			download_id      TEXT PRIMARY KEY,
			total_chunks     INTEGER NOT NULL,
			bitmap_data      BLOB NOT NULL,
			chunks_received  INTEGER NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("transfer: init bitmap schema: %w", err)
	}
	return &BitmapStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *BitmapStore) Close() error {
	return s.db.Close()
}

// Save upserts bitmap's current state under downloadID.
func (s *BitmapStore) Save(downloadID string, bitmap *Bitmap) error {
	data, received := bitmap.snapshot()
	_, err := s.db.Exec(`
		INSERT INTO download_bitmaps (download_id, total_chunks, bitmap_data, chunks_received, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			bitmap_data = excluded.bitmap_data,
			chunks_received = excluded.chunks_received,
			updated_at = excluded.updated_at
	`, downloadID, bitmap.totalChunks, data, received, time.Now())
	if err != nil {
		return fmt.Errorf("transfer: save bitmap %s: %w", downloadID, err)
	}
	return nil
}

// Load reconstructs the bitmap previously saved under downloadID. It
// returns ErrBitmapNotFound if no row exists yet.
func (s *BitmapStore) Load(downloadID string) (*Bitmap, error) {
	var totalChunks, received uint64
	var data []byte
	err := s.db.QueryRow(`
		SELECT total_chunks, bitmap_data, chunks_received
		FROM download_bitmaps WHERE download_id = ?
	`, downloadID).Scan(&totalChunks, &data, &received)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBitmapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transfer: load bitmap %s: %w", downloadID, err)
	}
	bitmap := NewBitmap(totalChunks)
	if err := bitmap.restore(data, received); err != nil {
		return nil, err
	}
	return bitmap, nil
}

// Delete removes a completed or abandoned download's persisted bitmap. It
// is not an error if no row exists.
func (s *BitmapStore) Delete(downloadID string) error {
	_, err := s.db.Exec(`DELETE FROM download_bitmaps WHERE download_id = ?`, downloadID)
	if err != nil {
		return fmt.Errorf("transfer: delete bitmap %s: %w", downloadID, err)
	}
	return nil
}
