package transfer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/collabhub/server/internal/wire"
)

// Manager tracks every download in flight for a connection and persists
// their bitmaps so an interrupted transfer can resume after a reconnect
// instead of restarting from chunk zero. In-flight downloads are keyed by
// their Merkle root, the content-addressed identity the rest of the
// protocol verifies against, not by the caller-supplied file id — a file id
// is only a transport-level label and carries no guarantee of uniqueness
// or integrity on its own.
type Manager struct {
	store   *BitmapStore
	timeout time.Duration

	mu         sync.Mutex
	downloads  map[string]*Download // keyed by hex-encoded Merkle root
	fileToRoot map[string]string    // file id -> hex-encoded Merkle root
}

// NewManager wires a Manager to a bitmap store. store may be nil, in which
// case downloads are tracked in memory only and cannot resume across
// process restarts. Downloads use DefaultTransferTimeout; use
// NewManagerWithTimeout to override it.
func NewManager(store *BitmapStore) *Manager {
	return NewManagerWithTimeout(store, DefaultTransferTimeout)
}

// NewManagerWithTimeout is NewManager with an explicit per-download stall
// timeout, checked by SweepTimeouts.
func NewManagerWithTimeout(store *BitmapStore, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	return &Manager{
		store:      store,
		timeout:    timeout,
		downloads:  make(map[string]*Download),
		fileToRoot: make(map[string]string),
	}
}

// BeginDownload registers a new download from a file-request message body,
// resuming from a persisted bitmap if the store has one for fileID.
func (m *Manager) BeginDownload(body *wire.FileBody, chunkSize int64, enc Encryptor) (*Download, error) {
	root, err := ParseRoot(body.ContentID)
	if err != nil {
		return nil, err
	}
	dl := NewDownloadWithTimeout(body.FileID, body.Filename, body.Size, body.MimeType, root, chunkSize, enc, m.timeout)

	if m.store != nil {
		if saved, err := m.store.Load(body.FileID); err == nil {
			dl.ResumeFrom(saved)
		} else if err != ErrBitmapNotFound {
			return nil, err
		}
	}

	rootKey := hex.EncodeToString(root[:])
	m.mu.Lock()
	m.downloads[rootKey] = dl
	m.fileToRoot[body.FileID] = rootKey
	m.mu.Unlock()
	return dl, nil
}

// Get returns the in-progress download for fileID, if any.
func (m *Manager) Get(fileID string) (*Download, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rootKey, ok := m.fileToRoot[fileID]
	if !ok {
		return nil, false
	}
	dl, ok := m.downloads[rootKey]
	return dl, ok
}

// AcceptChunk verifies and records an incoming chunk, persisting the
// download's bitmap afterward so progress survives a crash or restart.
func (m *Manager) AcceptChunk(ctx context.Context, body *wire.FileBody) error {
	dl, ok := m.Get(body.FileID)
	if !ok {
		return fmt.Errorf("transfer: no download in progress for file %s", body.FileID)
	}
	if err := dl.AcceptChunk(ctx, body); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.Save(body.FileID, dl.Bitmap()); err != nil {
			return err
		}
	}
	return nil
}

// SweepTimeouts evicts every stalled in-flight download (no chunk received
// within its timeout) and reports their file ids, so a caller can notify
// the sender side of the timeout.
func (m *Manager) SweepTimeouts(now time.Time) []string {
	m.mu.Lock()
	var stalled []*Download
	for _, dl := range m.downloads {
		if dl.CheckTimeout(now) != nil {
			stalled = append(stalled, dl)
		}
	}
	m.mu.Unlock()

	fileIDs := make([]string, 0, len(stalled))
	for _, dl := range stalled {
		fileIDs = append(fileIDs, dl.FileID)
		m.Finish(dl.FileID)
	}
	return fileIDs
}

// Finish removes a completed download's bookkeeping, including its
// persisted bitmap.
func (m *Manager) Finish(fileID string) error {
	m.mu.Lock()
	if rootKey, ok := m.fileToRoot[fileID]; ok {
		delete(m.downloads, rootKey)
		delete(m.fileToRoot, fileID)
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(fileID); err != nil {
			return err
		}
	}
	return nil
}
