// Package store defines the DocumentStore collaborator the session engine
// delegates CRDT state to, plus reference implementations used by tests and
// the demo daemon. The CRDT algebra itself is out of scope; these
// implementations only keep opaque update bytes.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrDocumentNotFound is returned by GetDocument when the store holds no
// record of a document. GetDocumentMetadata reports a zero size instead.
var ErrDocumentNotFound = errors.New("store: document not found")

// SyncStep1Result is returned by HandleSyncStep1.
type SyncStep1Result struct {
	Update      []byte
	StateVector []byte
}

// DocumentSnapshot is the full decoded state of a document, as returned by
// GetDocument.
type DocumentSnapshot struct {
	Content []byte
	Metadata Metadata
}

// Metadata describes size thresholds the session uses to emit
// document-size-warning / document-size-limit-exceeded events.
type Metadata struct {
	SizeBytes            int64
	SizeWarningThreshold int64
	SizeLimit            int64
}

// DocumentStore is the CRDT collaborator. Every method receives the
// namespaced document id (room + "/" + document).
type DocumentStore interface {
	HandleSyncStep1(ctx context.Context, doc string, sv []byte) (SyncStep1Result, error)
	HandleSyncStep2(ctx context.Context, doc string, update []byte) error
	HandleUpdate(ctx context.Context, doc string, update []byte) error
	GetDocument(ctx context.Context, doc string) (*DocumentSnapshot, error)
	GetDocumentMetadata(ctx context.Context, doc string) (Metadata, error)
	Transaction(ctx context.Context, doc string, fn func(ctx context.Context) error) error
}

// MemoryStore is a reference in-memory DocumentStore. It does not implement
// real CRDT merge semantics: HandleUpdate simply appends to the document's
// recorded byte history and HandleSyncStep1 returns that history as a
// single opaque update, which is sufficient for exercising the session
// engine's control flow in tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*memDoc
}

type memDoc struct {
	updates [][]byte
	size    int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*memDoc)}
}

func (s *MemoryStore) get(doc string) *memDoc {
	d, ok := s.docs[doc]
	if !ok {
		d = &memDoc{}
		s.docs[doc] = d
	}
	return d
}

func concatUpdates(d *memDoc) []byte {
	var out []byte
	for _, u := range d.updates {
		out = append(out, u...)
	}
	return out
}

// HandleSyncStep1 returns the document's full accumulated update as the
// "diff" and an opaque state vector derived from the update count.
func (s *MemoryStore) HandleSyncStep1(ctx context.Context, doc string, sv []byte) (SyncStep1Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(doc)
	return SyncStep1Result{
		Update:      concatUpdates(d),
		StateVector: []byte{byte(len(d.updates))},
	}, nil
}

// HandleSyncStep2 applies a peer's update the same way HandleUpdate does.
func (s *MemoryStore) HandleSyncStep2(ctx context.Context, doc string, update []byte) error {
	return s.HandleUpdate(ctx, doc, update)
}

// HandleUpdate appends update to the document's history.
func (s *MemoryStore) HandleUpdate(ctx context.Context, doc string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(doc)
	d.updates = append(d.updates, update)
	d.size += int64(len(update))
	return nil
}

// GetDocument returns the document's accumulated content and metadata.
func (s *MemoryStore) GetDocument(ctx context.Context, doc string) (*DocumentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[doc]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &DocumentSnapshot{Content: concatUpdates(d), Metadata: Metadata{SizeBytes: d.size}}, nil
}

// GetDocumentMetadata returns the document's current size.
func (s *MemoryStore) GetDocumentMetadata(ctx context.Context, doc string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[doc]
	if !ok {
		return Metadata{}, nil
	}
	return Metadata{SizeBytes: d.size}, nil
}

// Transaction serializes fn against this store's single internal mutex,
// so concurrent transactions against the same document never interleave.
func (s *MemoryStore) Transaction(ctx context.Context, doc string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx)
}
