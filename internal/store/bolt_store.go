package store

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/collabhub/server/internal/crypto"
)

// BoltStore is a DocumentStore backed by BoltDB: a documents bucket keyed by
// namespaced document id, whose value is the document's accumulated update
// bytes. Like MemoryStore, it treats updates as opaque and concatenates
// them; a real CRDT backend would replace this with genuine merge
// semantics behind the same interface.
//
// A second bucket tracks each document's last-applied update by a BLAKE3
// content hash, entirely off the wire's SHA-256 Merkle/id path, so a
// redelivered update that slipped past the session's TTL dedup (e.g. a
// retried RPC replaying the exact same bytes after its dedup entry aged
// out) is still caught before it is appended twice.
type BoltStore struct {
	db *bolt.DB
}

var bucketDocs = []byte("documents")
var bucketLastHash = []byte("last_update_hash")

// OpenBoltStore opens (creating if necessary) a BoltDB-backed store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(bucketDocs); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(bucketLastHash)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error { return b.db.Close() }

func (b *BoltStore) read(doc string) ([]byte, bool) {
	var out []byte
	var found bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketDocs)
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(doc))
		if v != nil {
			out = append([]byte{}, v...)
			found = true
		}
		return nil
	})
	return out, found
}

func (b *BoltStore) append(doc string, update []byte) error {
	hash := crypto.ComputeBytesHashB64(update)
	return b.db.Update(func(tx *bolt.Tx) error {
		hashes := tx.Bucket(bucketLastHash)
		if hashes != nil {
			if string(hashes.Get([]byte(doc))) == hash {
				return nil
			}
		}

		bk := tx.Bucket(bucketDocs)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		existing := bk.Get([]byte(doc))
		merged := append(append([]byte{}, existing...), update...)
		if err := bk.Put([]byte(doc), merged); err != nil {
			return err
		}
		if hashes != nil {
			return hashes.Put([]byte(doc), []byte(hash))
		}
		return nil
	})
}

// HandleSyncStep1 returns the document's full accumulated update and a
// state vector derived from its byte length.
func (b *BoltStore) HandleSyncStep1(ctx context.Context, doc string, sv []byte) (SyncStep1Result, error) {
	content, _ := b.read(doc)
	stateVector := make([]byte, 8)
	binary.LittleEndian.PutUint64(stateVector, uint64(len(content)))
	return SyncStep1Result{Update: content, StateVector: stateVector}, nil
}

// HandleSyncStep2 applies a peer's update the same way HandleUpdate does.
func (b *BoltStore) HandleSyncStep2(ctx context.Context, doc string, update []byte) error {
	return b.HandleUpdate(ctx, doc, update)
}

// HandleUpdate appends update to the document's persisted history.
func (b *BoltStore) HandleUpdate(ctx context.Context, doc string, update []byte) error {
	return b.append(doc, update)
}

// GetDocument returns the document's accumulated content.
func (b *BoltStore) GetDocument(ctx context.Context, doc string) (*DocumentSnapshot, error) {
	content, ok := b.read(doc)
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &DocumentSnapshot{Content: content, Metadata: Metadata{SizeBytes: int64(len(content))}}, nil
}

// GetDocumentMetadata returns the document's current size.
func (b *BoltStore) GetDocumentMetadata(ctx context.Context, doc string) (Metadata, error) {
	content, _ := b.read(doc)
	return Metadata{SizeBytes: int64(len(content))}, nil
}

// Transaction runs fn; Bolt serializes writers per-database already, so no
// extra locking is needed beyond the transaction boundary fn itself defines.
func (b *BoltStore) Transaction(ctx context.Context, doc string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
