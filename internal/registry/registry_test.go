package registry

import (
	"context"
	"testing"
	"time"

	"github.com/collabhub/server/internal/client"
	"github.com/collabhub/server/internal/pubsub"
	"github.com/collabhub/server/internal/session"
	"github.com/collabhub/server/internal/store"
)

type discardWriter struct{}

func (discardWriter) WriteMessage(ctx context.Context, frame []byte) error { return nil }

func newTestRegistry() *Registry {
	return New("node-a", pubsub.New(), func(documentID string) store.DocumentStore {
		return store.NewMemoryStore()
	}, WithSessionOptions(session.WithCleanupDelay(20*time.Millisecond)))
}

func TestGetOrCreateReturnsSameSessionForSameDocument(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	s1, err := r.GetOrCreate(ctx, "room/doc1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	s2, err := r.GetOrCreate(ctx, "room/doc1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected the same session instance for repeated calls")
	}

	if _, ok := r.Get("room/doc2"); ok {
		t.Fatalf("expected no session for an unrequested document")
	}
}

func TestDisposalViaTimerRemovesSessionFromRegistry(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	s, err := r.GetOrCreate(ctx, "room/doc1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	cl := client.New("c1", discardWriter{})
	s.AddClient(cl)
	s.RemoveClient(cl.ID)

	deadline := time.After(time.Second)
	for {
		if _, ok := r.Get("room/doc1"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session was never removed from the registry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if r.Stats().SessionCount != 0 {
		t.Fatalf("expected zero sessions after disposal, got %d", r.Stats().SessionCount)
	}
}

func TestStatsAggregatesClientCounts(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	s1, err := r.GetOrCreate(ctx, "room/doc1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	s2, err := r.GetOrCreate(ctx, "room/doc2")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	c1 := client.New("c1", discardWriter{})
	c2 := client.New("c2", discardWriter{})
	c3 := client.New("c3", discardWriter{})
	defer c1.Destroy()
	defer c2.Destroy()
	defer c3.Destroy()
	s1.AddClient(c1)
	s1.AddClient(c2)
	s2.AddClient(c3)

	stats := r.Stats()
	if stats.SessionCount != 2 {
		t.Fatalf("expected 2 sessions, got %d", stats.SessionCount)
	}
	if stats.ClientCount != 3 {
		t.Fatalf("expected 3 total clients, got %d", stats.ClientCount)
	}
}

func TestDestroyDisposesAllSessionsAndClosesRegistry(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if _, err := r.GetOrCreate(ctx, "room/doc1"); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, err := r.GetOrCreate(ctx, "room/doc2"); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	if errs := r.Destroy(ctx); len(errs) != 0 {
		t.Fatalf("expected no errors destroying sessions, got %v", errs)
	}
	if r.Stats().SessionCount != 0 {
		t.Fatalf("expected zero sessions after destroy")
	}

	if _, err := r.GetOrCreate(ctx, "room/doc3"); err != ErrClosed {
		t.Fatalf("expected ErrClosed after destroy, got %v", err)
	}
}
