package dedup

import (
	"testing"
	"time"
)

func TestShouldAcceptOncePerTTL(t *testing.T) {
	s := New(50*time.Millisecond, 0)

	if !s.ShouldAccept("doc1", "m1") {
		t.Fatalf("expected first observation to be accepted")
	}
	if s.ShouldAccept("doc1", "m1") {
		t.Fatalf("expected second observation within TTL to be rejected")
	}

	time.Sleep(80 * time.Millisecond)
	if !s.ShouldAccept("doc1", "m1") {
		t.Fatalf("expected observation after TTL expiry to be accepted again")
	}
}

func TestDistinctDocumentsDoNotCollide(t *testing.T) {
	s := New(time.Minute, 0)
	if !s.ShouldAccept("docA", "m1") || !s.ShouldAccept("docB", "m1") {
		t.Fatalf("same message id under different documents must both be accepted")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := New(time.Hour, 2)
	s.ShouldAccept("d", "a")
	s.ShouldAccept("d", "b")
	// "a" should now be evicted to make room for "c".
	s.ShouldAccept("d", "c")

	if s.Len() != 2 {
		t.Fatalf("expected capacity to cap entries at 2, got %d", s.Len())
	}
	if !s.ShouldAccept("d", "a") {
		t.Fatalf("expected evicted key to be re-accepted")
	}
}
