package merkle

import (
	"bytes"
	"testing"
)

func makeChunks(n int, size int) [][]byte {
	chunks := make([][]byte, n)
	for i := range chunks {
		c := make([]byte, size)
		for j := range c {
			c[j] = byte((i*size + j) % 251)
		}
		chunks[i] = c
	}
	return chunks
}

func TestProofVerifiesAndDetectsTamper(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 17, 100, 1000} {
		chunks := makeChunks(n, 32)
		tree := Build(chunks)
		for i := 0; i < n; i++ {
			proof, err := tree.Proof(i)
			if err != nil {
				t.Fatalf("n=%d i=%d proof error: %v", n, i, err)
			}
			if !Verify(chunks[i], proof, tree.Root(), i) {
				t.Fatalf("n=%d i=%d expected proof to verify", n, i)
			}
			tampered := append([]byte{}, chunks[i]...)
			tampered[0] ^= 0xFF
			if Verify(tampered, proof, tree.Root(), i) {
				t.Fatalf("n=%d i=%d expected tampered chunk to fail verification", n, i)
			}
		}
	}
}

func TestSingleChunkTree(t *testing.T) {
	tree := Build([][]byte{{1, 2, 3}})
	if len(tree.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(tree.Nodes))
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if len(proof) != 0 {
		t.Fatalf("expected empty proof, got %d entries", len(proof))
	}
}

func TestZeroByteFileYieldsOneLeaf(t *testing.T) {
	tree := Build(nil)
	if len(tree.Nodes) != 1 || tree.LeafCount != 1 {
		t.Fatalf("expected single empty leaf, got %+v", tree)
	}
	root := tree.Root()
	var zero Hash
	if root == zero {
		t.Fatalf("expected non-zero hash for empty chunk")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	chunks := makeChunks(5, 16)
	tree := Build(chunks)
	data := tree.Serialize()
	restored, err := Deserialize(data, tree.LeafCount)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.LeafCount != tree.LeafCount {
		t.Fatalf("leaf count mismatch: %d != %d", restored.LeafCount, tree.LeafCount)
	}
	if len(restored.Nodes) != len(tree.Nodes) {
		t.Fatalf("node count mismatch: %d != %d", len(restored.Nodes), len(tree.Nodes))
	}
	if restored.Root() != tree.Root() {
		t.Fatalf("root mismatch after round trip")
	}
	for i := 0; i < tree.LeafCount; i++ {
		proof, err := restored.Proof(i)
		if err != nil {
			t.Fatalf("restored proof %d: %v", i, err)
		}
		if !Verify(chunks[i], proof, restored.Root(), i) {
			t.Fatalf("restored proof %d failed to verify", i)
		}
	}
}

func TestDeserializeLeafCountMismatch(t *testing.T) {
	tree := Build(makeChunks(3, 8))
	data := tree.Serialize()
	if _, err := Deserialize(data, 99); err != ErrLeafCountMismatch {
		t.Fatalf("expected ErrLeafCountMismatch, got %v", err)
	}
}

func TestStreamingBuilderMatchesBatch(t *testing.T) {
	chunks := makeChunks(13, 64)
	batch := Build(chunks)

	sb := NewStreamingBuilder(len(chunks))
	for i, c := range chunks {
		sb.AddChunk(i, c)
	}
	if !sb.Done() {
		t.Fatalf("expected streaming builder to be done")
	}
	if sb.Root() != batch.Root() {
		t.Fatalf("streaming root %x != batch root %x", sb.Root(), batch.Root())
	}
}

func TestStreamingBuilderCanGenerateProofEarly(t *testing.T) {
	chunks := makeChunks(4, 16)
	sb := NewStreamingBuilder(len(chunks))

	sb.AddChunk(0, chunks[0])
	if sb.CanGenerateProof(0) {
		t.Fatalf("leaf 0's proof should not be ready before its sibling is filled")
	}
	sb.AddChunk(1, chunks[1])
	if sb.CanGenerateProof(0) {
		t.Fatalf("leaf 0's proof should not be ready while the sibling subtree over leaves 2 and 3 has no hash")
	}

	sb.AddChunk(2, chunks[2])
	sb.AddChunk(3, chunks[3])

	batch := Build(chunks)
	proof := sb.Proof(0)
	if !bytes.Equal(hashesToBytes(proof), hashesToBytes(mustProof(t, batch, 0))) {
		t.Fatalf("streaming proof diverged from batch proof")
	}
}

func mustProof(t *testing.T, tree *Tree, i int) []Hash {
	t.Helper()
	p, err := tree.Proof(i)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	return p
}

func hashesToBytes(hs []Hash) []byte {
	out := make([]byte, 0, len(hs)*HashSize)
	for _, h := range hs {
		out = append(out, h[:]...)
	}
	return out
}
