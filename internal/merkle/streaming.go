package merkle

// StreamingBuilder is an allocate-once skeletal tree that chunks can be fed
// into one at a time as they are produced, without buffering the whole
// file. It mirrors Build's fixed BFS layout for a known leaf count so
// add_chunk only ever fills in hashes, never reshapes the structure.
type StreamingBuilder struct {
	nodes     []Node
	filled    []bool
	leafCount int
}

// NewStreamingBuilder pre-allocates the full node skeleton for a file with
// leafCount chunks.
func NewStreamingBuilder(leafCount int) *StreamingBuilder {
	if leafCount == 0 {
		leafCount = 1
	}

	nodes := make([]Node, 0, 2*leafCount)
	for i := 0; i < leafCount; i++ {
		nodes = append(nodes, Node{Left: noSibling, Right: noSibling, Parent: noSibling})
	}

	levelStart := 0
	levelLen := leafCount
	for levelLen > 1 {
		nextLevelStart := len(nodes)
		for i := 0; i < levelLen; i += 2 {
			leftIdx := levelStart + i
			var rightIdx int
			if i+1 < levelLen {
				rightIdx = levelStart + i + 1
			} else {
				rightIdx = leftIdx
			}
			parentIdx := len(nodes)
			nodes = append(nodes, Node{Left: leftIdx, Right: rightIdx, Parent: noSibling})
			nodes[leftIdx].Parent = parentIdx
			nodes[rightIdx].Parent = parentIdx
		}
		levelStart = nextLevelStart
		levelLen = (levelLen + 1) / 2
	}

	return &StreamingBuilder{nodes: nodes, filled: make([]bool, len(nodes)), leafCount: leafCount}
}

// AddChunk fills leaf i's hash and lazily propagates parent hashes upward
// for every ancestor whose children are now all present.
func (b *StreamingBuilder) AddChunk(i int, chunk []byte) {
	b.nodes[i].Hash = hashLeaf(chunk)
	b.filled[i] = true
	b.propagate(i)
}

func (b *StreamingBuilder) propagate(i int) {
	parent := b.nodes[i].Parent
	for parent != noSibling {
		p := b.nodes[parent]
		if !b.filled[p.Left] || !b.filled[p.Right] {
			return
		}
		b.nodes[parent].Hash = hashPair(b.nodes[p.Left].Hash, b.nodes[p.Right].Hash)
		b.filled[parent] = true
		parent = b.nodes[parent].Parent
	}
}

// CanGenerateProof reports whether every sibling on leaf i's path to the
// root currently has a hash, i.e. whether Proof(i) would succeed without
// waiting for chunks further downstream.
func (b *StreamingBuilder) CanGenerateProof(i int) bool {
	if !b.filled[i] {
		return false
	}
	idx := i
	for b.nodes[idx].Parent != noSibling {
		parent := b.nodes[b.nodes[idx].Parent]
		sibling := parent.Right
		if parent.Left != idx {
			sibling = parent.Left
		}
		if !b.filled[sibling] {
			return false
		}
		idx = b.nodes[idx].Parent
	}
	return true
}

// Proof returns the sibling hashes for leaf i, as Tree.Proof would once the
// whole tree is built. Call only when CanGenerateProof(i) is true.
func (b *StreamingBuilder) Proof(i int) []Hash {
	var proof []Hash
	idx := i
	for b.nodes[idx].Parent != noSibling {
		parent := b.nodes[b.nodes[idx].Parent]
		sibling := parent.Right
		if parent.Left != idx {
			sibling = parent.Left
		}
		proof = append(proof, b.nodes[sibling].Hash)
		idx = b.nodes[idx].Parent
	}
	return proof
}

// Root returns the current root hash; only meaningful once every chunk has
// been added.
func (b *StreamingBuilder) Root() Hash {
	return b.nodes[len(b.nodes)-1].Hash
}

// Done reports whether every node in the tree has been filled.
func (b *StreamingBuilder) Done() bool {
	for _, f := range b.filled {
		if !f {
			return false
		}
	}
	return true
}
