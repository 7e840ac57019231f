package merkle

import (
	"encoding/binary"
	"errors"
)

// rootSentinel marks the root's parent_index in the serialized form.
const rootSentinel uint32 = 0xFFFFFFFF

// Serialize encodes the tree as leaf_count (u32 LE) followed by, for each
// node in BFS order, its 32-byte hash and its parent_index (u32 LE,
// 0xFFFFFFFF for the root).
func (t *Tree) Serialize() []byte {
	out := make([]byte, 4+len(t.Nodes)*(HashSize+4))
	binary.LittleEndian.PutUint32(out[0:4], uint32(t.LeafCount))
	off := 4
	for _, n := range t.Nodes {
		copy(out[off:off+HashSize], n.Hash[:])
		off += HashSize
		parentIdx := rootSentinel
		if n.Parent != noSibling {
			parentIdx = uint32(n.Parent)
		}
		binary.LittleEndian.PutUint32(out[off:off+4], parentIdx)
		off += 4
	}
	return out
}

// Deserialize rebuilds a Tree from bytes produced by Serialize, reattaching
// each node to its parent's left (first-seen) or right (second-seen) slot.
// expectedLeafCount, if non-negative, must match the stored leaf_count or
// ErrLeafCountMismatch is returned.
func Deserialize(data []byte, expectedLeafCount int) (*Tree, error) {
	if len(data) < 4 {
		return nil, errors.New("merkle: truncated serialized tree")
	}
	leafCount := int(binary.LittleEndian.Uint32(data[0:4]))
	if expectedLeafCount >= 0 && leafCount != expectedLeafCount {
		return nil, ErrLeafCountMismatch
	}

	rest := data[4:]
	const stride = HashSize + 4
	if len(rest)%stride != 0 {
		return nil, errors.New("merkle: truncated serialized tree")
	}
	nodeCount := len(rest) / stride

	nodes := make([]Node, nodeCount)
	for i := 0; i < nodeCount; i++ {
		off := i * stride
		var h Hash
		copy(h[:], rest[off:off+HashSize])
		parentIdx := binary.LittleEndian.Uint32(rest[off+HashSize : off+stride])
		parent := noSibling
		if parentIdx != rootSentinel {
			parent = int(parentIdx)
		}
		nodes[i] = Node{Hash: h, Left: noSibling, Right: noSibling, Parent: parent}
	}

	for i, n := range nodes {
		if n.Parent == noSibling {
			continue
		}
		p := &nodes[n.Parent]
		if p.Left == noSibling {
			p.Left = i
		} else {
			p.Right = i
		}
	}
	// Odd self-paired nodes: left and right both point at the child once
	// attachment runs; when a parent only ever saw one child index twice
	// (self-pair), Left was set once and Right stays unset above. Recover
	// that case by mirroring Left into Right when a node's only child
	// attached itself as both operands.
	for i := range nodes {
		if nodes[i].Left != noSibling && nodes[i].Right == noSibling {
			if nodes[nodes[i].Left].Parent == i {
				nodes[i].Right = nodes[i].Left
			}
		}
	}

	return &Tree{Nodes: nodes, LeafCount: leafCount}, nil
}
