package replica

import (
	"encoding/binary"

	"github.com/benbjohnson/immutable"

	"github.com/Bren2010/snaptree/tree/accumulator"
)

// Node records how a node was combined into its parent. A nil Sibling means the
// node had no partner at its level and was promoted by hashing it alone.
type Node struct {
	Parent  accumulator.Hash
	Sibling *accumulator.Hash
}

// hasher implements immutable.Hasher for hashes. Keys are already the output
// of a cryptographic hash, so their first bytes are uniformly distributed.
type hasher struct{}

func (hasher) Hash(key accumulator.Hash) uint32 { return binary.BigEndian.Uint32(key[:4]) }
func (hasher) Equal(a, b accumulator.Hash) bool { return a == b }

// Tree is an immutable mapping from each node's hash to its Node entry. Setting
// an entry returns a new Tree that shares structure with the old one, so
// holding on to a Tree is enough to freeze the graph at that point in time.
type Tree struct {
	nodes *immutable.Map[accumulator.Hash, Node]
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: immutable.NewMap[accumulator.Hash, Node](hasher{})}
}

// Get returns the entry for the given node.
func (t *Tree) Get(h accumulator.Hash) (Node, bool) {
	return t.nodes.Get(h)
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int { return t.nodes.Len() }

// Set returns a copy of the tree with the entry for h replaced.
func (t *Tree) Set(h accumulator.Hash, n Node) *Tree {
	return &Tree{nodes: t.nodes.Set(h, n)}
}

// Range calls f for every entry in the tree, in no particular order, until f
// returns false.
func (t *Tree) Range(f func(h accumulator.Hash, n Node) bool) {
	itr := t.nodes.Iterator()
	for !itr.Done() {
		h, n, ok := itr.Next()
		if !ok || !f(h, n) {
			return
		}
	}
}
