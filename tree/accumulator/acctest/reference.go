// Package acctest implements a straightforward, recursive model of the tree an
// accumulator builds. It is slow and stores every leaf, which makes it useful
// for double-checking the incremental implementation in tests.
package acctest

import (
	"crypto/rand"
	"math/bits"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/tree/accumulator"
)

// Reference holds every leaf value that has been added to it.
type Reference struct {
	cs     suites.CipherSuite
	leaves []accumulator.Hash
}

func NewReference(cs suites.CipherSuite) *Reference {
	return &Reference{cs: cs}
}

func (r *Reference) Add(value []byte) {
	r.leaves = append(r.leaves, accumulator.LeafHash(r.cs, value))
}

// height returns the number of levels between the leaves and the root of a
// tree with n leaves.
func height(n uint64) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(n - 1)
}

// node returns the hash of the node at the given level and index of a tree
// with n leaves, and whether that node exists.
func (r *Reference) node(n uint64, level int, index uint64) (accumulator.Hash, bool) {
	if index<<uint(level) >= n {
		return accumulator.Hash{}, false
	} else if level == 0 {
		return r.leaves[index], true
	}
	left, _ := r.node(n, level-1, 2*index)
	right, ok := r.node(n, level-1, 2*index+1)
	if !ok {
		return accumulator.HashNode(r.cs, left), true
	}
	return accumulator.HashPair(r.cs, left, right), true
}

// Root returns the root of the tree made of the first n leaves.
func (r *Reference) Root(n uint64) accumulator.Hash {
	if n == 0 || n > uint64(len(r.leaves)) {
		panic("requested root of a tree that does not exist")
	}
	root, _ := r.node(n, height(n), 0)
	return root
}

// Proof returns the inclusion proof for leaf x in the tree made of the first n
// leaves.
func (r *Reference) Proof(x, n uint64) accumulator.Proof {
	if x >= n || n > uint64(len(r.leaves)) {
		panic("requested proof for a leaf that does not exist")
	}
	proof := make(accumulator.Proof, 0)
	for level := 0; level < height(n); level++ {
		sibling, ok := r.node(n, level, (x>>uint(level))^1)
		if ok {
			proof = append(proof, &sibling)
		} else {
			proof = append(proof, nil)
		}
	}
	return proof
}

// Random returns a random 32-byte value.
func Random() []byte {
	out := make([]byte, 32)
	if _, err := rand.Read(out); err != nil {
		panic(err)
	}
	return out
}
