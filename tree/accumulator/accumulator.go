// Package accumulator implements an append-only Merkle accumulator that keeps
// only a root, a leaf count, and a frontier of pending subtrees, along with
// verification of the inclusion proofs produced for it.
package accumulator

import (
	"github.com/Bren2010/snaptree/crypto/suites"
)

// Accumulator is a stateful wrapper around Insert. It is not safe for
// concurrent use: insertions must be applied one at a time, in order.
type Accumulator struct {
	cs    suites.CipherSuite
	state State
}

// New returns an accumulator that starts from the given state.
func New(cs suites.CipherSuite, state State) (*Accumulator, error) {
	if err := CheckSuite(cs); err != nil {
		return nil, err
	} else if err := state.Validate(); err != nil {
		return nil, err
	}
	return &Accumulator{cs: cs, state: state.Clone()}, nil
}

// Insert adds value to the accumulator and returns the new root.
func (a *Accumulator) Insert(value []byte) (Hash, error) {
	root, _, err := a.InsertLeaf(value)
	return root, err
}

// InsertLeaf adds value to the accumulator and returns the new root along with
// the hash of the leaf, which is the event that replicas consume.
func (a *Accumulator) InsertLeaf(value []byte) (root, leaf Hash, err error) {
	next, root, leaf, err := Insert(a.cs, a.state, value)
	if err != nil {
		return Hash{}, Hash{}, err
	}
	a.state = next
	return root, leaf, nil
}

// State returns a copy of the accumulator's current state.
func (a *Accumulator) State() State { return a.state.Clone() }

// Root returns the current root, or nil if nothing has been inserted.
func (a *Accumulator) Root() *Hash {
	if a.state.Root == nil {
		return nil
	}
	return a.state.Root.ptr()
}

// Count returns the number of leaves inserted so far.
func (a *Accumulator) Count() uint64 { return a.state.Count }

// CipherSuite returns the cipher suite the accumulator hashes with.
func (a *Accumulator) CipherSuite() suites.CipherSuite { return a.cs }
