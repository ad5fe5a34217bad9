package replica

import (
	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/tree/accumulator"
)

// PositionIndex maps a leaf value to the position it was inserted at. It is
// implemented by Graph.
type PositionIndex interface {
	Position(value []byte) (uint64, error)
}

// Prover generates inclusion proofs from saved snapshots. It only reads from
// the snapshot store, so it is safe for concurrent use.
type Prover struct {
	cs        suites.CipherSuite
	snapshots SnapshotStore
	index     PositionIndex
}

// NewProver returns a prover that reads snapshots from the given store. The
// index is only needed by ProveAt and may be nil.
func NewProver(cs suites.CipherSuite, snapshots SnapshotStore, index PositionIndex) *Prover {
	return &Prover{cs: cs, snapshots: snapshots, index: index}
}

// Prove returns an inclusion proof for value in the tree with the given root.
// The root may be any root the accumulator has ever had.
func (p *Prover) Prove(value []byte, root accumulator.Hash) (accumulator.Proof, error) {
	leaf := accumulator.LeafHash(p.cs, value)
	proof := make(accumulator.Proof, 0)
	if leaf == root {
		// A tree of exactly one leaf.
		return proof, nil
	}

	tree, err := p.snapshots.Load(root)
	if err != nil {
		return nil, err
	}

	cursor := leaf
	for len(proof) < accumulator.MaxProofLength {
		node, ok := tree.Get(cursor)
		if !ok {
			return nil, ErrProofNotFound
		}
		if node.Sibling != nil {
			sibling := *node.Sibling
			proof = append(proof, &sibling)
		} else {
			proof = append(proof, nil)
		}
		if node.Parent == root {
			return proof, nil
		}
		cursor = node.Parent
	}
	return nil, ErrProofNotFound
}

// ProveAt is like Prove, but also returns the position of value as recorded by
// the prover's index. The position is needed to verify the proof.
func (p *Prover) ProveAt(value []byte, root accumulator.Hash) (accumulator.Proof, uint64, error) {
	if p.index == nil {
		return nil, 0, ErrLeafUnknown
	}
	position, err := p.index.Position(value)
	if err != nil {
		return nil, 0, err
	}
	proof, err := p.Prove(value, root)
	if err != nil {
		return nil, 0, err
	}
	return proof, position, nil
}
