// Package replica rebuilds the topology of an accumulator from the ordered
// stream of leaves inserted into it, keeps a snapshot of that topology for
// every root the accumulator has had, and generates inclusion proofs against
// any of those roots.
package replica

import (
	"fmt"
	"sync"

	"github.com/op/go-logging"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/tree/accumulator"
)

var log = logging.MustGetLogger("replica")

// recorder implements accumulator.Recorder by writing each combine step into a
// new version of the tree.
type recorder struct {
	tree *Tree
}

func (r *recorder) Paired(left, right, parent accumulator.Hash) {
	r.tree = r.tree.
		Set(left, Node{Parent: parent, Sibling: &right}).
		Set(right, Node{Parent: parent, Sibling: &left})
}

func (r *recorder) Promoted(child, parent accumulator.Hash) {
	r.tree = r.tree.Set(child, Node{Parent: parent})
}

// Graph is the replica's mirror of an accumulator. It replays the same
// insertions, in the same order, while recording each node's parent and
// sibling. A node's entry is overwritten whenever a later insertion pairs it
// again, so the live graph only describes the latest root; older roots are
// served from the snapshots saved after each insertion.
//
// Replay must be called by a single goroutine, in insertion order. All other
// methods are safe to call concurrently with it.
type Graph struct {
	cs        suites.CipherSuite
	snapshots SnapshotStore

	mu    sync.RWMutex
	state accumulator.State
	live  *Tree
	index map[accumulator.Hash]uint64
}

// NewGraph returns an empty graph that saves a snapshot into the given store
// after every insertion.
func NewGraph(cs suites.CipherSuite, snapshots SnapshotStore) *Graph {
	return &Graph{
		cs:        cs,
		snapshots: snapshots,

		live:  NewTree(),
		index: make(map[accumulator.Hash]uint64),
	}
}

// Replay applies the insertion of the given leaf hash to the graph, saves a
// snapshot of the result, and returns the new root. If saving the snapshot
// fails, the graph is left unchanged.
func (g *Graph) Replay(leaf accumulator.Hash) (accumulator.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := &recorder{tree: g.live}
	next, root, err := accumulator.InsertHash(g.cs, g.state, leaf, rec)
	if err != nil {
		return accumulator.Hash{}, err
	}
	if err := g.snapshots.Save(root, rec.tree); err != nil {
		return accumulator.Hash{}, fmt.Errorf("failed to save snapshot: %w", err)
	}

	position := g.state.Count
	g.state = next
	g.live = rec.tree
	g.index[leaf] = position
	log.Debugf("Replayed leaf %v at position %v, root is now %v", leaf, position, root)

	return root, nil
}

// ReplayAll replays every leaf in order and returns the final root.
func (g *Graph) ReplayAll(leaves []accumulator.Hash) (root accumulator.Hash, err error) {
	for _, leaf := range leaves {
		if root, err = g.Replay(leaf); err != nil {
			return accumulator.Hash{}, err
		}
	}
	return root, nil
}

// Position returns the zero-based insertion position of value. If the same
// value was inserted more than once, the most recent position is returned.
func (g *Graph) Position(value []byte) (uint64, error) {
	return g.LeafPosition(accumulator.LeafHash(g.cs, value))
}

// LeafPosition returns the insertion position of an already-hashed leaf.
func (g *Graph) LeafPosition(leaf accumulator.Hash) (uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	position, ok := g.index[leaf]
	if !ok {
		return 0, ErrLeafUnknown
	}
	return position, nil
}

// State returns the accumulator state the graph has reached.
func (g *Graph) State() accumulator.State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Clone()
}

// Live returns the current version of the node graph.
func (g *Graph) Live() *Tree {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.live
}
