// Package ledger hosts an accumulator: it persists the accumulator's state,
// appends every inserted leaf to a durable event log, and drives a replica
// from that log so that inclusion proofs can be served for any past root.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/op/go-logging"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/db"
	"github.com/Bren2010/snaptree/tree/accumulator"
	"github.com/Bren2010/snaptree/tree/replica"
)

var log = logging.MustGetLogger("ledger")

// ErrSuiteMismatch is returned by Open when the database was written with a
// different cipher suite than the one given.
var ErrSuiteMismatch = errors.New("database was written with a different hash suite")

// replayBatchSize is the number of log entries read at once when rebuilding
// the replica.
const replayBatchSize = 1024

// InsertResult describes the outcome of a successful insertion.
type InsertResult struct {
	Root     accumulator.Hash `json:"root"`
	Leaf     accumulator.Hash `json:"leaf"`
	Position uint64           `json:"position"`
}

// Tree is an accumulator together with its event log and replica. Insert may
// be called from multiple goroutines but insertions are applied one at a time;
// all other methods only read and may run concurrently with an insertion.
type Tree struct {
	cs     suites.CipherSuite
	tx     db.AccumulatorStore
	graph  *replica.Graph
	prover *replica.Prover

	mu     sync.RWMutex
	state  accumulator.State
	broken error
}

// stateRecord is the persisted form of the ledger's state: the accumulator
// state, tagged with the cipher suite that produced it.
type stateRecord struct {
	_     struct{} `cbor:",toarray"`
	Suite uint16
	State []byte
}

func marshalState(cs suites.CipherSuite, state accumulator.State) ([]byte, error) {
	raw, err := state.Marshal()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(stateRecord{Suite: cs.Id(), State: raw})
}

// unmarshalState parses the ledger's state and checks that it was written
// with cs. An empty input is the state of a new ledger.
func unmarshalState(cs suites.CipherSuite, raw []byte) (accumulator.State, error) {
	if len(raw) == 0 {
		return accumulator.State{}, nil
	}
	var rec stateRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return accumulator.State{}, fmt.Errorf("failed to parse ledger state: %w", err)
	}
	if rec.Suite != cs.Id() {
		name := fmt.Sprintf("suite %#x", rec.Suite)
		if stored, err := suites.FromId(rec.Suite); err == nil {
			name = stored.Name()
		}
		return accumulator.State{}, fmt.Errorf("%w: database uses %v, configured suite is %v",
			ErrSuiteMismatch, name, cs.Name())
	}
	return accumulator.UnmarshalState(rec.State)
}

// Open loads the accumulator state from tx and rebuilds the replica by
// replaying the event log into a graph that saves to the given snapshot store.
func Open(cs suites.CipherSuite, tx db.AccumulatorStore, snapshots replica.SnapshotStore) (*Tree, error) {
	if err := accumulator.CheckSuite(cs); err != nil {
		return nil, err
	}
	raw, err := tx.GetState()
	if err != nil {
		return nil, err
	}
	state, err := unmarshalState(cs, raw)
	if err != nil {
		return nil, err
	}

	graph := replica.NewGraph(cs, snapshots)
	if err := replay(graph, tx.LogStore(), state.Count); err != nil {
		return nil, err
	}
	if replayed := graph.State(); replayed.Count != state.Count ||
		(state.Root != nil && *replayed.Root != *state.Root) {
		return nil, errors.New("event log does not match accumulator state")
	}
	if state.Count > 0 {
		log.Infof("Rebuilt replica from %v events, root is %v", state.Count, *state.Root)
	}

	return &Tree{
		cs:     cs,
		tx:     tx,
		graph:  graph,
		prover: replica.NewProver(cs, snapshots, graph),

		state: state,
	}, nil
}

// replay feeds the first n entries of the event log into graph, in order.
func replay(graph *replica.Graph, ls db.LogStore, n uint64) error {
	for start := uint64(0); start < n; start += replayBatchSize {
		end := start + replayBatchSize
		if end > n {
			end = n
		}
		keys := make([]uint64, 0, end-start)
		for i := start; i < end; i++ {
			keys = append(keys, i)
		}
		entries, err := ls.BatchGet(keys)
		if err != nil {
			return err
		}
		for _, key := range keys {
			raw, ok := entries[key]
			if !ok {
				return fmt.Errorf("event log is missing entry %v", key)
			}
			leaf, err := accumulator.HashFromBytes(raw)
			if err != nil {
				return fmt.Errorf("event log entry %v: %w", key, err)
			}
			if _, err := graph.Replay(leaf); err != nil {
				return err
			}
		}
	}
	return nil
}

// Insert adds value to the accumulator, records it in the event log and the
// replica, and commits the result.
func (t *Tree) Insert(value []byte) (*InsertResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken != nil {
		return nil, fmt.Errorf("tree must be reopened: %w", t.broken)
	}

	next, root, leaf, err := accumulator.Insert(t.cs, t.state, value)
	if err != nil {
		return nil, err
	}
	replayed, err := t.graph.Replay(leaf)
	if err != nil {
		return nil, err
	}

	// The replica has moved on. If it disagrees with the accumulator, or the
	// new state can't be made durable, the tree refuses further writes.
	if replayed != root {
		t.broken = fmt.Errorf("replica diverged from accumulator at position %v", t.state.Count)
		log.Error(t.broken)
		return nil, t.broken
	}
	if err := t.commit(t.state.Count, leaf, next); err != nil {
		t.broken = err
		log.Errorf("Failed to commit insertion: %v", err)
		return nil, err
	}

	position := t.state.Count
	t.state = next
	log.Debugf("Inserted leaf %v at position %v, root is now %v", leaf, position, root)

	return &InsertResult{Root: root, Leaf: leaf, Position: position}, nil
}

func (t *Tree) commit(position uint64, leaf accumulator.Hash, next accumulator.State) error {
	raw, err := marshalState(t.cs, next)
	if err != nil {
		return err
	} else if err := t.tx.LogStore().Put(position, leaf[:]); err != nil {
		return err
	} else if err := t.tx.SetState(raw); err != nil {
		return err
	}
	return t.tx.Commit()
}

// State returns the current accumulator state.
func (t *Tree) State() accumulator.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// CipherSuite returns the cipher suite the tree hashes with.
func (t *Tree) CipherSuite() suites.CipherSuite { return t.cs }

// Prove returns an inclusion proof for value against the given root, which may
// be the current root or any earlier one, along with the value's position.
func (t *Tree) Prove(value []byte, root accumulator.Hash) (accumulator.Proof, uint64, error) {
	return t.prover.ProveAt(value, root)
}

// Position returns the insertion position of value.
func (t *Tree) Position(value []byte) (uint64, error) {
	return t.graph.Position(value)
}

// Verify checks an inclusion proof with the tree's cipher suite. It does not
// consult any state held by the tree.
func (t *Tree) Verify(proof accumulator.Proof, value []byte, position uint64, root accumulator.Hash) (bool, error) {
	return accumulator.VerifyInclusionProof(t.cs, proof, value, position, root)
}
