package replica

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/db/memory"
	"github.com/Bren2010/snaptree/tree/accumulator"
	"github.com/Bren2010/snaptree/tree/accumulator/acctest"
)

func snapshotStores(t *testing.T) map[string]func() SnapshotStore {
	return map[string]func() SnapshotStore{
		"memory": func() SnapshotStore { return NewMemorySnapshots() },
		"kv": func() SnapshotStore {
			ks, err := NewKVSnapshots(memory.NewSnapshotStore(), 4)
			require.NoError(t, err)
			return ks
		},
	}
}

// fixture inserts values into an accumulator and a replica side by side.
type fixture struct {
	cs     suites.CipherSuite
	acc    *accumulator.Accumulator
	graph  *Graph
	prover *Prover
	ref    *acctest.Reference

	values [][]byte
	roots  []accumulator.Hash
}

func newFixture(t *testing.T, cs suites.CipherSuite, store SnapshotStore) *fixture {
	acc, err := accumulator.New(cs, accumulator.State{})
	require.NoError(t, err)
	graph := NewGraph(cs, store)
	return &fixture{
		cs:     cs,
		acc:    acc,
		graph:  graph,
		prover: NewProver(cs, store, graph),
		ref:    acctest.NewReference(cs),
	}
}

func (f *fixture) insert(t *testing.T, value []byte) accumulator.Hash {
	root, leaf, err := f.acc.InsertLeaf(value)
	require.NoError(t, err)
	replayed, err := f.graph.Replay(leaf)
	require.NoError(t, err)
	require.Equal(t, root, replayed)

	f.ref.Add(value)
	f.values = append(f.values, value)
	f.roots = append(f.roots, root)
	return root
}

func (f *fixture) verify(t *testing.T, x, n int) accumulator.Proof {
	root := f.roots[n-1]
	proof, err := f.prover.Prove(f.values[x], root)
	require.NoError(t, err, "x=%v, n=%v", x, n)
	require.Equal(t, f.ref.Proof(uint64(x), uint64(n)), proof, "x=%v, n=%v", x, n)

	ok, err := accumulator.VerifyInclusionProof(f.cs, proof, f.values[x], uint64(x), root)
	require.NoError(t, err)
	require.True(t, ok, "x=%v, n=%v", x, n)
	return proof
}

func TestRoundTrip(t *testing.T) {
	for name, newStore := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, suites.Sha256{}, newStore())

			// Proofs generated right after each insertion must not change as
			// more values are inserted.
			early := make(map[string]accumulator.Proof)
			for i := 0; i < 70; i++ {
				f.insert(t, acctest.Random())
				n := i + 1
				for x := 0; x < n; x++ {
					early[fmt.Sprint(x, "/", n)] = f.verify(t, x, n)
				}
			}
			require.Equal(t, f.acc.State(), f.graph.State())

			for n := 1; n <= len(f.values); n++ {
				for x := 0; x < n; x++ {
					require.Equal(t, early[fmt.Sprint(x, "/", n)], f.verify(t, x, n))
				}
			}
		})
	}
}

func TestNonMembership(t *testing.T) {
	for name, newStore := range snapshotStores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, suites.Blake2b256{}, newStore())
			for i := 0; i < 20; i++ {
				f.insert(t, []byte(fmt.Sprintf("value-%v", i)))
			}

			for n := 1; n <= len(f.values); n++ {
				for x := n; x < len(f.values); x++ {
					_, err := f.prover.Prove(f.values[x], f.roots[n-1])
					require.ErrorIs(t, err, ErrProofNotFound, "x=%v, n=%v", x, n)
				}
				_, err := f.prover.Prove([]byte("never inserted"), f.roots[n-1])
				require.ErrorIs(t, err, ErrProofNotFound)
			}

			_, err := f.prover.Prove(f.values[0], accumulator.Hash{1, 2, 3})
			require.ErrorIs(t, err, ErrSnapshotNotFound)
		})
	}
}

func TestInteriorNodesAreNotLeaves(t *testing.T) {
	f := newFixture(t, suites.Sha256{}, NewMemorySnapshots())
	for _, value := range []string{"a", "b", "c"} {
		f.insert(t, []byte(value))
	}
	cs := f.cs
	a, b, c := accumulator.LeafHash(cs, []byte("a")), accumulator.LeafHash(cs, []byte("b")), accumulator.LeafHash(cs, []byte("c"))

	// The preimage of the root after two insertions.
	pair := append(append([]byte{}, a[:]...), b[:]...)
	_, err := f.prover.Prove(pair, f.roots[1])
	require.ErrorIs(t, err, ErrProofNotFound)
	ok, err := accumulator.VerifyInclusionProof(cs, accumulator.Proof{}, pair, 0, f.roots[1])
	require.NoError(t, err)
	require.False(t, ok)

	// The preimage of c's promoted parent.
	_, err = f.prover.Prove(c[:], f.roots[2])
	require.ErrorIs(t, err, ErrProofNotFound)
	ok, err = accumulator.VerifyInclusionProof(cs, accumulator.Proof{&f.roots[1]}, c[:], 1, f.roots[2])
	require.NoError(t, err)
	require.False(t, ok)

	// No node of any snapshot, alone or next to its sibling, proves as a value.
	for _, root := range f.roots {
		tree, err := f.graph.snapshots.Load(root)
		require.NoError(t, err)
		tree.Range(func(h accumulator.Hash, n Node) bool {
			candidates := [][]byte{h[:]}
			if n.Sibling != nil {
				candidates = append(candidates,
					append(append([]byte{}, h[:]...), n.Sibling[:]...),
					append(append([]byte{}, n.Sibling[:]...), h[:]...))
			}
			for _, value := range candidates {
				_, err := f.prover.Prove(value, root)
				require.ErrorIs(t, err, ErrProofNotFound)
			}
			return true
		})
	}
}

func TestHistoricalRoots(t *testing.T) {
	f := newFixture(t, suites.Sha256{}, NewMemorySnapshots())
	for _, value := range []string{"a", "b", "c", "d"} {
		f.insert(t, []byte(value))
	}
	a := []byte("a")
	rootC, rootD := f.roots[2], f.roots[3]

	proofC, err := f.prover.Prove(a, rootC)
	require.NoError(t, err)
	proofD, err := f.prover.Prove(a, rootD)
	require.NoError(t, err)
	require.NotEqual(t, proofC, proofD)

	for _, tc := range []struct {
		proof accumulator.Proof
		root  accumulator.Hash
	}{{proofC, rootC}, {proofD, rootD}} {
		ok, err := accumulator.VerifyInclusionProof(f.cs, tc.proof, a, 0, tc.root)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// The node for hash(a, b) was re-paired by the insertion of "d", so the
	// live graph no longer holds its parent at rootC, but the snapshot does.
	ab := accumulator.HashPair(f.cs, accumulator.LeafHash(f.cs, a), accumulator.LeafHash(f.cs, []byte("b")))
	live, ok := f.graph.Live().Get(ab)
	require.True(t, ok)
	require.Equal(t, rootD, live.Parent)

	snapshot, err := f.graph.snapshots.Load(rootC)
	require.NoError(t, err)
	old, ok := snapshot.Get(ab)
	require.True(t, ok)
	require.Equal(t, rootC, old.Parent)
}

func TestSingleLeaf(t *testing.T) {
	f := newFixture(t, suites.Sha256{}, NewMemorySnapshots())
	root := f.insert(t, []byte("only"))

	proof, err := f.prover.Prove([]byte("only"), root)
	require.NoError(t, err)
	require.Empty(t, proof)

	ok, err := accumulator.VerifyInclusionProof(f.cs, proof, []byte("only"), 0, root)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPosition(t *testing.T) {
	f := newFixture(t, suites.Sha256{}, NewMemorySnapshots())
	for _, value := range []string{"a", "b", "a", "c"} {
		f.insert(t, []byte(value))
	}

	position, err := f.graph.Position([]byte("b"))
	require.NoError(t, err)
	require.EqualValues(t, 1, position)

	// Duplicates resolve to the most recent insertion.
	position, err = f.graph.Position([]byte("a"))
	require.NoError(t, err)
	require.EqualValues(t, 2, position)

	_, err = f.graph.Position([]byte("z"))
	require.ErrorIs(t, err, ErrLeafUnknown)

	proof, position, err := f.prover.ProveAt([]byte("c"), f.roots[3])
	require.NoError(t, err)
	require.EqualValues(t, 3, position)
	ok, err := accumulator.VerifyInclusionProof(f.cs, proof, []byte("c"), position, f.roots[3])
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = f.prover.ProveAt([]byte("z"), f.roots[3])
	require.ErrorIs(t, err, ErrLeafUnknown)
	_, _, err = NewProver(f.cs, NewMemorySnapshots(), nil).ProveAt([]byte("c"), f.roots[3])
	require.ErrorIs(t, err, ErrLeafUnknown)
}

type failingSnapshots struct{ SnapshotStore }

func (failingSnapshots) Save(accumulator.Hash, *Tree) error { return errors.New("disk full") }

func TestReplayFailureLeavesGraphUnchanged(t *testing.T) {
	cs := suites.Sha256{}
	g := NewGraph(cs, NewMemorySnapshots())
	_, err := g.Replay(accumulator.LeafHash(cs, []byte("a")))
	require.NoError(t, err)
	before, live := g.State(), g.Live()

	g.snapshots = failingSnapshots{}
	_, err = g.Replay(accumulator.LeafHash(cs, []byte("b")))
	require.Error(t, err)
	require.Equal(t, before, g.State())
	require.Same(t, live, g.Live())
	_, err = g.Position([]byte("b"))
	require.ErrorIs(t, err, ErrLeafUnknown)
}

func TestMarshalTree(t *testing.T) {
	cs := suites.Sha256{}
	g := NewGraph(cs, NewMemorySnapshots())
	for i := 0; i < 25; i++ {
		_, err := g.ReplayAll([]accumulator.Hash{accumulator.LeafHash(cs, []byte{byte(i)})})
		require.NoError(t, err)
	}
	tree := g.Live()

	raw, err := MarshalTree(tree)
	require.NoError(t, err)
	again, err := MarshalTree(tree)
	require.NoError(t, err)
	require.Equal(t, raw, again)

	parsed, err := UnmarshalTree(raw)
	require.NoError(t, err)
	require.Equal(t, tree.Len(), parsed.Len())
	tree.Range(func(h accumulator.Hash, n Node) bool {
		got, ok := parsed.Get(h)
		require.True(t, ok)
		require.Equal(t, n, got)
		return true
	})

	_, err = UnmarshalTree([]byte("not a snapshot"))
	require.Error(t, err)
}

func TestKVSnapshotsSaveOnce(t *testing.T) {
	store := memory.NewSnapshotStore()
	ks, err := NewKVSnapshots(store, 2)
	require.NoError(t, err)

	root := accumulator.Hash{9}
	first := NewTree().Set(accumulator.Hash{1}, Node{Parent: root})
	require.NoError(t, ks.Save(root, first))
	require.NoError(t, ks.Save(root, NewTree()))

	// Read through a fresh store so the cache is not involved.
	fresh, err := NewKVSnapshots(store, 2)
	require.NoError(t, err)
	loaded, err := fresh.Load(root)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	_, err = fresh.Load(accumulator.Hash{8})
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}
