package replica

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Bren2010/snaptree/db"
	"github.com/Bren2010/snaptree/tree/accumulator"
)

// SnapshotStore holds the node graph as it was immediately after each
// insertion, keyed by the root that the insertion produced.
type SnapshotStore interface {
	// Save stores the tree that produced root. Saving the same root twice is
	// allowed; the first snapshot is kept.
	Save(root accumulator.Hash, tree *Tree) error
	// Load returns the tree that produced root, or ErrSnapshotNotFound.
	Load(root accumulator.Hash) (*Tree, error)
}

// MemorySnapshots implements SnapshotStore by keeping a reference to each
// version of the graph. Versions share structure, so each snapshot only costs
// the nodes that its insertion wrote.
type MemorySnapshots struct {
	mu    sync.RWMutex
	trees map[accumulator.Hash]*Tree
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{trees: make(map[accumulator.Hash]*Tree)}
}

func (ms *MemorySnapshots) Save(root accumulator.Hash, tree *Tree) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.trees[root]; !ok {
		ms.trees[root] = tree
	}
	return nil
}

func (ms *MemorySnapshots) Load(root accumulator.Hash) (*Tree, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	tree, ok := ms.trees[root]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return tree, nil
}

// Len returns the number of snapshots held.
func (ms *MemorySnapshots) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.trees)
}

// nodeRecord is the persisted form of a single entry of a Tree.
type nodeRecord struct {
	_       struct{} `cbor:",toarray"`
	Hash    []byte
	Parent  []byte
	Sibling []byte
}

// MarshalTree returns the serialized form of a tree: the full list of entries,
// sorted by hash, encoded with CBOR and compressed with snappy. Equal trees
// always serialize to the same bytes.
func MarshalTree(tree *Tree) ([]byte, error) {
	records := make([]nodeRecord, 0, tree.Len())
	tree.Range(func(h accumulator.Hash, n Node) bool {
		rec := nodeRecord{Hash: dupHash(h), Parent: dupHash(n.Parent)}
		if n.Sibling != nil {
			rec.Sibling = dupHash(*n.Sibling)
		}
		records = append(records, rec)
		return true
	})
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].Hash, records[j].Hash) < 0
	})

	raw, err := cbor.Marshal(records)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func dupHash(h accumulator.Hash) []byte {
	out := make([]byte, accumulator.HashSize)
	copy(out, h[:])
	return out
}

// UnmarshalTree parses the output of MarshalTree.
func UnmarshalTree(data []byte) (*Tree, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	var records []nodeRecord
	if err := cbor.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	tree := NewTree()
	for _, rec := range records {
		h, err := accumulator.HashFromBytes(rec.Hash)
		if err != nil {
			return nil, err
		}
		parent, err := accumulator.HashFromBytes(rec.Parent)
		if err != nil {
			return nil, err
		}
		n := Node{Parent: parent}
		if len(rec.Sibling) != 0 {
			sibling, err := accumulator.HashFromBytes(rec.Sibling)
			if err != nil {
				return nil, err
			}
			n.Sibling = &sibling
		}
		tree = tree.Set(h, n)
	}
	return tree, nil
}

// KVSnapshots implements SnapshotStore on top of a database. Each snapshot is
// written as a single record holding the full graph, so any snapshot can be
// loaded without reading any other. Recently loaded snapshots are cached.
type KVSnapshots struct {
	store db.SnapshotStore
	cache *lru.Cache[accumulator.Hash, *Tree]
}

// NewKVSnapshots returns a SnapshotStore that reads and writes through the
// given database store, caching up to cacheSize parsed snapshots.
func NewKVSnapshots(store db.SnapshotStore, cacheSize int) (*KVSnapshots, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[accumulator.Hash, *Tree](cacheSize)
	if err != nil {
		return nil, err
	}
	return &KVSnapshots{store: store, cache: cache}, nil
}

func (ks *KVSnapshots) Save(root accumulator.Hash, tree *Tree) error {
	existing, err := ks.store.Get(root[:])
	if err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	raw, err := MarshalTree(tree)
	if err != nil {
		return err
	} else if err := ks.store.Put(root[:], raw); err != nil {
		return err
	}
	ks.cache.Add(root, tree)
	return nil
}

func (ks *KVSnapshots) Load(root accumulator.Hash) (*Tree, error) {
	if tree, ok := ks.cache.Get(root); ok {
		return tree, nil
	}
	raw, err := ks.store.Get(root[:])
	if err != nil {
		return nil, err
	} else if raw == nil {
		return nil, ErrSnapshotNotFound
	}
	tree, err := UnmarshalTree(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %v: %w", root, err)
	}
	ks.cache.Add(root, tree)
	return tree, nil
}
