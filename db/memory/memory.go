// Package memory provides in-memory implementations of the database interfaces.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Bren2010/snaptree/db"
)

func dup(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// AccumulatorStore implements db.AccumulatorStore in memory. Writes are
// visible immediately and Commit only counts how many times it was called. All
// clones share the same data.
type AccumulatorStore struct {
	*shared
	ReadOnly bool
}

type shared struct {
	mu        sync.RWMutex
	state     []byte
	commits   int
	log       *LogStore
	snapshots *SnapshotStore
}

func NewAccumulatorStore() *AccumulatorStore {
	return &AccumulatorStore{shared: &shared{
		log:       NewLogStore(),
		snapshots: NewSnapshotStore(),
	}}
}

func (as *AccumulatorStore) Clone() db.AccumulatorStore {
	return &AccumulatorStore{shared: as.shared, ReadOnly: true}
}

func (as *AccumulatorStore) GetState() ([]byte, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return dup(as.state), nil
}

func (as *AccumulatorStore) SetState(raw []byte) error {
	if as.ReadOnly {
		return errors.New("store is readonly")
	} else if raw == nil {
		return errors.New("unable to store nil state")
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	as.state = dup(raw)
	return nil
}

func (as *AccumulatorStore) LogStore() db.LogStore           { return as.log }
func (as *AccumulatorStore) SnapshotStore() db.SnapshotStore { return as.snapshots }

func (as *AccumulatorStore) Commit() error {
	if as.ReadOnly {
		return errors.New("store is readonly")
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	as.commits++
	return nil
}

// Commits returns the number of times Commit has been called.
func (as *AccumulatorStore) Commits() int {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.commits
}

func (as *AccumulatorStore) Close() error { return nil }

type LogStore struct {
	mu   *sync.RWMutex
	Data map[uint64][]byte
}

func NewLogStore() *LogStore {
	return &LogStore{mu: &sync.RWMutex{}, Data: make(map[uint64][]byte)}
}

func (ls *LogStore) BatchGet(keys []uint64) (map[uint64][]byte, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	out := make(map[uint64][]byte)
	for _, key := range keys {
		if d, ok := ls.Data[key]; ok {
			out[key] = dup(d)
		}
	}
	return out, nil
}

func (ls *LogStore) Put(key uint64, value []byte) error {
	if value == nil {
		return errors.New("unable to store nil value")
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.Data[key] = dup(value)
	return nil
}

type SnapshotStore struct {
	mu   *sync.RWMutex
	Data map[string][]byte
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{mu: &sync.RWMutex{}, Data: make(map[string][]byte)}
}

func (ss *SnapshotStore) Get(root []byte) ([]byte, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return dup(ss.Data[fmt.Sprintf("%x", root)]), nil
}

func (ss *SnapshotStore) Put(root []byte, value []byte) error {
	if value == nil {
		return errors.New("unable to store nil snapshot")
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.Data[fmt.Sprintf("%x", root)] = dup(value)
	return nil
}
