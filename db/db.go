// Package db implements database wrappers that match a common interface.
package db

// LogStore is the interface to the append-only log of leaf hashes, stored in
// the order they were inserted. It is the event stream that replicas replay.
type LogStore interface {
	BatchGet(keys []uint64) (data map[uint64][]byte, err error)
	Put(key uint64, data []byte) error
}

// SnapshotStore is the interface to the serialized snapshots of the replica's
// node graph, keyed by the root hash that each snapshot produced.
type SnapshotStore interface {
	// Get returns the snapshot stored for root, or nil if there is none.
	Get(root []byte) ([]byte, error)
	Put(root []byte, data []byte) error
}

// AccumulatorStore is the interface an accumulator and its replica use to
// communicate with their database.
type AccumulatorStore interface {
	// Clone returns a read-only clone of the current store, suitable for
	// distributing to child goroutines.
	Clone() AccumulatorStore

	// GetState returns the most recently committed accumulator state, or nil if
	// nothing has been committed yet.
	GetState() ([]byte, error)
	// SetState sets the input value as the most recent accumulator state.
	SetState(raw []byte) error

	LogStore() LogStore
	SnapshotStore() SnapshotStore

	// Commit atomically writes all changes made since the last commit. The
	// state is always written last, so that a crash never leaves a state that
	// refers to log entries that were not written.
	Commit() error
	Close() error
}
