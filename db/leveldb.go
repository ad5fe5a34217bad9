package db

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/op/go-logging"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
)

var log = logging.MustGetLogger("db")

var errReadOnly = errors.New("connection is readonly")

const leveldbStateKey = "state"

func dup(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// ldbConn is a wrapper around a base LevelDB database that handles batching
// writes between commits transparently.
type ldbConn struct {
	conn     *leveldb.DB
	readonly bool

	mu    sync.Mutex
	batch map[string][]byte
}

func newLDBConn(conn *leveldb.DB, readonly bool) *ldbConn {
	return &ldbConn{conn: conn, readonly: readonly, batch: make(map[string][]byte)}
}

// Get returns the value stored at key, or nil if there is none.
func (c *ldbConn) Get(key string) ([]byte, error) {
	c.mu.Lock()
	value, ok := c.batch[key]
	c.mu.Unlock()
	if ok {
		return dup(value), nil
	}

	value, err := c.conn.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *ldbConn) Put(key string, value []byte) error {
	if c.readonly {
		return errReadOnly
	} else if value == nil {
		return fmt.Errorf("unable to store nil value at %q", key)
	}
	c.mu.Lock()
	c.batch[key] = dup(value)
	c.mu.Unlock()
	return nil
}

func (c *ldbConn) Commit() error {
	if c.readonly {
		return errReadOnly
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b := new(leveldb.Batch)
	for key, value := range c.batch {
		if key == leveldbStateKey {
			continue
		}
		b.Put([]byte(key), value)
	}
	if err := c.conn.Write(b, nil); err != nil {
		return err
	}
	if value, ok := c.batch[leveldbStateKey]; ok {
		if err := c.conn.Put([]byte(leveldbStateKey), value, nil); err != nil {
			return err
		}
	}

	c.batch = make(map[string][]byte)
	return nil
}

// ldbAccumulatorStore implements the AccumulatorStore interface over a LevelDB
// database.
type ldbAccumulatorStore struct {
	conn *ldbConn
}

// NewLDBAccumulatorStore opens the LevelDB database at the given path,
// creating it if necessary.
func NewLDBAccumulatorStore(file string) (AccumulatorStore, error) {
	conn, err := leveldb.OpenFile(file, nil)
	if lerrors.IsCorrupted(err) {
		log.Warningf("Database at %v is corrupted, attempting to recover: %v", file, err)
		conn, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	return &ldbAccumulatorStore{newLDBConn(conn, false)}, nil
}

func (ldb *ldbAccumulatorStore) Clone() AccumulatorStore {
	return &ldbAccumulatorStore{newLDBConn(ldb.conn.conn, true)}
}

func (ldb *ldbAccumulatorStore) GetState() ([]byte, error) {
	return ldb.conn.Get(leveldbStateKey)
}

func (ldb *ldbAccumulatorStore) SetState(raw []byte) error {
	return ldb.conn.Put(leveldbStateKey, raw)
}

func (ldb *ldbAccumulatorStore) LogStore() LogStore {
	return &ldbLogStore{ldb.conn}
}

func (ldb *ldbAccumulatorStore) SnapshotStore() SnapshotStore {
	return &ldbSnapshotStore{ldb.conn}
}

func (ldb *ldbAccumulatorStore) Commit() error {
	return ldb.conn.Commit()
}

func (ldb *ldbAccumulatorStore) Close() error {
	if ldb.conn.readonly {
		return nil
	}
	return ldb.conn.conn.Close()
}

// ldbLogStore implements the LogStore interface over LevelDB.
type ldbLogStore struct {
	conn *ldbConn
}

func (ls *ldbLogStore) BatchGet(keys []uint64) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte)

	for _, key := range keys {
		value, err := ls.conn.Get("l" + fmt.Sprint(key))
		if err != nil {
			return nil, err
		} else if value == nil {
			continue
		}
		out[key] = value
	}

	return out, nil
}

func (ls *ldbLogStore) Put(key uint64, data []byte) error {
	return ls.conn.Put("l"+fmt.Sprint(key), data)
}

// ldbSnapshotStore implements the SnapshotStore interface over LevelDB.
type ldbSnapshotStore struct {
	conn *ldbConn
}

func (ss *ldbSnapshotStore) Get(root []byte) ([]byte, error) {
	return ss.conn.Get("s" + hex.EncodeToString(root))
}

func (ss *ldbSnapshotStore) Put(root []byte, data []byte) error {
	return ss.conn.Put("s"+hex.EncodeToString(root), data)
}
