package accumulator

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/fxamacker/cbor/v2"
)

// State is the constant-size state of an accumulator: the current root, the
// number of leaves, and the frontier of completed subtrees that are still
// waiting to be paired. Frontier[i] is non-nil exactly when bit i of Count is
// set, the same way a binary counter holds its carries.
type State struct {
	Root     *Hash
	Count    uint64
	Frontier []*Hash
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{Count: s.Count}
	if s.Root != nil {
		out.Root = s.Root.ptr()
	}
	if s.Frontier != nil {
		out.Frontier = make([]*Hash, len(s.Frontier))
		for i, slot := range s.Frontier {
			if slot != nil {
				out.Frontier[i] = slot.ptr()
			}
		}
	}
	return out
}

// Validate checks that the state is internally consistent.
func (s State) Validate() error {
	if (s.Root == nil) != (s.Count == 0) {
		return errors.New("root must be present iff the accumulator is non-empty")
	} else if len(s.Frontier) != bits.Len64(s.Count) {
		return fmt.Errorf("frontier has unexpected length: wanted=%v, got=%v", bits.Len64(s.Count), len(s.Frontier))
	}
	for i, slot := range s.Frontier {
		if set := s.Count&(1<<uint(i)) != 0; set != (slot != nil) {
			return fmt.Errorf("frontier slot %v does not match count", i)
		}
	}
	return nil
}

// stateRecord is the persisted form of a State.
type stateRecord struct {
	_        struct{} `cbor:",toarray"`
	Count    uint64
	Root     []byte
	Frontier [][]byte
}

// Marshal returns the serialized state.
func (s State) Marshal() ([]byte, error) {
	rec := stateRecord{Count: s.Count, Frontier: make([][]byte, len(s.Frontier))}
	if s.Root != nil {
		rec.Root = s.Root[:]
	}
	for i, slot := range s.Frontier {
		if slot != nil {
			rec.Frontier[i] = slot[:]
		}
	}
	return cbor.Marshal(rec)
}

// UnmarshalState parses a serialized state. A nil or empty input is the state
// of an empty accumulator.
func UnmarshalState(raw []byte) (State, error) {
	if len(raw) == 0 {
		return State{}, nil
	}
	var rec stateRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return State{}, fmt.Errorf("failed to parse accumulator state: %w", err)
	}

	s := State{Count: rec.Count, Frontier: make([]*Hash, len(rec.Frontier))}
	if len(rec.Root) != 0 {
		root, err := HashFromBytes(rec.Root)
		if err != nil {
			return State{}, err
		}
		s.Root = &root
	}
	for i, raw := range rec.Frontier {
		if len(raw) == 0 {
			continue
		}
		slot, err := HashFromBytes(raw)
		if err != nil {
			return State{}, err
		}
		s.Frontier[i] = &slot
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}
