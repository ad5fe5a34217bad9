package accumulator

import (
	"errors"
	"math"
	"math/bits"

	"github.com/Bren2010/snaptree/crypto/suites"
)

// ErrFull is returned when the accumulator can not count any more leaves.
var ErrFull = errors.New("accumulator is full")

// Recorder receives every combine step of an insertion, in the order they are
// performed. It lets a replica rebuild the topology that the accumulator
// itself never stores.
type Recorder interface {
	// Paired is called when left and right are combined into parent.
	Paired(left, right, parent Hash)
	// Promoted is called when child is hashed alone into parent because it has
	// no sibling at its level.
	Promoted(child, parent Hash)
}

// promotionLevel returns the number of consecutive set bits at the bottom of
// count. This is the number of carries that incrementing count would perform,
// and the index of the frontier slot that the next insertion anchors.
func promotionLevel(count uint64) int {
	return bits.TrailingZeros64(^count)
}

// Insert adds a value to the accumulator described by st. It returns the next
// state, the new root, and the hash of the leaf that was added. The input
// state is not modified.
func Insert(cs suites.CipherSuite, st State, value []byte) (State, Hash, Hash, error) {
	if err := CheckSuite(cs); err != nil {
		return State{}, Hash{}, Hash{}, err
	}
	leaf := LeafHash(cs, value)
	next, root, err := InsertHash(cs, st, leaf, nil)
	if err != nil {
		return State{}, Hash{}, Hash{}, err
	}
	return next, root, leaf, nil
}

// InsertHash adds an already-hashed leaf to the accumulator described by st
// and returns the next state and the new root. If rec is non-nil, it is told
// about every node that is created.
//
// The whole frontier is walked on every insertion, not just the slots that get
// consumed: empty slots promote the running hash by hashing it alone, so that
// every leaf has exactly one proof entry per level of the tree.
func InsertHash(cs suites.CipherSuite, st State, leaf Hash, rec Recorder) (State, Hash, error) {
	if err := CheckSuite(cs); err != nil {
		return State{}, Hash{}, err
	} else if st.Count == math.MaxUint64 {
		return State{}, Hash{}, ErrFull
	}
	level := promotionLevel(st.Count)

	carry, anchor := leaf, leaf
	for i, slot := range st.Frontier {
		var parent Hash
		if slot != nil {
			parent = HashPair(cs, *slot, carry)
			if rec != nil {
				rec.Paired(*slot, carry, parent)
			}
		} else {
			parent = HashNode(cs, carry)
			if rec != nil {
				rec.Promoted(carry, parent)
			}
		}
		carry = parent

		if i+1 == level {
			anchor = carry
		}
	}

	next := st.Clone()
	next.Root = carry.ptr()
	next.Count++
	if level >= len(next.Frontier) {
		next.Frontier = append(next.Frontier, anchor.ptr())
	} else {
		next.Frontier[level] = anchor.ptr()
	}
	for i := 0; i < level; i++ {
		next.Frontier[i] = nil
	}

	return next, carry, nil
}
