package accumulator

import (
	"errors"
	"fmt"

	"github.com/Bren2010/snaptree/crypto/suites"
)

// MaxProofLength is the height of the tallest tree an accumulator can build.
const MaxProofLength = 64

var (
	ErrProofTooLong       = errors.New("proof is longer than the tallest possible tree")
	ErrPositionOutOfRange = errors.New("leaf position does not fit in proof")

	// ErrPositionMismatch is returned when the position puts the leaf on the
	// right at a level where the proof says it was promoted alone. Such a leaf
	// could only have been promoted from the left, so the proof can not be
	// valid for this position.
	ErrPositionMismatch = errors.New("leaf position does not match proof")
)

// Proof is an inclusion proof for a single leaf. It has one entry per level of
// the tree, starting from the leaf. A non-nil entry is the sibling to combine
// with at that level; a nil entry means the running hash is promoted by hashing
// it alone.
type Proof []*Hash

// EvaluateInclusionProof returns the root that would result in the given proof
// being valid for value at the given position.
//
// Bit i of position says which side the leaf's ancestor is on at level i: when
// it is set the ancestor is the right operand and the sibling is the left.
func EvaluateInclusionProof(cs suites.CipherSuite, proof Proof, value []byte, position uint64) (Hash, error) {
	if err := CheckSuite(cs); err != nil {
		return Hash{}, err
	} else if len(proof) > MaxProofLength {
		return Hash{}, ErrProofTooLong
	} else if len(proof) < MaxProofLength && position>>uint(len(proof)) != 0 {
		return Hash{}, fmt.Errorf("%w: position=%v, levels=%v", ErrPositionOutOfRange, position, len(proof))
	}

	acc := LeafHash(cs, value)
	for i, sibling := range proof {
		right := position&(1<<uint(i)) != 0
		if sibling == nil {
			if right {
				return Hash{}, fmt.Errorf("%w: level %v", ErrPositionMismatch, i)
			}
			acc = HashNode(cs, acc)
		} else if right {
			acc = HashPair(cs, *sibling, acc)
		} else {
			acc = HashPair(cs, acc, *sibling)
		}
	}
	return acc, nil
}

// VerifyInclusionProof checks that proof is a valid inclusion proof for value
// at the given position in the tree with the given root. A proof that is well
// formed but does not lead to root returns false and no error; an error is
// only returned for a malformed proof.
func VerifyInclusionProof(cs suites.CipherSuite, proof Proof, value []byte, position uint64, root Hash) (bool, error) {
	cand, err := EvaluateInclusionProof(cs, proof, value, position)
	if errors.Is(err, ErrPositionMismatch) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return cand == root, nil
}
