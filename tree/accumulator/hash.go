package accumulator

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Bren2010/snaptree/crypto/suites"
)

// HashSize is the size of every hash handled by the accumulator, in bytes.
const HashSize = 32

// Hash is the output of the cipher suite's hash function. It is the unit of
// identity for leaves and intermediate nodes alike.
type Hash [HashSize]byte

// HashFromBytes returns the Hash with the given encoding.
func HashFromBytes(raw []byte) (Hash, error) {
	var h Hash
	if len(raw) != HashSize {
		return h, fmt.Errorf("hash has unexpected length: %v", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// ParseHash parses a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode hash: %w", err)
	}
	return HashFromBytes(raw)
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Compare returns -1, 0, or 1 depending on whether h sorts before, equal to,
// or after other.
func (h Hash) Compare(other Hash) int { return bytes.Compare(h[:], other[:]) }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ptr returns a pointer to a copy of h.
func (h Hash) ptr() *Hash { return &h }

// ErrUnsupportedSuite is returned when a cipher suite's digest is not the size
// of a Hash.
var ErrUnsupportedSuite = errors.New("cipher suite digest size is not supported")

// CheckSuite returns ErrUnsupportedSuite if cs can not be used to compute
// hashes of HashSize bytes.
func CheckSuite(cs suites.CipherSuite) error {
	if cs == nil {
		return fmt.Errorf("%w: no cipher suite", ErrUnsupportedSuite)
	} else if cs.HashSize() != HashSize {
		return fmt.Errorf("%w: %v has %v-byte digests", ErrUnsupportedSuite, cs.Name(), cs.HashSize())
	}
	return nil
}

func sum(cs suites.CipherSuite, parts ...[]byte) Hash {
	hasher := cs.Hash()
	for _, part := range parts {
		hasher.Write(part)
	}
	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

// leafTag prefixes the input of every leaf hash.
const leafTag = 0x00

// LeafHash returns the hash of a leaf value: H(0x00 || H(value)). The outer
// input is always HashSize+1 bytes long, while node hashes are computed over
// exactly HashSize or 2*HashSize bytes, so a value can only hash to the same
// thing as an interior node through a collision in the hash function.
func LeafHash(cs suites.CipherSuite, value []byte) Hash {
	inner := sum(cs, value)
	return sum(cs, []byte{leafTag}, inner[:])
}

// HashNode returns the hash of a single node, promoting it one level when it
// has no sibling.
func HashNode(cs suites.CipherSuite, node Hash) Hash {
	return sum(cs, node[:])
}

// HashPair returns the hash of two nodes combined, left operand first.
func HashPair(cs suites.CipherSuite, left, right Hash) Hash {
	return sum(cs, left[:], right[:])
}
