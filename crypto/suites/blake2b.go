package suites

import (
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Blake2b256 implements the cipher suite using unkeyed BLAKE2b with a 32-byte
// digest.
type Blake2b256 struct{}

var _ CipherSuite = Blake2b256{}

func (s Blake2b256) Id() uint16    { return 0x02 }
func (s Blake2b256) Name() string  { return "blake2b-256" }
func (s Blake2b256) HashSize() int { return blake2b.Size256 }

func (s Blake2b256) Hash() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only returned for an oversized key.
		panic(err)
	}
	return h
}
