package suites

import (
	"crypto/sha256"
	"hash"
)

// Sha256 implements the cipher suite using SHA-256.
type Sha256 struct{}

var _ CipherSuite = Sha256{}

func (s Sha256) Id() uint16      { return 0x01 }
func (s Sha256) Name() string    { return "sha256" }
func (s Sha256) Hash() hash.Hash { return sha256.New() }
func (s Sha256) HashSize() int   { return sha256.Size }
