// Package suites implements each supported cipher suite.
package suites

import (
	"fmt"
	"hash"
)

// CipherSuite is the interface implemented by each supported cipher suite. A
// cipher suite fixes the hash function used for leaves, for pairs of nodes, and
// for self-hash promotions. Every suite has a 32-byte output.
type CipherSuite interface {
	Id() uint16
	Name() string
	Hash() hash.Hash
	HashSize() int
}

// All returns every supported cipher suite, in order of id.
func All() []CipherSuite {
	return []CipherSuite{Sha256{}, Blake2b256{}}
}

// FromName returns the cipher suite with the given name, as it would appear in
// a config file.
func FromName(name string) (CipherSuite, error) {
	for _, cs := range All() {
		if cs.Name() == name {
			return cs, nil
		}
	}
	return nil, fmt.Errorf("unknown cipher suite: %q", name)
}

// FromId returns the cipher suite with the given id.
func FromId(id uint16) (CipherSuite, error) {
	for _, cs := range All() {
		if cs.Id() == id {
			return cs, nil
		}
	}
	return nil, fmt.Errorf("unknown cipher suite id: %v", id)
}
