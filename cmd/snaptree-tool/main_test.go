package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/db"
	"github.com/Bren2010/snaptree/tree/accumulator"
	"github.com/Bren2010/snaptree/tree/ledger"
	"github.com/Bren2010/snaptree/tree/replica"
)

func run(t *testing.T, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	stdout = buf
	t.Cleanup(func() { stdout = os.Stdout })

	_, err := newParser().ParseArgs(args)
	return buf.String(), err
}

func TestHash(t *testing.T) {
	out, err := run(t, "hash", "a", "b")
	require.NoError(t, err)

	cs := suites.Sha256{}
	want := accumulator.LeafHash(cs, []byte("a")).String() + "\n" +
		accumulator.LeafHash(cs, []byte("b")).String() + "\n"
	require.Equal(t, want, out)

	out, err = run(t, "hash", "--suite", "blake2b-256", "a")
	require.NoError(t, err)
	require.Equal(t, accumulator.LeafHash(suites.Blake2b256{}, []byte("a")).String()+"\n", out)

	_, err = run(t, "hash", "--suite", "md5", "a")
	require.Error(t, err)
}

func parseState(t *testing.T, out string) (root *accumulator.Hash, count uint64) {
	var parsed struct {
		Root  *accumulator.Hash `json:"root"`
		Count uint64            `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	return parsed.Root, parsed.Count
}

func TestRoot(t *testing.T) {
	cs := suites.Sha256{}
	acc, err := accumulator.New(cs, accumulator.State{})
	require.NoError(t, err)
	for _, value := range []string{"a", "b", "c"} {
		_, err := acc.Insert([]byte(value))
		require.NoError(t, err)
	}

	out, err := run(t, "root", "a", "b", "c")
	require.NoError(t, err)
	root, count := parseState(t, out)
	require.Equal(t, uint64(3), count)
	require.Equal(t, acc.Root(), root)

	file := filepath.Join(t.TempDir(), "values.txt")
	require.NoError(t, os.WriteFile(file, []byte("a\nb\nc\n"), 0600))
	out, err = run(t, "root", "--file", file)
	require.NoError(t, err)
	root, _ = parseState(t, out)
	require.Equal(t, acc.Root(), root)

	out, err = run(t, "root")
	require.NoError(t, err)
	root, count = parseState(t, out)
	require.Nil(t, root)
	require.Equal(t, uint64(0), count)
}

func TestVerifyAndReplay(t *testing.T) {
	cs := suites.Sha256{}
	file := filepath.Join(t.TempDir(), "snaptree.db")

	tx, err := db.NewLDBAccumulatorStore(file)
	require.NoError(t, err)
	tree, err := ledger.Open(cs, tx, replica.NewMemorySnapshots())
	require.NoError(t, err)
	var last *ledger.InsertResult
	for _, value := range strings.Split("abcdefg", "") {
		last, err = tree.Insert([]byte(value))
		require.NoError(t, err)
	}
	proof, position, err := tree.Prove([]byte("c"), last.Root)
	require.NoError(t, err)
	require.NoError(t, tx.Close())

	// Verify a proof read from a file.
	proofPath := filepath.Join(t.TempDir(), "proof.json")
	writeProof := func(pf proofFile) {
		raw, err := json.Marshal(pf)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(proofPath, raw, 0600))
	}
	writeProof(proofFile{Proof: proof, Value: []byte("c"), Position: position, Root: &last.Root})
	out, err := run(t, "verify", "--file", proofPath)
	require.NoError(t, err)
	require.Equal(t, "proof is valid\n", out)

	writeProof(proofFile{Proof: proof, Value: []byte("d"), Position: position, Root: &last.Root})
	_, err = run(t, "verify", "--file", proofPath)
	require.Error(t, err)

	writeProof(proofFile{Proof: proof, Value: []byte("c"), Position: position})
	_, err = run(t, "verify", "--file", proofPath)
	require.ErrorContains(t, err, "field not provided: root")

	// Rebuild the replica from the database.
	out, err = run(t, "replay", "--database", file)
	require.NoError(t, err)
	root, count := parseState(t, out)
	require.Equal(t, uint64(7), count)
	require.Equal(t, last.Root, *root)
}
