// Command snaptree-tool is an offline companion to snaptree-server. It computes
// leaf hashes and roots, checks inclusion proofs, and rebuilds the replica from
// a server's database.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/mitchellh/go-homedir"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/db"
	"github.com/Bren2010/snaptree/tree/accumulator"
	"github.com/Bren2010/snaptree/tree/ledger"
	"github.com/Bren2010/snaptree/tree/replica"
)

// SuiteOption is embedded by every command that hashes.
type SuiteOption struct {
	Suite string `short:"s" long:"suite" default:"sha256" description:"hash suite [sha256, blake2b-256]"`
}

func (so SuiteOption) cipherSuite() (suites.CipherSuite, error) {
	return suites.FromName(so.Suite)
}

type Hash struct {
	SuiteOption
	Args struct {
		Values []string `positional-arg-name:"value" required:"1"`
	} `positional-args:"yes"`
}

func (x *Hash) Execute(args []string) error {
	cs, err := x.cipherSuite()
	if err != nil {
		return err
	}
	for _, value := range x.Args.Values {
		fmt.Fprintln(stdout, accumulator.LeafHash(cs, []byte(value)))
	}
	return nil
}

type Root struct {
	SuiteOption
	File string `short:"f" long:"file" description:"read one value per line from this file instead of the arguments"`
	Args struct {
		Values []string `positional-arg-name:"value"`
	} `positional-args:"yes"`
}

func (x *Root) Execute(args []string) error {
	cs, err := x.cipherSuite()
	if err != nil {
		return err
	}
	values := x.Args.Values
	if x.File != "" {
		if values, err = readLines(x.File); err != nil {
			return err
		}
	}

	acc, err := accumulator.New(cs, accumulator.State{})
	if err != nil {
		return err
	}
	for _, value := range values {
		if _, err := acc.Insert([]byte(value)); err != nil {
			return err
		}
	}
	return printState(acc.State())
}

type Verify struct {
	SuiteOption
	File string `short:"f" long:"file" default:"-" description:"JSON file holding proof, value, position and root"`
}

// proofFile is the same document accepted by the server's verify endpoint.
type proofFile struct {
	Proof    accumulator.Proof `json:"proof"`
	Value    []byte            `json:"value"`
	Position uint64            `json:"position"`
	Root     *accumulator.Hash `json:"root"`
}

func (x *Verify) Execute(args []string) error {
	cs, err := x.cipherSuite()
	if err != nil {
		return err
	}
	var r io.Reader = os.Stdin
	if x.File != "-" {
		fh, err := os.Open(x.File)
		if err != nil {
			return err
		}
		defer fh.Close()
		r = fh
	}

	var pf proofFile
	if err := json.NewDecoder(r).Decode(&pf); err != nil {
		return fmt.Errorf("failed to parse proof: %v", err)
	} else if pf.Value == nil {
		return errors.New("field not provided: value")
	} else if pf.Root == nil {
		return errors.New("field not provided: root")
	}
	ok, err := accumulator.VerifyInclusionProof(cs, pf.Proof, pf.Value, pf.Position, *pf.Root)
	if err != nil {
		return err
	} else if !ok {
		return errors.New("proof is not valid")
	}
	fmt.Fprintln(stdout, "proof is valid")
	return nil
}

type Replay struct {
	SuiteOption
	Database string `short:"d" long:"database" required:"true" description:"path to the server's database; the server must not be running"`
}

func (x *Replay) Execute(args []string) error {
	cs, err := x.cipherSuite()
	if err != nil {
		return err
	}
	file, err := homedir.Expand(x.Database)
	if err != nil {
		return err
	}
	tx, err := db.NewLDBAccumulatorStore(file)
	if err != nil {
		return err
	}
	defer tx.Close()

	// The rebuilt replica is thrown away, so nothing needs to be written.
	tree, err := ledger.Open(cs, tx.Clone(), replica.NewMemorySnapshots())
	if err != nil {
		return err
	}
	return printState(tree.State())
}

func readLines(file string) ([]string, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var lines []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func printState(state accumulator.State) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Root     *accumulator.Hash   `json:"root"`
		Count    uint64              `json:"count"`
		Frontier []*accumulator.Hash `json:"frontier"`
	}{state.Root, state.Count, state.Frontier})
}

var stdout io.Writer = os.Stdout

func newParser() *flags.Parser {
	parser := flags.NewParser(nil, flags.Default)
	parser.AddCommand("hash",
		"print leaf hashes",
		"The hash command prints the leaf hash of each value given.",
		&Hash{})
	parser.AddCommand("root",
		"compute a root",
		"The root command inserts the given values into an empty accumulator, in order, and prints its final state.",
		&Root{})
	parser.AddCommand("verify",
		"check an inclusion proof",
		"The verify command checks an inclusion proof without contacting a server.",
		&Verify{})
	parser.AddCommand("replay",
		"rebuild the replica from a database",
		"The replay command rebuilds the replica from a server's event log and prints the resulting state.",
		&Replay{})
	return parser
}

func main() {
	if _, err := newParser().Parse(); err != nil {
		os.Exit(1)
	}
}
