package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trailofbits/optik/evm"
)

// solvedInputPattern is the naming scheme of sequences produced by the
// symbolic side. The external fuzzer picks these up by their prefix on
// its next corpus scan.
const solvedInputPattern = "optik_solved_input_%d.json"

// Store is a directory-backed collection of corpus sequences. Sequences
// are deduplicated by the hash of their canonical encoding, so replaying
// a store never executes the same sequence twice.
type Store struct {
	directory string
	sequences []Sequence
	seen      map[evm.Hash]struct{}
	skipped   []error
}

// OpenStore loads every JSON file of the given directory into a new
// store. Files that fail to decode are skipped and reported through
// Skipped, a corpus shared with a running fuzzer may always contain
// half-written files.
func OpenStore(directory string) (*Store, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	store := &Store{
		directory: directory,
		seen:      map[evm.Hash]struct{}{},
	}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(directory, name))
		if err != nil {
			store.skipped = append(store.skipped, fmt.Errorf("failed to read %s: %w", name, err))
			continue
		}
		sequence, err := Decode(data)
		if err != nil {
			store.skipped = append(store.skipped, &MalformedCorpusError{File: name, Cause: err})
			continue
		}
		store.insert(sequence)
	}
	return store, nil
}

// NewStore creates an empty in-memory store without a backing directory.
// Add still deduplicates but does not persist.
func NewStore() *Store {
	return &Store{seen: map[evm.Hash]struct{}{}}
}

// Sequences returns the stored sequences in a deterministic order. The
// returned slice is shared, callers must not modify it.
func (s *Store) Sequences() []Sequence {
	return s.sequences
}

// Size returns the number of distinct sequences in the store.
func (s *Store) Size() int {
	return len(s.sequences)
}

// Skipped lists the files that could not be loaded from the backing
// directory, one error per file.
func (s *Store) Skipped() []error {
	return s.skipped
}

// Add inserts a sequence into the store and, if the store is backed by a
// directory, persists it under a fresh solved-input file name. Duplicates
// of an already stored sequence are dropped; the boolean reports whether
// the sequence was new.
func (s *Store) Add(sequence Sequence) (bool, error) {
	data, err := Encode(sequence)
	if err != nil {
		return false, fmt.Errorf("failed to encode sequence: %w", err)
	}
	if !s.insertEncoded(sequence, data) {
		return false, nil
	}
	if s.directory == "" {
		return true, nil
	}
	name, err := s.nextSolvedInputName()
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(s.directory, name), data, 0644); err != nil {
		return false, fmt.Errorf("failed to write corpus file: %w", err)
	}
	return true, nil
}

// Contains reports whether an identical sequence is already stored.
func (s *Store) Contains(sequence Sequence) bool {
	data, err := Encode(sequence)
	if err != nil {
		return false
	}
	_, found := s.seen[evm.Hash(crypto.Keccak256Hash(data))]
	return found
}

func (s *Store) insert(sequence Sequence) bool {
	data, err := Encode(sequence)
	if err != nil {
		return false
	}
	return s.insertEncoded(sequence, data)
}

func (s *Store) insertEncoded(sequence Sequence, data []byte) bool {
	key := evm.Hash(crypto.Keccak256Hash(data))
	if _, found := s.seen[key]; found {
		return false
	}
	s.seen[key] = struct{}{}
	s.sequences = append(s.sequences, sequence)
	return true
}

// nextSolvedInputName picks the first unused index of the solved-input
// naming scheme in the backing directory.
func (s *Store) nextSolvedInputName() (string, error) {
	for i := 0; ; i++ {
		name := fmt.Sprintf(solvedInputPattern, i)
		_, err := os.Stat(filepath.Join(s.directory, name))
		if os.IsNotExist(err) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat corpus file name: %w", err)
		}
	}
}
