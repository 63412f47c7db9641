package coverage

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/trailofbits/optik/evm"
)

// Report is the serializable snapshot of a session's coverage, exported
// at session end for reporting and CI consumption. Its encoding is
// deterministic: contracts, instructions and branches are sorted, so two
// exports of the same model are byte-identical.
type Report struct {
	Contracts []ContractReport `json:"contracts"`
	Checksum  string           `json:"checksum"`
}

type ContractReport struct {
	Contract            string         `json:"contract"`
	InstructionsCovered int            `json:"instructionsCovered"`
	BranchesCovered     int            `json:"branchesCovered"`
	Instructions        []uint64       `json:"instructions"`
	Branches            []BranchReport `json:"branches"`
}

type BranchReport struct {
	PC    uint64 `json:"pc"`
	Taken bool   `json:"taken"`
}

// Export writes the model's current content as a JSON report.
func (m *Model) Export(w io.Writer) error {
	report, err := m.Report()
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// Report assembles the deterministic report of the model's content.
func (m *Model) Report() (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hashes := make([]evm.Hash, 0, len(m.contracts))
	for hash := range m.contracts {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return less(hashes[i], hashes[j]) })

	report := &Report{Contracts: []ContractReport{}}
	for _, hash := range hashes {
		cov := m.contracts[hash]

		instructions := make([]uint64, 0, len(cov.instructions))
		for pc := range cov.instructions {
			instructions = append(instructions, pc)
		}
		sort.Slice(instructions, func(i, j int) bool { return instructions[i] < instructions[j] })

		branches := make([]BranchReport, 0, len(cov.branches))
		for key := range cov.branches {
			branches = append(branches, BranchReport{PC: key.pc, Taken: key.taken})
		}
		sort.Slice(branches, func(i, j int) bool {
			if branches[i].PC != branches[j].PC {
				return branches[i].PC < branches[j].PC
			}
			return !branches[i].Taken && branches[j].Taken
		})

		report.Contracts = append(report.Contracts, ContractReport{
			Contract:            hash.String(),
			InstructionsCovered: len(instructions),
			BranchesCovered:     len(branches),
			Instructions:        instructions,
			Branches:            branches,
		})
	}

	encoded, err := json.Marshal(report.Contracts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode coverage report: %w", err)
	}
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(encoded)
	report.Checksum = fmt.Sprintf("0x%x", hasher.Sum(nil))
	return report, nil
}
