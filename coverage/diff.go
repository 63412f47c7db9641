package coverage

import (
	"sort"

	"github.com/trailofbits/optik/evm"
)

// InstructionSite identifies one covered instruction.
type InstructionSite struct {
	Contract evm.Hash
	PC       uint64
}

// BranchEdge identifies one covered direction of a conditional branch.
type BranchEdge struct {
	Contract evm.Hash
	PC       uint64
	Taken    bool
}

// Delta is the set of coverage entries present in one model but absent
// in another. Its slices are sorted deterministically.
type Delta struct {
	Instructions []InstructionSite
	Branches     []BranchEdge
}

// Empty reports whether the delta contains no new coverage. An empty
// delta after a full iteration is the convergence signal of the
// augmentation loop.
func (d *Delta) Empty() bool {
	return len(d.Instructions) == 0 && len(d.Branches) == 0
}

// Diff returns the instructions and branches covered in `after` but not
// in `before`. Both models are snapshot one at a time, never holding two
// locks together.
func Diff(before, after *Model) *Delta {
	if before == after {
		return &Delta{}
	}
	before = before.Clone()
	after = after.Clone()

	delta := &Delta{}
	for hash, afterCov := range after.contracts {
		beforeCov := before.contracts[hash]
		for pc := range afterCov.instructions {
			if beforeCov != nil {
				if _, ok := beforeCov.instructions[pc]; ok {
					continue
				}
			}
			delta.Instructions = append(delta.Instructions, InstructionSite{hash, pc})
		}
		for key := range afterCov.branches {
			if beforeCov != nil {
				if _, ok := beforeCov.branches[key]; ok {
					continue
				}
			}
			delta.Branches = append(delta.Branches, BranchEdge{hash, key.pc, key.taken})
		}
	}

	sort.Slice(delta.Instructions, func(i, j int) bool {
		a, b := delta.Instructions[i], delta.Instructions[j]
		if a.Contract != b.Contract {
			return less(a.Contract, b.Contract)
		}
		return a.PC < b.PC
	})
	sort.Slice(delta.Branches, func(i, j int) bool {
		a, b := delta.Branches[i], delta.Branches[j]
		if a.Contract != b.Contract {
			return less(a.Contract, b.Contract)
		}
		if a.PC != b.PC {
			return a.PC < b.PC
		}
		return !a.Taken && b.Taken
	})
	return delta
}

func less(a, b evm.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
