// Package coverage tracks which instructions and which branch directions
// have been exercised across the runs of one fuzzing session. Coverage is
// a discovery ledger: a reverted execution still executed its
// instructions, so rollbacks never remove entries. One Model exists per
// session, with an explicit reset/export lifecycle; workers record into
// throw-away models and merge them in under the session model's lock.
package coverage

import (
	"sync"

	"github.com/trailofbits/optik/evm"
)

type branchKey struct {
	pc    uint64
	taken bool
}

type contractCoverage struct {
	instructions map[uint64]struct{}
	branches     map[branchKey]struct{}
}

func newContractCoverage() *contractCoverage {
	return &contractCoverage{
		instructions: map[uint64]struct{}{},
		branches:     map[branchKey]struct{}{},
	}
}

// Model is the coverage map of one fuzzing session. All methods are safe
// for concurrent use; recording is idempotent and order-independent, so
// models can be merged in any order with identical results.
type Model struct {
	mu        sync.Mutex
	contracts map[evm.Hash]*contractCoverage
}

func NewModel() *Model {
	m := &Model{}
	m.Reset()
	return m
}

// Reset clears all recorded coverage, starting a new session.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = map[evm.Hash]*contractCoverage{}
}

// RecordInstruction marks pc as covered for the given contract.
func (m *Model) RecordInstruction(contract evm.Hash, pc uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contract(contract).instructions[pc] = struct{}{}
}

// RecordBranch marks one direction of a conditional branch as covered.
func (m *Model) RecordBranch(contract evm.Hash, pc uint64, taken bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contract(contract).branches[branchKey{pc, taken}] = struct{}{}
}

// InstructionCovered reports whether pc was recorded for the contract.
func (m *Model) InstructionCovered(contract evm.Hash, pc uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cov, ok := m.contracts[contract]
	if !ok {
		return false
	}
	_, ok = cov.instructions[pc]
	return ok
}

// BranchCovered reports whether the given direction of the branch at pc
// was recorded for the contract.
func (m *Model) BranchCovered(contract evm.Hash, pc uint64, taken bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cov, ok := m.contracts[contract]
	if !ok {
		return false
	}
	_, ok = cov.branches[branchKey{pc, taken}]
	return ok
}

// Size returns the number of covered instructions and branch directions,
// summed over all contracts. It is non-decreasing over a session.
func (m *Model) Size() (instructions, branches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cov := range m.contracts {
		instructions += len(cov.instructions)
		branches += len(cov.branches)
	}
	return
}

// Merge unions the other model into this one and reports whether any new
// coverage was added. The other model is not modified. The two locks are
// never held together, so models merging into each other concurrently
// cannot deadlock.
func (m *Model) Merge(other *Model) bool {
	if m == other {
		return false
	}
	snapshot := other.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for hash, otherCov := range snapshot.contracts {
		cov := m.contract(hash)
		for pc := range otherCov.instructions {
			if _, ok := cov.instructions[pc]; !ok {
				cov.instructions[pc] = struct{}{}
				changed = true
			}
		}
		for key := range otherCov.branches {
			if _, ok := cov.branches[key]; !ok {
				cov.branches[key] = struct{}{}
				changed = true
			}
		}
	}
	return changed
}

// Clone returns an independent copy of the model's current content.
func (m *Model) Clone() *Model {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := NewModel()
	for hash, cov := range m.contracts {
		clone := res.contract(hash)
		for pc := range cov.instructions {
			clone.instructions[pc] = struct{}{}
		}
		for key := range cov.branches {
			clone.branches[key] = struct{}{}
		}
	}
	return res
}

// contract returns the per-contract coverage, creating it if needed.
// Callers must hold m.mu.
func (m *Model) contract(hash evm.Hash) *contractCoverage {
	cov, ok := m.contracts[hash]
	if !ok {
		cov = newContractCoverage()
		m.contracts[hash] = cov
	}
	return cov
}

// The Model doubles as an execution event listener, so it can be passed
// directly to a ContractRunner at construction.

func (m *Model) OnTransactionStart(evm.Transaction) {}

func (m *Model) OnFrameEnter(int) {}

func (m *Model) OnFrameExit(int, bool) {}

func (m *Model) OnInstruction(contract evm.Hash, pc uint64) {
	m.RecordInstruction(contract, pc)
}

func (m *Model) OnBranch(site evm.BranchSite, taken bool) {
	m.RecordBranch(site.Contract, site.PC, taken)
}
