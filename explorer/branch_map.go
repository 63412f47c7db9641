// Package explorer implements the symbolic side of the fuzzing core: it
// identifies branch directions the fuzzer has not reached and synthesizes
// concrete inputs driving execution into them.
package explorer

import (
	"sort"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/trailofbits/optik/evm"
)

// BranchMap lists the conditional branch instructions of one bytecode,
// determined statically by disassembly.
type BranchMap struct {
	sites []uint64 // JUMPI program counters, ascending
}

// buildBranchMap scans the bytecode instruction by instruction, skipping
// push operands, and records the position of every conditional jump.
func buildBranchMap(code evm.Code) *BranchMap {
	result := &BranchMap{}
	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		if op == vm.JUMPI {
			result.sites = append(result.sites, uint64(pc))
		}
		if op.IsPush() && op >= vm.PUSH1 {
			pc += int(op) - int(vm.PUSH1) + 1
		}
	}
	return result
}

// Count returns the number of conditional branches of the code.
func (m *BranchMap) Count() int {
	return len(m.sites)
}

// Sites returns the program counters of all conditional branches in
// ascending order. The returned slice is shared, callers must not modify
// it.
func (m *BranchMap) Sites() []uint64 {
	return m.sites
}

// Contains reports whether the code has a conditional branch at the
// given program counter.
func (m *BranchMap) Contains(pc uint64) bool {
	index := sort.Search(len(m.sites), func(i int) bool {
		return m.sites[i] >= pc
	})
	return index < len(m.sites) && m.sites[index] == pc
}

// BranchMapCache memoizes branch maps per code hash. Disassembling is
// cheap but happens once per replayed transaction otherwise.
type BranchMapCache struct {
	cache *lru.Cache[evm.Hash, *BranchMap]
}

// NewBranchMapCache creates a cache holding branch maps for up to size
// distinct bytecodes.
func NewBranchMapCache(size int) (*BranchMapCache, error) {
	cache, err := lru.New[evm.Hash, *BranchMap](size)
	if err != nil {
		return nil, err
	}
	return &BranchMapCache{cache: cache}, nil
}

// For returns the branch map of the given bytecode, computing and
// caching it on first use.
func (c *BranchMapCache) For(code evm.Code) *BranchMap {
	hash := evm.Hash(crypto.Keccak256Hash(code))
	if cached, found := c.cache.Get(hash); found {
		return cached
	}
	result := buildBranchMap(code)
	c.cache.Add(hash, result)
	return result
}
