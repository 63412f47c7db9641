package explorer

import (
	gocontext "context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/trailofbits/optik/corpus"
	"github.com/trailofbits/optik/coverage"
	"github.com/trailofbits/optik/evm"
	"github.com/trailofbits/optik/evm/evmtest"
	"github.com/trailofbits/optik/runner"
	"github.com/trailofbits/optik/solver"
	"github.com/trailofbits/optik/state"
)

func newRunner(engine evm.Engine, world *state.World, model *coverage.Model) *runner.ContractRunner {
	r := runner.NewContractRunner(engine, world, runner.Config{ContinueOnRevert: true})
	r.AddListener(model)
	return r
}

var (
	sender = evm.Address{0x01}
	target = evm.Address{0x02}
)

func TestBuildBranchMap_SkipsPushOperands(t *testing.T) {
	// PUSH1 0x57, JUMPI, PUSH2 0x57 0x57, STOP
	code := evm.Code{0x60, 0x57, 0x57, 0x61, 0x57, 0x57, 0x00}
	m := buildBranchMap(code)
	if m.Count() != 1 {
		t.Fatalf("wanted 1 branch, got %v", m.Sites())
	}
	if !m.Contains(2) {
		t.Errorf("branch at pc 2 not found")
	}
	if m.Contains(5) {
		t.Errorf("push operand misread as branch")
	}
}

func TestBuildBranchMap_TruncatedPushDoesNotScanPastTheCode(t *testing.T) {
	// PUSH32 with only 3 operand bytes present
	code := evm.Code{0x7f, 0x57, 0x57, 0x57}
	if m := buildBranchMap(code); m.Count() != 0 {
		t.Errorf("wanted no branches, got %v", m.Sites())
	}
}

func TestBranchMapCache_MemoizesPerBytecode(t *testing.T) {
	cache, err := NewBranchMapCache(16)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	code := evm.Code{0x57}
	if cache.For(code) != cache.For(code) {
		t.Errorf("repeated lookups must return the cached map")
	}
	other := evm.Code{0x00}
	if cache.For(code) == cache.For(other) {
		t.Errorf("distinct bytecodes must get distinct maps")
	}
}

func TestFrontier_ListsMissingDirectionsOfHalfCoveredBranches(t *testing.T) {
	contract := evm.Hash{0xaa}
	model := coverage.NewModel()
	model.RecordBranch(contract, 10, true)  // fallthrough missing
	model.RecordBranch(contract, 20, true)  // fully covered
	model.RecordBranch(contract, 20, false) //
	model.RecordBranch(contract, 30, false) // taken missing

	frontier := Frontier(model)
	want := []Target{
		{Site: evm.BranchSite{Contract: contract, PC: 10}, Taken: false},
		{Site: evm.BranchSite{Contract: contract, PC: 30}, Taken: true},
	}
	if len(frontier) != len(want) {
		t.Fatalf("wanted frontier %v, got %v", want, frontier)
	}
	for i := range want {
		if frontier[i] != want[i] {
			t.Errorf("target %d: wanted %v, got %v", i, want[i], frontier[i])
		}
	}
}

func TestFrontier_OfEmptyModelIsEmpty(t *testing.T) {
	if frontier := Frontier(coverage.NewModel()); len(frontier) != 0 {
		t.Errorf("wanted empty frontier, got %v", frontier)
	}
}

// guardedProgram branches on the first call data word and reverts only
// when the guard holds, mimicking a guarded assertion failure.
func guardedProgram(bound uint64) evmtest.Program {
	return evmtest.Program{
		{Branch: &evmtest.BranchStep{Word: 0, Cmp: solver.Gt, Bound: uint256.NewInt(bound), Target: 2}},
		{Halt: &evmtest.HaltStep{Status: evm.Stopped}},
		{Halt: &evmtest.HaltStep{Status: evm.StepReverted, Output: evm.Data{0xbd}}},
	}
}

func setup(t *testing.T, program evmtest.Program) (*evmtest.Engine, *state.World, evm.Hash) {
	t.Helper()
	code := evm.Code{0x01}
	engine := evmtest.NewEngine(0)
	hash := engine.AddProgram(code, program)
	world := state.NewWorld()
	world.SetCode(target, code)
	return engine, world, hash
}

func seedSequence(word0 uint64) corpus.Sequence {
	input := make(evm.Data, 32)
	uint256.NewInt(word0).WriteToSlice(input)
	return corpus.Sequence{{
		Sender:    sender,
		Recipient: target,
		Input:     input,
		GasLimit:  100000,
	}}
}

func TestSynthesize_ReachesTheUncoveredDirection(t *testing.T) {
	engine, world, hash := setup(t, guardedProgram(10))
	explorer := NewExplorer(engine, nil, time.Second)

	seed := seedSequence(0) // guard does not hold, branch falls through
	goal := Target{Site: evm.BranchSite{Contract: hash, PC: 0}, Taken: true}

	synthesized, found, err := explorer.Synthesize(gocontext.Background(), world, seed, goal)
	if err != nil {
		t.Fatalf("synthesis failed: %v", err)
	}
	if !found {
		t.Fatalf("expected a synthesized sequence")
	}
	if len(synthesized) != len(seed) {
		t.Fatalf("synthesis must preserve the sequence length")
	}

	word := new(uint256.Int).SetBytes(synthesized[0].Input[:32])
	if !word.Gt(uint256.NewInt(10)) {
		t.Errorf("synthesized input %v does not satisfy the guard", word)
	}
}

func TestSynthesize_SolvedInputReplaysIntoTheTarget(t *testing.T) {
	engine, world, hash := setup(t, guardedProgram(1000))
	explorer := NewExplorer(engine, nil, time.Second)

	goal := Target{Site: evm.BranchSite{Contract: hash, PC: 0}, Taken: true}
	synthesized, found, err := explorer.Synthesize(gocontext.Background(), world, seedSequence(7), goal)
	if err != nil || !found {
		t.Fatalf("synthesis failed: found=%t, err=%v", found, err)
	}

	// replaying the synthesized sequence must take the branch
	model := coverage.NewModel()
	replayWorld := world.Clone()
	r := newRunner(engine, replayWorld, model)
	if _, err := r.RunSequence(synthesized); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !model.BranchCovered(hash, 0, true) {
		t.Errorf("replay of the synthesized sequence missed the target branch")
	}
}

func TestSynthesize_ReportsUnreachedSiteAsNotFound(t *testing.T) {
	engine, world, hash := setup(t, guardedProgram(10))
	explorer := NewExplorer(engine, nil, time.Second)

	goal := Target{Site: evm.BranchSite{Contract: hash, PC: 99}, Taken: true}
	_, found, err := explorer.Synthesize(gocontext.Background(), world, seedSequence(0), goal)
	if err != nil {
		t.Fatalf("synthesis failed: %v", err)
	}
	if found {
		t.Errorf("a site the seed never passes must not be solved")
	}
}

func TestSynthesize_ReportsInfeasibleDirectionAsNotFound(t *testing.T) {
	program := evmtest.Program{
		// data_0 < 0 can never hold
		{Branch: &evmtest.BranchStep{Word: 0, Cmp: solver.Lt, Bound: uint256.NewInt(0), Target: 2}},
		{Halt: &evmtest.HaltStep{Status: evm.Stopped}},
		{Halt: &evmtest.HaltStep{Status: evm.StepReverted}},
	}
	engine, world, hash := setup(t, program)
	explorer := NewExplorer(engine, nil, time.Second)

	goal := Target{Site: evm.BranchSite{Contract: hash, PC: 0}, Taken: true}
	_, found, err := explorer.Synthesize(gocontext.Background(), world, seedSequence(5), goal)
	if err != nil {
		t.Fatalf("synthesis failed: %v", err)
	}
	if found {
		t.Errorf("an infeasible direction must not be solved")
	}
}

func TestSynthesize_SubstitutesOnlyTheInterceptedTransaction(t *testing.T) {
	engine, world, hash := setup(t, guardedProgram(10))
	explorer := NewExplorer(engine, nil, time.Second)

	seed := append(seedSequence(1), seedSequence(2)...)
	goal := Target{Site: evm.BranchSite{Contract: hash, PC: 0}, Taken: true}

	synthesized, found, err := explorer.Synthesize(gocontext.Background(), world, seed, goal)
	if err != nil || !found {
		t.Fatalf("synthesis failed: found=%t, err=%v", found, err)
	}
	if !synthesized[1].Equal(seed[1]) {
		t.Errorf("later transactions must keep their seed values")
	}
	if synthesized[0].Equal(seed[0]) {
		t.Errorf("the intercepted transaction must carry the solved input")
	}
}
