package concolic

import (
	gocontext "context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trailofbits/optik/corpus"
	"github.com/trailofbits/optik/evm"
	"github.com/trailofbits/optik/explorer"
	"github.com/trailofbits/optik/hybrid"
	"github.com/trailofbits/optik/runner"
	"github.com/trailofbits/optik/state"
)

var (
	sender  = evm.Address{0x01}
	account = evm.Address{0x02}
)

// reverts only when the first call data word exceeds 10; the JUMPI sits
// at program counter 8
var guarded = evm.Code{
	0x60, 0x0a, // PUSH1 10
	0x60, 0x00, // PUSH1 0
	0x35,       // CALLDATALOAD
	0x11,       // GT
	0x60, 0x0a, // PUSH1 10
	0x57,       // JUMPI
	0x00,       // STOP
	0x5b,       // JUMPDEST
	0x60, 0x00, // PUSH1 0
	0x60, 0x00, // PUSH1 0
	0xfd, // REVERT
}

func transaction(input evm.Data) evm.Transaction {
	return evm.Transaction{
		Sender:    sender,
		Recipient: account,
		Input:     input,
		GasLimit:  100000,
	}
}

func TestRegistry_ProvidesTheConcolicEngine(t *testing.T) {
	engine, err := evm.NewEngine("concolic", uint64(42))
	if err != nil {
		t.Fatalf("failed to create engine through the registry: %v", err)
	}
	if engine == nil {
		t.Fatal("registry returned no engine")
	}
}

func TestRegistry_RejectsAForeignConfiguration(t *testing.T) {
	if _, err := evm.NewEngine("concolic", "bogus"); err == nil {
		t.Errorf("a non-seed configuration must be rejected")
	}
}

func TestSession_AugmentsACorpusOnRealBytecode(t *testing.T) {
	genesis := state.NewWorld()
	genesis.CreateContract(account, guarded)

	store := corpus.NewStore()
	seed := corpus.Sequence{transaction(nil)}
	if _, err := store.Add(seed); err != nil {
		t.Fatalf("failed to seed corpus: %v", err)
	}

	factory := func(seed uint64) (evm.Engine, error) {
		return evm.NewEngine("concolic", seed)
	}
	session, err := hybrid.NewSession(factory, genesis, store, hybrid.Config{Jobs: 2})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	result, err := session.Run(gocontext.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if result != hybrid.Converged {
		t.Fatalf("wanted state %v, got %v", hybrid.Converged, result)
	}
	if session.Solved() != 1 {
		t.Errorf("wanted 1 solved sequence, got %d", session.Solved())
	}

	hash := evm.Hash(crypto.Keccak256Hash(guarded))
	model := session.Coverage()
	if !model.BranchCovered(hash, 8, true) || !model.BranchCovered(hash, 8, false) {
		t.Errorf("both directions of the guard must be covered after convergence")
	}
}

func TestSynthesize_SolvesAValueGuard(t *testing.T) {
	// reverts only when the transferred value exceeds 10
	code := evm.Code{
		0x60, 0x0a, // PUSH1 10
		0x34,       // CALLVALUE
		0x11,       // GT
		0x60, 0x08, // PUSH1 8
		0x57,       // JUMPI
		0x00,       // STOP
		0x5b,       // JUMPDEST
		0x60, 0x00, // PUSH1 0
		0x60, 0x00, // PUSH1 0
		0xfd, // REVERT
	}
	genesis := state.NewWorld()
	genesis.CreateContract(account, code)

	maps, err := explorer.NewBranchMapCache(16)
	if err != nil {
		t.Fatalf("failed to create branch map cache: %v", err)
	}
	exp := explorer.NewExplorer(NewEngine(0), maps, time.Second)

	hash := evm.Hash(crypto.Keccak256Hash(code))
	target := explorer.Target{Site: evm.BranchSite{Contract: hash, PC: 6}, Taken: true}
	sequence, found, err := exp.Synthesize(
		gocontext.Background(), genesis, corpus.Sequence{transaction(nil)}, target)
	if err != nil {
		t.Fatalf("synthesis failed: %v", err)
	}
	if !found {
		t.Fatal("a solvable value guard must be synthesized")
	}
	if value := sequence[0].Value.ToUint256(); !value.GtUint64(10) {
		t.Errorf("the solved value must exceed 10, got %v", value)
	}
}

func TestFork_RefusesBranchesWithoutSymbolicInputs(t *testing.T) {
	// the condition is read from storage, not from the transaction
	code := evm.Code{
		0x60, 0x00, // PUSH1 0
		0x54,       // SLOAD
		0x60, 0x07, // PUSH1 7
		0x57, // JUMPI
		0x00, // STOP
		0x5b, // JUMPDEST
		0x00, // STOP
	}
	world := state.NewWorld()
	world.SetCode(account, code)
	var slot evm.Word
	slot[31] = 1
	world.SetStorage(account, evm.Key{}, slot)

	engine := NewEngine(0)
	ctx, err := engine.Load(code, world, transaction(nil))
	if err != nil {
		t.Fatalf("failed to load code: %v", err)
	}
	var site evm.BranchSite
	for {
		result, err := engine.Step(ctx)
		if err != nil {
			t.Fatalf("step failed: %v", err)
		}
		if result.Branch != nil {
			site = result.Branch.Site
			break
		}
		if result.Status != evm.Running {
			t.Fatalf("execution ended before the branch, status %v", result.Status)
		}
	}

	_, _, err = engine.Fork(ctx, site)
	if !errors.Is(err, evm.ErrUnconstrainedBranch) {
		t.Errorf("wanted ErrUnconstrainedBranch, got %v", err)
	}
}

func TestRunner_RevertRollsBackRealStorageWrites(t *testing.T) {
	// stores the first call data word at slot 0, then reverts
	code := evm.Code{
		0x60, 0x00, // PUSH1 0
		0x35,       // CALLDATALOAD
		0x60, 0x00, // PUSH1 0
		0x55,       // SSTORE
		0x60, 0x00, // PUSH1 0
		0x60, 0x00, // PUSH1 0
		0xfd, // REVERT
	}
	world := state.NewWorld()
	world.SetCode(account, code)

	input := make(evm.Data, 32)
	input[31] = 7
	r := runner.NewContractRunner(NewEngine(0), world, runner.Config{})
	result, err := r.Run(transaction(input))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != evm.Reverted {
		t.Fatalf("wanted status %v, got %v", evm.Reverted, result.Status)
	}
	if got := world.GetStorage(account, evm.Key{}); got != (evm.Word{}) {
		t.Errorf("reverted store must be rolled back, slot holds %v", got)
	}
}

func TestRunner_NestedCallExecutesTheCallee(t *testing.T) {
	callee := evm.Address{0x0b}
	// stores 5 at slot 0 of the callee
	calleeCode := evm.Code{
		0x60, 0x05, // PUSH1 5
		0x60, 0x00, // PUSH1 0
		0x55, // SSTORE
		0x00, // STOP
	}
	callerCode := evm.Code{
		0x60, 0x00, // PUSH1 0 (retSize)
		0x60, 0x00, // PUSH1 0 (retOffset)
		0x60, 0x00, // PUSH1 0 (inSize)
		0x60, 0x00, // PUSH1 0 (inOffset)
		0x60, 0x00, // PUSH1 0 (value)
		0x73, // PUSH20 (callee)
		0x0b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x61, 0xff, 0xff, // PUSH2 0xffff (gas)
		0xf1, // CALL
		0x50, // POP
		0x00, // STOP
	}
	world := state.NewWorld()
	world.SetCode(account, callerCode)
	world.SetCode(callee, calleeCode)

	r := runner.NewContractRunner(NewEngine(0), world, runner.Config{})
	result, err := r.Run(transaction(nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != evm.Success {
		t.Fatalf("wanted status %v, got %v", evm.Success, result.Status)
	}
	var want evm.Word
	want[31] = 5
	if got := world.GetStorage(callee, evm.Key{}); got != want {
		t.Errorf("wanted callee slot %v, got %v", want, got)
	}
}

func TestRunner_ExhaustedGasFailsTheExecution(t *testing.T) {
	world := state.NewWorld()
	world.SetCode(account, guarded)

	tx := transaction(nil)
	tx.GasLimit = 3
	r := runner.NewContractRunner(NewEngine(0), world, runner.Config{})
	result, err := r.Run(tx)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != evm.Reverted {
		t.Errorf("wanted status %v, got %v", evm.Reverted, result.Status)
	}
}

func TestRunner_JumpIntoPushDataFails(t *testing.T) {
	// the 0x5b byte at program counter 4 is a push operand, not a
	// JUMPDEST
	code := evm.Code{
		0x60, 0x04, // PUSH1 4
		0x56,       // JUMP
		0x60, 0x5b, // PUSH1 0x5b
		0x00, // STOP
	}
	world := state.NewWorld()
	world.SetCode(account, code)

	r := runner.NewContractRunner(NewEngine(0), world, runner.Config{})
	result, err := r.Run(transaction(nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != evm.Reverted {
		t.Errorf("wanted status %v, got %v", evm.Reverted, result.Status)
	}
}

func TestEngine_SnapshotRestoreRewindsTheContext(t *testing.T) {
	world := state.NewWorld()
	world.SetCode(account, guarded)

	engine := NewEngine(0)
	ctx, err := engine.Load(guarded, world, transaction(nil))
	if err != nil {
		t.Fatalf("failed to load code: %v", err)
	}
	first, err := engine.Step(ctx)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	mark, err := engine.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	second, err := engine.Step(ctx)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if second.PC == first.PC {
		t.Fatalf("stepping must advance the program counter")
	}

	if err := engine.Restore(ctx, mark); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	replayed, err := engine.Step(ctx)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if replayed.PC != second.PC || replayed.OpCode != second.OpCode {
		t.Errorf("restored context must replay the same step, wanted pc %d, got %d",
			second.PC, replayed.PC)
	}
}
