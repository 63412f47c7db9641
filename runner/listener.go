package runner

import "github.com/trailofbits/optik/evm"

// Listener observes the execution of transactions through a
// ContractRunner. Events are delivered synchronously from the worker
// running the transaction; implementations that are shared between
// workers must synchronize internally.
//
// Events describe what was executed, not what survived: instructions and
// branches of a frame that later reverts are still reported, discovery is
// independent of state rollback.
type Listener interface {
	// OnTransactionStart is called before the first instruction of the
	// top-level frame of the given transaction.
	OnTransactionStart(tx evm.Transaction)

	// OnFrameEnter is called when a call frame at the given depth starts
	// executing. The top-level frame has depth 0.
	OnFrameEnter(depth int)

	// OnFrameExit is called when the frame at the given depth terminated,
	// reporting whether its state changes were rolled back.
	OnFrameExit(depth int, reverted bool)

	// OnInstruction is called after each executed instruction with the
	// hash of the containing code and the instruction's program counter.
	OnInstruction(code evm.Hash, pc uint64)

	// OnBranch is called when a conditional jump was resolved.
	OnBranch(site evm.BranchSite, taken bool)
}
