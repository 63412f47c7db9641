package evm

import (
	gocontext "context"
	"errors"
	"fmt"

	"github.com/trailofbits/optik/solver"
)

// ErrUnconstrainedBranch is returned by Fork when the condition of the
// branch at the requested site does not depend on the transaction's
// symbolic inputs, so neither direction can be solved for.
var ErrUnconstrainedBranch = errors.New("branch condition carries no symbolic inputs")

//go:generate mockgen -source engine.go -destination engine_mock.go -package evm

// Engine is the narrow capability interface of a symbolic execution
// engine. The core never looks inside an engine: it loads bytecode into
// opaque contexts, single-steps them, forks them at branch sites, asks
// for the path condition of a context and for concrete models satisfying
// it, and snapshots/restores contexts.
//
// An Engine instance is bound to exactly one call frame at a time per
// context; concurrent use of distinct contexts created by the same engine
// is implementation defined and not relied upon by the core. Workers each
// create their own engine through the registry.
type Engine interface {
	// Load creates a new execution context for the given code, operating
	// on the given world state, primed with the given transaction. The
	// engine treats the transaction's input data concolically: every
	// 32-byte word of call data is a symbolic variable named "data_<i>"
	// whose concrete seed is the provided value; the transferred value is
	// the symbolic variable "value".
	Load(code Code, state WorldState, tx Transaction) (Context, error)

	// Step advances the context by one instruction. The returned error is
	// nil whenever the engine made progress or the executed code
	// terminated, including termination by REVERT or an execution error
	// inside the contract. A non-nil error signals an engine-internal
	// fault; the context is undefined afterwards.
	Step(Context) (StepResult, error)

	// Fork splits a context sitting at the given branch site into two
	// contexts, one per direction. The returned contexts carry the path
	// condition of their respective direction; they need not remain
	// steppable and are typically used only to extract constraints.
	Fork(Context, BranchSite) (taken Context, alternate Context, err error)

	// PathConstraints returns the path condition accumulated by the
	// context so far, in collection order.
	PathConstraints(Context) []solver.Constraint

	// SolveConstraints asks the engine's solver capability for a model of
	// the given path condition. A query that times out (deadline of ctx)
	// or proves infeasible yields (nil, false, nil).
	SolveConstraints(ctx gocontext.Context, condition []solver.Constraint) (solver.Model, bool, error)

	// ResumeCall delivers the result of a nested call back into the
	// context that requested it, so that stepping can continue behind the
	// call site.
	ResumeCall(Context, CallResult) error

	// Snapshot captures the engine-internal state of the context.
	Snapshot(Context) (Snapshot, error)

	// Restore rolls the context back to a previously captured snapshot.
	Restore(Context, Snapshot) error
}

// Context is an opaque handle on one execution context inside an Engine.
// Only the engine that created a context may interpret it. A context is
// exclusively owned by the call frame it was created for and must not
// cross worker boundaries.
type Context interface{}

// StepStatus describes the situation of a context after one step.
type StepStatus int

const (
	Running        StepStatus = iota // still running
	Stopped                          // terminated successfully (STOP or RETURN)
	StepReverted                     // terminated with a REVERT
	Failed                           // terminated by an execution error (out of gas, invalid opcode)
	OutgoingCall                     // suspended, waiting for a nested call to be performed
	NumStepStatuses                  // not an actual status
)

func (s StepStatus) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case StepReverted:
		return "reverted"
	case Failed:
		return "failed"
	case OutgoingCall:
		return "outgoing_call"
	default:
		return fmt.Sprintf("StepStatus(%d)", s)
	}
}

// StepResult reports what a single step executed.
type StepResult struct {
	Status StepStatus
	PC     uint64 // program counter of the executed instruction
	OpCode byte

	// Branch is set when the executed instruction resolved a conditional
	// jump, recording the site and the direction taken.
	Branch *BranchEvent

	// Call is set when Status is OutgoingCall and describes the nested
	// call the context wants performed.
	Call *CallRequest

	Output  Data  // return or revert data on Stopped/StepReverted/Failed
	GasUsed Gas   // gas consumed so far in this context
	Logs    []Log // logs emitted by this step, if any
}

// BranchSite identifies one conditional branch instruction by the code it
// lives in and its program counter.
type BranchSite struct {
	Contract Hash   // hash of the code containing the branch
	PC       uint64 // program counter of the conditional jump
}

func (s BranchSite) String() string {
	return fmt.Sprintf("%v@%d", s.Contract, s.PC)
}

// BranchEvent records one resolved conditional jump.
type BranchEvent struct {
	Site  BranchSite
	Taken bool // true if the jump condition held
}

// CallRequest describes a nested call a context wants performed before it
// can continue.
type CallRequest struct {
	Sender    Address
	Recipient Address
	Value     Value
	Input     Data
	Gas       Gas
}

// CallResult carries the outcome of a nested call back to the requesting
// context.
type CallResult struct {
	Success bool
	Output  Data
	GasLeft Gas
}

// EngineFault is an unrecoverable engine-internal error. It is fatal to
// the run that triggered it and is surfaced, not retried; contract-level
// reverts are never reported this way.
type EngineFault struct {
	Cause error
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("engine fault: %v", e.Cause)
}

func (e *EngineFault) Unwrap() error {
	return e.Cause
}
