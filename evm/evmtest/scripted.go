// Package evmtest provides a scripted Engine implementation for tests.
// Programs are small step lists interpreted per program counter; the
// engine evaluates branch predicates concolically against the concrete
// transaction, records the resulting path condition, and supports
// forking and constraint solving like a real symbolic backend.
package evmtest

import (
	gocontext "context"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/trailofbits/optik/evm"
	"github.com/trailofbits/optik/solver"
)

// Step is one scripted instruction. At most one of the pointer fields is
// set; a step with none of them is a no-op that advances the program
// counter.
type Step struct {
	OpCode byte

	Branch *BranchStep
	Call   *CallStep
	Store  *StoreStep
	Emit   *evm.Log
	Halt   *HaltStep
}

// BranchStep is a conditional jump on one symbolic operand. If the
// predicate holds for the concrete transaction, execution continues at
// Target, otherwise at the next step.
type BranchStep struct {
	Word    int        // index of the call data word compared, ignored if OnValue
	OnValue bool       // compare the transferred value instead of call data
	Cmp     solver.Op  // predicate operator
	Bound   *uint256.Int
	Target  uint64 // jump target when the predicate holds
}

// CallStep suspends the context with a nested call request. After the
// call result is delivered execution continues at the next step, or at
// OnFailure if the call failed and a target is given.
type CallStep struct {
	Recipient evm.Address
	Input     evm.Data
	Value     evm.Value
	Gas       evm.Gas
	OnFailure *uint64
}

// StoreStep writes a storage slot of the executing account. The value is
// the given constant, or the FromData-th call data word if set.
type StoreStep struct {
	Key      evm.Key
	Value    evm.Word
	FromData *int
}

// HaltStep terminates the context.
type HaltStep struct {
	Status evm.StepStatus
	Output evm.Data
}

// Program is a scripted contract, one step per program counter starting
// at zero. Running past the end terminates the context successfully.
type Program []Step

// Engine is a scripted evm.Engine for tests. Programs are registered
// under the hash of their bytecode before use.
type Engine struct {
	programs map[evm.Hash]Program
	solver   solver.Solver
}

// NewEngine creates a scripted engine whose constraint solving is backed
// by the interval solver seeded with the given seed.
func NewEngine(seed uint64) *Engine {
	return &Engine{
		programs: map[evm.Hash]Program{},
		solver:   solver.NewSolver(seed),
	}
}

// AddProgram registers the program executed for the given bytecode and
// returns the code hash it is registered under.
func (e *Engine) AddProgram(code evm.Code, program Program) evm.Hash {
	hash := evm.Hash(crypto.Keccak256Hash(code))
	e.programs[hash] = program
	return hash
}

type contextState struct {
	pc      uint64
	gasUsed evm.Gas
	trail   []solver.Constraint
	sites   []evm.BranchSite
	pending *evm.CallRequest
}

type context struct {
	code    evm.Hash
	program Program
	world   evm.WorldState
	tx      evm.Transaction

	contextState
	snapshots []contextState
	pinned    bool
}

func (s contextState) clone() contextState {
	result := s
	result.trail = append([]solver.Constraint(nil), s.trail...)
	result.sites = append([]evm.BranchSite(nil), s.sites...)
	if s.pending != nil {
		pending := *s.pending
		result.pending = &pending
	}
	return result
}

func (e *Engine) Load(code evm.Code, state evm.WorldState, tx evm.Transaction) (evm.Context, error) {
	hash := evm.Hash(crypto.Keccak256Hash(code))
	program, found := e.programs[hash]
	if !found {
		return nil, fmt.Errorf("no program registered for code %v", hash)
	}
	return &context{
		code:    hash,
		program: program,
		world:   state,
		tx:      tx,
	}, nil
}

func (e *Engine) Step(ctx evm.Context) (evm.StepResult, error) {
	c, err := e.context(ctx)
	if err != nil {
		return evm.StepResult{}, err
	}
	if c.pinned {
		return evm.StepResult{}, fmt.Errorf("stepping a forked context")
	}
	if c.pending != nil {
		return evm.StepResult{}, fmt.Errorf("stepping a context with an unresolved call")
	}
	if c.pc >= uint64(len(c.program)) {
		return evm.StepResult{
			Status:  evm.Stopped,
			PC:      c.pc,
			GasUsed: c.gasUsed,
		}, nil
	}

	step := c.program[c.pc]
	c.gasUsed++
	result := evm.StepResult{
		Status:  evm.Running,
		PC:      c.pc,
		OpCode:  step.OpCode,
		GasUsed: c.gasUsed,
	}

	switch {
	case step.Halt != nil:
		result.Status = step.Halt.Status
		result.Output = step.Halt.Output

	case step.Branch != nil:
		branch := step.Branch
		site := evm.BranchSite{Contract: c.code, PC: c.pc}
		taken := evaluate(branch, c.tx)
		constraint := predicate(branch)
		if !taken {
			constraint = constraint.Negate()
		}
		c.trail = append(c.trail, constraint)
		c.sites = append(c.sites, site)
		result.Branch = &evm.BranchEvent{Site: site, Taken: taken}
		if taken {
			c.pc = branch.Target
		} else {
			c.pc++
		}

	case step.Call != nil:
		c.pending = &evm.CallRequest{
			Sender:    c.tx.Recipient,
			Recipient: step.Call.Recipient,
			Value:     step.Call.Value,
			Input:     step.Call.Input,
			Gas:       step.Call.Gas,
		}
		result.Status = evm.OutgoingCall
		result.Call = c.pending

	case step.Store != nil:
		value := step.Store.Value
		if step.Store.FromData != nil {
			value = evm.WordFromUint256(dataWord(c.tx.Input, *step.Store.FromData))
		}
		c.world.SetStorage(c.tx.Recipient, step.Store.Key, value)
		c.pc++

	case step.Emit != nil:
		result.Logs = []evm.Log{*step.Emit}
		c.pc++

	default:
		c.pc++
	}
	return result, nil
}

func (e *Engine) Fork(ctx evm.Context, site evm.BranchSite) (evm.Context, evm.Context, error) {
	c, err := e.context(ctx)
	if err != nil {
		return nil, nil, err
	}
	index := -1
	for i := len(c.sites) - 1; i >= 0; i-- {
		if c.sites[i] == site {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, nil, fmt.Errorf("context did not pass branch site %v", site)
	}
	if site.PC >= uint64(len(c.program)) {
		return nil, nil, fmt.Errorf("no branch at site %v", site)
	}
	branch := c.program[site.PC].Branch
	if branch == nil {
		return nil, nil, fmt.Errorf("no branch at site %v", site)
	}

	fork := func(constraint solver.Constraint) *context {
		result := &context{
			code:    c.code,
			program: c.program,
			world:   c.world,
			tx:      c.tx,
			pinned:  true,
		}
		result.trail = append(append([]solver.Constraint(nil), c.trail[:index]...), constraint)
		result.sites = append(append([]evm.BranchSite(nil), c.sites[:index]...), site)
		return result
	}
	return fork(predicate(branch)), fork(predicate(branch).Negate()), nil
}

func (e *Engine) PathConstraints(ctx evm.Context) []solver.Constraint {
	c, err := e.context(ctx)
	if err != nil {
		return nil
	}
	return append([]solver.Constraint(nil), c.trail...)
}

func (e *Engine) SolveConstraints(ctx gocontext.Context, condition []solver.Constraint) (solver.Model, bool, error) {
	return e.solver.Solve(ctx, condition)
}

func (e *Engine) ResumeCall(ctx evm.Context, result evm.CallResult) error {
	c, err := e.context(ctx)
	if err != nil {
		return err
	}
	if c.pending == nil {
		return fmt.Errorf("no call to resume")
	}
	call := c.program[c.pc].Call
	c.pending = nil
	if !result.Success && call.OnFailure != nil {
		c.pc = *call.OnFailure
		return nil
	}
	c.pc++
	return nil
}

func (e *Engine) Snapshot(ctx evm.Context) (evm.Snapshot, error) {
	c, err := e.context(ctx)
	if err != nil {
		return 0, err
	}
	c.snapshots = append(c.snapshots, c.contextState.clone())
	return evm.Snapshot(len(c.snapshots) - 1), nil
}

func (e *Engine) Restore(ctx evm.Context, snapshot evm.Snapshot) error {
	c, err := e.context(ctx)
	if err != nil {
		return err
	}
	if snapshot < 0 || int(snapshot) >= len(c.snapshots) {
		return fmt.Errorf("invalid snapshot %d", snapshot)
	}
	c.contextState = c.snapshots[snapshot].clone()
	c.snapshots = c.snapshots[:snapshot]
	return nil
}

func (e *Engine) context(ctx evm.Context) (*context, error) {
	c, ok := ctx.(*context)
	if !ok {
		return nil, fmt.Errorf("foreign context of type %T", ctx)
	}
	return c, nil
}

func predicate(branch *BranchStep) solver.Constraint {
	name := fmt.Sprintf("data_%d", branch.Word)
	if branch.OnValue {
		name = "value"
	}
	return solver.Constraint{Var: name, Op: branch.Cmp, Bound: branch.Bound}
}

func evaluate(branch *BranchStep, tx evm.Transaction) bool {
	operand := tx.Value.ToUint256()
	if !branch.OnValue {
		operand = dataWord(tx.Input, branch.Word)
	}
	cmp := operand.Cmp(branch.Bound)
	switch branch.Cmp {
	case solver.Eq:
		return cmp == 0
	case solver.Ne:
		return cmp != 0
	case solver.Lt:
		return cmp < 0
	case solver.Le:
		return cmp <= 0
	case solver.Gt:
		return cmp > 0
	case solver.Ge:
		return cmp >= 0
	}
	return false
}

// dataWord extracts the i-th 32-byte word of the call data, zero padded
// on the right like CALLDATALOAD.
func dataWord(data evm.Data, i int) *uint256.Int {
	var word [32]byte
	offset := i * 32
	for j := 0; j < 32; j++ {
		if offset+j < len(data) {
			word[j] = data[offset+j]
		}
	}
	return new(uint256.Int).SetBytes(word[:])
}
