// Package concolic implements an Engine interpreting EVM bytecode
// directly. Call data words and the transferred value are tracked
// symbolically next to their concrete seed values; comparing one of them
// against a constant produces a branch predicate the interval solver can
// answer, so forked path conditions can be solved without an external
// backend.
//
// Importing the package registers the engine under the name "concolic".
package concolic

import (
	gocontext "context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/trailofbits/optik/evm"
	"github.com/trailofbits/optik/solver"
)

func init() {
	factory := func(config any) (evm.Engine, error) {
		seed := uint64(0)
		if config != nil {
			s, ok := config.(uint64)
			if !ok {
				return nil, fmt.Errorf("invalid configuration of type %T, want a uint64 solver seed", config)
			}
			seed = s
		}
		return NewEngine(seed), nil
	}
	if err := evm.RegisterEngineFactory("concolic", factory); err != nil {
		panic(fmt.Sprintf("failed to register concolic engine: %v", err))
	}
}

// memory beyond this limit fails the execution, standing in for the gas
// cost of memory expansion
const memoryLimit = 1 << 26

const maxStackSize = 1024

// Engine is a concolic EVM bytecode interpreter.
type Engine struct {
	solver solver.Solver
}

// NewEngine creates an engine whose constraint solving is backed by the
// interval solver seeded with the given seed.
func NewEngine(seed uint64) *Engine {
	return &Engine{solver: solver.NewSolver(seed)}
}

// word is one 256-bit stack slot. The concrete value is always present
// and never mutated in place; sym names the symbolic variable the slot
// mirrors, cond carries the predicate produced by a comparison on a
// symbolic operand.
type word struct {
	value *uint256.Int
	sym   string
	cond  *solver.Constraint
}

func concrete(value *uint256.Int) word {
	return word{value: value}
}

func boolWord(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return uint256.NewInt(0)
}

// branchRecord is one resolved JUMPI. The predicate is the asserted form
// of the condition, nil when the condition was concrete only.
type branchRecord struct {
	site      evm.BranchSite
	taken     bool
	predicate *solver.Constraint
}

type pendingCall struct {
	request   evm.CallRequest
	retOffset *uint256.Int
	retSize   *uint256.Int
}

type machine struct {
	pc         uint64
	gasUsed    evm.Gas
	stack      []word
	memory     []byte
	returnData []byte
	branches   []branchRecord
	pending    *pendingCall
}

func (m machine) clone() machine {
	result := m
	result.stack = append([]word(nil), m.stack...)
	result.memory = append([]byte(nil), m.memory...)
	result.returnData = append([]byte(nil), m.returnData...)
	result.branches = append([]branchRecord(nil), m.branches...)
	if m.pending != nil {
		pending := *m.pending
		result.pending = &pending
	}
	return result
}

type context struct {
	code      evm.Code
	hash      evm.Hash
	world     evm.WorldState
	tx        evm.Transaction
	jumpdests map[uint64]struct{}

	machine
	snapshots []machine
	pinned    bool
}

func (e *Engine) Load(code evm.Code, state evm.WorldState, tx evm.Transaction) (evm.Context, error) {
	return &context{
		code:      code,
		hash:      evm.Hash(crypto.Keccak256Hash(code)),
		world:     state,
		tx:        tx,
		jumpdests: scanJumpDests(code),
	}, nil
}

func scanJumpDests(code evm.Code) map[uint64]struct{} {
	dests := map[uint64]struct{}{}
	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		if op == vm.JUMPDEST {
			dests[uint64(pc)] = struct{}{}
		} else if op.IsPush() {
			pc += int(op - vm.PUSH1 + 1)
		}
	}
	return dests
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
	if c.pc >= uint64(len(c.code)) {
		return evm.StepResult{Status: evm.Stopped, PC: c.pc, GasUsed: c.gasUsed}, nil
	}

	op := vm.OpCode(c.code[c.pc])
	c.gasUsed++
	result := evm.StepResult{
		Status:  evm.Running,
		PC:      c.pc,
		OpCode:  byte(op),
		GasUsed: c.gasUsed,
	}
	if c.gasUsed > c.tx.GasLimit {
		result.Status = evm.Failed
		return result, nil
	}
	c.execute(op, &result)
	result.GasUsed = c.gasUsed
	return result, nil
}

// execute interprets a single instruction, advancing the program counter
// and updating the result in place. Stack underflows, invalid jumps and
// unsupported instructions terminate the execution with the Failed
// status, like an execution error on a real chain.
func (c *context) execute(op vm.OpCode, result *evm.StepResult) {
	if len(c.stack) >= maxStackSize {
		result.Status = evm.Failed
		return
	}
	switch {
	case op == vm.STOP:
		result.Status = evm.Stopped

	case op == vm.PUSH0:
		c.push(concrete(uint256.NewInt(0)))
		c.pc++

	case op >= vm.PUSH1 && op <= vm.PUSH32:
		n := uint64(op - vm.PUSH1 + 1)
		end := c.pc + 1 + n
		if end > uint64(len(c.code)) {
			end = uint64(len(c.code))
		}
		c.push(concrete(new(uint256.Int).SetBytes(c.code[c.pc+1 : end])))
		c.pc = c.pc + 1 + n

	case op >= vm.DUP1 && op <= vm.DUP16:
		n := int(op - vm.DUP1 + 1)
		if len(c.stack) < n {
			result.Status = evm.Failed
			return
		}
		c.push(c.stack[len(c.stack)-n])
		c.pc++

	case op >= vm.SWAP1 && op <= vm.SWAP16:
		n := int(op - vm.SWAP1 + 1)
		if len(c.stack) < n+1 {
			result.Status = evm.Failed
			return
		}
		top := len(c.stack) - 1
		c.stack[top], c.stack[top-n] = c.stack[top-n], c.stack[top]
		c.pc++

	case op == vm.POP:
		if _, ok := c.pop(); !ok {
			result.Status = evm.Failed
			return
		}
		c.pc++

	case op == vm.ADD:
		c.binop(result, (*uint256.Int).Add)
	case op == vm.SUB:
		c.binop(result, (*uint256.Int).Sub)
	case op == vm.MUL:
		c.binop(result, (*uint256.Int).Mul)
	case op == vm.DIV:
		c.binop(result, (*uint256.Int).Div)
	case op == vm.MOD:
		c.binop(result, (*uint256.Int).Mod)
	case op == vm.AND:
		c.binop(result, (*uint256.Int).And)
	case op == vm.OR:
		c.binop(result, (*uint256.Int).Or)
	case op == vm.XOR:
		c.binop(result, (*uint256.Int).Xor)

	case op == vm.NOT:
		x, ok := c.pop()
		if !ok {
			result.Status = evm.Failed
			return
		}
		c.push(concrete(new(uint256.Int).Not(x.value)))
		c.pc++

	case op == vm.SHL, op == vm.SHR:
		shift, okS := c.pop()
		x, okX := c.pop()
		if !okS || !okX {
			result.Status = evm.Failed
			return
		}
		value := uint256.NewInt(0)
		if shift.value.LtUint64(256) {
			n := uint(shift.value.Uint64())
			if op == vm.SHL {
				value = new(uint256.Int).Lsh(x.value, n)
			} else {
				value = new(uint256.Int).Rsh(x.value, n)
			}
		}
		c.push(concrete(value))
		c.pc++

	case op == vm.LT:
		c.compare(result, solver.Lt, solver.Gt, func(cmp int) bool { return cmp < 0 })
	case op == vm.GT:
		c.compare(result, solver.Gt, solver.Lt, func(cmp int) bool { return cmp > 0 })
	case op == vm.EQ:
		c.compare(result, solver.Eq, solver.Eq, func(cmp int) bool { return cmp == 0 })

	case op == vm.ISZERO:
		x, ok := c.pop()
		if !ok {
			result.Status = evm.Failed
			return
		}
		zero := concrete(boolWord(x.value.IsZero()))
		if x.cond != nil {
			negated := x.cond.Negate()
			zero.cond = &negated
		} else if x.sym != "" {
			zero.cond = &solver.Constraint{Var: x.sym, Op: solver.Eq, Bound: uint256.NewInt(0)}
		}
		c.push(zero)
		c.pc++

	case op == vm.KECCAK256:
		offset, okO := c.pop()
		size, okS := c.pop()
		if !okO || !okS {
			result.Status = evm.Failed
			return
		}
		data, ok := c.memorySlice(offset.value, size.value)
		if !ok {
			result.Status = evm.Failed
			return
		}
		c.push(concrete(new(uint256.Int).SetBytes(crypto.Keccak256(data))))
		c.pc++

	case op == vm.ADDRESS:
		c.push(concrete(new(uint256.Int).SetBytes(c.tx.Recipient[:])))
		c.pc++
	case op == vm.CALLER, op == vm.ORIGIN:
		c.push(concrete(new(uint256.Int).SetBytes(c.tx.Sender[:])))
		c.pc++
	case op == vm.SELFBALANCE:
		c.push(concrete(c.world.GetBalance(c.tx.Recipient).ToUint256()))
		c.pc++

	case op == vm.CALLVALUE:
		c.push(word{value: c.tx.Value.ToUint256(), sym: "value"})
		c.pc++

	case op == vm.CALLDATALOAD:
		offset, ok := c.pop()
		if !ok {
			result.Status = evm.Failed
			return
		}
		loaded := word{value: loadData(c.tx.Input, offset.value)}
		if offset.sym == "" && offset.value.IsUint64() && offset.value.Uint64()%32 == 0 {
			loaded.sym = fmt.Sprintf("data_%d", offset.value.Uint64()/32)
		}
		c.push(loaded)
		c.pc++

	case op == vm.CALLDATASIZE:
		c.push(concrete(uint256.NewInt(uint64(len(c.tx.Input)))))
		c.pc++

	case op == vm.CALLDATACOPY:
		memOffset, okM := c.pop()
		dataOffset, okD := c.pop()
		size, okS := c.pop()
		if !okM || !okD || !okS {
			result.Status = evm.Failed
			return
		}
		target, ok := c.memorySlice(memOffset.value, size.value)
		if !ok {
			result.Status = evm.Failed
			return
		}
		copyPadded(target, c.tx.Input, dataOffset.value)
		c.pc++

	case op == vm.RETURNDATASIZE:
		c.push(concrete(uint256.NewInt(uint64(len(c.returnData)))))
		c.pc++

	case op == vm.RETURNDATACOPY:
		memOffset, okM := c.pop()
		dataOffset, okD := c.pop()
		size, okS := c.pop()
		if !okM || !okD || !okS {
			result.Status = evm.Failed
			return
		}
		if !dataOffset.value.IsUint64() || !size.value.IsUint64() ||
			dataOffset.value.Uint64()+size.value.Uint64() > uint64(len(c.returnData)) {
			result.Status = evm.Failed
			return
		}
		target, ok := c.memorySlice(memOffset.value, size.value)
		if !ok {
			result.Status = evm.Failed
			return
		}
		copy(target, c.returnData[dataOffset.value.Uint64():])
		c.pc++

	case op == vm.MLOAD:
		offset, ok := c.pop()
		if !ok {
			result.Status = evm.Failed
			return
		}
		data, ok := c.memorySlice(offset.value, uint256.NewInt(32))
		if !ok {
			result.Status = evm.Failed
			return
		}
		c.push(concrete(new(uint256.Int).SetBytes(data)))
		c.pc++

	case op == vm.MSTORE:
		offset, okO := c.pop()
		value, okV := c.pop()
		if !okO || !okV {
			result.Status = evm.Failed
			return
		}
		target, ok := c.memorySlice(offset.value, uint256.NewInt(32))
		if !ok {
			result.Status = evm.Failed
			return
		}
		bytes := value.value.Bytes32()
		copy(target, bytes[:])
		c.pc++

	case op == vm.MSTORE8:
		offset, okO := c.pop()
		value, okV := c.pop()
		if !okO || !okV {
			result.Status = evm.Failed
			return
		}
		target, ok := c.memorySlice(offset.value, uint256.NewInt(1))
		if !ok {
			result.Status = evm.Failed
			return
		}
		bytes := value.value.Bytes32()
		target[0] = bytes[31]
		c.pc++

	case op == vm.SLOAD:
		key, ok := c.pop()
		if !ok {
			result.Status = evm.Failed
			return
		}
		stored := c.world.GetStorage(c.tx.Recipient, evm.Key(key.value.Bytes32()))
		c.push(concrete(new(uint256.Int).SetBytes(stored[:])))
		c.pc++

	case op == vm.SSTORE:
		key, okK := c.pop()
		value, okV := c.pop()
		if !okK || !okV {
			result.Status = evm.Failed
			return
		}
		c.world.SetStorage(c.tx.Recipient, evm.Key(key.value.Bytes32()), evm.Word(value.value.Bytes32()))
		c.pc++

	case op == vm.JUMP:
		dest, ok := c.pop()
		if !ok || !c.validJump(dest.value) {
			result.Status = evm.Failed
			return
		}
		c.pc = dest.value.Uint64()

	case op == vm.JUMPI:
		dest, okD := c.pop()
		cond, okC := c.pop()
		if !okD || !okC {
			result.Status = evm.Failed
			return
		}
		site := evm.BranchSite{Contract: c.hash, PC: result.PC}
		taken := !cond.value.IsZero()
		c.branches = append(c.branches, branchRecord{site: site, taken: taken, predicate: cond.cond})
		result.Branch = &evm.BranchEvent{Site: site, Taken: taken}
		if taken {
			if !c.validJump(dest.value) {
				result.Status = evm.Failed
				return
			}
			c.pc = dest.value.Uint64()
		} else {
			c.pc++
		}

	case op == vm.JUMPDEST:
		c.pc++

	case op == vm.PC:
		c.push(concrete(uint256.NewInt(result.PC)))
		c.pc++

	case op == vm.GAS:
		c.push(concrete(uint256.NewInt(uint64(c.tx.GasLimit - c.gasUsed))))
		c.pc++

	case op >= vm.LOG0 && op <= vm.LOG4:
		offset, okO := c.pop()
		size, okS := c.pop()
		if !okO || !okS {
			result.Status = evm.Failed
			return
		}
		topics := make([]evm.Hash, 0, int(op-vm.LOG0))
		for i := 0; i < int(op-vm.LOG0); i++ {
			topic, ok := c.pop()
			if !ok {
				result.Status = evm.Failed
				return
			}
			topics = append(topics, evm.Hash(topic.value.Bytes32()))
		}
		data, ok := c.memorySlice(offset.value, size.value)
		if !ok {
			result.Status = evm.Failed
			return
		}
		result.Logs = []evm.Log{{
			Address: c.tx.Recipient,
			Topics:  topics,
			Data:    append(evm.Data(nil), data...),
		}}
		c.pc++

	case op == vm.CALL:
		c.call(result)

	case op == vm.RETURN, op == vm.REVERT:
		offset, okO := c.pop()
		size, okS := c.pop()
		if !okO || !okS {
			result.Status = evm.Failed
			return
		}
		data, ok := c.memorySlice(offset.value, size.value)
		if !ok {
			result.Status = evm.Failed
			return
		}
		result.Output = append(evm.Data(nil), data...)
		if op == vm.RETURN {
			result.Status = evm.Stopped
		} else {
			result.Status = evm.StepReverted
		}

	default:
		result.Status = evm.Failed
	}
}

func (c *context) push(w word) {
	c.stack = append(c.stack, w)
}

func (c *context) pop() (word, bool) {
	if len(c.stack) == 0 {
		return word{}, false
	}
	w := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return w, true
}

// binop pops two operands and pushes the concrete result of the given
// uint256 operation. Symbolic tags do not survive arithmetic; only
// direct comparisons of a symbolic word stay solvable.
func (c *context) binop(result *evm.StepResult, apply func(z, x, y *uint256.Int) *uint256.Int) {
	x, okX := c.pop()
	y, okY := c.pop()
	if !okX || !okY {
		result.Status = evm.Failed
		return
	}
	c.push(concrete(apply(new(uint256.Int), x.value, y.value)))
	c.pc++
}

// compare pops two operands and pushes the 0/1 outcome. When exactly one
// operand is a symbolic word, the outcome carries the predicate relating
// the variable to the concrete operand; flipped is the operator with the
// operands exchanged.
func (c *context) compare(result *evm.StepResult, op, flipped solver.Op, holds func(cmp int) bool) {
	x, okX := c.pop()
	y, okY := c.pop()
	if !okX || !okY {
		result.Status = evm.Failed
		return
	}
	outcome := concrete(boolWord(holds(x.value.Cmp(y.value))))
	switch {
	case x.sym != "" && y.sym == "":
		outcome.cond = &solver.Constraint{Var: x.sym, Op: op, Bound: y.value}
	case y.sym != "" && x.sym == "":
		outcome.cond = &solver.Constraint{Var: y.sym, Op: flipped, Bound: x.value}
	}
	c.push(outcome)
	c.pc++
}

func (c *context) call(result *evm.StepResult) {
	gas, okG := c.pop()
	to, okT := c.pop()
	value, okV := c.pop()
	inOffset, okIO := c.pop()
	inSize, okIS := c.pop()
	retOffset, okRO := c.pop()
	retSize, okRS := c.pop()
	if !okG || !okT || !okV || !okIO || !okIS || !okRO || !okRS {
		result.Status = evm.Failed
		return
	}
	input, ok := c.memorySlice(inOffset.value, inSize.value)
	if !ok {
		result.Status = evm.Failed
		return
	}
	forwarded := c.tx.GasLimit - c.gasUsed
	if gas.value.IsUint64() && gas.value.Uint64() < uint64(forwarded) {
		forwarded = evm.Gas(gas.value.Uint64())
	}
	var recipient evm.Address
	raw := to.value.Bytes32()
	copy(recipient[:], raw[12:])
	c.pending = &pendingCall{
		request: evm.CallRequest{
			Sender:    c.tx.Recipient,
			Recipient: recipient,
			Value:     evm.ValueFromUint256(value.value),
			Input:     append(evm.Data(nil), input...),
			Gas:       forwarded,
		},
		retOffset: retOffset.value,
		retSize:   retSize.value,
	}
	result.Status = evm.OutgoingCall
	result.Call = &c.pending.request
}

func (c *context) validJump(dest *uint256.Int) bool {
	if !dest.IsUint64() {
		return false
	}
	_, ok := c.jumpdests[dest.Uint64()]
	return ok
}

// memorySlice grows the memory to cover [offset, offset+size) and returns
// that window. A zero size yields an empty slice without growing; windows
// beyond the memory limit are rejected.
func (c *context) memorySlice(offset, size *uint256.Int) ([]byte, bool) {
	if size.IsZero() {
		return nil, true
	}
	if !offset.IsUint64() || !size.IsUint64() {
		return nil, false
	}
	end := offset.Uint64() + size.Uint64()
	if end < offset.Uint64() || end > memoryLimit {
		return nil, false
	}
	if uint64(len(c.memory)) < end {
		c.memory = append(c.memory, make([]byte, end-uint64(len(c.memory)))...)
	}
	return c.memory[offset.Uint64():end], true
}

// loadData reads the 32-byte word of the call data at the given offset,
// zero padded on the right like CALLDATALOAD.
func loadData(data evm.Data, offset *uint256.Int) *uint256.Int {
	var result [32]byte
	if offset.IsUint64() {
		start := offset.Uint64()
		for i := uint64(0); i < 32; i++ {
			if start+i < uint64(len(data)) {
				result[i] = data[start+i]
			}
		}
	}
	return new(uint256.Int).SetBytes(result[:])
}

// copyPadded fills target from source starting at the given offset,
// padding with zero bytes where the source is exhausted.
func copyPadded(target []byte, source evm.Data, offset *uint256.Int) {
	for i := range target {
		target[i] = 0
	}
	if !offset.IsUint64() {
		return
	}
	start := offset.Uint64()
	if start < uint64(len(source)) {
		copy(target, source[start:])
	}
}

func (e *Engine) Fork(ctx evm.Context, site evm.BranchSite) (evm.Context, evm.Context, error) {
	c, err := e.context(ctx)
	if err != nil {
		return nil, nil, err
	}
	index := -1
	for i := len(c.branches) - 1; i >= 0; i-- {
		if c.branches[i].site == site {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, nil, fmt.Errorf("context did not pass branch site %v", site)
	}
	predicate := c.branches[index].predicate
	if predicate == nil {
		return nil, nil, fmt.Errorf("fork at %v: %w", site, evm.ErrUnconstrainedBranch)
	}

	fork := func(taken bool) *context {
		result := &context{
			code:      c.code,
			hash:      c.hash,
			world:     c.world,
			tx:        c.tx,
			jumpdests: c.jumpdests,
			pinned:    true,
		}
		result.branches = append([]branchRecord(nil), c.branches[:index]...)
		result.branches = append(result.branches, branchRecord{site: site, taken: taken, predicate: predicate})
		return result
	}
	return fork(true), fork(false), nil
}

func (e *Engine) PathConstraints(ctx evm.Context) []solver.Constraint {
	c, err := e.context(ctx)
	if err != nil {
		return nil
	}
	result := make([]solver.Constraint, 0, len(c.branches))
	for _, record := range c.branches {
		if record.predicate == nil {
			continue
		}
		constraint := *record.predicate
		if !record.taken {
			constraint = constraint.Negate()
		}
		result = append(result, constraint)
	}
	return result
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
	pending := c.pending
	c.pending = nil
	c.returnData = append([]byte(nil), result.Output...)
	if len(result.Output) > 0 && !pending.retSize.IsZero() {
		target, ok := c.memorySlice(pending.retOffset, pending.retSize)
		if !ok {
			return fmt.Errorf("return data does not fit into memory")
		}
		copy(target, result.Output)
	}
	c.push(concrete(boolWord(result.Success)))
	c.pc++
	return nil
}

func (e *Engine) Snapshot(ctx evm.Context) (evm.Snapshot, error) {
	c, err := e.context(ctx)
	if err != nil {
		return 0, err
	}
	c.snapshots = append(c.snapshots, c.machine.clone())
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
	c.machine = c.snapshots[snapshot].clone()
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
