// Package runner executes transactions against a journaled world state
// through a symbolic execution engine. It owns the call frame discipline:
// nested calls run in fresh contexts on a strictly LIFO stack, and a
// reverting frame rolls back exactly its own state changes.
package runner

import (
	"fmt"

	"github.com/trailofbits/optik/evm"
)

// MaxCallDepth bounds the nesting of call frames, matching the EVM call
// depth limit. Calls beyond the limit fail without entering a frame.
const MaxCallDepth = 1024

// Config adjusts the behavior of a ContractRunner.
type Config struct {
	// ContinueOnRevert makes RunSequence execute the remaining
	// transactions of a sequence after one of them reverted. Reverted
	// transactions leave no state changes behind either way.
	ContinueOnRevert bool
}

// ContractRunner drives the execution of transactions. A runner is bound
// to one engine and one world state; it is not safe for concurrent use,
// workers each get their own.
type ContractRunner struct {
	engine    evm.Engine
	world     evm.WorldState
	config    Config
	listeners []Listener
	stack     *EngineStack
}

// NewContractRunner creates a runner executing on the given world state
// through the given engine.
func NewContractRunner(engine evm.Engine, world evm.WorldState, config Config) *ContractRunner {
	return &ContractRunner{
		engine: engine,
		world:  world,
		config: config,
	}
}

// AddListener registers a listener for execution events. Listeners are
// notified in registration order.
func (r *ContractRunner) AddListener(listener Listener) {
	r.listeners = append(r.listeners, listener)
}

// Depth returns the call depth of the currently running transaction, or
// zero while no transaction is running.
func (r *ContractRunner) Depth() int {
	if r.stack == nil {
		return 0
	}
	return r.stack.Depth()
}

// TopContext returns the engine context of the currently executing call
// frame, or nil while no transaction is running.
func (r *ContractRunner) TopContext() evm.Context {
	if r.stack == nil || r.stack.Top() == nil {
		return nil
	}
	return r.stack.Top().Context
}

// RunSequence executes the transactions of a sequence in order against
// the runner's world state. Execution stops at the first revert unless
// the runner is configured to continue; the results of the executed
// prefix are returned either way. A non-nil error signals an engine
// fault, not a contract-level failure.
func (r *ContractRunner) RunSequence(sequence []evm.Transaction) ([]evm.ExecutionResult, error) {
	results := make([]evm.ExecutionResult, 0, len(sequence))
	for i, tx := range sequence {
		result, err := r.Run(tx)
		if err != nil {
			return results, fmt.Errorf("transaction %d: %w", i, err)
		}
		results = append(results, result)
		if result.Status == evm.Reverted && !r.config.ContinueOnRevert {
			break
		}
	}
	return results, nil
}

// StepInterceptor observes each step of a running transaction. Returning
// true suspends the execution, handing the currently executing frame to
// the caller.
type StepInterceptor func(frame *Frame, result evm.StepResult) bool

// Run executes a single transaction. Reverts are reported through the
// result status, after rolling back all state changes of the
// transaction. The returned error is reserved for engine faults.
func (r *ContractRunner) Run(tx evm.Transaction) (evm.ExecutionResult, error) {
	result, _, err := r.run(tx, nil)
	return result, err
}

// RunIntercepted executes a transaction like Run, but hands each step to
// the given interceptor. If the interceptor stops the execution, the
// suspended frame is returned with an undefined execution result and the
// world state is left mid-transaction; callers intercept on disposable
// world clones.
func (r *ContractRunner) RunIntercepted(tx evm.Transaction, intercept StepInterceptor) (evm.ExecutionResult, *Frame, error) {
	return r.run(tx, intercept)
}

func (r *ContractRunner) run(tx evm.Transaction, intercept StepInterceptor) (evm.ExecutionResult, *Frame, error) {
	for _, listener := range r.listeners {
		listener.OnTransactionStart(tx)
	}

	// Nonce accounting happens outside the transaction's snapshot scope,
	// a reverted transaction still consumes its sender's nonce.
	r.world.SetNonce(tx.Sender, r.world.GetNonce(tx.Sender)+1)

	code := r.world.GetCode(tx.Recipient)
	mark := r.world.CreateSnapshot()
	ctx, err := r.engine.Load(code, r.world, tx)
	if err != nil {
		return evm.ExecutionResult{}, nil, &evm.EngineFault{Cause: err}
	}

	stack := &EngineStack{}
	stack.Push(ctx, r.world.GetCodeHash(tx.Recipient), tx.GasLimit, mark)
	r.frameEnter(0)
	r.stack = stack
	defer func() { r.stack = nil }()

	var gasUsed evm.Gas
	for {
		frame := stack.Top()
		result, err := r.engine.Step(frame.Context)
		if err != nil {
			return evm.ExecutionResult{}, nil, asEngineFault(err)
		}

		for _, listener := range r.listeners {
			listener.OnInstruction(frame.Code, result.PC)
		}
		if result.Branch != nil {
			for _, listener := range r.listeners {
				listener.OnBranch(result.Branch.Site, result.Branch.Taken)
			}
		}
		frame.logs = append(frame.logs, result.Logs...)

		if intercept != nil && intercept(frame, result) {
			return evm.ExecutionResult{}, frame, nil
		}

		switch result.Status {
		case evm.Running:
			continue

		case evm.OutgoingCall:
			if err := r.enterCall(stack, result.Call); err != nil {
				return evm.ExecutionResult{}, nil, asEngineFault(err)
			}

		case evm.Stopped:
			depth := stack.Depth() - 1
			frame, err := stack.Pop()
			if err != nil {
				return evm.ExecutionResult{}, nil, err
			}
			r.frameExit(depth, false)
			gasUsed += result.GasUsed
			if parent := stack.Top(); parent != nil {
				parent.logs = append(parent.logs, frame.logs...)
				err := r.engine.ResumeCall(parent.Context, evm.CallResult{
					Success: true,
					Output:  result.Output,
					GasLeft: gasLeft(frame.GasLimit, result.GasUsed),
				})
				if err != nil {
					return evm.ExecutionResult{}, nil, asEngineFault(err)
				}
				continue
			}
			return evm.ExecutionResult{
				Status:  evm.Success,
				Output:  result.Output,
				GasUsed: gasUsed,
				Logs:    frame.logs,
			}, nil, nil

		case evm.StepReverted, evm.Failed:
			depth := stack.Depth() - 1
			frame, err := stack.Pop()
			if err != nil {
				return evm.ExecutionResult{}, nil, err
			}
			r.world.RestoreSnapshot(frame.worldMark)
			r.frameExit(depth, true)
			gasUsed += result.GasUsed
			if parent := stack.Top(); parent != nil {
				err := r.engine.ResumeCall(parent.Context, evm.CallResult{
					Success: false,
					Output:  result.Output,
					GasLeft: gasLeft(frame.GasLimit, result.GasUsed),
				})
				if err != nil {
					return evm.ExecutionResult{}, nil, asEngineFault(err)
				}
				continue
			}
			return evm.ExecutionResult{
				Status:       evm.Reverted,
				RevertReason: result.Output,
				GasUsed:      gasUsed,
			}, nil, nil

		default:
			return evm.ExecutionResult{}, nil, &evm.EngineFault{
				Cause: fmt.Errorf("unexpected step status %v", result.Status),
			}
		}
	}
}

// enterCall pushes a frame for a nested call requested by the top frame.
// Calls into accounts without code and calls beyond the depth limit are
// answered immediately without entering a frame.
func (r *ContractRunner) enterCall(stack *EngineStack, request *evm.CallRequest) error {
	if request == nil {
		return &evm.EngineFault{Cause: fmt.Errorf("outgoing call without call request")}
	}
	parent := stack.Top()

	if stack.Depth() >= MaxCallDepth {
		return r.engine.ResumeCall(parent.Context, evm.CallResult{Success: false})
	}

	code := r.world.GetCode(request.Recipient)
	if len(code) == 0 {
		return r.engine.ResumeCall(parent.Context, evm.CallResult{
			Success: true,
			GasLeft: request.Gas,
		})
	}

	mark := r.world.CreateSnapshot()
	ctx, err := r.engine.Load(code, r.world, evm.Transaction{
		Sender:    request.Sender,
		Recipient: request.Recipient,
		Input:     request.Input,
		Value:     request.Value,
		GasLimit:  request.Gas,
	})
	if err != nil {
		return err
	}
	stack.Push(ctx, r.world.GetCodeHash(request.Recipient), request.Gas, mark)
	r.frameEnter(stack.Depth() - 1)
	return nil
}

func (r *ContractRunner) frameEnter(depth int) {
	for _, listener := range r.listeners {
		listener.OnFrameEnter(depth)
	}
}

func (r *ContractRunner) frameExit(depth int, reverted bool) {
	for _, listener := range r.listeners {
		listener.OnFrameExit(depth, reverted)
	}
}

func gasLeft(limit, used evm.Gas) evm.Gas {
	if used > limit {
		return 0
	}
	return limit - used
}

func asEngineFault(err error) error {
	if _, ok := err.(*evm.EngineFault); ok {
		return err
	}
	return &evm.EngineFault{Cause: err}
}
