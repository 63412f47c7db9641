package explorer

import (
	gocontext "context"
	"errors"
	"fmt"
	"time"

	"github.com/trailofbits/optik/corpus"
	"github.com/trailofbits/optik/coverage"
	"github.com/trailofbits/optik/evm"
	"github.com/trailofbits/optik/runner"
	"github.com/trailofbits/optik/solver"
	"github.com/trailofbits/optik/state"
)

// Target is one branch direction the exploration tries to reach.
type Target struct {
	Site  evm.BranchSite
	Taken bool // the direction that is still uncovered
}

func (t Target) String() string {
	direction := "fallthrough"
	if t.Taken {
		direction = "taken"
	}
	return fmt.Sprintf("%v/%s", t.Site, direction)
}

// Frontier lists the half-covered branches of the coverage model: branch
// sites executed in one direction only, paired with the missing
// direction. The result is deterministic, ordered by contract, program
// counter and direction.
func Frontier(model *coverage.Model) []Target {
	covered := coverage.Diff(coverage.NewModel(), model)
	var result []Target
	for _, edge := range covered.Branches {
		if model.BranchCovered(edge.Contract, edge.PC, !edge.Taken) {
			continue
		}
		result = append(result, Target{
			Site:  evm.BranchSite{Contract: edge.Contract, PC: edge.PC},
			Taken: !edge.Taken,
		})
	}
	return result
}

// Explorer synthesizes corpus sequences reaching uncovered branch
// directions. It replays seed sequences through a symbolic engine, forks
// execution at the target branch and asks the engine's solver for
// concrete inputs satisfying the uncovered direction's path condition.
//
// An explorer owns its engine and must not be shared between workers.
type Explorer struct {
	engine        evm.Engine
	maps          *BranchMapCache
	solverTimeout time.Duration
}

// NewExplorer creates an explorer on the given engine. Each constraint
// solving query is cut off after solverTimeout.
func NewExplorer(engine evm.Engine, maps *BranchMapCache, solverTimeout time.Duration) *Explorer {
	return &Explorer{
		engine:        engine,
		maps:          maps,
		solverTimeout: solverTimeout,
	}
}

// Synthesize tries to derive a new input sequence from the given seed
// that drives execution through the target branch direction. The seed is
// replayed transaction by transaction on a clone of the given world
// state; when a replayed transaction passes the target site in the
// covered direction, execution is forked there and the uncovered
// direction's path condition is solved for a concrete witness, which is
// substituted back into the seed transaction.
//
// The boolean reports whether a sequence was synthesized. A seed that
// never passes the target site, a branch that does not depend on the
// symbolic inputs, an infeasible path condition and a solver timeout all
// yield (nil, false, nil); errors are engine faults.
func (e *Explorer) Synthesize(ctx gocontext.Context, world *state.World, seed corpus.Sequence, target Target) (corpus.Sequence, bool, error) {
	replay := world.Clone()
	r := runner.NewContractRunner(e.engine, replay, runner.Config{ContinueOnRevert: true})

	intercept := func(frame *runner.Frame, result evm.StepResult) bool {
		return result.Branch != nil &&
			result.Branch.Site == target.Site &&
			result.Branch.Taken != target.Taken
	}

	for i, tx := range seed {
		_, frame, err := r.RunIntercepted(tx, intercept)
		if err != nil {
			return nil, false, err
		}
		if frame == nil {
			continue
		}

		taken, alternate, err := e.engine.Fork(frame.Context, target.Site)
		if errors.Is(err, evm.ErrUnconstrainedBranch) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		wanted := alternate
		if target.Taken {
			wanted = taken
		}

		condition := e.engine.PathConstraints(wanted)
		solveCtx, cancel := gocontext.WithTimeout(ctx, e.solverTimeout)
		model, solved, err := e.engine.SolveConstraints(solveCtx, condition)
		cancel()
		if err != nil || !solved {
			return nil, false, err
		}

		result := make(corpus.Sequence, len(seed))
		copy(result, seed)
		result[i] = substitute(tx, model)
		return result, true, nil
	}
	return nil, false, nil
}

// substitute writes the solver model back into a transaction: variables
// data_<i> replace the i-th 32-byte call data word, the variable value
// replaces the transferred value. Unmentioned parts keep their seed
// values.
func substitute(tx evm.Transaction, model solver.Model) evm.Transaction {
	result := tx
	result.Input = append(evm.Data(nil), tx.Input...)
	for name, value := range model {
		if name == "value" {
			result.Value = evm.ValueFromUint256(value)
			continue
		}
		var index int
		if _, err := fmt.Sscanf(name, "data_%d", &index); err != nil || index < 0 {
			continue
		}
		end := (index + 1) * 32
		for len(result.Input) < end {
			result.Input = append(result.Input, 0)
		}
		word := value.Bytes32()
		copy(result.Input[index*32:end], word[:])
	}
	return result
}
