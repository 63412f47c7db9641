// Package solver provides the path-constraint model shared between the
// execution engine capability and the symbolic explorer, together with a
// baseline constraint solver based on interval arithmetic. The baseline
// solver handles the conjunctions of variable/constant comparisons that
// concolic exploration of branch conditions produces; anything beyond
// that is reported as unsolved, never as an error.
package solver

import (
	"context"
	"errors"
	"math"

	"github.com/holiman/uint256"
	"pgregory.net/rand"
)

// ErrUnsatisfiable is reported when a domain has been constrained down to
// the empty set. Infeasible paths are a normal outcome of exploration and
// callers typically treat this as "no input exists", not as a failure.
var ErrUnsatisfiable = errors.New("constraints are unsatisfiable")

// Solver produces concrete variable assignments satisfying a path
// condition. Implementations must honor the deadline of the provided
// context; expiring it yields (nil, false, nil), the "no solution found
// this round" outcome.
type Solver interface {
	Solve(ctx context.Context, condition []Constraint) (Model, bool, error)
}

// IntervalConstraintSolver is the default Solver. It keeps one interval
// domain per variable and intersects it with every constraint of the
// path condition. Bounds above 2^64-1 make a variable's domain
// unrepresentable here and cause the query to be reported unsolved.
type IntervalConstraintSolver struct {
	rnd *rand.Rand
}

// NewSolver creates a solver sampling witnesses from the given seed.
func NewSolver(seed uint64) *IntervalConstraintSolver {
	return &IntervalConstraintSolver{rnd: rand.New(seed)}
}

// Solve attempts to find one assignment satisfying all constraints.
// The boolean result distinguishes "solved" from "no solution found",
// covering both proven infeasibility and giving up on a query outside
// the solver's fragment. The error is reserved for internal failures.
func (s *IntervalConstraintSolver) Solve(ctx context.Context, condition []Constraint) (Model, bool, error) {
	domains := map[string]*IntervalSolver[uint64]{}
	for _, c := range condition {
		if err := ctx.Err(); err != nil {
			return nil, false, nil // treated as a solver timeout
		}
		if c.Bound == nil {
			return nil, false, nil
		}
		if !c.Bound.IsUint64() {
			// Constants beyond 64 bits exceed the interval fragment.
			// Comparisons against them are decided conservatively:
			// report the query unsolved rather than guessing.
			return nil, false, nil
		}
		domain, ok := domains[c.Var]
		if !ok {
			domain = NewIntervalSolver[uint64](0, math.MaxUint64)
			domains[c.Var] = domain
		}
		domain.Constrain(c.Op, c.Bound.Uint64())
		if !domain.IsSatisfiable() {
			return nil, false, nil // proven infeasible
		}
	}

	model := Model{}
	for name, domain := range domains {
		value, err := domain.Sample(s.rnd)
		if err != nil {
			return nil, false, err
		}
		model[name] = uint256.NewInt(value)
	}
	return model, true, nil
}
