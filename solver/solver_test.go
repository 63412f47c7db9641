package solver

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestSolver_SolvesConjunctions(t *testing.T) {
	tests := map[string]struct {
		condition []Constraint
		check     func(Model) bool
	}{
		"single-greater-than": {
			condition: []Constraint{
				{Var: "data_0", Op: Gt, Bound: uint256.NewInt(10)},
			},
			check: func(m Model) bool { return m["data_0"].Uint64() > 10 },
		},
		"bounded-window": {
			condition: []Constraint{
				{Var: "data_0", Op: Gt, Bound: uint256.NewInt(10)},
				{Var: "data_0", Op: Lt, Bound: uint256.NewInt(12)},
			},
			check: func(m Model) bool { return m["data_0"].Uint64() == 11 },
		},
		"equality": {
			condition: []Constraint{
				{Var: "value", Op: Eq, Bound: uint256.NewInt(42)},
			},
			check: func(m Model) bool { return m["value"].Uint64() == 42 },
		},
		"two-variables": {
			condition: []Constraint{
				{Var: "data_0", Op: Ge, Bound: uint256.NewInt(100)},
				{Var: "data_1", Op: Le, Bound: uint256.NewInt(5)},
			},
			check: func(m Model) bool {
				return m["data_0"].Uint64() >= 100 && m["data_1"].Uint64() <= 5
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			solver := NewSolver(0)
			model, solved, err := solver.Solve(context.Background(), test.condition)
			if err != nil {
				t.Fatalf("solver failed: %v", err)
			}
			if !solved {
				t.Fatalf("expected a solution for %v", test.condition)
			}
			if !test.check(model) {
				t.Errorf("model %v does not satisfy %v", model, test.condition)
			}
		})
	}
}

func TestSolver_ReportsInfeasiblePaths(t *testing.T) {
	condition := []Constraint{
		{Var: "data_0", Op: Gt, Bound: uint256.NewInt(10)},
		{Var: "data_0", Op: Lt, Bound: uint256.NewInt(5)},
	}
	model, solved, err := NewSolver(0).Solve(context.Background(), condition)
	if err != nil {
		t.Fatalf("solver failed: %v", err)
	}
	if solved || model != nil {
		t.Errorf("contradictory constraints must not produce a model, got %v", model)
	}
}

func TestSolver_LeavesItsFragmentUnsolved(t *testing.T) {
	wide := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	condition := []Constraint{{Var: "data_0", Op: Gt, Bound: wide}}
	_, solved, err := NewSolver(0).Solve(context.Background(), condition)
	if err != nil {
		t.Fatalf("solver failed: %v", err)
	}
	if solved {
		t.Errorf("bounds beyond 64 bit must be reported unsolved")
	}
}

func TestSolver_ExpiredContextIsATimeoutNotAnError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	condition := []Constraint{{Var: "data_0", Op: Gt, Bound: uint256.NewInt(10)}}
	model, solved, err := NewSolver(0).Solve(ctx, condition)
	if err != nil {
		t.Fatalf("timeout must not surface as an error, got %v", err)
	}
	if solved || model != nil {
		t.Errorf("timed-out query must be unsolved, got %v", model)
	}
}

func TestConstraint_NegateFlipsTheRelation(t *testing.T) {
	tests := map[Op]Op{Eq: Ne, Ne: Eq, Lt: Ge, Le: Gt, Gt: Le, Ge: Lt}
	for op, want := range tests {
		c := Constraint{Var: "x", Op: op, Bound: uint256.NewInt(1)}
		if got := c.Negate().Op; got != want {
			t.Errorf("negation of %v: wanted %v, got %v", op, want, got)
		}
	}
}
