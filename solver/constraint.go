package solver

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Op is a comparison operator relating a symbolic variable to a constant.
type Op int

const (
	Eq Op = iota
	Ne
	Lt
	Le
	Gt
	Ge
	NumOps // not an actual operator
)

func (o Op) String() string {
	switch o {
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return fmt.Sprintf("Op(%d)", o)
	}
}

// Negate returns the operator describing the complement of o's relation.
func (o Op) Negate() Op {
	switch o {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Lt:
		return Ge
	case Le:
		return Gt
	case Gt:
		return Le
	case Ge:
		return Lt
	}
	return NumOps
}

// Constraint is a single predicate of a path condition: an unsigned
// comparison between one symbolic 256-bit variable and a constant bound.
// A path condition is an ordered slice of constraints, all of which must
// hold for execution to follow the path they were collected on.
type Constraint struct {
	Var   string
	Op    Op
	Bound *uint256.Int
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s %v %v", c.Var, c.Op, c.Bound)
}

// Negate returns the constraint describing the opposite branch direction.
func (c Constraint) Negate() Constraint {
	return Constraint{Var: c.Var, Op: c.Op.Negate(), Bound: c.Bound}
}

// Model assigns a concrete value to every symbolic variable of a solved
// path condition. Variables not mentioned by the constraints may be absent.
type Model map[string]*uint256.Int

func (m Model) String() string {
	if len(m) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(m))
	for name, value := range m {
		parts = append(parts, fmt.Sprintf("%s = %v", name, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
