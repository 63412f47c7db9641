package solver

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
	"pgregory.net/rand"
)

// IntervalSolver tracks the set of values a single unsigned variable may
// take as a union of disjoint, sorted intervals. Constraints are applied
// by excluding ranges; the remaining domain can be tested for
// satisfiability and sampled for a witness.
type IntervalSolver[T constraints.Unsigned] struct {
	intervals []interval[T]
}

type interval[T constraints.Unsigned] struct {
	low, high T // inclusive bounds
}

func (i interval[T]) contains(x T) bool {
	return i.low <= x && x <= i.high
}

// NewIntervalSolver creates a solver whose initial domain is [min..max].
func NewIntervalSolver[T constraints.Unsigned](min, max T) *IntervalSolver[T] {
	return &IntervalSolver[T]{intervals: []interval[T]{{min, max}}}
}

// Constrain restricts the domain to the values satisfying `X op bound`.
func (s *IntervalSolver[T]) Constrain(op Op, bound T) {
	var max T
	max = max - 1 // wraps to the maximum of T
	switch op {
	case Eq:
		s.AddLowerBoundary(bound)
		s.AddUpperBoundary(bound)
	case Ne:
		s.Exclude(bound, bound)
	case Lt:
		if bound == 0 {
			s.intervals = nil
			return
		}
		s.AddUpperBoundary(bound - 1)
	case Le:
		s.AddUpperBoundary(bound)
	case Gt:
		if bound == max {
			s.intervals = nil
			return
		}
		s.AddLowerBoundary(bound + 1)
	case Ge:
		s.AddLowerBoundary(bound)
	}
}

// Exclude removes [min..max] from the domain. Empty ranges are ignored.
func (s *IntervalSolver[T]) Exclude(min, max T) {
	if max < min {
		return
	}
	res := make([]interval[T], 0, len(s.intervals)+1)
	for _, cur := range s.intervals {
		if cur.high < min || max < cur.low {
			res = append(res, cur) // no overlap
			continue
		}
		if cur.low < min {
			res = append(res, interval[T]{cur.low, min - 1})
		}
		if max < cur.high {
			res = append(res, interval[T]{max + 1, cur.high})
		}
	}
	s.intervals = res
}

func (s *IntervalSolver[T]) AddLowerBoundary(value T) {
	if len(s.intervals) == 0 {
		return
	}
	min := s.intervals[0].low
	if min < value {
		s.Exclude(min, value-1)
	}
}

func (s *IntervalSolver[T]) AddUpperBoundary(value T) {
	if len(s.intervals) == 0 {
		return
	}
	max := s.intervals[len(s.intervals)-1].high
	if value < max {
		s.Exclude(value+1, max)
	}
}

func (s *IntervalSolver[T]) Contains(value T) bool {
	for _, i := range s.intervals {
		if i.contains(value) {
			return true
		}
	}
	return false
}

// IsSatisfiable reports whether any value remains in the domain.
func (s *IntervalSolver[T]) IsSatisfiable() bool {
	return len(s.intervals) > 0
}

// Sample draws a uniformly distributed value from the remaining domain.
func (s *IntervalSolver[T]) Sample(rnd *rand.Rand) (T, error) {
	if len(s.intervals) == 0 {
		return 0, ErrUnsatisfiable
	}

	domainSize := uint64(0)
	for _, i := range s.intervals {
		domainSize += uint64(i.high-i.low) + 1
	}
	if domainSize == 0 { // the domain is the full uint64 range
		return T(rnd.Uint64()), nil
	}

	pick := rnd.Uint64n(domainSize)
	for _, i := range s.intervals {
		width := uint64(i.high-i.low) + 1
		if pick < width {
			return i.low + T(pick), nil
		}
		pick -= width
	}
	return 0, fmt.Errorf("internal error: sample out of domain")
}

// Min returns the smallest value remaining in the domain.
func (s *IntervalSolver[T]) Min() (T, error) {
	if len(s.intervals) == 0 {
		return 0, ErrUnsatisfiable
	}
	return s.intervals[0].low, nil
}

func (s *IntervalSolver[T]) String() string {
	if len(s.intervals) == 0 {
		return "false"
	}
	clauses := make([]string, 0, len(s.intervals))
	for _, i := range s.intervals {
		clauses = append(clauses, fmt.Sprintf("[%d..%d]", i.low, i.high))
	}
	return fmt.Sprintf("X ∈ %s", strings.Join(clauses, " ∪ "))
}
