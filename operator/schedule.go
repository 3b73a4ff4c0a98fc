package operator

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Mode is the operator selection mode.
type Mode int

// Selection modes.
const (
	// Random selects operators with probability proportional to
	// their weights.
	Random Mode = iota
	// Sequential cycles through operators, each operator is
	// repeated weight times.
	Sequential
)

// ParseMode converts a mode name to Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "random":
		return Random, nil
	case "sequential":
		return Sequential, nil
	}
	return Random, errors.Errorf("unknown schedule mode %q", s)
}

// String returns the mode name.
func (m Mode) String() string {
	if m == Sequential {
		return "sequential"
	}
	return "random"
}

// Schedule is a weighted set of operators.
type Schedule struct {
	ops  []Operator
	mode Mode

	// base weights, reweighting is relative to them
	base []float64
	// weights used to build the prefix sums
	weights []float64
	cum     []float64
	total   float64
	stale   bool

	// position in the sequential mode
	q float64
}

// NewSchedule creates an empty schedule.
func NewSchedule(mode Mode) *Schedule {
	return &Schedule{
		mode:  mode,
		stale: true,
	}
}

// Add adds an operator. OperatorsUpdated has to be called before the
// next selection.
func (s *Schedule) Add(op Operator) {
	s.ops = append(s.ops, op)
	s.base = append(s.base, op.Weight())
	s.stale = true
}

// Len returns the number of operators.
func (s *Schedule) Len() int {
	return len(s.ops)
}

// Operator returns the i-th operator.
func (s *Schedule) Operator(i int) Operator {
	return s.ops[i]
}

// Operators returns all the operators.
func (s *Schedule) Operators() []Operator {
	return s.ops
}

// Get returns an operator by name or nil.
func (s *Schedule) Get(name string) Operator {
	for _, op := range s.ops {
		if op.Name() == name {
			return op
		}
	}
	return nil
}

// SetWeight changes the weight of the i-th operator. OperatorsUpdated
// has to be called before the next selection.
func (s *Schedule) SetWeight(i int, w float64) {
	s.ops[i].SetWeight(w)
	s.base[i] = w
	s.stale = true
}

// BaseWeight returns the weight of the i-th operator before
// reweighting.
func (s *Schedule) BaseWeight(i int) float64 {
	return s.base[i]
}

// Restore sets the base and the current weight of the i-th operator,
// e.g. from a checkpoint. OperatorsUpdated has to be called before the
// next selection.
func (s *Schedule) Restore(i int, base, w float64) {
	s.ops[i].SetWeight(w)
	s.base[i] = base
	s.stale = true
}

// TotalWeight returns the sum of weights at the last update.
func (s *Schedule) TotalWeight() float64 {
	return s.total
}

// OperatorsUpdated rebuilds the prefix sums after weight changes.
func (s *Schedule) OperatorsUpdated() error {
	s.weights = s.weights[:0]
	s.cum = s.cum[:0]
	s.total = 0
	for _, op := range s.ops {
		w := op.Weight()
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.Errorf("operator %s: invalid weight %v", op.Name(), w)
		}
		s.weights = append(s.weights, w)
		s.total += w
		s.cum = append(s.cum, s.total)
	}
	if s.total <= 0 {
		return ErrNoOperators
	}
	if s.q >= s.total {
		s.q = 0
	}
	s.stale = false
	return nil
}

// isStale returns true if a weight changed after the last update.
func (s *Schedule) isStale() bool {
	if s.stale || len(s.weights) != len(s.ops) {
		return true
	}
	for i, op := range s.ops {
		if op.Weight() != s.weights[i] {
			return true
		}
	}
	return false
}

// find returns the operator whose prefix sum interval contains u.
// Zero weight operators have empty intervals and are never returned.
func (s *Schedule) find(u float64) int {
	i := sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > u })
	if i == len(s.cum) {
		// rounding, take the last operator with positive weight
		for i = len(s.weights) - 1; s.weights[i] == 0; i-- {
		}
	}
	return i
}

// NextIndex selects the next operator.
func (s *Schedule) NextIndex(rng *rand.Rand) (int, error) {
	if len(s.ops) == 0 {
		return -1, ErrNoOperators
	}
	if s.isStale() {
		return -1, ErrStaleSchedule
	}
	if s.mode == Sequential {
		i := s.find(s.q)
		s.q++
		if s.q >= s.total {
			s.q = 0
		}
		return i, nil
	}
	return s.find(rng.Float64() * s.total), nil
}

// Reweight sets every operator weight to its base weight multiplied
// by the ratio of the acceptance rate to the target acceptance,
// clamped to [floor, 1]. Operators which were never applied keep the
// base weight.
func (s *Schedule) Reweight(floor float64) error {
	for i, op := range s.ops {
		st := op.Stats()
		if st.Count == 0 || s.base[i] == 0 {
			continue
		}
		target := DefaultTarget
		if c, ok := op.(Coercible); ok {
			target = c.TargetAcceptance()
		}
		f := math.Max(floor, math.Min(1, st.AcceptanceRate()/target))
		op.SetWeight(s.base[i] * f)
	}
	if err := s.OperatorsUpdated(); err != nil {
		return errors.Wrap(err, "reweighting")
	}
	log.Debugf("operator weights: %v", s.weights)
	return nil
}
