package operator

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/model"
)

// Scale multiplies a value by a random factor drawn uniformly between
// s and 1/s, where s in (0, 1) is the scale factor.
type Scale struct {
	Base
	x      model.Variable
	factor float64
	all    bool
	auto   bool
	target float64
}

// NewScale creates a new scale operator. Auto optimization is
// enabled.
func NewScale(name string, x model.Variable, factor, weight float64) (*Scale, error) {
	if factor <= 0 || factor >= 1 {
		return nil, errors.Errorf("%s: scale factor should be in (0, 1), got %v", name, factor)
	}
	if x.Dimension() == 0 {
		return nil, errors.Errorf("%s: %s has no dimensions", name, x.ID())
	}
	return &Scale{
		Base:   NewBase(name, weight),
		x:      x,
		factor: factor,
		auto:   true,
		target: DefaultTarget,
	}, nil
}

// SetScaleAll makes the operator scale all the dimensions by the same
// factor.
func (s *Scale) SetScaleAll(all bool) {
	s.all = all
}

// SetAutoOptimize enables or disables tuning.
func (s *Scale) SetAutoOptimize(auto bool) {
	s.auto = auto
}

// SetTarget sets the target acceptance probability.
func (s *Scale) SetTarget(target float64) {
	s.target = target
}

// Propose scales a random dimension (or all of them).
func (s *Scale) Propose(rng *rand.Rand) (Proposal, error) {
	scale := s.factor + rng.Float64()*(1/s.factor-s.factor)
	d := s.x.Dimension()

	if !s.all {
		i := rng.Intn(d)
		v, err := s.x.Value(i)
		if err != nil {
			return NoValidMove, err
		}
		nv := scale * v
		if !model.InBounds(s.x, i, nv) {
			return NoValidMove, nil
		}
		if err := s.x.SetValue(i, nv); err != nil {
			return NoValidMove, err
		}
		return Move(-math.Log(scale)), nil
	}

	nv := make([]float64, d)
	for i := range nv {
		v, err := s.x.Value(i)
		if err != nil {
			return NoValidMove, err
		}
		nv[i] = scale * v
		if !model.InBounds(s.x, i, nv[i]) {
			return NoValidMove, nil
		}
	}
	for i, v := range nv {
		if err := s.x.SetValueQuietly(i, v); err != nil {
			return NoValidMove, err
		}
	}
	s.x.FireChanged(-1, model.AllValuesChanged)
	return Move(float64(d-2) * math.Log(scale)), nil
}

// CoercableParameter returns log(1/s - 1).
func (s *Scale) CoercableParameter() float64 {
	return math.Log(1/s.factor - 1)
}

// SetCoercableParameter sets s = 1/(exp(p) + 1).
func (s *Scale) SetCoercableParameter(p float64) {
	f := 1 / (math.Exp(p) + 1)
	if f <= 0 || f >= 1 {
		log.Debugf("%s: scale factor %v outside of (0, 1), ignoring", s.name, f)
		return
	}
	s.factor = f
}

// RawParameter returns the scale factor.
func (s *Scale) RawParameter() float64 {
	return s.factor
}

// AutoOptimize returns true if tuning is enabled.
func (s *Scale) AutoOptimize() bool {
	return s.auto
}

// TargetAcceptance returns the target acceptance probability.
func (s *Scale) TargetAcceptance() float64 {
	return s.target
}
