package operator

import (
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/model"
)

// Boundary specifies what happens when a random walk leaves the
// bounds.
type Boundary int

// Boundary conditions.
const (
	Reflect Boundary = iota
	Reject
)

// ParseBoundary converts a boundary name to Boundary.
func ParseBoundary(s string) (Boundary, error) {
	switch strings.ToLower(s) {
	case "", "reflect", "reflecting":
		return Reflect, nil
	case "reject", "absorbing":
		return Reject, nil
	}
	return Reflect, errors.Errorf("unknown boundary condition %q", s)
}

// RandomWalk adds a symmetric random step to a random dimension. The
// step is uniform in [-w, w] or normal with sd w.
type RandomWalk struct {
	Base
	x        model.Variable
	window   float64
	normal   bool
	boundary Boundary
	auto     bool
	target   float64
}

// NewRandomWalk creates a new random walk operator. Auto optimization
// is enabled.
func NewRandomWalk(name string, x model.Variable, window, weight float64) (*RandomWalk, error) {
	if window <= 0 {
		return nil, errors.Errorf("%s: window should be > 0, got %v", name, window)
	}
	if x.Dimension() == 0 {
		return nil, errors.Errorf("%s: %s has no dimensions", name, x.ID())
	}
	return &RandomWalk{
		Base:   NewBase(name, weight),
		x:      x,
		window: window,
		auto:   true,
		target: DefaultTarget,
	}, nil
}

// SetNormal switches between normal and uniform steps.
func (r *RandomWalk) SetNormal(normal bool) {
	r.normal = normal
}

// SetBoundary sets the boundary condition.
func (r *RandomWalk) SetBoundary(b Boundary) {
	r.boundary = b
}

// SetAutoOptimize enables or disables tuning.
func (r *RandomWalk) SetAutoOptimize(auto bool) {
	r.auto = auto
}

// SetTarget sets the target acceptance probability.
func (r *RandomWalk) SetTarget(target float64) {
	r.target = target
}

// Propose moves a random dimension. Reflection keeps the proposal
// symmetric, so the Hastings ratio is always zero.
func (r *RandomWalk) Propose(rng *rand.Rand) (Proposal, error) {
	i := rng.Intn(r.x.Dimension())
	v, err := r.x.Value(i)
	if err != nil {
		return NoValidMove, err
	}
	var nv float64
	if r.normal {
		nv = v + rng.NormFloat64()*r.window
	} else {
		nv = v + (2*closedUniform(rng)-1)*r.window
	}
	if !model.InBounds(r.x, i, nv) {
		if r.boundary == Reject {
			return NoValidMove, nil
		}
		lower, upper, err := r.x.Bounds(i)
		if err != nil {
			return NoValidMove, err
		}
		nv = reflect(nv, lower, upper)
		if !model.InBounds(r.x, i, nv) {
			return NoValidMove, nil
		}
	}
	if err := r.x.SetValue(i, nv); err != nil {
		return NoValidMove, err
	}
	return Move(0), nil
}

// CoercableParameter returns log(w).
func (r *RandomWalk) CoercableParameter() float64 {
	return math.Log(r.window)
}

// SetCoercableParameter sets w = exp(p).
func (r *RandomWalk) SetCoercableParameter(p float64) {
	w := math.Exp(p)
	if w <= 0 || math.IsInf(w, 1) {
		log.Debugf("%s: window %v, ignoring", r.name, w)
		return
	}
	r.window = w
}

// RawParameter returns the window size.
func (r *RandomWalk) RawParameter() float64 {
	return r.window
}

// AutoOptimize returns true if tuning is enabled.
func (r *RandomWalk) AutoOptimize() bool {
	return r.auto
}

// TargetAcceptance returns the target acceptance probability.
func (r *RandomWalk) TargetAcceptance() float64 {
	return r.target
}
