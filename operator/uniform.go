package operator

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/model"
)

// Uniform draws a new value of a random dimension uniformly between
// its bounds.
type Uniform struct {
	Base
	x model.Variable
}

// NewUniform creates a new uniform operator. All the bounds have to
// be finite.
func NewUniform(name string, x model.Variable, weight float64) (*Uniform, error) {
	if x.Dimension() == 0 {
		return nil, errors.Errorf("%s: %s has no dimensions", name, x.ID())
	}
	for i := 0; i < x.Dimension(); i++ {
		lower, upper, err := x.Bounds(i)
		if err != nil {
			return nil, err
		}
		if math.IsInf(lower, 0) || math.IsInf(upper, 0) {
			return nil, errors.Errorf("%s: %s has infinite bounds", name, model.ColumnName(x, i))
		}
	}
	return &Uniform{
		Base: NewBase(name, weight),
		x:    x,
	}, nil
}

// Propose redraws a random dimension.
func (u *Uniform) Propose(rng *rand.Rand) (Proposal, error) {
	i := rng.Intn(u.x.Dimension())
	lower, upper, err := u.x.Bounds(i)
	if err != nil {
		return NoValidMove, err
	}
	nv := math.Min(upper, lower+closedUniform(rng)*(upper-lower))
	if err := u.x.SetValue(i, nv); err != nil {
		return NoValidMove, err
	}
	return Move(0), nil
}
