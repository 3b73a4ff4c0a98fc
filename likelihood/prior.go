package likelihood

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"bitbucket.org/Davydov/gobeast/model"
)

// PriorFunc is a log-density of a single value.
type PriorFunc func(float64) float64

// UniformPrior returns a uniform log-density on the interval between
// min and max. incmin and incmax specify whether the ends are
// included.
func UniformPrior(min, max float64, incmin, incmax bool) (PriorFunc, error) {
	if max <= min {
		return nil, errors.Errorf("uniform prior: max (%v) <= min (%v)", max, min)
	}
	d := -math.Log(max - min)
	return func(x float64) float64 {
		if (incmin && x < min) ||
			(!incmin && x <= min) ||
			(incmax && x > max) ||
			(!incmax && x >= max) {
			return math.Inf(-1)
		}
		return d
	}, nil
}

// GammaPrior returns a gamma log-density with the given shape and
// scale.
func GammaPrior(shape, scale float64, inczero bool) (PriorFunc, error) {
	if shape <= 0 || scale <= 0 {
		return nil, errors.New("shape and scale of gamma distribution must be > 0")
	}
	g := distuv.Gamma{Alpha: shape, Beta: 1 / scale}
	return func(x float64) float64 {
		if x < 0 || (x == 0 && !inczero) {
			return math.Inf(-1)
		}
		return g.LogProb(x)
	}, nil
}

// ExponentialPrior returns an exponential log-density.
func ExponentialPrior(rate float64, inczero bool) (PriorFunc, error) {
	if rate <= 0 {
		return nil, errors.New("exponential rate should be > 0")
	}
	e := distuv.Exponential{Rate: rate}
	return func(x float64) float64 {
		if x < 0 || (x == 0 && !inczero) {
			return math.Inf(-1)
		}
		return e.LogProb(x)
	}, nil
}

// NormalPrior returns a normal log-density.
func NormalPrior(mean, sd float64) (PriorFunc, error) {
	if sd <= 0 {
		return nil, errors.New("normal sd should be > 0")
	}
	n := distuv.Normal{Mu: mean, Sigma: sd}
	return n.LogProb, nil
}

// LogNormalPrior returns a log-normal log-density, mu and sigma are
// on the log scale.
func LogNormalPrior(mu, sigma float64) (PriorFunc, error) {
	if sigma <= 0 {
		return nil, errors.New("log-normal sigma should be > 0")
	}
	n := distuv.LogNormal{Mu: mu, Sigma: sigma}
	return func(x float64) float64 {
		if x <= 0 {
			return math.Inf(-1)
		}
		return n.LogProb(x)
	}, nil
}

// OneOnXPrior returns the improper 1/x log-density for positive values.
func OneOnXPrior() PriorFunc {
	return func(x float64) float64 {
		if x <= 0 {
			return math.Inf(-1)
		}
		return -math.Log(x)
	}
}

// SumPrior returns a product of two densities (sum on the log scale).
func SumPrior(f, g PriorFunc) PriorFunc {
	return func(x float64) float64 {
		return f(x) + g(x)
	}
}

// NewPrior creates a likelihood node applying f independently to every
// value of v.
func NewPrior(g *model.Graph, name string, v model.Variable, f PriorFunc) (*Cached, error) {
	d := DensityFunc(func() (res float64) {
		for i := 0; i < v.Dimension(); i++ {
			x, err := v.Value(i)
			if err != nil {
				log.Errorf("%s: %v", name, err)
				return math.NaN()
			}
			res += f(x)
		}
		return
	})
	return NewCached(g, name, d, v.Nodes()...)
}
