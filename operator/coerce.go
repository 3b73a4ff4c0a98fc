package operator

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// DefaultTarget is the default target acceptance probability.
const DefaultTarget = 0.234

// Transform is the step size schedule of the coercion.
type Transform int

// Coercion transforms. The step size after n applications is
// 1/(T(n)+1).
const (
	Default Transform = iota
	Sqrt
	Log
)

// ParseTransform converts a transform name to Transform.
func ParseTransform(s string) (Transform, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return Default, nil
	case "sqrt":
		return Sqrt, nil
	case "log":
		return Log, nil
	}
	return Default, errors.Errorf("unknown transform %q", s)
}

// String returns the transform name.
func (t Transform) String() string {
	switch t {
	case Sqrt:
		return "sqrt"
	case Log:
		return "log"
	}
	return "default"
}

// Apply computes T(n).
func (t Transform) Apply(n int) float64 {
	x := float64(n)
	switch t {
	case Sqrt:
		return math.Sqrt(x)
	case Log:
		return math.Log(x + 1)
	}
	return x
}

// Coerce moves the tuning parameter of op toward the target
// acceptance probability using the Robbins-Monro update
//
//	p' = p + (exp(min(0, logr)) - target) / (T(n) + 1)
//
// where n is the number of applications of the operator. Invalid
// proposals count as zero acceptance probability.
func Coerce(op Coercible, p Proposal, logr float64, t Transform) {
	if !op.AutoOptimize() {
		return
	}
	var prob float64
	if p.Valid {
		prob = math.Exp(math.Min(0, logr))
	}
	if math.IsNaN(prob) {
		return
	}
	old := op.CoercableParameter()
	delta := (prob - op.TargetAcceptance()) / (t.Apply(op.Stats().Count) + 1)
	op.SetCoercableParameter(old + delta)
}
