// Package likelihood implements cached log-densities over the model
// graph and their compositions.
package likelihood

import (
	"math"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/model"
)

// log is the global logging variable.
var log = logging.MustGetLogger("likelihood")

// ErrSharedState is returned when children of a parallel compound
// depend on the same stateful node.
var ErrSharedState = errors.New("children share a stateful dependency")

// Likelihood is a graph node producing a log-density.
type Likelihood interface {
	// Name returns the likelihood name used in traces and errors.
	Name() string
	// Node returns the graph node of the likelihood.
	Node() model.NodeID
	// LogLikelihood returns the log-density for the current
	// parameter values. It recomputes only if the node is dirty.
	LogLikelihood() float64
}

// Density computes a log-density from scratch.
type Density interface {
	LogDensity() float64
}

// DensityFunc is a function implementing Density.
type DensityFunc func() float64

// LogDensity calls f.
func (f DensityFunc) LogDensity() float64 {
	return f()
}

// Parent is a likelihood which has children.
type Parent interface {
	Children() []Likelihood
}

// FindNaN returns the innermost likelihood evaluating to NaN, or nil.
func FindNaN(l Likelihood) Likelihood {
	if !math.IsNaN(l.LogLikelihood()) {
		return nil
	}
	if p, ok := l.(Parent); ok {
		for _, ch := range p.Children() {
			if bad := FindNaN(ch); bad != nil {
				return bad
			}
		}
	}
	return l
}

// Cached is a likelihood node which caches a density value. The value
// is recomputed only when one of the dependencies changed.
type Cached struct {
	g    *model.Graph
	name string
	node model.NodeID
	d    Density

	value  float64
	stored float64

	evaluations int
}

// NewCached creates a cached likelihood and adds it to the graph.
func NewCached(g *model.Graph, name string, d Density, deps ...model.NodeID) (*Cached, error) {
	c := &Cached{
		g:      g,
		name:   name,
		d:      d,
		value:  math.NaN(),
		stored: math.NaN(),
	}
	id, err := g.AddModel(name, c, deps...)
	if err != nil {
		return nil, errors.Wrapf(err, "likelihood %s", name)
	}
	c.node = id
	return c, nil
}

// Name returns the likelihood name.
func (c *Cached) Name() string {
	return c.name
}

// Node returns the graph node.
func (c *Cached) Node() model.NodeID {
	return c.node
}

// LogLikelihood returns the cached value, recomputing it if needed.
func (c *Cached) LogLikelihood() float64 {
	if c.g.IsDirty(c.node) {
		c.value = c.d.LogDensity()
		c.evaluations++
		c.g.MarkClean(c.node)
	}
	return c.value
}

// Evaluations returns how many times the density was computed.
func (c *Cached) Evaluations() int {
	return c.evaluations
}

// StoreState saves the cached value.
func (c *Cached) StoreState() error {
	c.stored = c.value
	return nil
}

// RestoreState reverts the cached value.
func (c *Cached) RestoreState() error {
	c.value = c.stored
	return nil
}

// AcceptState does nothing, the current value is already cached.
func (c *Cached) AcceptState() error {
	return nil
}
