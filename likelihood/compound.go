package likelihood

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"bitbucket.org/Davydov/gobeast/model"
)

// Compound is a sum of child likelihoods, e.g. prior plus data
// likelihood. Its value is cached like any other node and is valid
// while none of the children is dirty.
type Compound struct {
	g        *model.Graph
	name     string
	node     model.NodeID
	children []Likelihood

	// child values of the last evaluation
	values       []float64
	storedValues []float64
	value        float64
	stored       float64

	early   bool
	threads int

	evaluations int
}

// NewCompound creates a compound likelihood and adds it to the graph.
func NewCompound(g *model.Graph, name string, children ...Likelihood) (*Compound, error) {
	if len(children) == 0 {
		return nil, errors.Errorf("compound %s has no children", name)
	}
	c := &Compound{
		g:            g,
		name:         name,
		children:     children,
		values:       make([]float64, len(children)),
		storedValues: make([]float64, len(children)),
		value:        math.NaN(),
		stored:       math.NaN(),
		threads:      1,
	}
	deps := make([]model.NodeID, len(children))
	for i, ch := range children {
		deps[i] = ch.Node()
		c.values[i] = math.NaN()
	}
	id, err := g.AddModel(name, c, deps...)
	if err != nil {
		return nil, errors.Wrapf(err, "likelihood %s", name)
	}
	c.node = id
	return c, nil
}

// Name returns the likelihood name.
func (c *Compound) Name() string {
	return c.name
}

// Node returns the graph node.
func (c *Compound) Node() model.NodeID {
	return c.node
}

// Children returns the child likelihoods.
func (c *Compound) Children() []Likelihood {
	return c.children
}

// Evaluations returns how many times the sum was recomputed.
func (c *Compound) Evaluations() int {
	return c.evaluations
}

// SetEvaluateEarly enables the early exit. Children are evaluated in
// order and the evaluation stops at the first -Inf. Children after it
// stay dirty. It has no effect with more than one thread.
func (c *Compound) SetEvaluateEarly(early bool) {
	c.early = early
}

// SetThreads sets the number of goroutines evaluating children. The
// graph has to be frozen: children evaluated in parallel must not
// share any stateful node, parameters can be shared.
func (c *Compound) SetThreads(n int) error {
	if n <= 1 {
		c.threads = 1
		return nil
	}
	owner := make(map[model.NodeID]int)
	for i, ch := range c.children {
		anc, err := c.g.Ancestors(ch.Node())
		if err != nil {
			return errors.Wrapf(err, "compound %s", c.name)
		}
		for _, id := range append(anc, ch.Node()) {
			if c.g.IsParameter(id) {
				continue
			}
			if j, ok := owner[id]; ok && j != i {
				return errors.Wrapf(ErrSharedState, "compound %s: %s is used by %s and %s",
					c.name, c.g.Name(id), c.children[j].Name(), ch.Name())
			}
			owner[id] = i
		}
	}
	c.threads = n
	return nil
}

// LogLikelihood returns the sum of child log-likelihoods.
func (c *Compound) LogLikelihood() float64 {
	if !c.g.IsDirty(c.node) {
		return c.value
	}
	if c.threads > 1 {
		c.evaluateParallel()
	} else {
		c.evaluateSerial()
	}
	c.evaluations++
	c.g.MarkClean(c.node)
	return c.value
}

func (c *Compound) evaluateSerial() {
	c.value = 0
	for i, ch := range c.children {
		c.values[i] = ch.LogLikelihood()
		c.value += c.values[i]
		if c.early && math.IsInf(c.values[i], -1) {
			for j := i + 1; j < len(c.children); j++ {
				c.values[j] = math.NaN()
			}
			log.Debugf("%s: early exit at %s", c.name, ch.Name())
			c.value = math.Inf(-1)
			return
		}
	}
}

// evaluateParallel computes the dirty children concurrently. The sum
// is taken in the child order after all the goroutines finished, so
// the result does not depend on the scheduling.
func (c *Compound) evaluateParallel() {
	var eg errgroup.Group
	eg.SetLimit(c.threads)
	for i, ch := range c.children {
		i, ch := i, ch
		if !c.g.IsDirty(ch.Node()) {
			c.values[i] = ch.LogLikelihood()
			continue
		}
		eg.Go(func() error {
			c.values[i] = ch.LogLikelihood()
			return nil
		})
	}
	// children never return errors
	_ = eg.Wait()
	c.value = 0
	for _, v := range c.values {
		c.value += v
	}
}

// StoreState saves the cached sum and the child values.
func (c *Compound) StoreState() error {
	c.stored = c.value
	copy(c.storedValues, c.values)
	return nil
}

// RestoreState reverts the cached sum and the child values.
func (c *Compound) RestoreState() error {
	c.value = c.stored
	copy(c.values, c.storedValues)
	return nil
}

// AcceptState does nothing.
func (c *Compound) AcceptState() error {
	return nil
}

// String returns the child names.
func (c *Compound) String() string {
	names := make([]string, len(c.children))
	for i, ch := range c.children {
		names[i] = ch.Name()
	}
	return c.name + "(" + strings.Join(names, " + ") + ")"
}
