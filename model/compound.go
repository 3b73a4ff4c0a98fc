package model

import (
	"math"

	"github.com/pkg/errors"
)

// CompoundParameter is a concatenation of several parameters. It
// owns no values, all the reads and writes go to the parts.
type CompoundParameter struct {
	id    string
	parts []*Parameter
}

// NewCompoundParameter creates a new compound parameter.
func NewCompoundParameter(id string, parts ...*Parameter) *CompoundParameter {
	return &CompoundParameter{
		id:    id,
		parts: parts,
	}
}

// ID returns the compound parameter id.
func (c *CompoundParameter) ID() string {
	return c.id
}

// Parts returns the underlying parameters.
func (c *CompoundParameter) Parts() []*Parameter {
	return c.parts
}

// Nodes returns nodes of all the parts.
func (c *CompoundParameter) Nodes() (nodes []NodeID) {
	for _, p := range c.parts {
		nodes = append(nodes, p.node)
	}
	return
}

// Dimension returns the total number of values.
func (c *CompoundParameter) Dimension() (d int) {
	for _, p := range c.parts {
		d += p.Dimension()
	}
	return
}

// locate converts an index into a part and an index in the part.
func (c *CompoundParameter) locate(i int) (*Parameter, int, error) {
	if i >= 0 {
		j := i
		for _, p := range c.parts {
			if j < p.Dimension() {
				return p, j, nil
			}
			j -= p.Dimension()
		}
	}
	return nil, 0, errors.Wrapf(ErrIndexOutOfRange, "%s[%d], dimension %d", c.id, i, c.Dimension())
}

// Value returns the i-th value.
func (c *CompoundParameter) Value(i int) (float64, error) {
	p, j, err := c.locate(i)
	if err != nil {
		return math.NaN(), err
	}
	return p.Value(j)
}

// SetValue sets the i-th value of the owning part.
func (c *CompoundParameter) SetValue(i int, v float64) error {
	p, j, err := c.locate(i)
	if err != nil {
		return err
	}
	return p.SetValue(j, v)
}

// SetValueQuietly sets the i-th value without notification.
func (c *CompoundParameter) SetValueQuietly(i int, v float64) error {
	p, j, err := c.locate(i)
	if err != nil {
		return err
	}
	return p.SetValueQuietly(j, v)
}

// Bounds returns the bounds of the i-th value.
func (c *CompoundParameter) Bounds(i int) (lower, upper float64, err error) {
	p, j, err := c.locate(i)
	if err != nil {
		return
	}
	return p.Bounds(j)
}

// FireChanged routes the event to the owning part. Index -1 is sent
// to every part.
func (c *CompoundParameter) FireChanged(i int, t ChangeType) {
	if i < 0 {
		for _, p := range c.parts {
			p.FireChanged(-1, t)
		}
		return
	}
	p, j, err := c.locate(i)
	if err != nil {
		log.Warningf("ignoring change event: %v", err)
		return
	}
	p.FireChanged(j, t)
}
