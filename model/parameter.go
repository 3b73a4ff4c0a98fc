package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Variable is a vector of float64 values which operators can mutate.
// Both Parameter and CompoundParameter implement it.
type Variable interface {
	// ID returns the variable identifier.
	ID() string
	// Dimension returns the number of values.
	Dimension() int
	// Value returns the i-th value.
	Value(i int) (float64, error)
	// SetValue sets the i-th value and notifies the graph.
	SetValue(i int, v float64) error
	// SetValueQuietly sets the i-th value without notification.
	SetValueQuietly(i int, v float64) error
	// Bounds returns the bounds of the i-th value.
	Bounds(i int) (lower, upper float64, err error)
	// FireChanged sends a single consolidated change event, it
	// is used after SetValueQuietly.
	FireChanged(i int, t ChangeType)
	// Nodes returns the graph nodes holding the values.
	Nodes() []NodeID
}

// InBounds returns true if v is a legal value for the i-th dimension.
func InBounds(x Variable, i int, v float64) bool {
	lower, upper, err := x.Bounds(i)
	if err != nil {
		return false
	}
	return v >= lower && v <= upper
}

// bounds stores the bounds for a single dimension.
type bounds struct {
	lower float64
	upper float64
}

// Parameter is a named vector of values with per dimension bounds.
type Parameter struct {
	id     string
	values []float64
	bounds []bounds

	// stored values, one level deep
	stored       []float64
	storedBounds []bounds
	hasStored    bool

	// default bounds for the new dimensions
	lower float64
	upper float64

	graph *Graph
	node  NodeID
}

// NewParameter creates a new unbounded parameter.
func NewParameter(id string, values ...float64) *Parameter {
	p := &Parameter{
		id:     id,
		values: append([]float64(nil), values...),
		bounds: make([]bounds, len(values)),
		lower:  math.Inf(-1),
		upper:  math.Inf(+1),
		node:   NoNode,
	}
	for i := range p.bounds {
		p.bounds[i] = bounds{p.lower, p.upper}
	}
	return p
}

// ID returns the parameter id.
func (p *Parameter) ID() string {
	return p.id
}

// Node returns the graph node of the parameter or NoNode.
func (p *Parameter) Node() NodeID {
	return p.node
}

// Nodes returns a single node of the parameter.
func (p *Parameter) Nodes() []NodeID {
	return []NodeID{p.node}
}

// Dimension returns the number of values.
func (p *Parameter) Dimension() int {
	return len(p.values)
}

func (p *Parameter) checkIndex(i int) error {
	if i < 0 || i >= len(p.values) {
		return errors.Wrapf(ErrIndexOutOfRange, "%s[%d], dimension %d", p.id, i, len(p.values))
	}
	return nil
}

// SetBounds sets the same bounds for all the dimensions, including
// the ones added later. Bounds are a contract, values which are
// already outside are not clamped, they are reported by InRange.
func (p *Parameter) SetBounds(lower, upper float64) error {
	if lower > upper {
		return errors.Errorf("%s: lower bound %v > upper bound %v", p.id, lower, upper)
	}
	p.lower = lower
	p.upper = upper
	for i := range p.bounds {
		p.bounds[i] = bounds{lower, upper}
	}
	return nil
}

// SetDimensionBounds sets bounds for the i-th dimension only.
func (p *Parameter) SetDimensionBounds(i int, lower, upper float64) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	if lower > upper {
		return errors.Errorf("%s[%d]: lower bound %v > upper bound %v", p.id, i, lower, upper)
	}
	p.bounds[i] = bounds{lower, upper}
	return nil
}

// Bounds returns bounds of the i-th dimension.
func (p *Parameter) Bounds(i int) (lower, upper float64, err error) {
	if err = p.checkIndex(i); err != nil {
		return
	}
	return p.bounds[i].lower, p.bounds[i].upper, nil
}

// InRange returns true if all the values are within the bounds.
func (p *Parameter) InRange() bool {
	for i, v := range p.values {
		if v < p.bounds[i].lower || v > p.bounds[i].upper {
			return false
		}
	}
	return true
}

// Value returns the i-th value.
func (p *Parameter) Value(i int) (float64, error) {
	if err := p.checkIndex(i); err != nil {
		return math.NaN(), err
	}
	return p.values[i], nil
}

// Values returns a copy of all the values.
func (p *Parameter) Values() []float64 {
	return append([]float64(nil), p.values...)
}

func (p *Parameter) set(i int, v float64) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	if v < p.bounds[i].lower || v > p.bounds[i].upper || math.IsNaN(v) {
		return errors.Wrapf(ErrBoundsViolation, "%s[%d]=%v, bounds [%v, %v]",
			p.id, i, v, p.bounds[i].lower, p.bounds[i].upper)
	}
	p.values[i] = v
	return nil
}

// SetValue sets the i-th value and notifies the graph.
func (p *Parameter) SetValue(i int, v float64) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	if p.values[i] == v {
		// do nothing if value has not changed
		return nil
	}
	if err := p.set(i, v); err != nil {
		return err
	}
	p.FireChanged(i, ValueChanged)
	return nil
}

// SetValueQuietly sets the i-th value without notification.
func (p *Parameter) SetValueQuietly(i int, v float64) error {
	return p.set(i, v)
}

// AddDimension appends a value using the default bounds.
func (p *Parameter) AddDimension(v float64) error {
	if v < p.lower || v > p.upper || math.IsNaN(v) {
		return errors.Wrapf(ErrBoundsViolation, "%s: new value %v, bounds [%v, %v]",
			p.id, v, p.lower, p.upper)
	}
	p.values = append(p.values, v)
	p.bounds = append(p.bounds, bounds{p.lower, p.upper})
	p.FireChanged(len(p.values)-1, Added)
	return nil
}

// RemoveDimension removes the i-th value.
func (p *Parameter) RemoveDimension(i int) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	p.values = append(p.values[:i], p.values[i+1:]...)
	p.bounds = append(p.bounds[:i], p.bounds[i+1:]...)
	p.FireChanged(i, Removed)
	return nil
}

// FireChanged notifies the graph about a change.
func (p *Parameter) FireChanged(i int, t ChangeType) {
	if p.graph == nil {
		return
	}
	p.graph.fire(ChangeEvent{
		Source:   p.node,
		Variable: p.id,
		Index:    i,
		Type:     t,
	})
}

// StoreValues saves a copy of all the values.
func (p *Parameter) StoreValues() {
	p.stored = append(p.stored[:0], p.values...)
	p.storedBounds = append(p.storedBounds[:0], p.bounds...)
	p.hasStored = true
}

// RestoreValues copies the stored values back. The snapshot is
// kept, so calling it twice is the same as calling it once.
func (p *Parameter) RestoreValues() {
	if !p.hasStored {
		return
	}
	p.values = append(p.values[:0], p.stored...)
	p.bounds = append(p.bounds[:0], p.storedBounds...)
}

// String returns a tab separated list of values.
func (p *Parameter) String() string {
	s := make([]string, len(p.values))
	for i, v := range p.values {
		s[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(s, "\t")
}

// ColumnName returns a trace column name for the i-th dimension.
func ColumnName(x Variable, i int) string {
	if x.Dimension() == 1 {
		return x.ID()
	}
	return x.ID() + strconv.Itoa(i+1)
}

// Parameters is a list of parameters.
type Parameters []*Parameter

// Names returns column names of all the parameter dimensions.
func (ps Parameters) Names() (s []string) {
	for _, p := range ps {
		for i := range p.values {
			s = append(s, ColumnName(p, i))
		}
	}
	return
}

// Values returns all the values of all the parameters reusing the
// storage of iv.
func (ps Parameters) Values(iv []float64) []float64 {
	return ps.AppendValues(iv[:0])
}

// AppendValues appends all the values of all the parameters to v.
func (ps Parameters) AppendValues(v []float64) []float64 {
	for _, p := range ps {
		v = append(v, p.values...)
	}
	return v
}

// InRange returns true if all the parameters are within the bounds.
func (ps Parameters) InRange() bool {
	for _, p := range ps {
		if !p.InRange() {
			return false
		}
	}
	return true
}

// SetFromMap sets values using column names as keys. Columns not
// present in the map are left untouched.
func (ps Parameters) SetFromMap(m map[string]float64) error {
	for _, p := range ps {
		for i := range p.values {
			v, ok := m[ColumnName(p, i)]
			if !ok {
				continue
			}
			if err := p.SetValue(i, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns a parameter by id or nil.
func (ps Parameters) Get(id string) *Parameter {
	for _, p := range ps {
		if p.id == id {
			return p
		}
	}
	return nil
}
