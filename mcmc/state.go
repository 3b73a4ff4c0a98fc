package mcmc

import (
	"bitbucket.org/Davydov/gobeast/likelihood"
	"bitbucket.org/Davydov/gobeast/model"
)

// PosteriorColumn is the name of the log-posterior column.
const PosteriorColumn = "posterior"

// State is a snapshot of the chain emitted to the loggers. The same
// State is reused between calls, loggers should copy what they keep.
type State struct {
	// Chain is the chain name.
	Chain string
	// Iter is the number of completed steps.
	Iter int
	// Columns are the column names, they do not change during a
	// run.
	Columns []string
	// Values are the column values.
	Values []float64
}

// Get returns a value by column name.
func (s *State) Get(name string) (float64, bool) {
	for i, c := range s.Columns {
		if c == name {
			return s.Values[i], true
		}
	}
	return 0, false
}

// Logger consumes chain states.
type Logger interface {
	// Start is called once before the first state.
	Start(columns []string) error
	// Log is called every LogEvery steps and after the last step.
	Log(s *State) error
	// Close is called when the chain stops for any reason.
	Close() error
}

// Columns returns the state column names: the posterior, the
// components of the posterior, all the parameter dimensions and
// operator acceptance rates.
func (c *Chain) Columns() (s []string) {
	s = append(s, PosteriorColumn)
	if p, ok := c.posterior.(likelihood.Parent); ok {
		for _, ch := range p.Children() {
			s = append(s, ch.Name())
		}
	}
	s = append(s, c.g.Parameters().Names()...)
	for _, op := range c.schedule.Operators() {
		s = append(s, op.Name()+".acc")
	}
	return
}

// State returns the current chain state.
func (c *Chain) State() *State {
	if c.columns == nil {
		c.columns = c.Columns()
	}
	v := c.state.Values[:0]
	v = append(v, c.l)
	if p, ok := c.posterior.(likelihood.Parent); ok {
		for _, ch := range p.Children() {
			v = append(v, ch.LogLikelihood())
		}
	}
	v = c.g.Parameters().AppendValues(v)
	for _, op := range c.schedule.Operators() {
		v = append(v, op.Stats().AcceptanceRate())
	}
	c.state = State{
		Chain:   c.Name,
		Iter:    c.i,
		Columns: c.columns,
		Values:  v,
	}
	return &c.state
}

// Parameters returns the chain parameters.
func (c *Chain) Parameters() model.Parameters {
	return c.g.Parameters()
}
