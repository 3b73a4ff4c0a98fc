// Package mcmc implements the Metropolis-Hastings Markov chain.
//
// Every step the chain selects an operator from the schedule, stores
// the model graph, applies the operator, evaluates the posterior and
// then either accepts the new state or restores the old one. Steps
// are strictly sequential.
package mcmc

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/checkpoint"
	"bitbucket.org/Davydov/gobeast/likelihood"
	"bitbucket.org/Davydov/gobeast/model"
	"bitbucket.org/Davydov/gobeast/operator"
)

// log is the global logging variable.
var log = logging.MustGetLogger("mcmc")

// Errors returned by the chain.
var (
	ErrNaNPosterior = errors.New("posterior is NaN")
	ErrNaNHastings  = errors.New("Hastings ratio is NaN")
	ErrNotReady     = errors.New("chain is not ready")
)

// FatalError terminates the chain. Component names the failing
// model, likelihood or operator.
type FatalError struct {
	Component string
	Err       error
}

func (e *FatalError) Error() string {
	return "fatal error in " + e.Component + ": " + e.Err.Error()
}

// Cause returns the underlying error.
func (e *FatalError) Cause() error {
	return e.Err
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// stateFatal converts a graph error into a fatal error naming the
// node.
func stateFatal(err error) error {
	var se *model.StateError
	if errors.As(err, &se) {
		return &FatalError{Component: se.Node, Err: err}
	}
	return &FatalError{Component: "model", Err: err}
}

// Status is the chain state.
type Status int

// Chain states.
const (
	Initialized Status = iota
	Running
	Completed
	Aborted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Settings are the chain settings.
type Settings struct {
	// Iterations is the total number of steps.
	Iterations int
	// LogEvery is the thinning interval of the loggers.
	LogEvery int
	// AccPeriod is how often acceptance rate is reported.
	AccPeriod int
	// OptimizationDelay is the first step where operators are
	// tuned.
	OptimizationDelay int
	// OptimizationStop is the step where tuning stops, <= 0 means
	// tune until the end.
	OptimizationStop int
	// Transform is the coercion step size schedule.
	Transform operator.Transform
	// ReweightEvery is how often operator weights are adapted to
	// acceptance rates during tuning, 0 disables reweighting.
	ReweightEvery int
	// ReweightFloor is the minimal weight fraction after
	// reweighting.
	ReweightFloor float64
}

// NewSettings returns the default settings.
func NewSettings() *Settings {
	return &Settings{
		Iterations:    10000,
		LogEvery:      100,
		AccPeriod:     1000,
		Transform:     operator.Default,
		ReweightFloor: 0.1,
	}
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	switch {
	case s.Iterations < 0:
		return errors.Errorf("negative number of iterations: %d", s.Iterations)
	case s.LogEvery <= 0:
		return errors.Errorf("log interval should be positive: %d", s.LogEvery)
	case s.AccPeriod < 0:
		return errors.Errorf("negative acceptance period: %d", s.AccPeriod)
	case s.OptimizationDelay < 0:
		return errors.Errorf("negative optimization delay: %d", s.OptimizationDelay)
	case s.ReweightEvery < 0:
		return errors.Errorf("negative reweight period: %d", s.ReweightEvery)
	case s.ReweightEvery > 0 && (s.ReweightFloor <= 0 || s.ReweightFloor > 1):
		return errors.Errorf("reweight floor should be in (0, 1]: %v", s.ReweightFloor)
	}
	return nil
}

// Chain is a Markov chain.
type Chain struct {
	*Settings
	// Name identifies the chain in loggers.
	Name string

	g         *model.Graph
	posterior likelihood.Likelihood
	schedule  *operator.Schedule
	rng       *rand.Rand

	loggers []Logger
	cpIO    *checkpoint.CheckpointIO
	runID   string

	status Status
	i      int
	l      float64
	// accepted proposals since the last report
	accepted int

	maxL    float64
	maxLPar map[string][]float64

	columns []string
	state   State

	deltaT time.Duration
}

// NewChain creates a new chain. The graph has to be frozen and the
// schedule has to contain at least one operator with positive
// weight.
func NewChain(g *model.Graph, posterior likelihood.Likelihood, schedule *operator.Schedule, rng *rand.Rand, s *Settings) (*Chain, error) {
	if !g.Frozen() {
		return nil, errors.Wrap(ErrNotReady, "model graph is not frozen")
	}
	if posterior == nil || schedule == nil || rng == nil {
		return nil, errors.Wrap(ErrNotReady, "posterior, schedule and random source are required")
	}
	if s == nil {
		s = NewSettings()
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "settings")
	}
	if err := schedule.OperatorsUpdated(); err != nil {
		return nil, errors.Wrap(err, "schedule")
	}
	return &Chain{
		Settings:  s,
		Name:      "chain",
		g:         g,
		posterior: posterior,
		schedule:  schedule,
		rng:       rng,
		l:         math.NaN(),
		maxL:      math.Inf(-1),
	}, nil
}

// AddLogger registers a logger. Loggers are closed when Run returns.
func (c *Chain) AddLogger(l Logger) {
	c.loggers = append(c.loggers, l)
}

// SetCheckpointIO enables checkpointing.
func (c *Chain) SetCheckpointIO(cpIO *checkpoint.CheckpointIO, runID string) {
	c.cpIO = cpIO
	c.runID = runID
}

// Status returns the chain status.
func (c *Chain) Status() Status {
	return c.status
}

// Iteration returns the number of completed steps.
func (c *Chain) Iteration() int {
	return c.i
}

// Posterior returns the current log-posterior.
func (c *Chain) Posterior() float64 {
	return c.l
}

// Schedule returns the operator schedule.
func (c *Chain) Schedule() *operator.Schedule {
	return c.schedule
}

// optimizing returns true inside the tuning window.
func (c *Chain) optimizing() bool {
	return c.i >= c.OptimizationDelay && (c.OptimizationStop <= 0 || c.i < c.OptimizationStop)
}

// LogAcceptanceRatio returns log of the Metropolis-Hastings
// acceptance ratio. A move to a zero posterior is never accepted, a
// move from a zero posterior to a non-zero one is always accepted.
func LogAcceptanceRatio(lOld, lNew, h float64) float64 {
	switch {
	case math.IsInf(lNew, -1):
		return math.Inf(-1)
	case math.IsInf(lOld, -1):
		return math.Inf(1)
	}
	return lNew - lOld + h
}

// evaluate computes the posterior and fails on NaN naming the
// offending likelihood.
func (c *Chain) evaluate() (float64, error) {
	l := c.posterior.LogLikelihood()
	if math.IsNaN(l) {
		component := c.posterior.Name()
		if bad := likelihood.FindNaN(c.posterior); bad != nil {
			component = bad.Name()
		}
		return l, &FatalError{Component: component, Err: ErrNaNPosterior}
	}
	return l, nil
}

// Step performs a single Metropolis-Hastings step. The posterior is
// evaluated first if it was not yet computed. Step does not advance
// the iteration counter, Run does.
func (c *Chain) Step() error {
	if math.IsNaN(c.l) {
		l, err := c.evaluate()
		if err != nil {
			return err
		}
		c.l = l
	}
	idx, err := c.schedule.NextIndex(c.rng)
	if err != nil {
		return &FatalError{Component: "schedule", Err: err}
	}
	op := c.schedule.Operator(idx)
	lOld := c.l

	if err := c.g.StoreState(); err != nil {
		return stateFatal(err)
	}

	p, err := operator.Begin(op, c.rng)
	if err != nil {
		return &FatalError{Component: op.Name(), Err: err}
	}

	logr := math.Inf(-1)
	accept := false
	lNew := lOld
	if p.Valid {
		if math.IsNaN(p.LogHastingsRatio) {
			return &FatalError{Component: op.Name(), Err: ErrNaNHastings}
		}
		lNew, err = c.evaluate()
		if err != nil {
			return err
		}
		logr = LogAcceptanceRatio(lOld, lNew, p.LogHastingsRatio)
		if math.IsNaN(logr) {
			log.Warningf("%s: undefined acceptance ratio (L=%v, L'=%v, h=%v), rejecting",
				op.Name(), lOld, lNew, p.LogHastingsRatio)
			logr = math.Inf(-1)
		}
		accept = math.Log(c.rng.Float64()) < logr
	}

	if accept {
		if err := c.g.AcceptState(); err != nil {
			return stateFatal(err)
		}
		c.l = lNew
		c.accepted++
	} else {
		if err := c.g.RestoreState(); err != nil {
			return stateFatal(err)
		}
	}
	operator.Finish(op, p, accept, logr)

	if c.optimizing() {
		if co, ok := op.(operator.Coercible); ok {
			operator.Coerce(co, p, logr, c.Transform)
		}
		if a, ok := op.(operator.Adapter); ok {
			a.Adapt(c.i, accept)
		}
	}
	if c.ReweightEvery > 0 && c.optimizing() && (c.i+1)%c.ReweightEvery == 0 {
		if err := c.schedule.Reweight(c.ReweightFloor); err != nil {
			return &FatalError{Component: "schedule", Err: err}
		}
	}

	if c.l > c.maxL {
		c.maxL = c.l
		c.maxLPar = c.parameterMap()
	}
	return nil
}

// parameterMap returns a copy of all the parameter values.
func (c *Chain) parameterMap() map[string][]float64 {
	m := make(map[string][]float64, len(c.g.Parameters()))
	for _, p := range c.g.Parameters() {
		m[p.ID()] = p.Values()
	}
	return m
}

// Run runs the chain until the configured number of iterations or
// until ctx is cancelled. Cancellation is checked between steps.
// Loggers are closed before Run returns.
func (c *Chain) Run(ctx context.Context) (err error) {
	if c.status != Initialized {
		return errors.Wrapf(ErrNotReady, "chain is %s", c.status)
	}
	c.status = Running
	startTime := time.Now()

	defer func() {
		if cerr := c.closeLoggers(); err == nil {
			err = cerr
		}
		c.deltaT += time.Since(startTime)
		if err != nil {
			c.status = Aborted
			log.Errorf("%s: %v", c.Name, err)
		}
	}()

	if c.l, err = c.evaluate(); err != nil {
		return err
	}
	if c.l > c.maxL {
		c.maxL = c.l
		c.maxLPar = c.parameterMap()
	}
	log.Noticef("%s: starting at iteration %d, posterior=%v", c.Name, c.i, c.l)

	c.columns = c.Columns()
	for _, l := range c.loggers {
		if err = l.Start(c.columns); err != nil {
			return errors.Wrap(err, "starting logger")
		}
	}
	if c.i%c.LogEvery == 0 {
		if err = c.emit(); err != nil {
			return err
		}
	}

	lastReported := c.i
	c.accepted = 0
	for c.i < c.Iterations {
		select {
		case <-ctx.Done():
			log.Warningf("%s: interrupted at iteration %d: %v", c.Name, c.i, ctx.Err())
			c.status = Aborted
			if c.i != lastReported {
				err = c.emit()
			}
			c.saveCheckpoint(false)
			return err
		default:
		}

		if err = c.Step(); err != nil {
			return err
		}
		c.i++

		if c.AccPeriod > 0 && c.i%c.AccPeriod == 0 {
			log.Infof("%s: %d: posterior=%f, acceptance rate %.2f%%",
				c.Name, c.i, c.l, 100*float64(c.accepted)/float64(c.AccPeriod))
			c.accepted = 0
		}
		if c.i%c.LogEvery == 0 {
			if err = c.emit(); err != nil {
				return err
			}
			lastReported = c.i
		}
		if c.cpIO != nil && c.cpIO.Old() {
			c.saveCheckpoint(false)
		}
	}

	if c.i != lastReported {
		if err = c.emit(); err != nil {
			return err
		}
	}
	c.saveCheckpoint(true)
	c.status = Completed
	log.Noticef("%s: finished %d iterations, posterior=%v, max posterior=%v", c.Name, c.i, c.l, c.maxL)
	for _, op := range c.schedule.Operators() {
		log.Info(operator.Describe(op))
	}
	return nil
}

// closeLoggers closes all the loggers and returns the first error.
func (c *Chain) closeLoggers() (err error) {
	for _, l := range c.loggers {
		if cerr := l.Close(); cerr != nil {
			log.Errorf("Error closing logger: %v", cerr)
			if err == nil {
				err = cerr
			}
		}
	}
	c.loggers = nil
	return
}

// Close closes the loggers of a chain which is not going to run.
// The chain cannot be run afterwards.
func (c *Chain) Close() error {
	if c.status == Running {
		return errors.Wrap(ErrNotReady, "cannot close a running chain")
	}
	if c.status == Initialized {
		c.status = Aborted
	}
	return c.closeLoggers()
}

// emit sends the current state to all the loggers.
func (c *Chain) emit() error {
	st := c.State()
	for _, l := range c.loggers {
		if err := l.Log(st); err != nil {
			return &FatalError{Component: "logger", Err: err}
		}
	}
	return nil
}
