// Package operator implements MCMC proposal moves and the schedule
// choosing which move to apply next.
//
// An operator mutates parameters through the model graph and returns
// a Proposal carrying the log Hastings ratio. A structurally invalid
// proposal is not an error: it is returned as NoValidMove and the
// chain treats it as a reject.
package operator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

// log is the global logging variable.
var log = logging.MustGetLogger("operator")

// Errors returned by operators and schedules.
var (
	ErrNoOperators   = errors.New("no operators with positive weight")
	ErrStaleSchedule = errors.New("operator weights changed, OperatorsUpdated was not called")
	ErrReentrant     = errors.New("operator is already proposing")
)

// Proposal is the outcome of an operator application.
type Proposal struct {
	// LogHastingsRatio is log(q(x|x')/q(x'|x)).
	LogHastingsRatio float64
	// Valid is false if no legal move exists from the current
	// state.
	Valid bool
}

// NoValidMove is a proposal which is always rejected.
var NoValidMove = Proposal{LogHastingsRatio: math.Inf(-1)}

// Move returns a valid proposal with the Hastings ratio h.
func Move(h float64) Proposal {
	return Proposal{LogHastingsRatio: h, Valid: true}
}

// Operator is a proposal move.
type Operator interface {
	// Name returns the operator name.
	Name() string
	// Weight returns the selection weight.
	Weight() float64
	// SetWeight changes the selection weight. The schedule has to
	// be updated afterwards.
	SetWeight(w float64)
	// Stats returns the acceptance statistics.
	Stats() *Stats
	// Propose mutates the parameters. It is called between the
	// graph StoreState and AcceptState/RestoreState, and should
	// not be called directly, see Begin.
	Propose(rng *rand.Rand) (Proposal, error)
}

// Coercible is an operator with a tuning parameter which can be
// adjusted toward a target acceptance probability.
type Coercible interface {
	Operator
	// CoercableParameter returns the tuning parameter on the
	// unconstrained scale.
	CoercableParameter() float64
	// SetCoercableParameter sets the tuning parameter on the
	// unconstrained scale.
	SetCoercableParameter(p float64)
	// RawParameter returns the tuning parameter on its natural
	// scale (scale factor, window size).
	RawParameter() float64
	// AutoOptimize returns true if tuning is enabled.
	AutoOptimize() bool
	// TargetAcceptance returns the target acceptance probability.
	TargetAcceptance() float64
}

// Adapter is an operator which learns its proposal distribution from
// the accepted states.
type Adapter interface {
	Operator
	Adapt(iter int, accepted bool)
}

// Checkpointer is an operator with internal state beyond its tuning
// parameter which has to survive a checkpoint.
type Checkpointer interface {
	Operator
	SaveState() ([]byte, error)
	LoadState(b []byte) error
}

// State is the operator state.
type State int

// Operator states.
const (
	Idle State = iota
	Proposed
)

// Stats is the operator bookkeeping.
type Stats struct {
	Count    int
	Accepted int
	Rejected int
	// Failed counts NoValidMove outcomes, they are also counted as
	// rejects.
	Failed int
	// SumAcceptProb is the sum of min(1, exp(logr)) over all the
	// valid proposals.
	SumAcceptProb float64

	state State
}

// State returns the current operator state.
func (s *Stats) State() State {
	return s.state
}

// AcceptanceRate returns the fraction of accepted proposals.
func (s *Stats) AcceptanceRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Count)
}

// MeanAcceptProb returns the average acceptance probability.
func (s *Stats) MeanAcceptProb() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.SumAcceptProb / float64(s.Count)
}

// Reset clears the counters.
func (s *Stats) Reset() {
	*s = Stats{state: s.state}
}

// Base implements the naming, weight and bookkeeping part of
// Operator.
type Base struct {
	name   string
	weight float64
	stats  Stats
}

// NewBase creates a new operator base.
func NewBase(name string, weight float64) Base {
	return Base{name: name, weight: weight}
}

// Name returns the operator name.
func (b *Base) Name() string {
	return b.name
}

// Weight returns the selection weight.
func (b *Base) Weight() float64 {
	return b.weight
}

// SetWeight sets the selection weight.
func (b *Base) SetWeight(w float64) {
	b.weight = w
}

// Stats returns the operator statistics.
func (b *Base) Stats() *Stats {
	return &b.stats
}

// Begin applies the operator. An operator cannot be applied again
// before Finish is called.
func Begin(op Operator, rng *rand.Rand) (Proposal, error) {
	st := op.Stats()
	if st.state == Proposed {
		return NoValidMove, errors.Wrap(ErrReentrant, op.Name())
	}
	st.state = Proposed
	p, err := op.Propose(rng)
	if err != nil {
		return NoValidMove, errors.Wrapf(err, "operator %s", op.Name())
	}
	if !p.Valid {
		log.Debugf("%s: no valid move", op.Name())
	}
	return p, nil
}

// Finish records the outcome of an application. logr is the log
// acceptance ratio, it is ignored for invalid proposals.
func Finish(op Operator, p Proposal, accepted bool, logr float64) {
	st := op.Stats()
	st.state = Idle
	st.Count++
	if accepted {
		st.Accepted++
	} else {
		st.Rejected++
	}
	if !p.Valid {
		st.Failed++
		return
	}
	st.SumAcceptProb += math.Exp(math.Min(0, logr))
}

// Describe returns a one line summary of the operator statistics.
func Describe(op Operator) string {
	st := op.Stats()
	s := fmt.Sprintf("%s: weight=%g count=%d accepted=%d rejected=%d failed=%d rate=%.4f",
		op.Name(), op.Weight(), st.Count, st.Accepted, st.Rejected, st.Failed, st.AcceptanceRate())
	if c, ok := op.(Coercible); ok {
		s += fmt.Sprintf(" tuning=%g", c.RawParameter())
	}
	return s
}
