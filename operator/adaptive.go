// This code implements ideas and pseudocode presented by Xavier Meyer
// <Xavier.Meyer.2 at unil.ch>.

package operator

import (
	"encoding/json"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/model"
)

// AdaptiveSettings are settings for an adaptive operator.
type AdaptiveSettings struct {
	// WSize window size to compute mean and variance.
	WSize int `yaml:"wsize"`
	// K specifies how often Mu should be updated.
	K int `yaml:"k"`
	// Skip is the number of iterations to skip before starting
	// adaptation.
	Skip int `yaml:"skip"`
	// MaxAdapt is the number of iterations to adapt.
	MaxAdapt int `yaml:"max_adapt"`
	// MaxUpdate maximum number of update for a parameter.
	MaxUpdate int `yaml:"max_update"`
	// Epsilon is part of stopping criteria for stopping
	// adaptation.
	Epsilon float64 `yaml:"epsilon"`
	// C is a Robbins-Monro algorithm parameter
	C float64 `yaml:"c"`
	// Nu is a Robbins-Monro algorithm parameter
	Nu float64 `yaml:"nu"`
	// Lambda is the proposal multiplier.
	Lambda float64 `yaml:"lambda"`
	// SD is initial standard deviation.
	SD float64 `yaml:"sd"`
}

// NewAdaptiveSettings creates default settings.
func NewAdaptiveSettings() *AdaptiveSettings {
	return &AdaptiveSettings{
		WSize:     10,
		K:         20,
		Skip:      500,
		MaxAdapt:  2000,
		MaxUpdate: 200,
		Epsilon:   5e-1,
		C:         1,
		Nu:        3,
		Lambda:    2.4,
		SD:        1e-2,
	}
}

// square computes x^2.
func square(x float64) float64 {
	return x * x
}

// Adaptive is a normal random walk on a single dimension. The
// proposal variance is learned from the accepted states with batched
// Robbins-Monro updates until it converges.
type Adaptive struct {
	Base
	x   model.Variable
	dim int

	t    int
	loct int

	mean     float64
	variance float64
	delta    bool

	// batch statistics
	bmean float64
	bm2   float64

	// convergence check, vals is a ring of the last WSize batch
	// end values, pos is the next slot
	vals      []float64
	nvals     int
	pos       int
	cmean     float64
	cm2       float64
	converged bool

	*AdaptiveSettings
}

// NewAdaptive creates an adaptive operator for the dim-th value of x.
func NewAdaptive(name string, x model.Variable, dim int, weight float64, as *AdaptiveSettings) (*Adaptive, error) {
	if dim < 0 || dim >= x.Dimension() {
		return nil, errors.Wrapf(model.ErrIndexOutOfRange, "%s: dimension %d of %s", name, dim, x.ID())
	}
	if as.SD <= 0 {
		return nil, errors.Errorf("%s: SD should be > 0", name)
	}
	if as.K < 2 {
		return nil, errors.Errorf("%s: K should be >= 2", name)
	}
	if as.WSize < 2 {
		return nil, errors.Errorf("%s: window size should be >= 2", name)
	}
	a := &Adaptive{
		Base:             NewBase(name, weight),
		x:                x,
		dim:              dim,
		mean:             math.NaN(),
		variance:         square(as.SD),
		vals:             make([]float64, as.WSize),
		AdaptiveSettings: as,
	}
	return a, nil
}

// Propose adds a normal step, reflecting at the bounds.
func (a *Adaptive) Propose(rng *rand.Rand) (Proposal, error) {
	v, err := a.x.Value(a.dim)
	if err != nil {
		return NoValidMove, err
	}
	nv := v + rng.NormFloat64()*math.Sqrt(a.variance)*a.Lambda
	lower, upper, err := a.x.Bounds(a.dim)
	if err != nil {
		return NoValidMove, err
	}
	nv = reflect(nv, lower, upper)
	if !model.InBounds(a.x, a.dim, nv) {
		return NoValidMove, nil
	}
	if err := a.x.SetValue(a.dim, nv); err != nil {
		return NoValidMove, err
	}
	return Move(0), nil
}

// Adapt is called after every application of the operator.
func (a *Adaptive) Adapt(iter int, accepted bool) {
	if accepted && iter >= a.Skip && iter < a.MaxAdapt {
		a.updateMu()
	}
}

// ProposalSD returns the current proposal standard deviation.
func (a *Adaptive) ProposalSD() float64 {
	return math.Sqrt(a.variance) * a.Lambda
}

// Converged returns true if adaptation stopped.
func (a *Adaptive) Converged() bool {
	return a.converged
}

// robbinsMonro computes the step size; it decreases every time the
// batch mean crosses the running mean.
func (a *Adaptive) robbinsMonro() (gamma float64) {
	delta := a.bmean - a.mean
	if (delta > 0 && !a.delta) || (delta < 0 && a.delta) {
		a.loct++
	}
	a.delta = delta > 0
	beta := 1 / math.Max(1, 1+a.Nu)
	gamma = a.C / math.Pow(float64(a.loct+1), beta)
	return
}

// checkConvergence tracks mean and variance of the values seen at the
// last WSize batch ends.
func (a *Adaptive) checkConvergence(v float64) {
	if a.nvals == a.WSize {
		oldVal := a.vals[a.pos]
		a.nvals--
		delta := oldVal - a.cmean
		a.cmean -= delta / float64(a.nvals)
		a.cm2 -= delta * (oldVal - a.cmean)
	}

	a.vals[a.pos] = v
	a.pos = (a.pos + 1) % a.WSize
	a.nvals++
	delta := v - a.cmean
	a.cmean += delta / float64(a.nvals)
	a.cm2 += delta * (v - a.cmean)

	if a.nvals == a.WSize {
		sd := math.Sqrt(a.cm2 / float64(a.nvals-1))
		switch {
		case math.Abs(sd/a.cmean) < a.Epsilon:
			a.converged = true
			log.Infof("%s converged, reason: SD/mean", a.name)
		case a.t/a.K > a.MaxUpdate:
			a.converged = true
			log.Infof("%s converged, reason: max update", a.name)
		}
	}
}

func (a *Adaptive) updateMu() {
	if a.converged {
		return
	}
	v, err := a.x.Value(a.dim)
	if err != nil {
		return
	}
	if math.IsNaN(a.mean) {
		a.mean = v
	}
	// index in batch 0 .. a.K-1
	bi := a.t % a.K

	if a.t > 0 && bi == 0 {
		gamma := a.robbinsMonro()
		bvariance := a.bm2 / float64(a.K-1)

		a.mean += gamma * (a.bmean - a.mean)
		a.variance += gamma * (bvariance - a.variance)

		a.checkConvergence(v)

		a.bmean = 0
		a.bm2 = 0
	}

	delta := v - a.bmean
	a.bmean += delta / float64(bi+1)
	a.bm2 += delta * (v - a.bmean)

	a.t++
}

// adaptiveState is the saved learning state of an adaptive operator.
type adaptiveState struct {
	T    int `json:"t"`
	Loct int `json:"loct"`
	// Mean is absent before the first accepted state.
	Mean     *float64 `json:"mean,omitempty"`
	Variance float64  `json:"variance"`
	Delta    bool     `json:"delta"`

	BMean float64 `json:"bmean"`
	BM2   float64 `json:"bm2"`

	// Window holds the convergence values, oldest first.
	Window    []float64 `json:"window"`
	CMean     float64   `json:"cmean"`
	CM2       float64   `json:"cm2"`
	Converged bool      `json:"converged"`
}

// SaveState serializes the learned proposal distribution.
func (a *Adaptive) SaveState() ([]byte, error) {
	st := adaptiveState{
		T:         a.t,
		Loct:      a.loct,
		Variance:  a.variance,
		Delta:     a.delta,
		BMean:     a.bmean,
		BM2:       a.bm2,
		Window:    make([]float64, a.nvals),
		CMean:     a.cmean,
		CM2:       a.cm2,
		Converged: a.converged,
	}
	if !math.IsNaN(a.mean) {
		m := a.mean
		st.Mean = &m
	}
	for i := range st.Window {
		st.Window[i] = a.vals[(a.pos-a.nvals+i+a.WSize)%a.WSize]
	}
	return json.Marshal(st)
}

// LoadState restores the state saved by SaveState.
func (a *Adaptive) LoadState(b []byte) error {
	var st adaptiveState
	if err := json.Unmarshal(b, &st); err != nil {
		return errors.Wrapf(err, "%s: adaptive state", a.name)
	}
	if len(st.Window) > a.WSize {
		return errors.Errorf("%s: convergence window %d is larger than %d", a.name, len(st.Window), a.WSize)
	}
	if st.Variance <= 0 {
		return errors.Errorf("%s: invalid variance %v", a.name, st.Variance)
	}
	a.t = st.T
	a.loct = st.Loct
	a.mean = math.NaN()
	if st.Mean != nil {
		a.mean = *st.Mean
	}
	a.variance = st.Variance
	a.delta = st.Delta
	a.bmean = st.BMean
	a.bm2 = st.BM2
	copy(a.vals, st.Window)
	a.nvals = len(st.Window)
	a.pos = a.nvals % a.WSize
	a.cmean = st.CMean
	a.cm2 = st.CM2
	a.converged = st.Converged
	return nil
}
