package mcmc

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/checkpoint"
	"bitbucket.org/Davydov/gobeast/likelihood"
	"bitbucket.org/Davydov/gobeast/model"
	"bitbucket.org/Davydov/gobeast/operator"
)

// setter sets a parameter to a fixed value.
type setter struct {
	operator.Base
	p *model.Parameter
	v float64
}

func (s *setter) Propose(rng *rand.Rand) (operator.Proposal, error) {
	if err := s.p.SetValue(0, s.v); err != nil {
		return operator.NoValidMove, err
	}
	return operator.Move(0), nil
}

// failing never has a valid move.
type failing struct {
	operator.Base
}

func (f *failing) Propose(rng *rand.Rand) (operator.Proposal, error) {
	return operator.NoValidMove, nil
}

// brokenModel fails to store its state.
type brokenModel struct{}

func (brokenModel) StoreState() error   { return errors.New("cannot store") }
func (brokenModel) RestoreState() error { return nil }
func (brokenModel) AcceptState() error  { return nil }

// testLogger keeps all the states.
type testLogger struct {
	columns []string
	states  [][]float64
	iters   []int
	closed  bool
}

func (l *testLogger) Start(columns []string) error {
	l.columns = columns
	return nil
}

func (l *testLogger) Log(s *State) error {
	l.states = append(l.states, append([]float64(nil), s.Values...))
	l.iters = append(l.iters, s.Iter)
	return nil
}

func (l *testLogger) Close() error {
	l.closed = true
	return nil
}

func (l *testLogger) column(name string) (res []float64) {
	for i, c := range l.columns {
		if c == name {
			for _, s := range l.states {
				res = append(res, s[i])
			}
		}
	}
	return
}

// normalModel is the Normal(mean, stdev) model over 1..9.
type normalModel struct {
	g         *model.Graph
	mean, sd  *model.Parameter
	data      *likelihood.Cached
	prior     *likelihood.Cached
	posterior *likelihood.Compound
	schedule  *operator.Schedule
}

func newNormalModel(tst testing.TB) *normalModel {
	m := &normalModel{
		g:    model.NewGraph(),
		mean: model.NewParameter("mean", 1),
		sd:   model.NewParameter("stdev", 1),
	}
	m.sd.SetBounds(0, math.Inf(1))
	m.g.AddParameter(m.mean)
	m.g.AddParameter(m.sd)
	var err error
	m.prior, err = likelihood.NewPrior(m.g, "prior", m.sd, likelihood.OneOnXPrior())
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	m.data, err = likelihood.NewNormal(m.g, "likelihood", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, m.mean, m.sd)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	m.posterior, _ = likelihood.NewCompound(m.g, "posterior", m.prior, m.data)
	m.posterior.SetEvaluateEarly(true)
	if err := m.g.Freeze(); err != nil {
		tst.Fatal("Error: ", err)
	}
	m.schedule = operator.NewSchedule(operator.Random)
	for _, p := range []*model.Parameter{m.mean, m.sd} {
		op, err := operator.NewScale("scale("+p.ID()+")", p, 0.75, 1)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		m.schedule.Add(op)
	}
	return m
}

func (m *normalModel) chain(tst testing.TB, seed int64, s *Settings) *Chain {
	c, err := NewChain(m.g, m.posterior, m.schedule, rand.New(rand.NewSource(seed)), s)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	return c
}

func TestLogAcceptanceRatio(tst *testing.T) {
	inf := math.Inf(1)
	if r := LogAcceptanceRatio(-inf, -10, 0); !math.IsInf(r, 1) {
		tst.Error("Move from zero posterior should always be accepted:", r)
	}
	if r := LogAcceptanceRatio(-10, -inf, 5); !math.IsInf(r, -1) {
		tst.Error("Move to zero posterior should never be accepted:", r)
	}
	if r := LogAcceptanceRatio(-inf, -inf, 0); !math.IsInf(r, -1) {
		tst.Error("Move to zero posterior should never be accepted:", r)
	}
	if r := LogAcceptanceRatio(-3, -1, 0.5); math.Abs(r-2.5) > 1e-12 {
		tst.Error("Expected 2.5, got", r)
	}
}

func TestBoundaryAccept(tst *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		g := model.NewGraph()
		x := model.NewParameter("x", -1)
		g.AddParameter(x)
		prior, _ := likelihood.NewPrior(g, "prior", x, likelihood.OneOnXPrior())
		g.Freeze()
		s := operator.NewSchedule(operator.Random)
		op := &setter{Base: operator.NewBase("set", 1), p: x, v: 2}
		s.Add(op)
		c, err := NewChain(g, prior, s, rand.New(rand.NewSource(seed)), nil)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		c.l = prior.LogLikelihood()
		if !math.IsInf(c.l, -1) {
			tst.Fatal("Expected -Inf starting posterior")
		}
		if err := c.Step(); err != nil {
			tst.Fatal("Error: ", err)
		}
		if op.Stats().Accepted != 1 {
			tst.Fatal("Move out of zero posterior was rejected, seed", seed)
		}
		if math.Abs(c.Posterior()+math.Log(2)) > 1e-12 {
			tst.Error("Wrong posterior:", c.Posterior())
		}
	}
}

func TestFailingOperator(tst *testing.T) {
	m := newNormalModel(tst)
	m.schedule = operator.NewSchedule(operator.Random)
	op := &failing{Base: operator.NewBase("fail", 1)}
	m.schedule.Add(op)
	s := NewSettings()
	s.Iterations = 1000
	c := m.chain(tst, 1, s)
	l := &testLogger{}
	c.AddLogger(l)
	before := m.posterior.LogLikelihood()
	if err := c.Run(context.Background()); err != nil {
		tst.Fatal("Error: ", err)
	}
	st := op.Stats()
	if st.Accepted != 0 || st.Rejected != 1000 || st.Count != 1000 || st.Failed != 1000 {
		tst.Errorf("Wrong counters: %+v", *st)
	}
	if v, _ := m.mean.Value(0); v != 1 {
		tst.Error("Parameter changed:", v)
	}
	if v, _ := m.sd.Value(0); v != 1 {
		tst.Error("Parameter changed:", v)
	}
	if c.Posterior() != before || m.data.Evaluations() != 1 {
		tst.Error("Posterior was recomputed")
	}
	if !l.closed || c.Status() != Completed {
		tst.Error("Chain did not complete properly")
	}
}

func TestRejectReversibility(tst *testing.T) {
	m := newNormalModel(tst)
	s := NewSettings()
	c := m.chain(tst, 2, s)
	c.l = m.posterior.LogLikelihood()
	rejected := 0
	for i := 0; i < 2000; i++ {
		mean, sd := m.mean.Values(), m.sd.Values()
		data, prior, post := m.data.LogLikelihood(), m.prior.LogLikelihood(), m.posterior.LogLikelihood()
		var nrej int
		for _, op := range m.schedule.Operators() {
			nrej += op.Stats().Rejected
		}
		if err := c.Step(); err != nil {
			tst.Fatal("Error: ", err)
		}
		c.i++
		var nrej2 int
		for _, op := range m.schedule.Operators() {
			nrej2 += op.Stats().Rejected
		}
		if nrej2 == nrej {
			continue
		}
		rejected++
		ev := m.data.Evaluations()
		if m.mean.Values()[0] != mean[0] || m.sd.Values()[0] != sd[0] {
			tst.Fatal("Parameters were not restored")
		}
		if m.data.LogLikelihood() != data || m.prior.LogLikelihood() != prior ||
			m.posterior.LogLikelihood() != post || c.Posterior() != post {
			tst.Fatal("Cached likelihoods were not restored")
		}
		if m.data.Evaluations() != ev {
			tst.Fatal("Restored likelihood was dirty")
		}
	}
	if rejected == 0 {
		tst.Error("No rejected proposals")
	}
}

func TestReproducible(tst *testing.T) {
	run := func() float64 {
		m := newNormalModel(tst)
		s := NewSettings()
		s.Iterations = 2000
		c := m.chain(tst, 42, s)
		if err := c.Run(context.Background()); err != nil {
			tst.Fatal("Error: ", err)
		}
		return c.Posterior()
	}
	if a, b := run(), run(); a != b {
		tst.Error("Same seed gave different chains:", a, b)
	}
}

func TestNormalEndToEnd(tst *testing.T) {
	if testing.Short() {
		tst.Skip("skipping long chain in short mode")
	}
	m := newNormalModel(tst)
	s := NewSettings()
	s.Iterations = 100000
	s.LogEvery = 10
	s.OptimizationStop = 10000
	c := m.chain(tst, 1, s)
	l := &testLogger{}
	c.AddLogger(l)
	if err := c.Run(context.Background()); err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(l.iters) != s.Iterations/s.LogEvery+1 || l.iters[0] != 0 {
		tst.Fatal("Wrong number of states:", len(l.iters))
	}

	burnin := len(l.states) / 10
	means := l.column("mean")[burnin:]
	sum := 0.0
	for _, v := range means {
		sum += v
	}
	if mean := sum / float64(len(means)); math.Abs(mean-5) > 0.15 {
		tst.Error("Expected posterior mean of mean 5, got", mean)
	}

	for _, op := range m.schedule.Operators() {
		if r := op.Stats().AcceptanceRate(); r < 0.1 || r > 0.5 {
			tst.Errorf("%s: acceptance rate %v far from the target", op.Name(), r)
		}
	}

	// successive differences of the posterior vary less after tuning
	post := l.column(PosteriorColumn)
	n := len(post) / 10
	early := diffVariance(post[1 : n+1])
	late := diffVariance(post[len(post)-n:])
	if late > early {
		tst.Errorf("Posterior differences variance increased: %v > %v", late, early)
	}
}

func diffVariance(x []float64) float64 {
	var s, s2 float64
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		s += d
		s2 += d * d
	}
	n := float64(len(x) - 1)
	return s2/n - (s/n)*(s/n)
}

func TestFatalStateError(tst *testing.T) {
	g := model.NewGraph()
	x := model.NewParameter("x", 1)
	g.AddParameter(x)
	g.AddModel("broken", brokenModel{}, x.Node())
	prior, _ := likelihood.NewPrior(g, "prior", x, likelihood.OneOnXPrior())
	g.Freeze()
	s := operator.NewSchedule(operator.Random)
	s.Add(&setter{Base: operator.NewBase("set", 1), p: x, v: 2})
	c, _ := NewChain(g, prior, s, rand.New(rand.NewSource(1)), nil)
	l := &testLogger{}
	c.AddLogger(l)

	err := c.Run(context.Background())
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Component != "broken" {
		tst.Fatal("Expected a fatal error naming broken, got", err)
	}
	if !l.closed {
		tst.Error("Logger was not closed")
	}
	if c.Status() != Aborted {
		tst.Error("Expected aborted status, got", c.Status())
	}
}

func TestNaNPosterior(tst *testing.T) {
	g := model.NewGraph()
	x := model.NewParameter("x", 1)
	g.AddParameter(x)
	good, _ := likelihood.NewPrior(g, "good", x, likelihood.OneOnXPrior())
	bad, _ := likelihood.NewCached(g, "bad", likelihood.DensityFunc(func() float64 {
		if v, _ := x.Value(0); v > 2 {
			return math.NaN()
		}
		return 0
	}), x.Node())
	post, _ := likelihood.NewCompound(g, "posterior", good, bad)
	g.Freeze()
	s := operator.NewSchedule(operator.Random)
	s.Add(&setter{Base: operator.NewBase("set", 1), p: x, v: 3})
	c, _ := NewChain(g, post, s, rand.New(rand.NewSource(1)), nil)

	err := c.Run(context.Background())
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Component != "bad" || errors.Cause(err) != ErrNaNPosterior {
		tst.Error("Expected NaN posterior error naming bad, got", err)
	}
}

func TestInterrupt(tst *testing.T) {
	m := newNormalModel(tst)
	c := m.chain(tst, 1, nil)
	l := &testLogger{}
	c.AddLogger(l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != nil {
		tst.Fatal("Error: ", err)
	}
	if c.Status() != Aborted || c.Iteration() != 0 || !l.closed {
		tst.Error("Interrupted chain should stop before the first step")
	}
	if err := c.Run(context.Background()); errors.Cause(err) != ErrNotReady {
		tst.Error("Expected not ready error, got", err)
	}
}

func TestNotReady(tst *testing.T) {
	g := model.NewGraph()
	x := model.NewParameter("x", 1)
	g.AddParameter(x)
	prior, _ := likelihood.NewPrior(g, "prior", x, likelihood.OneOnXPrior())
	s := operator.NewSchedule(operator.Random)
	s.Add(&failing{Base: operator.NewBase("fail", 1)})
	if _, err := NewChain(g, prior, s, rand.New(rand.NewSource(1)), nil); errors.Cause(err) != ErrNotReady {
		tst.Error("Expected not ready error, got", err)
	}
	g.Freeze()
	if _, err := NewChain(g, prior, operator.NewSchedule(operator.Random), rand.New(rand.NewSource(1)), nil); errors.Cause(err) != operator.ErrNoOperators {
		tst.Error("Expected no operators error, got", err)
	}
	bad := NewSettings()
	bad.LogEvery = 0
	if _, err := NewChain(g, prior, s, rand.New(rand.NewSource(1)), bad); err == nil {
		tst.Error("Expected settings error")
	}
}

func TestCheckpointResume(tst *testing.T) {
	db, err := checkpoint.Open(filepath.Join(tst.TempDir(), "cp.db"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	defer db.Close()

	m := newNormalModel(tst)
	s := NewSettings()
	s.Iterations = 500
	c := m.chain(tst, 1, s)
	c.SetCheckpointIO(checkpoint.NewCheckpointIO(db, []byte("chain"), 1000), "run1")
	if err := c.Run(context.Background()); err != nil {
		tst.Fatal("Error: ", err)
	}

	data, err := checkpoint.NewCheckpointIO(db, []byte("chain"), 1000).Load()
	if err != nil || data == nil {
		tst.Fatal("Error loading checkpoint: ", err)
	}
	if !data.Final || data.Iter != 500 || data.RunID != "run1" {
		tst.Error("Wrong checkpoint:", data)
	}

	m2 := newNormalModel(tst)
	s2 := NewSettings()
	s2.Iterations = 1000
	c2 := m2.chain(tst, 2, s2)
	if err := c2.Resume(data); err != nil {
		tst.Fatal("Error: ", err)
	}
	if c2.Iteration() != 500 {
		tst.Error("Expected iteration 500, got", c2.Iteration())
	}
	if a, b := m.mean.Values()[0], m2.mean.Values()[0]; a != b {
		tst.Error("Parameters were not restored:", a, b)
	}
	for i, op := range m.schedule.Operators() {
		op2 := m2.schedule.Operator(i)
		if op.Stats().Count != op2.Stats().Count {
			tst.Error("Operator counters were not restored")
		}
		t1, t2 := op.(operator.Coercible).RawParameter(), op2.(operator.Coercible).RawParameter()
		if math.Abs(t1-t2) > 1e-12 {
			tst.Error("Operator tuning was not restored")
		}
	}
	if m2.posterior.LogLikelihood() != c.Posterior() {
		tst.Error("Resumed posterior differs")
	}
	if err := c2.Run(context.Background()); err != nil {
		tst.Fatal("Error: ", err)
	}
	if c2.Iteration() != 1000 {
		tst.Error("Expected iteration 1000, got", c2.Iteration())
	}
}

func TestStateColumns(tst *testing.T) {
	m := newNormalModel(tst)
	c := m.chain(tst, 1, nil)
	c.l = m.posterior.LogLikelihood()
	st := c.State()
	exp := []string{"posterior", "prior", "likelihood", "mean", "stdev", "scale(mean).acc", "scale(stdev).acc"}
	if len(st.Columns) != len(exp) {
		tst.Fatal("Wrong columns:", st.Columns)
	}
	for i, e := range exp {
		if st.Columns[i] != e {
			tst.Errorf("Column %d: expected %s, got %s", i, e, st.Columns[i])
		}
	}
	if v, ok := st.Get("mean"); !ok || v != 1 {
		tst.Error("Wrong mean:", v)
	}
	p, _ := st.Get("posterior")
	pr, _ := st.Get("prior")
	l, _ := st.Get("likelihood")
	if p != pr+l {
		tst.Error("Posterior is not the sum of its components")
	}
}

func BenchmarkStep(b *testing.B) {
	m := newNormalModel(b)
	c := m.chain(b, 1, nil)
	c.l = m.posterior.LogLikelihood()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Step(); err != nil {
			b.Fatal("Error: ", err)
		}
		c.i++
	}
}

// addAdaptive adds an adaptive operator on mean which learns from the
// first accepted states.
func (m *normalModel) addAdaptive(tst testing.TB) *operator.Adaptive {
	as := operator.NewAdaptiveSettings()
	as.Skip = 0
	as.MaxAdapt = 1000000
	as.K = 2
	op, err := operator.NewAdaptive("adaptive(mean)", m.mean, 0, 1, as)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	m.schedule.Add(op)
	return op
}

func TestTuningWindow(tst *testing.T) {
	m := newNormalModel(tst)
	ad := m.addAdaptive(tst)
	sc := m.schedule.Operator(0).(*operator.Scale)
	s := NewSettings()
	s.OptimizationDelay = 200
	s.OptimizationStop = 400
	c := m.chain(tst, 1, s)

	scale0, sd0 := sc.RawParameter(), ad.ProposalSD()
	var scale, sd float64
	for c.i < 3000 {
		if err := c.Step(); err != nil {
			tst.Fatal("Error: ", err)
		}
		c.i++
		switch c.i {
		case s.OptimizationDelay:
			if sc.RawParameter() != scale0 || ad.ProposalSD() != sd0 {
				tst.Error("Tuning changed before the optimization window")
			}
		case s.OptimizationStop:
			scale, sd = sc.RawParameter(), ad.ProposalSD()
			if scale == scale0 {
				tst.Error("Scale factor was not tuned inside the optimization window")
			}
		}
	}
	if sc.RawParameter() != scale {
		tst.Error("Scale factor changed after the optimization window:", scale, sc.RawParameter())
	}
	if ad.ProposalSD() != sd {
		tst.Error("Adaptive proposal changed after the optimization window:", sd, ad.ProposalSD())
	}
}

func TestResumeTuning(tst *testing.T) {
	db, err := checkpoint.Open(filepath.Join(tst.TempDir(), "cp.db"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	defer db.Close()

	// the target is above the acceptance rate, so reweighting lowers
	// the weights
	newModel := func() (*normalModel, *operator.Adaptive) {
		m := newNormalModel(tst)
		for _, op := range m.schedule.Operators() {
			op.(*operator.Scale).SetTarget(0.9)
		}
		return m, m.addAdaptive(tst)
	}

	m, ad := newModel()
	s := NewSettings()
	s.Iterations = 1000
	s.ReweightEvery = 100
	c := m.chain(tst, 1, s)
	c.SetCheckpointIO(checkpoint.NewCheckpointIO(db, []byte("chain"), 1000), "run")
	if err := c.Run(context.Background()); err != nil {
		tst.Fatal("Error: ", err)
	}
	data, err := checkpoint.NewCheckpointIO(db, []byte("chain"), 1000).Load()
	if err != nil || data == nil {
		tst.Fatal("Error loading checkpoint: ", err)
	}

	m2, ad2 := newModel()
	s2 := NewSettings()
	s2.Iterations = 2000
	s2.ReweightEvery = 100
	c2 := m2.chain(tst, 2, s2)
	if err := c2.Resume(data); err != nil {
		tst.Fatal("Error: ", err)
	}
	for i, op := range m.schedule.Operators() {
		op2 := m2.schedule.Operator(i)
		if m2.schedule.BaseWeight(i) != 1 {
			tst.Errorf("%s: base weight %v, expected 1", op.Name(), m2.schedule.BaseWeight(i))
		}
		if op.Weight() != op2.Weight() {
			tst.Errorf("%s: weight %v, expected %v", op.Name(), op2.Weight(), op.Weight())
		}
		if _, ok := op.(*operator.Scale); ok && op.Weight() >= 1 {
			tst.Errorf("%s: weight %v was not reduced", op.Name(), op.Weight())
		}
		if op.Stats().SumAcceptProb != op2.Stats().SumAcceptProb {
			tst.Errorf("%s: acceptance probability sum was not restored", op.Name())
		}
	}
	if ad.ProposalSD() != ad2.ProposalSD() || ad.Converged() != ad2.Converged() {
		tst.Error("Adaptive proposal was not restored:", ad.ProposalSD(), ad2.ProposalSD())
	}

	if err := c2.Run(context.Background()); err != nil {
		tst.Fatal("Error: ", err)
	}
	// the last step reweights relative to the base weight
	for _, op := range m2.schedule.Operators() {
		target := operator.DefaultTarget
		if co, ok := op.(operator.Coercible); ok {
			target = co.TargetAcceptance()
		}
		exp := math.Max(s2.ReweightFloor, math.Min(1, op.Stats().AcceptanceRate()/target))
		if math.Abs(op.Weight()-exp) > 1e-12 {
			tst.Errorf("%s: weight %v, expected %v", op.Name(), op.Weight(), exp)
		}
	}
}

func TestStepBeforeRun(tst *testing.T) {
	m := newNormalModel(tst)
	c := m.chain(tst, 1, nil)
	for i := 0; i < 100; i++ {
		if err := c.Step(); err != nil {
			tst.Fatal("Error: ", err)
		}
	}
	accepted := 0
	for _, op := range m.schedule.Operators() {
		accepted += op.Stats().Accepted
	}
	if accepted == 0 {
		tst.Error("No proposals accepted before Run")
	}
	if l := c.Posterior(); math.IsNaN(l) || l != m.posterior.LogLikelihood() {
		tst.Error("Wrong posterior:", l)
	}
}

func TestClose(tst *testing.T) {
	m := newNormalModel(tst)
	c := m.chain(tst, 1, nil)
	l := &testLogger{}
	c.AddLogger(l)
	if err := c.Close(); err != nil {
		tst.Fatal("Error: ", err)
	}
	if !l.closed || c.Status() != Aborted {
		tst.Error("Closed chain should be aborted with closed loggers")
	}
	if err := c.Run(context.Background()); errors.Cause(err) != ErrNotReady {
		tst.Error("Expected not ready error, got", err)
	}
}
