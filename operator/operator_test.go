package operator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/model"
)

const smallDiff = 1e-9

func TestBeginFinish(tst *testing.T) {
	d := newDummy("d", 1)
	if _, err := Begin(d, nil); err != nil {
		tst.Fatal("Error: ", err)
	}
	if d.Stats().State() != Proposed {
		tst.Error("Operator should be in the proposed state")
	}
	if _, err := Begin(d, nil); errors.Cause(err) != ErrReentrant {
		tst.Error("Expected reentrant error, got", err)
	}
	Finish(d, Move(0), true, 0)
	if d.Stats().State() != Idle {
		tst.Error("Operator should be idle")
	}

	d.fail = true
	for i := 0; i < 10; i++ {
		p, _ := Begin(d, nil)
		if p.Valid {
			tst.Fatal("Expected an invalid proposal")
		}
		Finish(d, p, false, math.Inf(-1))
	}
	st := d.Stats()
	if st.Count != 11 || st.Accepted != 1 || st.Rejected != 10 || st.Failed != 10 {
		tst.Errorf("Wrong counters: %+v", *st)
	}
	if math.Abs(st.MeanAcceptProb()-1.0/11) > smallDiff {
		tst.Error("Wrong mean acceptance probability:", st.MeanAcceptProb())
	}
}

func TestScaleHastings(tst *testing.T) {
	p := model.NewParameter("x", 2)
	op, err := NewScale("scale", p, 0.5, 1)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		old, _ := p.Value(0)
		pr, err := op.Propose(rng)
		if err != nil || !pr.Valid {
			tst.Fatal("Unexpected proposal:", pr, err)
		}
		nv, _ := p.Value(0)
		scale := nv / old
		if scale < 0.5-smallDiff || scale > 2+smallDiff {
			tst.Fatal("Scale outside of [s, 1/s]:", scale)
		}
		if math.Abs(pr.LogHastingsRatio+math.Log(scale)) > smallDiff {
			tst.Errorf("Expected Hastings ratio %v, got %v", -math.Log(scale), pr.LogHastingsRatio)
		}
	}
}

func TestScaleAll(tst *testing.T) {
	p := model.NewParameter("x", 1, 2, 3, 4)
	op, _ := NewScale("scale", p, 0.75, 1)
	op.SetScaleAll(true)
	pr, _ := op.Propose(rand.New(rand.NewSource(2)))
	v := p.Values()
	scale := v[0]
	for i := range v {
		if math.Abs(v[i]-scale*float64(i+1)) > smallDiff {
			tst.Error("Dimensions scaled differently:", v)
		}
	}
	if math.Abs(pr.LogHastingsRatio-2*math.Log(scale)) > smallDiff {
		tst.Error("Wrong Hastings ratio:", pr.LogHastingsRatio)
	}
}

func TestScaleBounds(tst *testing.T) {
	p := model.NewParameter("x", 1)
	p.SetBounds(0.99, 1.01)
	op, _ := NewScale("scale", p, 0.1, 1)
	rng := rand.New(rand.NewSource(3))
	invalid := 0
	for i := 0; i < 100; i++ {
		pr, err := op.Propose(rng)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		if !pr.Valid {
			invalid++
		}
		if !p.InRange() {
			tst.Fatal("Parameter out of bounds")
		}
	}
	if invalid == 0 {
		tst.Error("Expected invalid proposals")
	}
	if _, err := NewScale("bad", p, 1, 1); err == nil {
		tst.Error("Expected an error for scale factor 1")
	}
}

func TestScaleCoercion(tst *testing.T) {
	p := model.NewParameter("x", 1)
	op, _ := NewScale("scale", p, 0.5, 1)
	if math.Abs(op.CoercableParameter()) > smallDiff {
		tst.Error("Expected log(1/0.5 - 1) = 0, got", op.CoercableParameter())
	}
	op.SetCoercableParameter(math.Log(3))
	if math.Abs(op.RawParameter()-0.25) > smallDiff {
		tst.Error("Expected 0.25, got", op.RawParameter())
	}

	// always accepted: the scale factor decreases (bolder moves)
	before := op.RawParameter()
	for i := 0; i < 10; i++ {
		Begin(op, rand.New(rand.NewSource(int64(i))))
		Finish(op, Move(0), true, 0)
		Coerce(op, Move(0), 0, Default)
	}
	if op.RawParameter() >= before {
		tst.Error("Scale factor should decrease:", before, op.RawParameter())
	}

	op.SetAutoOptimize(false)
	before = op.RawParameter()
	Coerce(op, Move(0), 0, Default)
	if op.RawParameter() != before {
		tst.Error("Tuning changed with auto optimization disabled")
	}
}

func TestCoerceStep(tst *testing.T) {
	p := model.NewParameter("x", 1)
	op, _ := NewRandomWalk("rw", p, 1, 1)
	op.Stats().Count = 3
	Coerce(op, Move(0), math.Log(0.5), Sqrt)
	exp := (0.5 - DefaultTarget) / (math.Sqrt(3) + 1)
	if math.Abs(op.CoercableParameter()-exp) > smallDiff {
		tst.Errorf("Expected %v, got %v", exp, op.CoercableParameter())
	}
	Coerce(op, NoValidMove, 0, Log)
	exp -= DefaultTarget / (math.Log(4) + 1)
	if math.Abs(op.CoercableParameter()-exp) > smallDiff {
		tst.Errorf("Expected %v, got %v", exp, op.CoercableParameter())
	}
	if _, err := ParseTransform("cube"); err == nil {
		tst.Error("Expected an error for unknown transform")
	}
}

func TestReflect(tst *testing.T) {
	inf := math.Inf(1)
	cases := []struct{ x, min, max, exp float64 }{
		{0.5, 0, 1, 0.5},
		{1.25, 0, 1, 0.75},
		{-0.25, 0, 1, 0.25},
		{3.25, 0, 1, 0.75},
		{-2.25, 0, 1, 0.25},
		{-1, 0, inf, 1},
		{5, -inf, 2, -1},
		{7, -inf, inf, 7},
	}
	for _, c := range cases {
		if r := reflect(c.x, c.min, c.max); math.Abs(r-c.exp) > smallDiff {
			tst.Errorf("reflect(%v, %v, %v) = %v, expected %v", c.x, c.min, c.max, r, c.exp)
		}
	}
}

func TestRandomWalk(tst *testing.T) {
	p := model.NewParameter("x", 0.5, 0.5)
	p.SetBounds(0, 1)
	op, err := NewRandomWalk("rw", p, 2, 1)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 1000; i++ {
		pr, _ := op.Propose(rng)
		if !pr.Valid || pr.LogHastingsRatio != 0 {
			tst.Fatal("Reflecting random walk should always be valid:", pr)
		}
		if !p.InRange() {
			tst.Fatal("Parameter out of bounds:", p)
		}
	}

	op.SetBoundary(Reject)
	op.SetNormal(true)
	invalid := 0
	for i := 0; i < 1000; i++ {
		pr, _ := op.Propose(rng)
		if !pr.Valid {
			invalid++
		}
	}
	if invalid == 0 {
		tst.Error("Expected invalid proposals with rejecting boundaries")
	}
}

func TestUniform(tst *testing.T) {
	p := model.NewParameter("x", 0)
	if _, err := NewUniform("u", p, 1); err == nil {
		tst.Error("Expected an error for infinite bounds")
	}
	p.SetBounds(-1, 3)
	op, err := NewUniform("u", p, 1)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	rng := rand.New(rand.NewSource(5))
	sum := 0.0
	n := 10000
	for i := 0; i < n; i++ {
		op.Propose(rng)
		v, _ := p.Value(0)
		sum += v
	}
	if math.Abs(sum/float64(n)-1) > 0.05 {
		tst.Error("Expected mean 1, got", sum/float64(n))
	}
}

func TestAdaptive(tst *testing.T) {
	p := model.NewParameter("x", 1)
	as := NewAdaptiveSettings()
	as.Skip = 0
	as.MaxAdapt = 100000
	op, err := NewAdaptive("adaptive", p, 0, 1, as)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if _, err := NewAdaptive("bad", p, 1, 1, as); errors.Cause(err) != model.ErrIndexOutOfRange {
		tst.Error("Expected index error, got", err)
	}
	sd := op.ProposalSD()
	rng := rand.New(rand.NewSource(6))
	// accepted states are N(1, 1)
	for i := 0; i < 10000 && !op.Converged(); i++ {
		p.SetValue(0, 1+rng.NormFloat64())
		op.Adapt(i, true)
	}
	if op.ProposalSD() <= sd {
		tst.Error("Proposal SD should grow toward the target variance:", sd, op.ProposalSD())
	}
}

func TestAdaptiveState(tst *testing.T) {
	as := NewAdaptiveSettings()
	as.Skip = 0
	as.MaxAdapt = 100000
	as.K = 2
	as.MaxUpdate = 100000
	as.Epsilon = 0
	p := model.NewParameter("x", 1)
	op, err := NewAdaptive("adaptive", p, 0, 1, as)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	p2 := model.NewParameter("x", 1)
	op2, _ := NewAdaptive("adaptive", p2, 0, 1, as)

	// state before the first update has no mean
	b, err := op.SaveState()
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if err := op2.LoadState(b); err != nil || !math.IsNaN(op2.mean) {
		tst.Error("Wrong initial state:", err, op2.mean)
	}

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		p.SetValue(0, 1+rng.NormFloat64())
		op.Adapt(i, true)
	}
	if op.nvals != as.WSize {
		tst.Fatal("Convergence window is not full:", op.nvals)
	}
	if b, err = op.SaveState(); err != nil {
		tst.Fatal("Error: ", err)
	}
	if err := op2.LoadState(b); err != nil {
		tst.Fatal("Error: ", err)
	}
	if op.ProposalSD() != op2.ProposalSD() {
		tst.Error("Proposal SD was not restored:", op.ProposalSD(), op2.ProposalSD())
	}
	for i := 500; i < 1000; i++ {
		v := 1 + rng.NormFloat64()
		p.SetValue(0, v)
		p2.SetValue(0, v)
		op.Adapt(i, true)
		op2.Adapt(i, true)
		if op.ProposalSD() != op2.ProposalSD() || op.cmean != op2.cmean || op.Converged() != op2.Converged() {
			tst.Fatal("Restored operator diverged at", i)
		}
	}

	if err := op2.LoadState([]byte("{")); err == nil {
		tst.Error("Expected an error for broken state")
	}
	if err := op2.LoadState([]byte(`{"variance": 1, "window": [1,2,3,4,5,6,7,8,9,10,11]}`)); err == nil {
		tst.Error("Expected an error for oversized window")
	}
}
