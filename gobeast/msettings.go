package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/likelihood"
	"bitbucket.org/Davydov/gobeast/model"
	"bitbucket.org/Davydov/gobeast/operator"
)

// Default operator tunings.
const (
	defaultScaleFactor = 0.75
	defaultWindow      = 1.0
)

// modelSettings stores settings for assembling a new model.
type modelSettings struct {
	cfg *Config

	threads  int
	adaptive operator.AdaptiveSettings
}

// newModelSettings creates a new modelSettings from the configuration.
func newModelSettings(cfg *Config) *modelSettings {
	ms := &modelSettings{
		cfg:      cfg,
		threads:  cfg.Chain.Threads,
		adaptive: cfg.Adaptive,
	}
	if ms.adaptive.Skip < 0 {
		ms.adaptive.Skip = cfg.Chain.Iterations / 20
	}
	if ms.adaptive.MaxAdapt < 0 {
		ms.adaptive.MaxAdapt = cfg.Chain.Iterations / 5
	}
	return ms
}

// runModel is an assembled model ready for a chain.
type runModel struct {
	g         *model.Graph
	params    model.Parameters
	posterior *likelihood.Compound
	schedule  *operator.Schedule
}

// create assembles the graph, the posterior and the operator
// schedule. Every call returns an independent model.
func (ms *modelSettings) create() (*runModel, error) {
	cfg := ms.cfg
	m := &runModel{g: model.NewGraph()}

	for _, pc := range cfg.Parameters {
		p, err := newParameter(pc)
		if err != nil {
			return nil, err
		}
		if _, err := m.g.AddParameter(p); err != nil {
			return nil, err
		}
		m.params = append(m.params, p)
	}

	var priors []likelihood.Likelihood
	for _, pc := range cfg.Parameters {
		if pc.Prior == nil {
			continue
		}
		f, err := newPriorFunc(pc.Prior)
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %s", pc.ID)
		}
		prior, err := likelihood.NewPrior(m.g, "prior("+pc.ID+")", m.params.Get(pc.ID), f)
		if err != nil {
			return nil, err
		}
		priors = append(priors, prior)
	}

	data, err := likelihood.NewNormal(m.g, "likelihood", cfg.Model.Data,
		m.params.Get(cfg.Model.Mean), m.params.Get(cfg.Model.Stdev))
	if err != nil {
		return nil, err
	}

	var children []likelihood.Likelihood
	if len(priors) > 0 {
		prior, err := likelihood.NewCompound(m.g, "prior", priors...)
		if err != nil {
			return nil, err
		}
		children = append(children, prior)
	}
	children = append(children, data)

	m.posterior, err = likelihood.NewCompound(m.g, "posterior", children...)
	if err != nil {
		return nil, err
	}
	m.posterior.SetEvaluateEarly(true)

	if err := m.g.Freeze(); err != nil {
		return nil, err
	}
	if ms.threads > 1 {
		if err := m.posterior.SetThreads(ms.threads); err != nil {
			return nil, err
		}
		log.Debugf("Evaluating posterior using %d threads", ms.threads)
	}

	mode, err := operator.ParseMode(cfg.Chain.Schedule)
	if err != nil {
		return nil, err
	}
	m.schedule = operator.NewSchedule(mode)
	names := make(map[string]bool, len(cfg.Operators))
	for _, oc := range cfg.Operators {
		op, err := ms.newOperator(oc, m.params.Get(oc.Parameter))
		if err != nil {
			return nil, err
		}
		if names[op.Name()] {
			return nil, errors.Errorf("duplicate operator %s", op.Name())
		}
		names[op.Name()] = true
		m.schedule.Add(op)
	}

	return m, nil
}

// newParameter creates a bounded parameter and checks the start value.
func newParameter(pc ParameterConfig) (*model.Parameter, error) {
	p := model.NewParameter(pc.ID, pc.Value...)
	lower, upper := math.Inf(-1), math.Inf(1)
	if pc.Lower != nil {
		lower = *pc.Lower
	}
	if pc.Upper != nil {
		upper = *pc.Upper
	}
	if err := p.SetBounds(lower, upper); err != nil {
		return nil, err
	}
	if !p.InRange() {
		return nil, errors.Errorf("start value of %s is out of bounds: %v", pc.ID, p)
	}
	return p, nil
}

// newPriorFunc returns the prior log-density.
func newPriorFunc(pc *PriorConfig) (likelihood.PriorFunc, error) {
	switch strings.ToLower(pc.Type) {
	case "uniform":
		return likelihood.UniformPrior(pc.Min, pc.Max, pc.IncludeMin, pc.IncludeMax)
	case "gamma":
		return likelihood.GammaPrior(pc.Shape, pc.Scale, pc.IncludeZero)
	case "exponential":
		return likelihood.ExponentialPrior(pc.Rate, pc.IncludeZero)
	case "normal":
		return likelihood.NormalPrior(pc.Mean, pc.SD)
	case "lognormal":
		return likelihood.LogNormalPrior(pc.Mu, pc.Sigma)
	case "oneonx":
		return likelihood.OneOnXPrior(), nil
	}
	return nil, errors.Errorf("unknown prior type %q", pc.Type)
}

// newOperator creates an operator acting on p.
func (ms *modelSettings) newOperator(oc OperatorConfig, p *model.Parameter) (operator.Operator, error) {
	name := oc.Name
	if name == "" {
		name = fmt.Sprintf("%s(%s)", strings.ToLower(oc.Type), oc.Parameter)
	}
	weight := 1.0
	if oc.Weight != nil {
		weight = *oc.Weight
	}
	auto := oc.Auto == nil || *oc.Auto
	target := operator.DefaultTarget
	if oc.Target != 0 {
		if oc.Target <= 0 || oc.Target >= 1 {
			return nil, errors.Errorf("%s: target acceptance should be in (0, 1), got %v", name, oc.Target)
		}
		target = oc.Target
	}

	switch strings.ToLower(oc.Type) {
	case "scale":
		factor := oc.Tuning
		if factor == 0 {
			factor = defaultScaleFactor
		}
		op, err := operator.NewScale(name, p, factor, weight)
		if err != nil {
			return nil, err
		}
		op.SetScaleAll(oc.ScaleAll)
		op.SetAutoOptimize(auto)
		op.SetTarget(target)
		return op, nil
	case "randomwalk", "random_walk":
		window := oc.Tuning
		if window == 0 {
			window = defaultWindow
		}
		op, err := operator.NewRandomWalk(name, p, window, weight)
		if err != nil {
			return nil, err
		}
		b, err := operator.ParseBoundary(oc.Boundary)
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		op.SetBoundary(b)
		op.SetNormal(oc.Normal)
		op.SetAutoOptimize(auto)
		op.SetTarget(target)
		return op, nil
	case "uniform":
		return operator.NewUniform(name, p, weight)
	case "adaptive":
		as := ms.adaptive
		log.Debugf("%s: skip=%v, maxAdapt=%v", name, as.Skip, as.MaxAdapt)
		return operator.NewAdaptive(name, p, oc.Dimension, weight, &as)
	}
	return nil, errors.Errorf("unknown operator type %q", oc.Type)
}
