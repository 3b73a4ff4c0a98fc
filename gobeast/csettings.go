package main

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/gobeast/checkpoint"
	"bitbucket.org/Davydov/gobeast/mcmc"
	"bitbucket.org/Davydov/gobeast/operator"
	"bitbucket.org/Davydov/gobeast/trace"
)

// chainSettings stores settings for creation of a new chain.
type chainSettings struct {
	name  string
	seed  int64
	runID string

	model    *modelSettings
	settings mcmc.Settings
	burnin   int

	// start is a trace file to read the start position from.
	start string

	trace         string
	plot          string
	plotColumn    string
	screen        bool
	screenColumns []string
	metrics       bool

	db        *bolt.DB
	cpSeconds float64
	resume    bool
}

// newChainSettings creates settings of the k-th out of n chains from
// the configuration. Chains differ in names, seeds and output files.
func newChainSettings(cfg *Config, k, n int, seed int64) (*chainSettings, error) {
	ch := cfg.Chain
	transform, err := operator.ParseTransform(ch.Transform)
	if err != nil {
		return nil, err
	}
	burnin := ch.Burnin
	if burnin < 0 {
		burnin = ch.Iterations / 10
	}
	cs := &chainSettings{
		name:  chainName(k, n),
		seed:  seed + int64(k),
		model: newModelSettings(cfg),
		settings: mcmc.Settings{
			Iterations:        ch.Iterations,
			LogEvery:          ch.LogEvery,
			AccPeriod:         ch.AccPeriod,
			OptimizationDelay: ch.OptimizationDelay,
			OptimizationStop:  ch.OptimizationStop,
			Transform:         transform,
			ReweightEvery:     ch.ReweightEvery,
			ReweightFloor:     ch.ReweightFloor,
		},
		burnin:        burnin,
		trace:         chainPath(cfg.Output.Trace, k, n),
		plot:          chainPath(cfg.Output.Plot, k, n),
		plotColumn:    cfg.Output.PlotColumn,
		screen:        cfg.Output.Screen,
		screenColumns: cfg.Output.ScreenColumns,
		metrics:       cfg.Output.Metrics != "",
		cpSeconds:     cfg.Output.CheckpointSeconds,
	}
	return cs, nil
}

// chainName returns the name of the k-th chain.
func chainName(k, n int) string {
	if n == 1 {
		return "chain"
	}
	return fmt.Sprintf("chain%d", k+1)
}

// chainPath inserts the chain number before the extension if there
// is more than one chain.
func chainPath(path string, k, n int) string {
	if path == "" || n == 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(path, ext), k+1, ext)
}

// runChain is a chain with its posterior summary collector.
type runChain struct {
	*mcmc.Chain
	summary *trace.SummaryLogger
}

// create creates and initializes a new chain from chainSettings.
func (cs *chainSettings) create() (*runChain, error) {
	m, err := cs.model.create()
	if err != nil {
		return nil, errors.Wrap(err, "model")
	}
	log.Infof("%s: model has %d parameters, %d operators", cs.name, len(m.params), m.schedule.Len())

	if cs.start != "" {
		st, err := trace.ReadLastState(cs.start)
		if err != nil {
			return nil, errors.Wrap(err, "reading start position")
		}
		if err := m.params.SetFromMap(st); err != nil {
			return nil, errors.Wrap(err, "setting start position")
		}
		if !m.params.InRange() {
			return nil, errors.New("initial parameters are not in the range")
		}
		log.Infof("%s: start position from %s", cs.name, cs.start)
	}

	settings := cs.settings
	chain, err := mcmc.NewChain(m.g, m.posterior, m.schedule, rand.New(rand.NewSource(cs.seed)), &settings)
	if err != nil {
		return nil, err
	}
	chain.Name = cs.name
	log.Infof("%s: random seed=%v", cs.name, cs.seed)

	if cs.db != nil {
		cpIO := checkpoint.NewCheckpointIO(cs.db, []byte(cs.name), cs.cpSeconds)
		chain.SetCheckpointIO(cpIO, cs.runID)
		if cs.resume {
			data, err := cpIO.Load()
			if err != nil {
				return nil, err
			}
			if data != nil {
				if err := chain.Resume(data); err != nil {
					return nil, err
				}
			} else {
				log.Warningf("%s: no checkpoint found, starting from scratch", cs.name)
			}
		}
	}

	rc := &runChain{
		Chain:   chain,
		summary: trace.NewSummaryLogger(cs.burnin),
	}
	chain.AddLogger(rc.summary)

	if cs.trace != "" {
		create := trace.CreateTabLogger
		if cs.resume {
			create = trace.AppendTabLogger
		}
		tl, err := create(cs.trace)
		if err != nil {
			return nil, err
		}
		chain.AddLogger(tl)
	}
	if cs.plot != "" {
		chain.AddLogger(trace.NewPlotLogger(cs.plot, cs.plotColumn))
	}
	if cs.screen {
		chain.AddLogger(&trace.ScreenLogger{Columns: cs.screenColumns})
	}
	if cs.metrics {
		chain.AddLogger(trace.NewMetricsLogger(cs.name))
	}

	return rc, nil
}
