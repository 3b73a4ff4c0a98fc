/*

Gobeast is a Bayesian MCMC sampler. It reads a YAML run
configuration describing parameters, priors, the data likelihood and
proposal operators, and runs one or more Markov chains.

The basic usage of gobeast looks like this:

	gobeast run.yaml

, this will run a chain with the settings from run.yaml. Command-line
flags override the configuration:

	gobeast -iter 100000 -out trace.log -chains 4 run.yaml

The above runs four independent chains writing trace.1.log to
trace.4.log.

To see all the options run:

	gobeast -h

*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/gobeast/checkpoint"
	"bitbucket.org/Davydov/gobeast/mcmc"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("gobeast")
var formatter = logging.MustStringFormatter(`%{message}`)

// modules are the logging modules of all the packages.
var modules = []string{"gobeast", "model", "likelihood", "operator", "mcmc", "trace", "checkpoint"}

// command-line options
var (
	// application
	app = kingpin.New("gobeast", "Bayesian MCMC sampler").Version(version)

	// run configuration
	configF = app.Arg("config", "YAML run configuration").Required().ExistingFile()

	// chain parameters, negative values keep the configuration
	iterations = app.Flag("iter", "number of iterations").Default("-1").Int()
	report     = app.Flag("report", "log state every N iterations").Default("-1").Int()
	accept     = app.Flag("accept", "report acceptance rate every N iterations").Default("-1").Int()
	chains     = app.Flag("chains", "number of independent chains").Default("-1").Int()
	threads    = app.Flag("threads", "number of goroutines evaluating the posterior of a chain").Default("-1").Int()
	burnin     = app.Flag("burnin", "number of iterations excluded from the posterior summary").Default("-1").Int()

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	seed       = app.Flag("seed", "random generator seed, default from the configuration or time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// input/output
	outLogF     = app.Flag("log", "write log to a file").String()
	outF        = app.Flag("out", "write trace to a file").String()
	plotF       = app.Flag("plot", "plot the posterior trace to a file (png, svg or pdf)").String()
	startF      = app.Flag("start", "read start position from the trace file").ExistingFile()
	checkpointF = app.Flag("checkpoint", "checkpoint database").String()
	resume      = app.Flag("resume", "resume chains from the checkpoint database").Bool()
	screen      = app.Flag("screen", "log states to the screen").Bool()
	metricsAddr = app.Flag("metrics", "serve prometheus metrics on the address, e.g. :9100").String()
	logLevel    = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

// applyFlags overrides the configuration with the command-line
// options.
func applyFlags(cfg *Config) error {
	ch := &cfg.Chain
	for _, o := range []struct {
		flag int
		dst  *int
	}{
		{*iterations, &ch.Iterations},
		{*report, &ch.LogEvery},
		{*accept, &ch.AccPeriod},
		{*chains, &ch.Chains},
		{*threads, &ch.Threads},
		{*burnin, &ch.Burnin},
	} {
		if o.flag >= 0 {
			*o.dst = o.flag
		}
	}
	if *seed != -1 {
		ch.Seed = *seed
	}

	out := &cfg.Output
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{*outF, &out.Trace},
		{*plotF, &out.Plot},
		{*checkpointF, &out.Checkpoint},
		{*metricsAddr, &out.Metrics},
		{*jsonF, &out.Summary},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}
	if *screen {
		out.Screen = true
	}
	if *resume && out.Checkpoint == "" {
		return errors.New("resume requires a checkpoint database")
	}
	return cfg.Validate()
}

// serveMetrics starts the prometheus endpoint.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server:", err)
		}
	}()
	log.Infof("Serving metrics on %s/metrics", addr)
	return srv
}

// run creates all the chains and runs them in parallel. The summary
// is returned even if some of the chains fail.
func run(ctx context.Context, cfg *Config, seed int64) (*RunSummary, error) {
	startTime := time.Now()
	summary := &RunSummary{
		Seed:  seed,
		RunID: uuid.New().String(),
	}
	log.Infof("Run id: %s", summary.RunID)

	var db *bolt.DB
	if cfg.Output.Checkpoint != "" {
		var err error
		db, err = checkpoint.Open(cfg.Output.Checkpoint)
		if err != nil {
			return summary, err
		}
		defer db.Close()
	}

	if cfg.Output.Metrics != "" {
		srv := serveMetrics(cfg.Output.Metrics)
		defer srv.Shutdown(context.Background())
	}

	n := cfg.Chain.Chains
	rcs := make([]*runChain, n)
	for k := range rcs {
		cs, err := newChainSettings(cfg, k, n, seed)
		if err != nil {
			closeChains(rcs[:k])
			return summary, err
		}
		cs.runID = summary.RunID
		cs.db = db
		cs.resume = *resume
		cs.start = *startF
		if rcs[k], err = cs.create(); err != nil {
			closeChains(rcs[:k])
			return summary, errors.Wrap(err, cs.name)
		}
	}

	errs := make([]error, n)
	var eg errgroup.Group
	for k, rc := range rcs {
		k, rc := k, rc
		eg.Go(func() error {
			errs[k] = rc.Run(ctx)
			return errs[k]
		})
	}
	err := eg.Wait()

	for k, rc := range rcs {
		s := ChainSummary{
			Summary: rc.Summary(),
			Columns: rc.summary.Summary(),
		}
		if errs[k] != nil {
			s.Error = errs[k].Error()
		}
		for _, c := range s.Columns {
			log.Noticef("%s: %s=%.4f (sd=%.4f, 95%% interval %.4f..%.4f, n=%d)",
				rc.Name, c.Name, c.Mean, c.SD, c.Lower95, c.Upper95, c.N)
		}
		summary.Chains = append(summary.Chains, s)
	}

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Time = deltaT.Seconds()
	return summary, err
}

// closeChains closes the outputs of chains which will not run.
func closeChains(rcs []*runChain) {
	for _, rc := range rcs {
		if err := rc.Close(); err != nil {
			log.Errorf("%s: %v", rc.Name, err)
		}
	}
}

// writeSummary writes the summary in json format.
func writeSummary(summary *RunSummary, path string) {
	j, err := json.Marshal(summary)
	if err != nil {
		log.Error(err)
		return
	}
	log.Debug(string(j))
	f, err := os.Create(path)
	if err != nil {
		log.Error("Error creating json output file:", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(j); err != nil {
		log.Error("Error writing json output file:", err)
	}
}

// start runs gobeast after the command line is parsed.
func start() error {
	cfg, err := LoadConfig(*configF)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg); err != nil {
		return err
	}

	seed := cfg.Chain.Seed
	if seed == -1 {
		seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", seed)

	runtime.GOMAXPROCS(*nThreads)
	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg, seed)
	summary.Version = version
	summary.CommandLine = os.Args

	if cfg.Output.Summary != "" {
		writeSummary(summary, cfg.Output.Summary)
	}
	return err
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range modules {
		logging.SetLevel(level, m)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if err := start(); err != nil {
		var fe *mcmc.FatalError
		if errors.As(err, &fe) {
			log.Criticalf("Chain stopped by a fatal error in %s: %v", fe.Component, fe.Err)
		} else {
			log.Critical(err)
		}
		os.Exit(1)
	}
}
