package main

import (
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/gobeast/operator"
)

// PriorConfig describes a prior applied to every value of a parameter.
type PriorConfig struct {
	// Type is one of uniform, gamma, exponential, normal, lognormal
	// and oneonx.
	Type string `yaml:"type"`

	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Shape float64 `yaml:"shape"`
	Scale float64 `yaml:"scale"`
	Rate  float64 `yaml:"rate"`
	Mean  float64 `yaml:"mean"`
	SD    float64 `yaml:"sd"`
	Mu    float64 `yaml:"mu"`
	Sigma float64 `yaml:"sigma"`

	// IncludeMin and IncludeMax close the interval of the uniform
	// prior, IncludeZero allows zero for gamma and exponential.
	IncludeMin  bool `yaml:"include_min"`
	IncludeMax  bool `yaml:"include_max"`
	IncludeZero bool `yaml:"include_zero"`
}

// ParameterConfig describes a model parameter.
type ParameterConfig struct {
	ID    string    `yaml:"id"`
	Value []float64 `yaml:"value"`

	// Lower and Upper are the bounds, unbounded if not set.
	Lower *float64     `yaml:"lower"`
	Upper *float64     `yaml:"upper"`
	Prior *PriorConfig `yaml:"prior"`
}

// ModelConfig binds the normal data likelihood to the parameters.
type ModelConfig struct {
	Data  []float64 `yaml:"data"`
	Mean  string    `yaml:"mean"`
	Stdev string    `yaml:"stdev"`
}

// OperatorConfig describes a proposal operator.
type OperatorConfig struct {
	// Type is one of scale, randomwalk, uniform and adaptive.
	Type      string `yaml:"type"`
	Name      string `yaml:"name"`
	Parameter string `yaml:"parameter"`

	// Weight is 1 if not set.
	Weight *float64 `yaml:"weight"`

	// Tuning is the scale factor of scale operators (0.75 by
	// default) and the window size of random walk operators (1 by
	// default).
	Tuning float64 `yaml:"tuning"`

	// Auto enables tuning, on by default.
	Auto     *bool   `yaml:"auto"`
	Target   float64 `yaml:"target"`
	ScaleAll bool    `yaml:"scale_all"`
	Normal   bool    `yaml:"normal"`
	Boundary string  `yaml:"boundary"`

	// Dimension is the parameter dimension changed by adaptive
	// operators.
	Dimension int `yaml:"dimension"`
}

// ChainConfig are the chain settings.
type ChainConfig struct {
	Iterations        int     `yaml:"iterations"`
	LogEvery          int     `yaml:"log_every"`
	AccPeriod         int     `yaml:"acc_period"`
	OptimizationDelay int     `yaml:"optimization_delay"`
	OptimizationStop  int     `yaml:"optimization_stop"`
	Transform         string  `yaml:"transform"`
	Schedule          string  `yaml:"schedule"`
	ReweightEvery     int     `yaml:"reweight_every"`
	ReweightFloor     float64 `yaml:"reweight_floor"`

	// Threads is the number of goroutines evaluating the posterior
	// components, 1 evaluates serially with early exit.
	Threads int `yaml:"threads"`

	// Chains is the number of independent chains.
	Chains int   `yaml:"chains"`
	Seed   int64 `yaml:"seed"`

	// Burnin is the number of iterations excluded from the posterior
	// summary, negative means 10%.
	Burnin int `yaml:"burnin"`
}

// OutputConfig lists the outputs. Empty values disable an output.
type OutputConfig struct {
	Trace      string `yaml:"trace"`
	Plot       string `yaml:"plot"`
	PlotColumn string `yaml:"plot_column"`
	Checkpoint string `yaml:"checkpoint"`

	// CheckpointSeconds is the minimal interval between
	// checkpoints.
	CheckpointSeconds float64 `yaml:"checkpoint_seconds"`

	Summary       string   `yaml:"summary"`
	Metrics       string   `yaml:"metrics"`
	Screen        bool     `yaml:"screen"`
	ScreenColumns []string `yaml:"screen_columns"`
}

// Config is the run configuration.
type Config struct {
	Model      ModelConfig       `yaml:"model"`
	Parameters []ParameterConfig `yaml:"parameters"`
	Operators  []OperatorConfig  `yaml:"operators"`
	Chain      ChainConfig       `yaml:"chain"`
	Output     OutputConfig      `yaml:"output"`

	// Adaptive are the settings shared by adaptive operators.
	// Negative skip and max_adapt are 5% and 20% of the
	// iterations.
	Adaptive operator.AdaptiveSettings `yaml:"adaptive"`
}

// NewConfig returns a configuration with default chain and output
// settings.
func NewConfig() *Config {
	as := operator.NewAdaptiveSettings()
	as.Skip = -1
	as.MaxAdapt = -1
	return &Config{
		Adaptive: *as,
		Chain: ChainConfig{
			Iterations:    10000,
			LogEvery:      100,
			AccPeriod:     1000,
			Transform:     operator.Default.String(),
			Schedule:      operator.Random.String(),
			ReweightFloor: 0.1,
			Threads:       1,
			Chains:        1,
			Seed:          -1,
			Burnin:        -1,
		},
		Output: OutputConfig{
			PlotColumn:        "posterior",
			CheckpointSeconds: 60,
		},
	}
}

// ReadConfig decodes a configuration on top of the defaults. Unknown
// fields are errors.
func ReadConfig(r io.Reader) (*Config, error) {
	cfg := NewConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := ReadConfig(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cfg, nil
}

// parameter returns a parameter configuration by id or nil.
func (cfg *Config) parameter(id string) *ParameterConfig {
	for i := range cfg.Parameters {
		if cfg.Parameters[i].ID == id {
			return &cfg.Parameters[i]
		}
	}
	return nil
}

// Validate checks the configuration. Operator-specific settings are
// checked when operators are created.
func (cfg *Config) Validate() error {
	if len(cfg.Parameters) == 0 {
		return errors.New("no parameters")
	}
	ids := make(map[string]bool, len(cfg.Parameters))
	for _, p := range cfg.Parameters {
		switch {
		case p.ID == "":
			return errors.New("parameter without id")
		case ids[p.ID]:
			return errors.Errorf("duplicate parameter %s", p.ID)
		case len(p.Value) == 0:
			return errors.Errorf("parameter %s has no value", p.ID)
		case p.Lower != nil && p.Upper != nil && *p.Lower > *p.Upper:
			return errors.Errorf("parameter %s: lower bound is above upper bound", p.ID)
		}
		ids[p.ID] = true
	}

	if len(cfg.Model.Data) == 0 {
		return errors.New("no data")
	}
	for _, id := range []string{cfg.Model.Mean, cfg.Model.Stdev} {
		p := cfg.parameter(id)
		if p == nil {
			return errors.Errorf("unknown model parameter %q", id)
		}
		if len(p.Value) != 1 {
			return errors.Errorf("model parameter %s should have dimension 1", id)
		}
	}

	if len(cfg.Operators) == 0 {
		return errors.New("no operators")
	}
	for i, op := range cfg.Operators {
		if cfg.parameter(op.Parameter) == nil {
			return errors.Errorf("operator %d: unknown parameter %q", i, op.Parameter)
		}
		if w := op.Weight; w != nil && (*w < 0 || math.IsNaN(*w) || math.IsInf(*w, 0)) {
			return errors.Errorf("operator %d: invalid weight %v", i, *w)
		}
	}

	ch := cfg.Chain
	if _, err := operator.ParseTransform(ch.Transform); err != nil {
		return err
	}
	if _, err := operator.ParseMode(ch.Schedule); err != nil {
		return err
	}
	switch {
	case ch.Chains < 1:
		return errors.Errorf("number of chains should be positive: %d", ch.Chains)
	case ch.Threads < 1:
		return errors.Errorf("number of threads should be positive: %d", ch.Threads)
	}
	return nil
}
