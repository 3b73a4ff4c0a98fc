package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bitbucket.org/Davydov/gobeast/mcmc"
)

var (
	// stateValue exports the last logged value of every column
	stateValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gobeast_state_value",
		Help: "Last logged value of a chain state column",
	}, []string{"chain", "column"})

	// stateIteration exports the last logged iteration
	stateIteration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gobeast_state_iteration",
		Help: "Last logged chain iteration",
	}, []string{"chain"})

	// statesLogged counts logged states
	statesLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gobeast_states_logged_total",
		Help: "Total number of logged chain states",
	}, []string{"chain"})
)

// MetricsLogger exports chain states as Prometheus gauges.
type MetricsLogger struct {
	gauges []prometheus.Gauge
	iter   prometheus.Gauge
	count  prometheus.Counter
	chain  string
}

// NewMetricsLogger creates a logger for the chain name.
func NewMetricsLogger(chain string) *MetricsLogger {
	return &MetricsLogger{chain: chain}
}

// Start binds the gauges.
func (l *MetricsLogger) Start(columns []string) error {
	l.gauges = make([]prometheus.Gauge, len(columns))
	for i, c := range columns {
		l.gauges[i] = stateValue.WithLabelValues(l.chain, c)
	}
	l.iter = stateIteration.WithLabelValues(l.chain)
	l.count = statesLogged.WithLabelValues(l.chain)
	return nil
}

// Log updates the gauges.
func (l *MetricsLogger) Log(s *mcmc.State) error {
	for i, v := range s.Values {
		l.gauges[i].Set(v)
	}
	l.iter.Set(float64(s.Iter))
	l.count.Inc()
	return nil
}

// Close does nothing, the last values stay exported.
func (l *MetricsLogger) Close() error {
	return nil
}
