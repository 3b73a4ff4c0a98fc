package trace

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"bitbucket.org/Davydov/gobeast/mcmc"
)

// ColumnSummary is the posterior summary of a single column.
type ColumnSummary struct {
	Name    string  `json:"name"`
	Mean    float64 `json:"mean"`
	SD      float64 `json:"sd"`
	Median  float64 `json:"median"`
	Lower95 float64 `json:"lower95"`
	Upper95 float64 `json:"upper95"`
	// N is the number of states after burn-in.
	N int `json:"n"`
}

// SummaryLogger collects states after burn-in and computes the
// posterior summaries.
type SummaryLogger struct {
	// Burnin is the number of iterations to discard.
	Burnin  int
	columns []string
	values  [][]float64
}

// NewSummaryLogger creates a new summary logger.
func NewSummaryLogger(burnin int) *SummaryLogger {
	return &SummaryLogger{Burnin: burnin}
}

// Start initializes the storage.
func (l *SummaryLogger) Start(columns []string) error {
	l.columns = columns
	l.values = make([][]float64, len(columns))
	return nil
}

// Log stores a state if it is after burn-in.
func (l *SummaryLogger) Log(s *mcmc.State) error {
	if s.Iter < l.Burnin {
		return nil
	}
	for i, v := range s.Values {
		l.values[i] = append(l.values[i], v)
	}
	return nil
}

// Close does nothing, the collected values are kept.
func (l *SummaryLogger) Close() error {
	return nil
}

// Summary returns the column summaries. Columns with non-finite
// values are skipped.
func (l *SummaryLogger) Summary() (res []ColumnSummary) {
	for i, name := range l.columns {
		x := l.values[i]
		if len(x) == 0 || !finite(x) {
			continue
		}
		mean, sd := stat.MeanStdDev(x, nil)
		if len(x) == 1 {
			sd = 0
		}
		sorted := append([]float64(nil), x...)
		sort.Float64s(sorted)
		res = append(res, ColumnSummary{
			Name:    name,
			Mean:    mean,
			SD:      sd,
			Median:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
			Lower95: stat.Quantile(0.025, stat.Empirical, sorted, nil),
			Upper95: stat.Quantile(0.975, stat.Empirical, sorted, nil),
			N:       len(x),
		})
	}
	return
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
