package mcmc

import (
	"bitbucket.org/Davydov/gobeast/operator"
)

// OperatorSummary is the final state of an operator.
type OperatorSummary struct {
	Name           string  `json:"name"`
	Weight         float64 `json:"weight"`
	Count          int     `json:"count"`
	Accepted       int     `json:"accepted"`
	Rejected       int     `json:"rejected"`
	Failed         int     `json:"failed"`
	AcceptanceRate float64 `json:"acceptanceRate"`
	// Tuning is the scale factor or window size of coercible
	// operators.
	Tuning *float64 `json:"tuning,omitempty"`
}

// Summary is the chain run summary.
type Summary struct {
	// Name is the chain name.
	Name string `json:"name"`
	// RunID identifies the run in checkpoints, it is kept on
	// resume.
	RunID string `json:"runID,omitempty"`
	// Status is the final chain status.
	Status string `json:"status"`
	// Iterations is the number of completed steps.
	Iterations int `json:"iterations"`
	// Posterior is the final log-posterior.
	Posterior float64 `json:"posterior"`
	// MaxPosterior is the maximum log-posterior visited.
	MaxPosterior float64 `json:"maxPosterior"`
	// MaxPosteriorParameters are the parameter values at the
	// maximum.
	MaxPosteriorParameters map[string][]float64 `json:"maxPosteriorParameters"`
	// Operators are the operator statistics.
	Operators []OperatorSummary `json:"operators"`
	// Time is the run time in seconds.
	Time float64 `json:"time"`
}

// Summary returns the chain summary.
func (c *Chain) Summary() *Summary {
	s := &Summary{
		Name:                   c.Name,
		RunID:                  c.runID,
		Status:                 c.status.String(),
		Iterations:             c.i,
		Posterior:              c.l,
		MaxPosterior:           c.maxL,
		MaxPosteriorParameters: c.maxLPar,
		Time:                   c.deltaT.Seconds(),
	}
	for _, op := range c.schedule.Operators() {
		st := op.Stats()
		os := OperatorSummary{
			Name:           op.Name(),
			Weight:         op.Weight(),
			Count:          st.Count,
			Accepted:       st.Accepted,
			Rejected:       st.Rejected,
			Failed:         st.Failed,
			AcceptanceRate: st.AcceptanceRate(),
		}
		if co, ok := op.(operator.Coercible); ok {
			t := co.RawParameter()
			os.Tuning = &t
		}
		s.Operators = append(s.Operators, os)
	}
	return s
}
