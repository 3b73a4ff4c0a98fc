package likelihood

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"bitbucket.org/Davydov/gobeast/model"
)

// NewNormal creates a likelihood of i.i.d. normal observations. mean
// and stdev are single-dimensional variables. A non-positive standard
// deviation has zero likelihood.
func NewNormal(g *model.Graph, name string, data []float64, mean, stdev model.Variable) (*Cached, error) {
	if len(data) == 0 {
		return nil, errors.Errorf("%s: no data", name)
	}
	if mean.Dimension() != 1 || stdev.Dimension() != 1 {
		return nil, errors.Errorf("%s: mean and stdev should have dimension 1, got %d and %d",
			name, mean.Dimension(), stdev.Dimension())
	}
	data = append([]float64(nil), data...)
	d := DensityFunc(func() (res float64) {
		mu, _ := mean.Value(0)
		sigma, _ := stdev.Value(0)
		if sigma <= 0 {
			return math.Inf(-1)
		}
		n := distuv.Normal{Mu: mu, Sigma: sigma}
		for _, x := range data {
			res += n.LogProb(x)
		}
		return
	})
	deps := append(mean.Nodes(), stdev.Nodes()...)
	return NewCached(g, name, d, deps...)
}
