package trace

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"bitbucket.org/Davydov/gobeast/mcmc"
)

// PlotLogger plots a column against the iteration and saves the plot
// when the chain stops. The file format is defined by the extension.
type PlotLogger struct {
	Path   string
	Column string
	idx    int
	pts    plotter.XYs
}

// NewPlotLogger creates a plot logger for the column.
func NewPlotLogger(path, column string) *PlotLogger {
	return &PlotLogger{
		Path:   path,
		Column: column,
		idx:    -1,
	}
}

// Start finds the column.
func (l *PlotLogger) Start(columns []string) error {
	for i, c := range columns {
		if c == l.Column {
			l.idx = i
			return nil
		}
	}
	return errors.Errorf("plot: unknown column %s", l.Column)
}

// Log stores a point. Non-finite values are not plotted.
func (l *PlotLogger) Log(s *mcmc.State) error {
	v := s.Values[l.idx]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	l.pts = append(l.pts, plotter.XY{X: float64(s.Iter), Y: v})
	return nil
}

// Close saves the plot.
func (l *PlotLogger) Close() error {
	if len(l.pts) == 0 {
		log.Warningf("plot: no points for %s", l.Column)
		return nil
	}
	p := plot.New()
	p.Title.Text = l.Column
	p.X.Label.Text = IterationColumn
	p.Y.Label.Text = l.Column

	line, err := plotter.NewLine(l.pts)
	if err != nil {
		return errors.Wrap(err, "plot")
	}
	p.Add(line)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, l.Path); err != nil {
		return errors.Wrap(err, "saving plot")
	}
	log.Infof("Saved %s trace plot to %s", l.Column, l.Path)
	return nil
}
