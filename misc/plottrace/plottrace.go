// plottrace plots a column of one or more trace files, one line per
// chain, or a histogram of the values after burn-in.
package main

import (
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/gobeast/trace"
)

var (
	app = kingpin.New("plottrace", "plot gobeast trace files")

	traceFiles = app.Arg("trace", "trace files").Required().ExistingFiles()
	column     = app.Flag("column", "column to plot").Default("posterior").String()
	burnin     = app.Flag("burnin", "skip states before the iteration").Int()
	hist       = app.Flag("hist", "plot a histogram instead of the trace").Bool()
	bins       = app.Flag("bins", "number of histogram bins").Default("30").Int()
	out        = app.Flag("out", "output file (png, svg or pdf)").Default("trace.png").String()
)

// readColumn returns the iterations and the values after burn-in.
func readColumn(path, column string, burnin int) (plotter.XYs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := trace.ReadTrace(f)
	if err != nil {
		return nil, err
	}
	it, err := t.Column(trace.IterationColumn)
	if err != nil {
		return nil, err
	}
	v, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	var pts plotter.XYs
	for i := range it {
		if int(it[i]) < burnin {
			continue
		}
		pts = append(pts, plotter.XY{X: it[i], Y: v[i]})
	}
	return pts, nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	p := plot.New()
	p.Title.Text = *column

	var lines []interface{}
	var values plotter.Values
	for _, fn := range *traceFiles {
		pts, err := readColumn(fn, *column, *burnin)
		app.FatalIfError(err, "%s", fn)
		if *hist {
			for _, pt := range pts {
				values = append(values, pt.Y)
			}
			continue
		}
		lines = append(lines, filepath.Base(fn), pts)
	}

	if *hist {
		h, err := plotter.NewHist(values, *bins)
		app.FatalIfError(err, "histogram")
		h.Normalize(1)
		p.Add(h)
		p.X.Label.Text = *column
	} else {
		p.X.Label.Text = trace.IterationColumn
		p.Y.Label.Text = *column
		app.FatalIfError(plotutil.AddLines(p, lines...), "plot")
	}

	app.FatalIfError(p.Save(8*vg.Inch, 4*vg.Inch, *out), "saving plot")
}
