package trace

import (
	"strconv"
	"strings"

	"bitbucket.org/Davydov/gobeast/mcmc"
)

// ScreenLogger logs selected columns using the package logger.
type ScreenLogger struct {
	// Columns to print, all if empty.
	Columns []string
	idx     []int
	names   []string
}

// Start resolves column names.
func (l *ScreenLogger) Start(columns []string) error {
	l.idx = l.idx[:0]
	l.names = l.names[:0]
	for i, c := range columns {
		if len(l.Columns) > 0 && !contains(l.Columns, c) {
			continue
		}
		l.idx = append(l.idx, i)
		l.names = append(l.names, c)
	}
	log.Infof("%s\t%s", IterationColumn, strings.Join(l.names, "\t"))
	return nil
}

// Log prints a state.
func (l *ScreenLogger) Log(s *mcmc.State) error {
	f := make([]string, len(l.idx))
	for j, i := range l.idx {
		f[j] = strconv.FormatFloat(s.Values[i], 'f', 4, 64)
	}
	log.Infof("%s %d\t%s", s.Chain, s.Iter, strings.Join(f, "\t"))
	return nil
}

// Close does nothing.
func (l *ScreenLogger) Close() error {
	return nil
}

func contains(s []string, x string) bool {
	for _, v := range s {
		if v == x {
			return true
		}
	}
	return false
}
