// Package trace implements chain state loggers.
package trace

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/gobeast/mcmc"
)

// log is the global logging variable.
var log = logging.MustGetLogger("trace")

// IterationColumn is the first column of a trace file.
const IterationColumn = "iteration"

// TabLogger writes tab separated states.
type TabLogger struct {
	w      *bufio.Writer
	closer io.Closer
	buf    []byte
	// noHeader is set when appending to an existing trace
	noHeader bool
}

// NewTabLogger creates a logger writing to w. If w is an io.Closer it
// is closed by Close.
func NewTabLogger(w io.Writer) *TabLogger {
	t := &TabLogger{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// CreateTabLogger creates a trace file.
func CreateTabLogger(path string) (*TabLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating trace file")
	}
	return NewTabLogger(f), nil
}

// AppendTabLogger opens a trace file for appending, the header is
// only written if the file is empty. It is used to continue a
// resumed chain.
func AppendTabLogger(path string) (*TabLogger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "opening trace file")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	t := NewTabLogger(f)
	t.noHeader = st.Size() > 0
	return t, nil
}

// Start writes the header.
func (t *TabLogger) Start(columns []string) error {
	if t.noHeader {
		return nil
	}
	_, err := t.w.WriteString(IterationColumn + "\t" + strings.Join(columns, "\t") + "\n")
	return err
}

// Log writes a single line.
func (t *TabLogger) Log(s *mcmc.State) error {
	b := strconv.AppendInt(t.buf[:0], int64(s.Iter), 10)
	for _, v := range s.Values {
		b = append(b, '\t')
		b = strconv.AppendFloat(b, v, 'f', 6, 64)
	}
	b = append(b, '\n')
	t.buf = b
	_, err := t.w.Write(b)
	return err
}

// Close flushes the output and closes the file.
func (t *TabLogger) Close() error {
	err := t.w.Flush()
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// readFloats converts string of floats into slice of float64.
func readFloats(s string) ([]float64, error) {
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Split(bufio.ScanWords)
	var result []float64
	for scanner.Scan() {
		x, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return result, err
		}
		result = append(result, x)
	}
	return result, scanner.Err()
}

// ReadLastState reads the header and the last line of a trace file
// and returns the values by column name.
func ReadLastState(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header, line string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 1<<24)
	for scanner.Scan() {
		if header == "" {
			header = scanner.Text()
			continue
		}
		if l := scanner.Text(); strings.TrimSpace(l) != "" {
			line = l
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if line == "" {
		return nil, errors.Errorf("%s: no states", path)
	}

	names := strings.Fields(header)
	values, err := readFloats(line)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: last line", path)
	}
	if len(names) != len(values) {
		return nil, errors.Errorf("%s: %d columns in the header, %d in the last line", path, len(names), len(values))
	}
	m := make(map[string]float64, len(names))
	for i, n := range names {
		m[n] = values[i]
	}
	log.Debugf("read %d values from %s", len(m), path)
	return m, nil
}

// Trace is the content of a trace file.
type Trace struct {
	// Columns are the column names, the first one is the
	// iteration.
	Columns []string
	Rows    [][]float64
}

// ReadTrace reads a complete trace.
func ReadTrace(r io.Reader) (*Trace, error) {
	t := &Trace{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<24)
	for scanner.Scan() {
		l := scanner.Text()
		if strings.TrimSpace(l) == "" {
			continue
		}
		if t.Columns == nil {
			t.Columns = strings.Fields(l)
			continue
		}
		row, err := readFloats(l)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", len(t.Rows)+2)
		}
		if len(row) != len(t.Columns) {
			return nil, errors.Errorf("line %d: %d values, expected %d", len(t.Rows)+2, len(row), len(t.Columns))
		}
		t.Rows = append(t.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if t.Columns == nil {
		return nil, errors.New("empty trace")
	}
	return t, nil
}

// Column returns the values of a column.
func (t *Trace) Column(name string) ([]float64, error) {
	for j, c := range t.Columns {
		if c != name {
			continue
		}
		res := make([]float64, len(t.Rows))
		for i, row := range t.Rows {
			res[i] = row[j]
		}
		return res, nil
	}
	return nil, errors.Errorf("unknown column %s", name)
}
