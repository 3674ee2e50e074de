package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-poisson-lognormal/pln"
)

// ReadMatrix parses a numeric CSV table. A first row that does not parse
// as numbers is taken as a header and skipped.
func ReadMatrix(r io.Reader) (*mat.Dense, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	var data []float64
	rows, cols := 0, 0
	for i, rec := range records {
		values, err := parseRow(rec)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if rows == 0 {
			cols = len(values)
		} else if len(values) != cols {
			return nil, fmt.Errorf("line %d: %d fields, want %d", i+1, len(values), cols)
		}
		data = append(data, values...)
		rows++
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("no numeric rows")
	}
	return mat.NewDense(rows, cols, data), nil
}

func parseRow(rec []string) ([]float64, error) {
	out := make([]float64, len(rec))
	for j, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, err
		}
		out[j] = v
	}
	return out, nil
}

// ReadMatrixFile is ReadMatrix on a file.
func ReadMatrixFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadData reads the run's CSV inputs.
func (r Run) LoadData() (*pln.Data, error) {
	y, err := ReadMatrixFile(r.Data.Y)
	if err != nil {
		return nil, err
	}
	var x, o *mat.Dense
	var w []float64
	if r.Data.X != "" {
		if x, err = ReadMatrixFile(r.Data.X); err != nil {
			return nil, err
		}
	}
	if r.Data.O != "" {
		if o, err = ReadMatrixFile(r.Data.O); err != nil {
			return nil, err
		}
	}
	if r.Data.W != "" {
		wm, err := ReadMatrixFile(r.Data.W)
		if err != nil {
			return nil, err
		}
		if _, c := wm.Dims(); c != 1 {
			return nil, fmt.Errorf("%s: weights must be a single column, got %d", r.Data.W, c)
		}
		w = mat.Col(nil, 0, wm)
	}
	return pln.NewData(y, x, o, w)
}

// LoadOmega reads the fixed precision matrix, or returns nil when the run
// has none.
func (r Run) LoadOmega() (*mat.SymDense, error) {
	if r.Omega == "" {
		return nil, nil
	}
	m, err := ReadMatrixFile(r.Omega)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if rows != cols {
		return nil, fmt.Errorf("%s: omega must be square, got %dx%d", r.Omega, rows, cols)
	}
	sym := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			if m.At(i, j) != m.At(j, i) {
				return nil, fmt.Errorf("%s: omega is not symmetric at (%d,%d)", r.Omega, i, j)
			}
			sym.SetSym(i, j, m.At(i, j))
		}
	}
	return sym, nil
}
