package pln

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Data holds the observations of one fit. Fit never modifies it.
type Data struct {
	// Y holds the n×p counts.
	Y *mat.Dense
	// X holds the n×d covariates.
	X *mat.Dense
	// O holds the n×p offsets.
	O *mat.Dense
	// W holds one non-negative weight per observation.
	W []float64
}

// NewData assembles a Data set, filling the optional parts: a nil x becomes
// an intercept column, a nil o becomes zeros and a nil w gives every row
// weight one.
func NewData(y, x, o *mat.Dense, w []float64) (*Data, error) {
	if y == nil || y.IsEmpty() {
		return nil, fmt.Errorf("%w: no counts", ErrData)
	}
	n, p := y.Dims()
	if x == nil {
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		x = mat.NewDense(n, 1, ones)
	}
	if o == nil {
		o = mat.NewDense(n, p, nil)
	}
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
	}
	d := &Data{Y: y, X: x, O: o, W: w}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dims returns the number of observations, count columns and covariates.
func (d *Data) Dims() (n, p, k int) {
	n, p = d.Y.Dims()
	_, k = d.X.Dims()
	return n, p, k
}

// Validate checks shapes, counts and weights.
func (d *Data) Validate() error {
	if d == nil || d.Y == nil || d.X == nil || d.O == nil {
		return fmt.Errorf("%w: Y, X and O are required", ErrData)
	}
	if d.Y.IsEmpty() || d.X.IsEmpty() || d.O.IsEmpty() {
		return fmt.Errorf("%w: empty matrix", ErrData)
	}
	n, p := d.Y.Dims()
	if r, _ := d.X.Dims(); r != n {
		return fmt.Errorf("%w: X has %d rows, Y has %d", ErrData, r, n)
	}
	if r, c := d.O.Dims(); r != n || c != p {
		return fmt.Errorf("%w: O is %dx%d, Y is %dx%d", ErrData, r, c, n, p)
	}
	if len(d.W) != n {
		return fmt.Errorf("%w: %d weights for %d rows", ErrData, len(d.W), n)
	}
	for i, w := range d.W {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight %d is %v", ErrData, i, w)
		}
	}
	if floats.Sum(d.W) <= 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrData)
	}
	for i := 0; i < n; i++ {
		for j, y := range d.Y.RawRowView(i) {
			if y < 0 || y != math.Trunc(y) || math.IsInf(y, 0) {
				return fmt.Errorf("%w: Y[%d,%d] = %v is not a count", ErrData, i, j, y)
			}
		}
		if !allFinite(d.X.RawRowView(i)) {
			return fmt.Errorf("%w: X row %d is not finite", ErrData, i)
		}
		if !allFinite(d.O.RawRowView(i)) {
			return fmt.Errorf("%w: O row %d is not finite", ErrData, i)
		}
	}
	return nil
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
