package pln

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// denseToSym copies the lower triangle of a square matrix into a SymDense.
func denseToSym(d mat.Matrix) *mat.SymDense {
	n, _ := d.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sym.SetSym(i, j, d.At(i, j))
		}
	}
	return sym
}

// factorize computes the Cholesky factorization of a into chol, naming the
// matrix in the error when a is not positive definite.
func factorize(chol *mat.Cholesky, a mat.Symmetric, name string) error {
	if ok := chol.Factorize(a); !ok {
		return fmt.Errorf("%w: %s", ErrNotPositiveDefinite, name)
	}
	return nil
}

// accumulateScatter sets dst to Σ w_i (m_iᵀm_i + diag(s_i∘s_i)) over the
// weighted rows, in row order.
func accumulateScatter(dst *mat.SymDense, w []float64, m, s *mat.Dense) {
	dst.Zero()
	raw := dst.RawSymmetric()
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		dst.SymRankOne(dst, wi, m.RowView(i))
		for j, v := range s.RawRowView(i) {
			raw.Data[j*raw.Stride+j] += wi * v * v
		}
	}
}

// diagSym returns the diagonal matrix holding d.
func diagSym(d []float64) *mat.SymDense {
	sym := mat.NewSymDense(len(d), nil)
	for i, v := range d {
		sym.SetSym(i, i, v)
	}
	return sym
}

// scaledIdentity returns v·I of size n.
func scaledIdentity(n int, v float64) *mat.SymDense {
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, v)
	}
	return sym
}

// invert writes the inverse of the factorized matrix into dst. Poor
// conditioning is tolerated; only a singular factor is an error.
func invert(chol *mat.Cholesky, dst *mat.SymDense, name string) error {
	err := chol.InverseTo(dst)
	var cond mat.Condition
	if err == nil || (errors.As(err, &cond) && !math.IsInf(float64(cond), 1)) {
		return nil
	}
	return fmt.Errorf("%w: %s is singular", ErrNotPositiveDefinite, name)
}
