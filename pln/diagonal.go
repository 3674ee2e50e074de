package pln

import (
	"fmt"
	"math"
)

type diagonal struct{}

// Diagonal is the model with independent latent columns,
// σ²_j = Σ_i w_i(M²_ij + S2_ij)/w̄.
func Diagonal() Model { return diagonal{} }

func (diagonal) Variant() Variant { return VariantDiagonal }

func (diagonal) blocks(pr *problem, init Params) ([]paramBlock, error) {
	return standardBlocks(pr, init, pr.p)
}

func (diagonal) exponent(pr *problem) {
	pr.predictor()
	pr.z.Add(pr.z, &pr.M)
	pr.elementVariance()
}

func (m diagonal) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	sigma2, omega := pr.vars, pr.inv
	pr.diagonalVariance(sigma2)
	var logDet float64
	for j, v := range sigma2 {
		omega[j] = 1 / v
		logDet += math.Log(v)
	}
	f += pr.diagonalRows(omega, false)
	f += 0.5 * pr.wsum * logDet
	return f, nil
}

func (diagonal) derive(pr *problem, res *Result) error {
	sigma2 := make([]float64, pr.p)
	pr.diagonalVariance(sigma2)
	omega := make([]float64, pr.p)
	for j, v := range sigma2 {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: Sigma[%d,%d] = %v", ErrNotPositiveDefinite, j, j, v)
		}
		omega[j] = 1 / v
	}
	res.Sigma = diagSym(sigma2)
	res.Omega = diagSym(omega)
	diagonalLogLik(res, omega)
	return nil
}

// diagonalLogLik adds the latent part for a diagonal precision ω.
func diagonalLogLik(res *Result, omega []float64) {
	var logDet float64
	for _, v := range omega {
		logDet += math.Log(v)
	}
	for i := range res.LogLik {
		mrow, srow := res.Params.M.RawRowView(i), res.Params.S.RawRowView(i)
		var ll float64
		for j, s := range srow {
			s2 := s * s
			ll += 0.5*math.Log(s2) - 0.5*(mrow[j]*mrow[j]+s2)*omega[j]
		}
		res.LogLik[i] += ll + 0.5*logDet
	}
}
