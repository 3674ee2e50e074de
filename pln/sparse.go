package pln

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type sparse struct {
	omega mat.Symmetric
}

// Sparse is the model with a fixed, externally estimated precision matrix
// Ω, typically the output of a sparse precision estimator. Ω must be p×p
// and positive definite.
func Sparse(omega mat.Symmetric) Model { return sparse{omega: omega} }

func (sparse) Variant() Variant { return VariantSparse }

func (m sparse) blocks(pr *problem, init Params) ([]paramBlock, error) {
	if err := pr.fixPrecision(m.omega); err != nil {
		return nil, err
	}
	return standardBlocks(pr, init, pr.p)
}

// fixPrecision validates and stores a supplied p×p precision.
func (pr *problem) fixPrecision(omega mat.Symmetric) error {
	if omega == nil {
		return fmt.Errorf("%w: Omega is missing", ErrShape)
	}
	if k := omega.SymmetricDim(); k != pr.p {
		return fmt.Errorf("%w: Omega is %dx%d, want %dx%d", ErrShape, k, k, pr.p, pr.p)
	}
	pr.fixedOmega = mat.NewSymDense(pr.p, nil)
	pr.fixedOmega.CopySym(omega)
	var chol mat.Cholesky
	if err := factorize(&chol, pr.fixedOmega, "Omega"); err != nil {
		return err
	}
	pr.fixedLogDet = chol.LogDet()
	return nil
}

func (sparse) exponent(pr *problem) {
	pr.predictor()
	pr.z.Add(pr.z, &pr.M)
	pr.elementVariance()
}

func (m sparse) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	f += pr.precisionRows(pr.fixedOmega, true)
	return f, nil
}

func (sparse) derive(pr *problem, res *Result) error {
	return fixedPrecisionDerive(pr, res)
}

// fixedPrecisionDerive reports Sigma = nΣ/w̄ next to the supplied Omega.
func fixedPrecisionDerive(pr *problem, res *Result) error {
	if err := pr.scatter(pr.p); err != nil {
		return err
	}
	sigma := mat.NewSymDense(pr.p, nil)
	sigma.ScaleSym(1/pr.wsum, pr.sigma)
	res.Sigma = sigma
	res.Omega = mat.NewSymDense(pr.p, nil)
	res.Omega.CopySym(pr.fixedOmega)
	precisionLogLik(pr, res, pr.fixedOmega, pr.fixedLogDet)
	return nil
}
