package pln

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type full struct{}

// Full is the model with an unconstrained covariance matrix. At every
// point the precision is profiled out as Ω = w̄·nΣ⁻¹, where
// nΣ = MᵀWM + diag(wᵀS2).
func Full() Model { return full{} }

func (full) Variant() Variant { return VariantFull }

func (full) blocks(pr *problem, init Params) ([]paramBlock, error) {
	return standardBlocks(pr, init, pr.p)
}

// standardBlocks checks Θ, M and S shapes for the models with an n×p M and
// an n×sCols S.
func standardBlocks(pr *problem, init Params, sCols int) ([]paramBlock, error) {
	if err := checkShape(BlockTheta, init.Theta, pr.p, pr.d); err != nil {
		return nil, err
	}
	if err := checkShape(BlockM, init.M, pr.n, pr.p); err != nil {
		return nil, err
	}
	if err := checkShape(BlockS, init.S, pr.n, sCols); err != nil {
		return nil, err
	}
	return []paramBlock{
		{BlockTheta, init.Theta},
		{BlockM, init.M},
		{BlockS, init.S},
	}, nil
}

func (full) exponent(pr *problem) {
	pr.predictor()
	pr.z.Add(pr.z, &pr.M)
	pr.elementVariance()
}

// scatter factorizes nΣ from the bound M and S.
func (pr *problem) scatter(k int) error {
	if pr.sigma == nil {
		pr.sigma = mat.NewSymDense(k, nil)
		pr.prec = mat.NewSymDense(k, nil)
	}
	accumulateScatter(pr.sigma, pr.data.W, &pr.M, &pr.S)
	return factorize(&pr.chol, pr.sigma, "variational covariance")
}

func (m full) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	if err := pr.scatter(pr.p); err != nil {
		return math.NaN(), err
	}
	if err := invert(&pr.chol, pr.prec, "variational covariance"); err != nil {
		return math.NaN(), err
	}
	pr.prec.ScaleSym(pr.wsum, pr.prec)
	f += 0.5 * pr.wsum * (pr.chol.LogDet() - float64(pr.p)*math.Log(pr.wsum))
	f += pr.precisionRows(pr.prec, false)
	return f, nil
}

func (full) derive(pr *problem, res *Result) error {
	if err := pr.scatter(pr.p); err != nil {
		return err
	}
	sigma := mat.NewSymDense(pr.p, nil)
	sigma.ScaleSym(1/pr.wsum, pr.sigma)
	var chol mat.Cholesky
	if err := factorize(&chol, sigma, "Sigma"); err != nil {
		return err
	}
	omega := mat.NewSymDense(pr.p, nil)
	if err := invert(&chol, omega, "Sigma"); err != nil {
		return err
	}
	res.Sigma = sigma
	res.Omega = omega
	precisionLogLik(pr, res, omega, -chol.LogDet())
	return nil
}

// precisionLogLik adds the latent Gaussian part for a p×p precision with
// the given log-determinant to every observation's log-likelihood.
func precisionLogLik(pr *problem, res *Result, omega *mat.SymDense, logDetOmega float64) {
	mo := make([]float64, pr.p)
	for i := range res.LogLik {
		mrow, srow := res.Params.M.RawRowView(i), res.Params.S.RawRowView(i)
		moVec := mat.NewVecDense(pr.p, mo)
		moVec.MulVec(omega, res.Params.M.RowView(i))
		var ll float64
		for j, s := range srow {
			s2 := s * s
			ll += 0.5*math.Log(s2) - 0.5*(mrow[j]*mo[j]+s2*omega.At(j, j))
		}
		res.LogLik[i] += ll + 0.5*logDetOmega
	}
}
