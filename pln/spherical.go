package pln

import (
	"math"
)

type spherical struct{}

// Spherical is the model with covariance σ²I and one variational variance
// per observation; S is n×1. σ² is profiled out at every point.
func Spherical() Model { return spherical{} }

func (spherical) Variant() Variant { return VariantSpherical }

func (spherical) blocks(pr *problem, init Params) ([]paramBlock, error) {
	return standardBlocks(pr, init, 1)
}

func (spherical) exponent(pr *problem) {
	pr.predictor()
	pr.z.Add(pr.z, &pr.M)
	pr.rowVariance()
}

func (m spherical) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	sigma2 := pr.sphericalVariance()
	f += pr.sphericalRows(1/sigma2, false)
	f += 0.5 * pr.wsum * float64(pr.p) * math.Log(sigma2)
	return f, nil
}

func (spherical) derive(pr *problem, res *Result) error {
	sigma2 := pr.sphericalVariance()
	if !(sigma2 > 0) || math.IsInf(sigma2, 0) {
		return ErrNotPositiveDefinite
	}
	res.Sigma = scaledIdentity(pr.p, sigma2)
	res.Omega = scaledIdentity(pr.p, 1/sigma2)
	sphericalLogLik(pr, res, 1/sigma2)
	return nil
}

// sphericalLogLik adds the latent part for precision ωI.
func sphericalLogLik(pr *problem, res *Result, omega float64) {
	p := float64(pr.p)
	for i := range res.LogLik {
		mrow := res.Params.M.RawRowView(i)
		s := res.Params.S.At(i, 0)
		var mm float64
		for _, v := range mrow {
			mm += v * v
		}
		res.LogLik[i] += -0.5*omega*mm - 0.5*p*s*s*omega + 0.5*p*math.Log(s*s*omega)
	}
}
