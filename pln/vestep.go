package pln

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// VE steps refine only M and S for fixed Θ and Ω, as in the inner loop of a
// mixture fit where each component's model parameters come from the
// M step.

type veFull struct {
	theta *mat.Dense
	omega mat.Symmetric
}

type veDiagonal struct {
	theta *mat.Dense
	omega mat.Symmetric
}

type veSpherical struct {
	theta *mat.Dense
	omega mat.Symmetric
}

// VEStepFull optimizes M and S under a fixed p×p precision omega.
func VEStepFull(theta *mat.Dense, omega mat.Symmetric) Model {
	return veFull{theta: theta, omega: omega}
}

// VEStepDiagonal optimizes M and S under the diagonal of omega.
func VEStepDiagonal(theta *mat.Dense, omega mat.Symmetric) Model {
	return veDiagonal{theta: theta, omega: omega}
}

// VEStepSpherical optimizes M and an n×1 S under the precision omega[0,0]·I.
// Only omega[0,0] must be positive; the other entries are not read.
func VEStepSpherical(theta *mat.Dense, omega mat.Symmetric) Model {
	return veSpherical{theta: theta, omega: omega}
}

func (veFull) Variant() Variant      { return VariantVEStepFull }
func (veDiagonal) Variant() Variant  { return VariantVEStepDiagonal }
func (veSpherical) Variant() Variant { return VariantVEStepSpherical }

// latentBlocks fixes Θ and checks M and S for the VE steps.
func latentBlocks(pr *problem, theta *mat.Dense, init Params, sCols int) ([]paramBlock, error) {
	if err := checkShape(BlockTheta, theta, pr.p, pr.d); err != nil {
		return nil, err
	}
	pr.fixedTheta = theta
	if err := checkShape(BlockM, init.M, pr.n, pr.p); err != nil {
		return nil, err
	}
	if err := checkShape(BlockS, init.S, pr.n, sCols); err != nil {
		return nil, err
	}
	return []paramBlock{
		{BlockM, init.M},
		{BlockS, init.S},
	}, nil
}

// precisionDiagonal extracts and checks the diagonal of a p×p omega.
func precisionDiagonal(pr *problem, omega mat.Symmetric) ([]float64, error) {
	if omega == nil {
		return nil, fmt.Errorf("%w: Omega is missing", ErrShape)
	}
	if k := omega.SymmetricDim(); k != pr.p {
		return nil, fmt.Errorf("%w: Omega is %dx%d, want %dx%d", ErrShape, k, k, pr.p, pr.p)
	}
	d := make([]float64, pr.p)
	for j := range d {
		d[j] = omega.At(j, j)
		if !(d[j] > 0) || math.IsInf(d[j], 0) {
			return nil, fmt.Errorf("%w: Omega[%d,%d] = %v", ErrNotPositiveDefinite, j, j, d[j])
		}
	}
	return d, nil
}

func (m veFull) blocks(pr *problem, init Params) ([]paramBlock, error) {
	if err := pr.fixPrecision(m.omega); err != nil {
		return nil, err
	}
	return latentBlocks(pr, m.theta, init, pr.p)
}

func (veFull) exponent(pr *problem) {
	pr.predictor()
	pr.z.Add(pr.z, &pr.M)
	pr.elementVariance()
}

func (m veFull) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	f += pr.precisionRows(pr.fixedOmega, true)
	return f, nil
}

func (veFull) derive(pr *problem, res *Result) error {
	return fixedPrecisionDerive(pr, res)
}

func (m veDiagonal) blocks(pr *problem, init Params) ([]paramBlock, error) {
	d, err := precisionDiagonal(pr, m.omega)
	if err != nil {
		return nil, err
	}
	copy(pr.inv, d)
	return latentBlocks(pr, m.theta, init, pr.p)
}

func (veDiagonal) exponent(pr *problem) {
	pr.predictor()
	pr.z.Add(pr.z, &pr.M)
	pr.elementVariance()
}

func (m veDiagonal) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	f += pr.diagonalRows(pr.inv, true)
	return f, nil
}

func (veDiagonal) derive(pr *problem, res *Result) error {
	pr.diagonalVariance(pr.vars)
	res.Sigma = diagSym(pr.vars)
	res.Omega = diagSym(pr.inv)
	diagonalLogLik(res, pr.inv)
	return nil
}

// The spherical VE step reads only omega[0,0]; the rest of omega is ignored.
func (m veSpherical) blocks(pr *problem, init Params) ([]paramBlock, error) {
	if m.omega == nil {
		return nil, fmt.Errorf("%w: Omega is missing", ErrShape)
	}
	if k := m.omega.SymmetricDim(); k != pr.p {
		return nil, fmt.Errorf("%w: Omega is %dx%d, want %dx%d", ErrShape, k, k, pr.p, pr.p)
	}
	w := m.omega.At(0, 0)
	if !(w > 0) || math.IsInf(w, 0) {
		return nil, fmt.Errorf("%w: Omega[0,0] = %v", ErrNotPositiveDefinite, w)
	}
	pr.inv[0] = w
	return latentBlocks(pr, m.theta, init, 1)
}

func (veSpherical) exponent(pr *problem) {
	pr.predictor()
	pr.z.Add(pr.z, &pr.M)
	pr.rowVariance()
}

func (m veSpherical) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	f += pr.sphericalRows(pr.inv[0], true)
	return f, nil
}

func (veSpherical) derive(pr *problem, res *Result) error {
	res.Sigma = scaledIdentity(pr.p, pr.sphericalVariance())
	res.Omega = scaledIdentity(pr.p, pr.inv[0])
	sphericalLogLik(pr, res, pr.inv[0])
	return nil
}
