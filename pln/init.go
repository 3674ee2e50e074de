package pln

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// initialS is the starting variational standard deviation.
const initialS = 0.1

// Initialize builds starting values for a covariance model: Θ from a least
// squares fit of log(Y+1) − O on X, M from its residuals and a constant S.
// For the rank model, q is the rank; B spans the q leading eigenvectors of
// the residual covariance and M holds the residuals in that basis.
func Initialize(data *Data, v Variant, q int) (Params, error) {
	if err := data.Validate(); err != nil {
		return Params{}, err
	}
	n, p, _ := data.Dims()

	logY := mat.NewDense(n, p, nil)
	logY.Apply(func(i, j int, y float64) float64 {
		return math.Log1p(y) - data.O.At(i, j)
	}, data.Y)

	var thetaT mat.Dense
	if err := thetaT.Solve(data.X, logY); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return Params{}, fmt.Errorf("%w: covariates are rank deficient: %v", ErrData, err)
		}
	}
	theta := mat.DenseCopyOf(thetaT.T())

	resid := mat.NewDense(n, p, nil)
	resid.Mul(data.X, &thetaT)
	resid.Sub(logY, resid)

	switch v {
	case VariantFull, VariantDiagonal, VariantSparse:
		return Params{Theta: theta, M: resid, S: filled(n, p, initialS)}, nil
	case VariantSpherical:
		return Params{Theta: theta, M: resid, S: filled(n, 1, initialS)}, nil
	case VariantRank:
		if q < 1 || q > p {
			return Params{}, fmt.Errorf("%w: rank %d outside [1, %d]", ErrShape, q, p)
		}
		b, m, err := leadingFactors(resid, q)
		if err != nil {
			return Params{}, err
		}
		return Params{Theta: theta, B: b, M: m, S: filled(n, q, initialS)}, nil
	default:
		return Params{}, fmt.Errorf("%w: %q", ErrVariant, v)
	}
}

// leadingFactors returns loadings B = V√λ and scores M = RV/√λ for the q
// leading eigenpairs (λ, V) of RᵀR/n.
func leadingFactors(resid *mat.Dense, q int) (b, m *mat.Dense, err error) {
	n, p := resid.Dims()
	var cov mat.Dense
	cov.Mul(resid.T(), resid)
	cov.Scale(1/float64(n), &cov)

	var eig mat.EigenSym
	if ok := eig.Factorize(denseToSym(&cov), true); !ok {
		return nil, nil, fmt.Errorf("%w: eigendecomposition of the residual covariance failed", ErrNotPositiveDefinite)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Eigenvalues come in ascending order.
	lead := mat.NewDense(p, q, nil)
	b = mat.NewDense(p, q, nil)
	scale := make([]float64, q)
	for k := 0; k < q; k++ {
		src := p - 1 - k
		scale[k] = math.Sqrt(math.Max(values[src], 1e-6))
		for j := 0; j < p; j++ {
			v := vectors.At(j, src)
			lead.Set(j, k, v/scale[k])
			b.Set(j, k, v*scale[k])
		}
	}
	m = mat.NewDense(n, q, nil)
	m.Mul(resid, lead)
	return b, m, nil
}

func filled(r, c int, v float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(r, c, data)
}
