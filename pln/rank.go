package pln

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type rank struct{}

// Rank is the model whose covariance is BBᵀ for a p×q loading matrix B.
// The latent layer lives in q dimensions with a standard normal prior:
// Z = O + XΘᵀ + MBᵀ with M and S of size n×q. The rank is the number of
// columns of the starting B.
//
// The parameterization is not identifiable: rotating B and M jointly by any
// orthogonal q×q matrix leaves the objective unchanged.
func Rank() Model { return rank{} }

func (rank) Variant() Variant { return VariantRank }

func (rank) blocks(pr *problem, init Params) ([]paramBlock, error) {
	if init.B == nil || init.B.IsEmpty() {
		return nil, fmt.Errorf("%w: B is missing", ErrShape)
	}
	_, q := init.B.Dims()
	if err := checkShape(BlockTheta, init.Theta, pr.p, pr.d); err != nil {
		return nil, err
	}
	if err := checkShape(BlockB, init.B, pr.p, q); err != nil {
		return nil, err
	}
	if err := checkShape(BlockM, init.M, pr.n, q); err != nil {
		return nil, err
	}
	if err := checkShape(BlockS, init.S, pr.n, q); err != nil {
		return nil, err
	}
	return []paramBlock{
		{BlockTheta, init.Theta},
		{BlockB, init.B},
		{BlockM, init.M},
		{BlockS, init.S},
	}, nil
}

// exponent sets a = Z + ½ S2(B∘B)ᵀ.
func (rank) exponent(pr *problem) {
	pr.predictor()
	pr.a.Mul(&pr.M, pr.B.T())
	pr.z.Add(pr.z, pr.a)
	for i := 0; i < pr.n; i++ {
		arow, zrow, srow := pr.a.RawRowView(i), pr.z.RawRowView(i), pr.S.RawRowView(i)
		for j := range arow {
			brow := pr.B.RawRowView(j)
			var v float64
			for k, s := range srow {
				v += s * s * brow[k] * brow[k]
			}
			arow[j] = zrow[j] + 0.5*v
		}
	}
}

func (m rank) objective(pr *problem) (float64, error) {
	m.exponent(pr)
	f := pr.poisson()
	for i, w := range pr.data.W {
		if w == 0 {
			continue
		}
		mrow, srow := pr.M.RawRowView(i), pr.S.RawRowView(i)
		arow, yrow := pr.a.RawRowView(i), pr.data.Y.RawRowView(i)
		gm, gs := pr.gM.RawRowView(i), pr.gS.RawRowView(i)
		var kl float64
		for k, s := range srow {
			s2 := s * s
			kl += mrow[k]*mrow[k] + s2 - math.Log(s2) - 1
			gm[k] = w * mrow[k]
			gs[k] = w * (s - 1/s)
		}
		f += 0.5 * w * kl
		for j, a := range arow {
			r := a - yrow[j]
			brow, gb := pr.B.RawRowView(j), pr.gB.RawRowView(j)
			for k, s := range srow {
				b := brow[k]
				gm[k] += w * r * b
				gs[k] += w * a * b * b * s
				gb[k] += w * (r*mrow[k] + a*s*s*b)
			}
		}
	}
	return f, nil
}

// derive reports Sigma = B(nΣ/w̄)Bᵀ with nΣ the q×q latent scatter. No
// precision is reported: Sigma is singular whenever q < p.
func (rank) derive(pr *problem, res *Result) error {
	_, q := pr.M.Dims()
	if err := pr.scatter(q); err != nil {
		return err
	}
	latent := mat.NewSymDense(q, nil)
	latent.ScaleSym(1/pr.wsum, pr.sigma)
	var bl, sigma mat.Dense
	bl.Mul(&pr.B, latent)
	sigma.Mul(&bl, pr.B.T())
	res.Sigma = denseToSym(&sigma)
	for i := range res.LogLik {
		mrow, srow := res.Params.M.RawRowView(i), res.Params.S.RawRowView(i)
		var kl float64
		for k, s := range srow {
			s2 := s * s
			kl += mrow[k]*mrow[k] + s2 - math.Log(s2) - 1
		}
		res.LogLik[i] -= 0.5 * kl
	}
	return nil
}
