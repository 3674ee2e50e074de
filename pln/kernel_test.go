package pln

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randNormal(rng *rand.Rand, r, c int, scale float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = scale * rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func randUniform(rng *rand.Rand, r, c int, lo, hi float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = lo + (hi-lo)*rng.Float64()
	}
	return mat.NewDense(r, c, data)
}

// smallData returns a random instance whose third row has zero weight.
func smallData(rng *rand.Rand, n, p, d int) *Data {
	y := mat.NewDense(n, p, nil)
	y.Apply(func(_, _ int, _ float64) float64 { return float64(rng.Intn(6)) }, y)
	x := randNormal(rng, n, d, 1)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 + rng.Float64()
	}
	w[2] = 0
	return &Data{Y: y, X: x, O: randNormal(rng, n, p, 0.1), W: w}
}

func randSPD(rng *rand.Rand, p int) *mat.SymDense {
	a := randNormal(rng, p, p, 0.5)
	var s mat.SymDense
	s.SymOuterK(1, a)
	for i := 0; i < p; i++ {
		s.SetSym(i, i, s.At(i, i)+1)
	}
	return &s
}

type kernelCase struct {
	name  string
	model func(rng *rand.Rand, p, d int) Model
	sCols func(p, q int) int
	mCols func(p, q int) int
	rank  bool
}

func allKernels() []kernelCase {
	perElement := func(p, _ int) int { return p }
	perRow := func(_, _ int) int { return 1 }
	latent := func(_, q int) int { return q }
	return []kernelCase{
		{"full", func(*rand.Rand, int, int) Model { return Full() }, perElement, perElement, false},
		{"spherical", func(*rand.Rand, int, int) Model { return Spherical() }, perRow, perElement, false},
		{"diagonal", func(*rand.Rand, int, int) Model { return Diagonal() }, perElement, perElement, false},
		{"rank", func(*rand.Rand, int, int) Model { return Rank() }, latent, latent, true},
		{"sparse", func(rng *rand.Rand, p, _ int) Model { return Sparse(randSPD(rng, p)) }, perElement, perElement, false},
		{"vestep-full", func(rng *rand.Rand, p, d int) Model {
			return VEStepFull(randNormal(rng, p, d, 0.3), randSPD(rng, p))
		}, perElement, perElement, false},
		{"vestep-diagonal", func(rng *rand.Rand, p, d int) Model {
			return VEStepDiagonal(randNormal(rng, p, d, 0.3), randSPD(rng, p))
		}, perElement, perElement, false},
		{"vestep-spherical", func(rng *rand.Rand, p, d int) Model {
			return VEStepSpherical(randNormal(rng, p, d, 0.3), randSPD(rng, p))
		}, perRow, perElement, false},
	}
}

func (kc kernelCase) params(rng *rand.Rand, n, p, d, q int) Params {
	init := Params{
		Theta: randNormal(rng, p, d, 0.3),
		M:     randNormal(rng, n, kc.mCols(p, q), 0.4),
		S:     randUniform(rng, n, kc.sCols(p, q), 0.4, 0.9),
	}
	if kc.rank {
		init.B = randNormal(rng, p, q, 0.5)
	}
	return init
}

func evaluateAt(t *testing.T, pr *problem, x []float64) (float64, []float64) {
	t.Helper()
	grad := make([]float64, len(x))
	f, err := pr.evaluate(mat.NewVecDense(len(x), x), mat.NewVecDense(len(grad), grad))
	require.NoError(t, err)
	return f, grad
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	const n, p, d, q = 6, 3, 2, 2
	for _, kc := range allKernels() {
		t.Run(kc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(17))
			data := smallData(rng, n, p, d)
			m := kc.model(rng, p, d)
			pr, x, err := newProblem(m, data, kc.params(rng, n, p, d, q))
			require.NoError(t, err)

			f, grad := evaluateAt(t, pr, x)
			require.False(t, math.IsNaN(f) || math.IsInf(f, 0), "objective %v", f)

			for i := range x {
				h := 1e-6 * math.Max(1, math.Abs(x[i]))
				xp := append([]float64(nil), x...)
				xm := append([]float64(nil), x...)
				xp[i] += h
				xm[i] -= h
				fp, _ := evaluateAt(t, pr, xp)
				fm, _ := evaluateAt(t, pr, xm)
				fd := (fp - fm) / (2 * h)
				tol := 1e-4 * math.Max(1, math.Max(math.Abs(fd), math.Abs(grad[i])))
				assert.InDelta(t, fd, grad[i], tol, "element %d (%s)", i, blockOf(pr, i))
			}
		})
	}
}

func blockOf(pr *problem, i int) string {
	for _, b := range pr.layout {
		if i >= b.Offset() && i < b.Offset()+b.Len() {
			return b.String()
		}
	}
	return "?"
}

func removeRow(m *mat.Dense, k int) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r-1, c, nil)
	for i, dst := 0, 0; i < r; i++ {
		if i == k {
			continue
		}
		out.SetRow(dst, m.RawRowView(i))
		dst++
	}
	return out
}

func TestZeroWeightMatchesRowRemoval(t *testing.T) {
	const n, p, d, q = 7, 3, 2, 2
	for _, kc := range allKernels() {
		t.Run(kc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(29))
			data := smallData(rng, n, p, d)
			m := kc.model(rng, p, d)
			init := kc.params(rng, n, p, d, q)
			// The dropped row gets parameters that would overflow if they
			// were ever evaluated.
			init.M.Set(2, 0, 800)

			pr, x, err := newProblem(m, data, init)
			require.NoError(t, err)
			f, grad := evaluateAt(t, pr, x)

			reduced := &Data{
				Y: removeRow(data.Y, 2),
				X: removeRow(data.X, 2),
				O: removeRow(data.O, 2),
				W: append(append([]float64(nil), data.W[:2]...), data.W[3:]...),
			}
			rinit := Params{Theta: init.Theta, B: init.B, M: removeRow(init.M, 2), S: removeRow(init.S, 2)}
			rpr, rx, err := newProblem(m, reduced, rinit)
			require.NoError(t, err)
			rf, rgrad := evaluateAt(t, rpr, rx)

			require.False(t, math.IsNaN(f) || math.IsInf(f, 0), "objective %v", f)
			assert.InDelta(t, rf, f, 1e-10*math.Max(1, math.Abs(rf)))

			var gm, gs, rgm, rgs mat.Dense
			pr.pk.View(pr.pk.MustBlock(BlockM), grad, &gm)
			pr.pk.View(pr.pk.MustBlock(BlockS), grad, &gs)
			rpr.pk.View(rpr.pk.MustBlock(BlockM), rgrad, &rgm)
			rpr.pk.View(rpr.pk.MustBlock(BlockS), rgrad, &rgs)
			for _, v := range gm.RawRowView(2) {
				assert.Zero(t, v)
			}
			for _, v := range gs.RawRowView(2) {
				assert.Zero(t, v)
			}
			assert.True(t, mat.EqualApprox(removeRow(&gm, 2), &rgm, 1e-10))
			assert.True(t, mat.EqualApprox(removeRow(&gs, 2), &rgs, 1e-10))
			for _, name := range []string{BlockTheta, BlockB} {
				b, ok := pr.pk.Block(name)
				if !ok {
					continue
				}
				rb := rpr.pk.MustBlock(name)
				assert.InDeltaSlice(t, rpr.pk.Slice(rb, rgrad), pr.pk.Slice(b, grad), 1e-10, name)
			}
		})
	}
}

func TestNonPositiveDefiniteIsFatal(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := smallData(rng, 5, 2, 1)
	init := Params{
		Theta: mat.NewDense(2, 1, nil),
		M:     mat.NewDense(5, 2, nil),
		S:     mat.NewDense(5, 2, nil),
	}
	pr, x, err := newProblem(Full(), data, init)
	require.NoError(t, err)
	grad := make([]float64, len(x))
	_, err = pr.evaluate(mat.NewVecDense(len(x), x), mat.NewVecDense(len(grad), grad))
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}
