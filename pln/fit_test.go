package pln

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	randv2 "math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-poisson-lognormal/optim"
)

// simulate draws counts from a Poisson-lognormal model with intercepts mu
// and latent covariance chol·cholᵀ.
func simulate(seed uint64, n int, mu []float64, chol *mat.Dense) *mat.Dense {
	src := randv2.NewPCG(seed, seed+1)
	rng := randv2.New(src)
	p := len(mu)
	y := mat.NewDense(n, p, nil)
	eps := make([]float64, p)
	for i := 0; i < n; i++ {
		for k := range eps {
			eps[k] = rng.NormFloat64()
		}
		for j := 0; j < p; j++ {
			z := mu[j]
			for k := 0; k < p; k++ {
				z += chol.At(j, k) * eps[k]
			}
			y.Set(i, j, distuv.Poisson{Lambda: math.Exp(z), Src: src}.Rand())
		}
	}
	return y
}

func fitOrFail(t *testing.T, m Model, data *Data, init Params) *Result {
	t.Helper()
	res, err := Fit(m, data, init, optim.DefaultSettings())
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func assertPositiveS2(t *testing.T, res *Result) {
	t.Helper()
	r, c := res.Params.S.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s := res.Params.S.At(i, j)
			assert.True(t, s*s > 0 && !math.IsInf(s, 0), "S[%d,%d] = %v", i, j, s)
		}
	}
}

func TestFitSphericalOverdispersed(t *testing.T) {
	sigma2 := 0.5
	mu := math.Log(5) - sigma2/2
	y := simulate(1, 50, []float64{mu}, mat.NewDense(1, 1, []float64{math.Sqrt(sigma2)}))
	data, err := NewData(y, nil, nil, nil)
	require.NoError(t, err)

	init, err := Initialize(data, VariantSpherical, 0)
	require.NoError(t, err)
	res := fitOrFail(t, Spherical(), data, init)

	assert.True(t, res.Converged(), "status %v", res.Status)
	assertPositiveS2(t, res)

	logs := make([]float64, 50)
	for i := range logs {
		logs[i] = math.Log(y.At(i, 0) + 0.5)
	}
	ratio := res.Sigma.At(0, 0) / stat.Variance(logs, nil)
	assert.GreaterOrEqual(t, ratio, 0.25)
	assert.LessOrEqual(t, ratio, 1.5)
	// With an intercept the fitted means reproduce the total count.
	assert.InDelta(t, mat.Sum(y), mat.Sum(res.A), 1e-2*mat.Sum(y))
	assert.InDelta(t, 1/res.Sigma.At(0, 0), res.Omega.At(0, 0), 1e-12)
}

func correlatedData(t *testing.T) *Data {
	t.Helper()
	chol := mat.NewDense(3, 3, []float64{
		0.7, 0, 0,
		0.4, 0.5, 0,
		-0.3, 0.2, 0.6,
	})
	y := simulate(7, 200, []float64{2, 1.5, 1}, chol)
	data, err := NewData(y, nil, nil, nil)
	require.NoError(t, err)
	return data
}

func TestFitRankFullAgree(t *testing.T) {
	data := correlatedData(t)

	init, err := Initialize(data, VariantFull, 0)
	require.NoError(t, err)
	full := fitOrFail(t, Full(), data, init)

	rinit, err := Initialize(data, VariantRank, 3)
	require.NoError(t, err)
	rk := fitOrFail(t, Rank(), data, rinit)
	assert.Nil(t, rk.Omega)
	assertPositiveS2(t, rk)

	var diff mat.Dense
	diff.Sub(full.Sigma, rk.Sigma)
	rel := mat.Norm(&diff, 2) / mat.Norm(full.Sigma, 2)
	assert.Less(t, rel, 0.3, "full Sigma %v\nrank Sigma %v", mat.Formatted(full.Sigma), mat.Formatted(rk.Sigma))
}

func TestFitDiagonalBelowFull(t *testing.T) {
	data := correlatedData(t)

	init, err := Initialize(data, VariantDiagonal, 0)
	require.NoError(t, err)
	diag := fitOrFail(t, Diagonal(), data, init)
	assertPositiveS2(t, diag)

	full := fitOrFail(t, Full(), data, diag.Params.Clone())
	assertPositiveS2(t, full)

	ld, lf := diag.TotalLogLik(), full.TotalLogLik()
	assert.GreaterOrEqual(t, lf, ld-1e-8*math.Abs(ld))

	// Omega and Sigma are inverses.
	var prod mat.Dense
	prod.Mul(full.Sigma, full.Omega)
	assert.True(t, mat.EqualApprox(&prod, scaledIdentity(3, 1), 1e-8))
}

func TestFitLogLikTracksObjective(t *testing.T) {
	data := correlatedData(t)
	n, p, _ := data.Dims()
	init, err := Initialize(data, VariantFull, 0)
	require.NoError(t, err)

	var constant float64
	for i := 0; i < n; i++ {
		constant += data.W[i] * rowConstant(data.Y.RawRowView(i))
	}
	for _, m := range []Model{Full(), Diagonal()} {
		res := fitOrFail(t, m, data, init.Clone())
		want := -res.Objective + constant - 0.5*float64(n*p)
		assert.InDelta(t, want, res.TotalLogLik(), 1e-6*math.Abs(want), m.Variant())
	}
}

func TestFitVESteps(t *testing.T) {
	data := correlatedData(t)
	init, err := Initialize(data, VariantFull, 0)
	require.NoError(t, err)
	full := fitOrFail(t, Full(), data, init)

	n, p, _ := data.Dims()
	tests := []struct {
		model Model
		sCols int
	}{
		{VEStepFull(full.Params.Theta, full.Omega), p},
		{VEStepDiagonal(full.Params.Theta, full.Omega), p},
		{VEStepSpherical(full.Params.Theta, full.Omega), 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.model.Variant()), func(t *testing.T) {
			start := Params{M: mat.NewDense(n, p, nil), S: filled(n, tt.sCols, 0.5)}
			res := fitOrFail(t, tt.model, data, start)
			assert.True(t, res.Converged(), "status %v", res.Status)
			assertPositiveS2(t, res)
			assert.True(t, mat.Equal(full.Params.Theta, res.Params.Theta))
			assert.NotNil(t, res.Omega)
			assert.False(t, math.IsNaN(res.TotalLogLik()))
		})
	}

	// The full VE step from the full fit's own M and S stays there.
	res := fitOrFail(t, VEStepFull(full.Params.Theta, full.Omega), data, Params{M: full.Params.M, S: full.Params.S})
	assert.InDelta(t, full.TotalLogLik(), res.TotalLogLik(), 1e-3*math.Abs(full.TotalLogLik()))
}

func TestFitVEStepSphericalReadsLeadingPrecision(t *testing.T) {
	data := correlatedData(t)
	n, _, d := data.Dims()
	theta := mat.NewDense(3, d, []float64{2, 1.5, 1})
	start := Params{M: mat.NewDense(n, 3, nil), S: filled(n, 1, 0.5)}

	omega := mat.NewSymDense(3, []float64{
		2, 0, 0,
		0, -1, 0,
		0, 0, 0,
	})
	res := fitOrFail(t, VEStepSpherical(theta, omega), data, start.Clone())
	assertPositiveS2(t, res)
	assert.Equal(t, 2.0, res.Omega.At(1, 1))
	assert.Equal(t, 2.0, res.Omega.At(2, 2))

	omega.SetSym(0, 0, 0)
	_, err := Fit(VEStepSpherical(theta, omega), data, start.Clone(), optim.DefaultSettings())
	assert.True(t, errors.Is(err, ErrNotPositiveDefinite), "got %v", err)

	_, err = Fit(VEStepSpherical(theta, scaledIdentity(2, 1)), data, start.Clone(), optim.DefaultSettings())
	assert.True(t, errors.Is(err, ErrShape), "got %v", err)
}

func TestFitSparse(t *testing.T) {
	data := correlatedData(t)
	init, err := Initialize(data, VariantSparse, 0)
	require.NoError(t, err)
	omega := scaledIdentity(3, 2)
	res := fitOrFail(t, Sparse(omega), data, init)
	assert.True(t, res.Converged(), "status %v", res.Status)
	assert.True(t, mat.Equal(omega, res.Omega))
	assertPositiveS2(t, res)
}

func TestFitWeightsZeroRow(t *testing.T) {
	data := correlatedData(t)
	data.W[0] = 0
	init, err := Initialize(data, VariantDiagonal, 0)
	require.NoError(t, err)
	res := fitOrFail(t, Diagonal(), data, init)
	// The unweighted row keeps its starting values.
	assert.Equal(t, init.M.RawRowView(0), res.Params.M.RawRowView(0))
	assert.Equal(t, init.S.RawRowView(0), res.Params.S.RawRowView(0))
}

func TestFitErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	data := smallData(rng, 6, 3, 2)
	good := Params{
		Theta: mat.NewDense(3, 2, nil),
		M:     mat.NewDense(6, 3, nil),
		S:     filled(6, 3, 0.5),
	}
	notPD := mat.NewSymDense(3, []float64{1, 2, 0, 2, 1, 0, 0, 0, 1})

	badData := *data
	badData.W = []float64{1, -1, 1, 1, 1, 1}

	badSettings := optim.DefaultSettings()
	badSettings.XTolAbs = map[string]any{"Lambda": 1.0}

	tests := []struct {
		name     string
		model    Model
		data     *Data
		init     Params
		settings optim.Settings
		want     error
	}{
		{"bad M", Full(), data, Params{Theta: good.Theta, M: mat.NewDense(5, 3, nil), S: good.S}, optim.DefaultSettings(), ErrShape},
		{"missing S", Diagonal(), data, Params{Theta: good.Theta, M: good.M}, optim.DefaultSettings(), ErrShape},
		{"spherical S", Spherical(), data, good, optim.DefaultSettings(), ErrShape},
		{"rank without B", Rank(), data, good, optim.DefaultSettings(), ErrShape},
		{"sparse omega", Sparse(notPD), data, good, optim.DefaultSettings(), ErrNotPositiveDefinite},
		{"sparse omega size", Sparse(scaledIdentity(2, 1)), data, good, optim.DefaultSettings(), ErrShape},
		{"ve theta", VEStepFull(mat.NewDense(2, 2, nil), scaledIdentity(3, 1)), data, good, optim.DefaultSettings(), ErrShape},
		{"ve omega", VEStepDiagonal(good.Theta, mat.NewSymDense(3, nil)), data, good, optim.DefaultSettings(), ErrNotPositiveDefinite},
		{"weights", Full(), &badData, good, optim.DefaultSettings(), ErrData},
		{"xtol block", Full(), data, good, badSettings, optim.ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Fit(tt.model, tt.data, tt.init, tt.settings)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestFitPerBlockTolerance(t *testing.T) {
	data := correlatedData(t)
	init, err := Initialize(data, VariantDiagonal, 0)
	require.NoError(t, err)
	s := optim.DefaultSettings()
	s.XTolAbs = map[string]any{BlockTheta: []any{[]any{1e-6}, []any{1e-6}, []any{1e-6}}}
	s.MaxEval = 50
	res, err := Fit(Diagonal(), data, init, s)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Iterations, 50)
	assert.NotNil(t, res.Sigma)
}

func TestFitEvaluationCapKeepsVariancesPositive(t *testing.T) {
	data := correlatedData(t)
	init, err := Initialize(data, VariantFull, 0)
	require.NoError(t, err)
	s := optim.DefaultSettings()
	s.MaxEval = 5
	res, err := Fit(Full(), data, init, s)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Converged(), "status %v", res.Status)
	assert.LessOrEqual(t, res.Iterations, 5)
	assertPositiveS2(t, res)
	require.NotNil(t, res.Sigma)
	assert.False(t, math.IsNaN(res.TotalLogLik()))
}

func TestSaveLoadResult(t *testing.T) {
	data := correlatedData(t)
	init, err := Initialize(data, VariantRank, 2)
	require.NoError(t, err)
	s := optim.DefaultSettings()
	s.MaxEval = 30
	res, err := Fit(Rank(), data, init, s)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.Save(&buf))
	loaded, err := LoadResult(&buf)
	require.NoError(t, err)

	assert.Equal(t, res.Variant, loaded.Variant)
	assert.Equal(t, res.Status, loaded.Status)
	assert.Equal(t, res.Iterations, loaded.Iterations)
	assert.Equal(t, res.Objective, loaded.Objective)
	assert.True(t, mat.Equal(res.Params.B, loaded.Params.B))
	assert.True(t, mat.Equal(res.Params.M, loaded.Params.M))
	assert.True(t, mat.Equal(res.A, loaded.A))
	assert.True(t, mat.Equal(res.Sigma, loaded.Sigma))
	assert.Nil(t, loaded.Omega)
	assert.Equal(t, res.TotalLogLik(), loaded.TotalLogLik())

	_, err = LoadResult(bytes.NewReader([]byte("not gob")))
	assert.Error(t, err)
}
