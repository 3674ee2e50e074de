package pln

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-poisson-lognormal/optim"
	"github.com/n0madic/go-poisson-lognormal/packer"
)

// Variant names a model.
type Variant string

const (
	VariantFull            Variant = "full"
	VariantSpherical       Variant = "spherical"
	VariantDiagonal        Variant = "diagonal"
	VariantRank            Variant = "rank"
	VariantSparse          Variant = "sparse"
	VariantVEStepFull      Variant = "vestep-full"
	VariantVEStepDiagonal  Variant = "vestep-diagonal"
	VariantVEStepSpherical Variant = "vestep-spherical"
)

var covarianceVariants = []Variant{VariantFull, VariantSpherical, VariantDiagonal, VariantRank, VariantSparse}

// ParseVariant resolves the name of a covariance model.
func ParseVariant(name string) (Variant, error) {
	for _, v := range covarianceVariants {
		if strings.EqualFold(name, string(v)) {
			return v, nil
		}
	}
	names := make([]string, len(covarianceVariants))
	for i, v := range covarianceVariants {
		names[i] = string(v)
	}
	return "", fmt.Errorf("%w: %q; supported: %s", ErrVariant, name, strings.Join(names, " "))
}

// NewModel builds the covariance model named by v. omega is only used, and
// then required, by the sparse model.
func NewModel(v Variant, omega mat.Symmetric) (Model, error) {
	switch v {
	case VariantFull:
		return Full(), nil
	case VariantSpherical:
		return Spherical(), nil
	case VariantDiagonal:
		return Diagonal(), nil
	case VariantRank:
		return Rank(), nil
	case VariantSparse:
		if omega == nil {
			return nil, fmt.Errorf("%w: the sparse model needs a fixed precision matrix", ErrShape)
		}
		return Sparse(omega), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrVariant, v)
	}
}

// Model is one variational objective. The set of models is closed; use the
// constructors of this package.
type Model interface {
	Variant() Variant

	// blocks checks the starting values against the data and lists the
	// free blocks in packing order.
	blocks(pr *problem, init Params) ([]paramBlock, error)
	// exponent fills pr.z with the linear predictor and pr.a with the
	// predictor plus the variance term.
	exponent(pr *problem)
	// objective evaluates the negative ELBO at the bound parameters and
	// writes its gradient into the bound gradient views.
	objective(pr *problem) (float64, error)
	// derive fills the covariance, precision and the model part of the
	// log-likelihood of res.
	derive(pr *problem, res *Result) error
}

// Option configures Fit.
type Option func(*fitOptions)

type fitOptions struct {
	logger  zerolog.Logger
	metrics *optim.Metrics
}

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *fitOptions) {
		o.logger = l
	}
}

// WithMetrics records optimizer metrics for every fit.
func WithMetrics(m *optim.Metrics) Option {
	return func(o *fitOptions) {
		o.metrics = m
	}
}

// problem binds a model to a data set and owns every buffer of one fit.
type problem struct {
	model Model
	data  *Data
	n     int
	p     int
	d     int
	wsum  float64

	pk     *packer.Packer
	layout []packer.Block
	theta  *packer.Block
	b      *packer.Block
	m      *packer.Block
	s      *packer.Block

	// fixedTheta replaces the Theta view for VE steps.
	fixedTheta *mat.Dense
	// fixedOmega is the supplied precision of the sparse model and the
	// full VE step, with its log-determinant.
	fixedOmega  *mat.SymDense
	fixedLogDet float64

	Theta, B, M, S     mat.Dense
	gTheta, gB, gM, gS mat.Dense

	z, a  *mat.Dense
	chol  mat.Cholesky
	sigma *mat.SymDense
	prec  *mat.SymDense
	work  []float64
	vars  []float64
	inv   []float64
}

func newProblem(m Model, data *Data, init Params) (*problem, []float64, error) {
	if err := data.Validate(); err != nil {
		return nil, nil, err
	}
	n, p, d := data.Dims()
	pr := &problem{
		model: m,
		data:  data,
		n:     n,
		p:     p,
		d:     d,
		wsum:  floats.Sum(data.W),
		z:     mat.NewDense(n, p, nil),
		a:     mat.NewDense(n, p, nil),
		work:  make([]float64, p),
		vars:  make([]float64, p),
		inv:   make([]float64, p),
	}
	blocks, err := m.blocks(pr, init)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]packer.Entry, len(blocks))
	for i, b := range blocks {
		entries[i] = packer.Matrix(b.name, b.value)
	}
	pr.pk, err = packer.New(entries...)
	if err != nil {
		return nil, nil, err
	}
	pr.layout = pr.pk.Blocks()
	for i := range pr.layout {
		b := &pr.layout[i]
		switch b.Name() {
		case BlockTheta:
			pr.theta = b
		case BlockB:
			pr.b = b
		case BlockM:
			pr.m = b
		case BlockS:
			pr.s = b
		}
	}
	x := pr.pk.NewArena()
	for i, b := range blocks {
		pr.pk.Pack(pr.layout[i], x, b.value)
	}
	return pr, x, nil
}

// bind points the parameter views at x and the gradient views at grad,
// which is cleared.
func (pr *problem) bind(x, grad []float64) {
	for i := range grad {
		grad[i] = 0
	}
	if pr.theta != nil {
		pr.pk.View(*pr.theta, x, &pr.Theta)
		pr.pk.View(*pr.theta, grad, &pr.gTheta)
	}
	if pr.b != nil {
		pr.pk.View(*pr.b, x, &pr.B)
		pr.pk.View(*pr.b, grad, &pr.gB)
	}
	pr.pk.View(*pr.m, x, &pr.M)
	pr.pk.View(*pr.m, grad, &pr.gM)
	pr.pk.View(*pr.s, x, &pr.S)
	pr.pk.View(*pr.s, grad, &pr.gS)
}

// evaluate is the optim.Objective of the fit.
func (pr *problem) evaluate(x, grad *mat.VecDense) (float64, error) {
	pr.bind(x.RawVector().Data, grad.RawVector().Data)
	return pr.model.objective(pr)
}

// predictor sets z = O + XΘᵀ.
func (pr *problem) predictor() {
	theta := pr.fixedTheta
	if theta == nil {
		theta = &pr.Theta
	}
	pr.z.Mul(pr.data.X, theta.T())
	pr.z.Add(pr.z, pr.data.O)
}

// elementVariance sets a = z + ½S2 for an n×p S.
func (pr *problem) elementVariance() {
	for i := 0; i < pr.n; i++ {
		arow, zrow, srow := pr.a.RawRowView(i), pr.z.RawRowView(i), pr.S.RawRowView(i)
		for j, s := range srow {
			arow[j] = zrow[j] + 0.5*s*s
		}
	}
}

// rowVariance sets a = z + ½S2 for an n×1 S.
func (pr *problem) rowVariance() {
	for i := 0; i < pr.n; i++ {
		arow, zrow := pr.a.RawRowView(i), pr.z.RawRowView(i)
		s := pr.S.At(i, 0)
		for j := range arow {
			arow[j] = zrow[j] + 0.5*s*s
		}
	}
}

// poisson exponentiates a into the fitted means on weighted rows and returns
// Σ_i w_i Σ_j (A − Y∘Z). The Θ gradient (A − Y)ᵀdiag(w)X is accumulated
// when Θ is free.
func (pr *problem) poisson() float64 {
	var f float64
	for i, w := range pr.data.W {
		if w == 0 {
			continue
		}
		arow, zrow, yrow := pr.a.RawRowView(i), pr.z.RawRowView(i), pr.data.Y.RawRowView(i)
		var fi float64
		for j := range arow {
			arow[j] = math.Exp(arow[j])
			fi += arow[j] - yrow[j]*zrow[j]
		}
		f += w * fi
		if pr.theta == nil {
			continue
		}
		xrow := pr.data.X.RawRowView(i)
		for j := range arow {
			floats.AddScaled(pr.gTheta.RawRowView(j), w*(arow[j]-yrow[j]), xrow)
		}
	}
	return f
}

// precisionRows handles the latent part of the models with a p×p precision:
// it returns −½Σ w log S2, plus ½ tr(Ω nΣ) when trace is set, and writes
// ∇M = w(MΩ + A − Y) and ∇S = w(S∘diag(Ω) + S∘A − 1/S).
func (pr *problem) precisionRows(omega *mat.SymDense, trace bool) float64 {
	var f float64
	mo := pr.work
	raw := omega.RawSymmetric()
	for i, w := range pr.data.W {
		if w == 0 {
			continue
		}
		mrow, srow := pr.M.RawRowView(i), pr.S.RawRowView(i)
		arow, yrow := pr.a.RawRowView(i), pr.data.Y.RawRowView(i)
		gm, gs := pr.gM.RawRowView(i), pr.gS.RawRowView(i)
		var quad, logS2 float64
		for j := range mo {
			var v float64
			for k, m := range mrow {
				v += m * omega.At(k, j)
			}
			mo[j] = v
		}
		for j, s := range srow {
			ojj := raw.Data[j*raw.Stride+j]
			s2 := s * s
			logS2 += math.Log(s2)
			quad += mrow[j]*mo[j] + s2*ojj
			gm[j] = w * (mo[j] + arow[j] - yrow[j])
			gs[j] = w * (s*ojj + s*arow[j] - 1/s)
		}
		f -= 0.5 * w * logS2
		if trace {
			f += 0.5 * w * quad
		}
	}
	return f
}

// diagonalRows is precisionRows for a diagonal precision ω.
func (pr *problem) diagonalRows(omega []float64, trace bool) float64 {
	var f float64
	for i, w := range pr.data.W {
		if w == 0 {
			continue
		}
		mrow, srow := pr.M.RawRowView(i), pr.S.RawRowView(i)
		arow, yrow := pr.a.RawRowView(i), pr.data.Y.RawRowView(i)
		gm, gs := pr.gM.RawRowView(i), pr.gS.RawRowView(i)
		var quad, logS2 float64
		for j, s := range srow {
			s2 := s * s
			logS2 += math.Log(s2)
			quad += (mrow[j]*mrow[j] + s2) * omega[j]
			gm[j] = w * (mrow[j]*omega[j] + arow[j] - yrow[j])
			gs[j] = w * (s*omega[j] + s*arow[j] - 1/s)
		}
		f -= 0.5 * w * logS2
		if trace {
			f += 0.5 * w * quad
		}
	}
	return f
}

// sphericalRows is precisionRows for ωI with one variational variance per
// row: it returns −½pΣ w log S2, plus ½ωΣ w(‖M‖² + pS2) when trace is set.
func (pr *problem) sphericalRows(omega float64, trace bool) float64 {
	var f float64
	p := float64(pr.p)
	for i, w := range pr.data.W {
		if w == 0 {
			continue
		}
		mrow := pr.M.RawRowView(i)
		arow, yrow := pr.a.RawRowView(i), pr.data.Y.RawRowView(i)
		gm := pr.gM.RawRowView(i)
		s := pr.S.At(i, 0)
		s2 := s * s
		var sumA float64
		for j, m := range mrow {
			sumA += arow[j]
			gm[j] = w * (omega*m + arow[j] - yrow[j])
		}
		pr.gS.Set(i, 0, w*(s*sumA-p/s+omega*p*s))
		f -= 0.5 * w * p * math.Log(s2)
		if trace {
			f += 0.5 * w * omega * (floats.Dot(mrow, mrow) + p*s2)
		}
	}
	return f
}

// diagonalVariance returns σ²_j = Σ_i w_i(M²_ij + S2_ij)/w̄.
func (pr *problem) diagonalVariance(dst []float64) {
	for j := range dst {
		dst[j] = 0
	}
	for i, w := range pr.data.W {
		if w == 0 {
			continue
		}
		mrow, srow := pr.M.RawRowView(i), pr.S.RawRowView(i)
		for j := range dst {
			dst[j] += w * (mrow[j]*mrow[j] + srow[j]*srow[j])
		}
	}
	floats.Scale(1/pr.wsum, dst)
}

// sphericalVariance returns σ² = (Σ w‖M‖² + pΣ wS2)/(p w̄).
func (pr *problem) sphericalVariance() float64 {
	var v float64
	p := float64(pr.p)
	for i, w := range pr.data.W {
		if w == 0 {
			continue
		}
		mrow := pr.M.RawRowView(i)
		s := pr.S.At(i, 0)
		v += w * (floats.Dot(mrow, mrow) + p*s*s)
	}
	return v / (p * pr.wsum)
}

// Fit minimizes the model's objective from init and derives the fitted
// quantities. Data and shape problems are returned before any evaluation.
// A run that stops without converging still yields a Result, tagged by its
// status; only a fatal numerical failure returns an error.
func Fit(m Model, data *Data, init Params, settings optim.Settings, opts ...Option) (*Result, error) {
	o := fitOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.With().Str("variant", string(m.Variant())).Logger()

	pr, x, err := newProblem(m, data, init)
	if err != nil {
		return nil, err
	}
	cfg, err := settings.Resolve(pr.pk)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Int("n", pr.n).Int("p", pr.p).Int("d", pr.d).
		Int("parameters", pr.pk.Size()).
		Msg("starting fit")

	run, err := optim.Minimize(x, cfg, pr.evaluate,
		optim.WithLogger(o.logger),
		optim.WithMetrics(o.metrics),
		optim.WithLabel(string(m.Variant())),
	)
	if err != nil {
		return nil, err
	}
	res, err := pr.derive(x)
	if err != nil {
		return nil, err
	}
	res.Status = run.Status
	res.Iterations = run.Iterations
	res.Objective = run.Objective
	log.Info().
		Str("status", run.Status.String()).
		Int("iterations", run.Iterations).
		Float64("loglik", res.TotalLogLik()).
		Msg("fit finished")
	return res, nil
}

// derive computes every post-solve quantity at x.
func (pr *problem) derive(x []float64) (*Result, error) {
	pr.bind(x, make([]float64, len(x)))
	pr.model.exponent(pr)
	res := &Result{
		Variant: pr.model.Variant(),
		Weights: append([]float64(nil), pr.data.W...),
		Z:       mat.DenseCopyOf(pr.z),
		A:       mat.NewDense(pr.n, pr.p, nil),
		LogLik:  make([]float64, pr.n),
	}
	res.A.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, pr.a)
	if pr.theta != nil {
		res.Params.Theta = pr.pk.Unpack(*pr.theta, x)
	} else {
		res.Params.Theta = mat.DenseCopyOf(pr.fixedTheta)
	}
	if pr.b != nil {
		res.Params.B = pr.pk.Unpack(*pr.b, x)
	}
	res.Params.M = pr.pk.Unpack(*pr.m, x)
	res.Params.S = pr.pk.Unpack(*pr.s, x)
	for i := range res.LogLik {
		yrow := pr.data.Y.RawRowView(i)
		ll := rowConstant(yrow)
		for j, y := range yrow {
			ll += y*res.Z.At(i, j) - res.A.At(i, j)
		}
		res.LogLik[i] = ll
	}
	if err := pr.model.derive(pr, res); err != nil {
		return nil, err
	}
	return res, nil
}
