package optim

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Objective evaluates the function at x and writes the gradient into grad.
// Both vectors view optimizer-owned memory; x must not be modified and
// neither may be retained after the call. A returned error aborts the run.
type Objective func(x, grad *mat.VecDense) (float64, error)

// Result describes a finished run.
type Result struct {
	Status    optimize.Status
	Objective float64
	// Iterations counts objective invocations.
	Iterations int
	// Evaluations counts function evaluations requested by the method.
	Evaluations int
	// MajorIterations counts accepted optimizer steps.
	MajorIterations int
	Runtime         time.Duration
}

// Converged reports whether the run stopped on a convergence criterion
// rather than a cap or a failure.
func (r Result) Converged() bool {
	return r.Status != optimize.NotTerminated && !r.Status.Early()
}

// Option configures Minimize.
type Option func(*runOptions)

type runOptions struct {
	logger  zerolog.Logger
	metrics *Metrics
	label   string
}

// WithLogger installs a structured logger. Major iterations are traced at
// trace level; non-converged runs are reported at warn level.
func WithLogger(l zerolog.Logger) Option {
	return func(o *runOptions) {
		o.logger = l
	}
}

// WithMetrics records per-run Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *runOptions) {
		o.metrics = m
	}
}

// WithLabel tags log lines with the caller's model name.
func WithLabel(label string) Option {
	return func(o *runOptions) {
		o.label = label
	}
}

// evaluator adapts gonum's split Func/Grad callbacks to a single Objective
// call per point.
type evaluator struct {
	fn    Objective
	calls int
	err   error

	lastX    []float64
	lastF    float64
	lastGrad []float64
	valid    bool

	xView    mat.VecDense
	gradView mat.VecDense
}

func newEvaluator(fn Objective, dim int) *evaluator {
	return &evaluator{
		fn:       fn,
		lastX:    make([]float64, dim),
		lastGrad: make([]float64, dim),
	}
}

// eval runs the objective at x, writing the gradient into grad.
func (e *evaluator) eval(x, grad []float64) float64 {
	e.calls++
	e.xView.SetRawVector(rawVector(x))
	e.gradView.SetRawVector(rawVector(grad))
	f, err := e.fn(&e.xView, &e.gradView)
	if err != nil {
		if e.err == nil {
			e.err = err
		}
		e.valid = false
		return math.NaN()
	}
	copy(e.lastX, x)
	e.lastF = f
	if &grad[0] != &e.lastGrad[0] {
		copy(e.lastGrad, grad)
	}
	e.valid = true
	return f
}

func rawVector(s []float64) blas64.Vector {
	return blas64.Vector{N: len(s), Inc: 1, Data: s}
}

func (e *evaluator) cached(x []float64) bool {
	return e.valid && floats.Equal(e.lastX, x)
}

func (e *evaluator) problem() optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			if e.cached(x) {
				return e.lastF
			}
			return e.eval(x, e.lastGrad)
		},
		Grad: func(grad, x []float64) {
			if !e.cached(x) {
				e.eval(x, grad)
				return
			}
			copy(grad, e.lastGrad)
		},
		Status: func() (optimize.Status, error) {
			if e.err != nil {
				return optimize.Failure, e.err
			}
			return optimize.NotTerminated, nil
		},
	}
}

// Minimize searches for a local minimum of fn starting at x. x is
// overwritten with the final iterate whatever the outcome.
//
// Configuration problems return an error wrapping ErrConfig before fn is
// ever called. Failing to converge is not an error: the returned Result
// carries the status. An error returned by fn is fatal and comes back
// wrapped in ErrObjective.
func Minimize(x []float64, cfg Config, fn Objective, opts ...Option) (Result, error) {
	o := runOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.With().Str("algorithm", cfg.Algorithm.String()).Logger()
	if o.label != "" {
		log = log.With().Str("model", o.label).Logger()
	}

	if err := cfg.validate(len(x)); err != nil {
		log.Error().Err(err).Msg("rejected optimizer configuration")
		return Result{}, err
	}
	method, err := cfg.Algorithm.method()
	if err != nil {
		return Result{}, err
	}

	ev := newEvaluator(fn, len(x))
	settings := &optimize.Settings{
		Converger:  newToleranceConverger(cfg),
		Concurrent: 1,
		Recorder:   newTraceRecorder(log),
	}
	if cfg.MaxEval > 0 {
		settings.FuncEvaluations = cfg.MaxEval
		settings.GradEvaluations = cfg.MaxEval
	}
	if cfg.MaxTime > 0 {
		settings.Runtime = cfg.MaxTime
	}

	start := time.Now()
	res, err := optimize.Minimize(ev.problem(), x, settings, method)
	if res == nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if res.MajorIterations > 0 {
		copy(x, res.X)
	}

	out := Result{
		Status:          res.Status,
		Objective:       res.F,
		Iterations:      ev.calls,
		Evaluations:     res.FuncEvaluations,
		MajorIterations: res.MajorIterations,
		Runtime:         time.Since(start),
	}
	o.metrics.observe(cfg.Algorithm, out)

	if ev.err != nil {
		log.Error().Err(ev.err).Int("iterations", out.Iterations).Msg("objective failed")
		return out, fmt.Errorf("%w: %w", ErrObjective, ev.err)
	}
	done := log.Debug()
	if !out.Converged() {
		done = log.Warn()
		if err != nil {
			done = done.AnErr("reason", err)
		}
	}
	done.Str("status", out.Status.String()).
		Int("iterations", out.Iterations).
		Int("major_iterations", out.MajorIterations).
		Float64("objective", out.Objective).
		Dur("runtime", out.Runtime).
		Msg("optimization finished")
	return out, nil
}
