package pln

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Result holds a finished fit. Derived quantities are filled whatever the
// termination status.
type Result struct {
	Variant Variant
	Status  optimize.Status
	// Iterations counts objective evaluations.
	Iterations int
	// Objective is the negative ELBO at the reported parameters.
	Objective float64

	Params Params
	// Z is the linear predictor and A the fitted Poisson mean
	// exp(Z + ½ variance).
	Z, A *mat.Dense
	// Sigma is the fitted covariance of the latent layer and Omega its
	// precision; Omega is nil for the rank model.
	Sigma *mat.SymDense
	Omega *mat.SymDense
	// LogLik is the variational log-likelihood of each observation.
	LogLik  []float64
	Weights []float64
}

// Converged reports whether the optimizer stopped on a convergence
// criterion.
func (r *Result) Converged() bool {
	return r.Status != optimize.NotTerminated && !r.Status.Early()
}

// TotalLogLik is the weighted sum of the per-observation log-likelihoods.
// Rows with zero weight are left out.
func (r *Result) TotalLogLik() float64 {
	var total float64
	for i, ll := range r.LogLik {
		if w := r.Weights[i]; w != 0 {
			total += w * ll
		}
	}
	return total
}

type denseState struct {
	Rows, Cols int
	Data       []float64
}

func packDense(m *mat.Dense) *denseState {
	if m == nil || m.IsEmpty() {
		return nil
	}
	d := mat.DenseCopyOf(m)
	r, c := d.Dims()
	return &denseState{Rows: r, Cols: c, Data: d.RawMatrix().Data}
}

func packSym(m *mat.SymDense) *denseState {
	if m == nil || m.IsEmpty() {
		return nil
	}
	return packDense(mat.DenseCopyOf(m))
}

func (s *denseState) dense() (*mat.Dense, error) {
	if s == nil {
		return nil, nil
	}
	if s.Rows <= 0 || s.Cols <= 0 || len(s.Data) != s.Rows*s.Cols {
		return nil, errors.New("pln: invalid matrix data length")
	}
	return mat.NewDense(s.Rows, s.Cols, s.Data), nil
}

func (s *denseState) sym() (*mat.SymDense, error) {
	d, err := s.dense()
	if err != nil || d == nil {
		return nil, err
	}
	if s.Rows != s.Cols {
		return nil, errors.New("pln: non-square symmetric matrix")
	}
	return denseToSym(d), nil
}

// resultState is the serializable form of a Result.
type resultState struct {
	Version    int
	Variant    string
	Status     int
	Iterations int
	Objective  float64
	Theta      *denseState
	B          *denseState
	M          *denseState
	S          *denseState
	Z          *denseState
	A          *denseState
	Sigma      *denseState
	Omega      *denseState
	LogLik     []float64
	Weights    []float64
}

// Save serializes the result to gob format.
func (r *Result) Save(w io.Writer) error {
	state := resultState{
		Version:    1,
		Variant:    string(r.Variant),
		Status:     int(r.Status),
		Iterations: r.Iterations,
		Objective:  r.Objective,
		Theta:      packDense(r.Params.Theta),
		B:          packDense(r.Params.B),
		M:          packDense(r.Params.M),
		S:          packDense(r.Params.S),
		Z:          packDense(r.Z),
		A:          packDense(r.A),
		Sigma:      packSym(r.Sigma),
		Omega:      packSym(r.Omega),
		LogLik:     r.LogLik,
		Weights:    r.Weights,
	}
	return gob.NewEncoder(w).Encode(state)
}

// LoadResult deserializes a result written by Save.
func LoadResult(rd io.Reader) (*Result, error) {
	var state resultState
	if err := gob.NewDecoder(rd).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != 1 {
		return nil, errors.New("pln: unsupported gob version")
	}
	if len(state.LogLik) != len(state.Weights) {
		return nil, errors.New("pln: invalid log-likelihood data length")
	}
	r := &Result{
		Variant:    Variant(state.Variant),
		Status:     optimize.Status(state.Status),
		Iterations: state.Iterations,
		Objective:  state.Objective,
		LogLik:     state.LogLik,
		Weights:    state.Weights,
	}
	var err error
	for _, f := range []struct {
		dst **mat.Dense
		src *denseState
	}{
		{&r.Params.Theta, state.Theta},
		{&r.Params.B, state.B},
		{&r.Params.M, state.M},
		{&r.Params.S, state.S},
		{&r.Z, state.Z},
		{&r.A, state.A},
	} {
		if *f.dst, err = f.src.dense(); err != nil {
			return nil, err
		}
	}
	if r.Sigma, err = state.Sigma.sym(); err != nil {
		return nil, err
	}
	if r.Omega, err = state.Omega.sym(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Result) String() string {
	return fmt.Sprintf("%s fit: status=%v iterations=%d objective=%g loglik=%g",
		r.Variant, r.Status, r.Iterations, r.Objective, r.TotalLogLik())
}
