package pln

import "gonum.org/v1/gonum/mat"

// Report is the JSON rendering of a Result. Matrices are row-major nested
// arrays.
type Report struct {
	Variant    Variant     `json:"variant"`
	Status     string      `json:"status"`
	Converged  bool        `json:"converged"`
	Iterations int         `json:"iterations"`
	Objective  float64     `json:"objective"`
	LogLik     float64     `json:"loglik"`
	RowLogLik  []float64   `json:"row_loglik"`
	Theta      [][]float64 `json:"theta"`
	B          [][]float64 `json:"b,omitempty"`
	Sigma      [][]float64 `json:"sigma"`
	Omega      [][]float64 `json:"omega,omitempty"`
}

// Report summarizes r. Variational parameters M and S are left out; use
// Save for a complete snapshot.
func (r *Result) Report() Report {
	return Report{
		Variant:    r.Variant,
		Status:     r.Status.String(),
		Converged:  r.Converged(),
		Iterations: r.Iterations,
		Objective:  r.Objective,
		LogLik:     r.TotalLogLik(),
		RowLogLik:  r.LogLik,
		Theta:      rowsOf(r.Params.Theta),
		B:          rowsOf(r.Params.B),
		Sigma:      rowsOf(r.Sigma),
		Omega:      rowsOf(r.Omega),
	}
}

func rowsOf(m mat.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	switch t := m.(type) {
	case *mat.Dense:
		if t == nil || t.IsEmpty() {
			return nil
		}
	case *mat.SymDense:
		if t == nil || t.IsEmpty() {
			return nil
		}
	}
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}
