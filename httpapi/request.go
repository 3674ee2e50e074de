package httpapi

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-poisson-lognormal/optim"
	"github.com/n0madic/go-poisson-lognormal/pln"
)

var errRequest = errors.New("httpapi: invalid request")

// FitRequest is the body of POST /v1/fit. Only Y is required; matrices are
// row-major nested arrays.
type FitRequest struct {
	Variant string      `json:"variant"`
	Rank    int         `json:"rank,omitempty"`
	Y       [][]float64 `json:"y"`
	X       [][]float64 `json:"x,omitempty"`
	O       [][]float64 `json:"o,omitempty"`
	W       []float64   `json:"w,omitempty"`
	// Omega is the fixed precision matrix of the sparse model.
	Omega     [][]float64     `json:"omega,omitempty"`
	Optimizer *optim.Settings `json:"optimizer,omitempty"`
}

// job is a decoded request ready to fit.
type job struct {
	model    pln.Model
	data     *pln.Data
	init     pln.Params
	settings optim.Settings
}

func (req FitRequest) job() (*job, error) {
	name := req.Variant
	if name == "" {
		name = string(pln.VariantFull)
	}
	v, err := pln.ParseVariant(name)
	if err != nil {
		return nil, err
	}
	y, err := denseFromRows("y", req.Y)
	if err != nil {
		return nil, err
	}
	if y == nil {
		return nil, fmt.Errorf("%w: y is required", errRequest)
	}
	x, err := denseFromRows("x", req.X)
	if err != nil {
		return nil, err
	}
	o, err := denseFromRows("o", req.O)
	if err != nil {
		return nil, err
	}
	data, err := pln.NewData(y, x, o, req.W)
	if err != nil {
		return nil, err
	}

	var omega mat.Symmetric
	if req.Omega != nil {
		sym, err := symFromRows("omega", req.Omega)
		if err != nil {
			return nil, err
		}
		omega = sym
	}
	model, err := pln.NewModel(v, omega)
	if err != nil {
		return nil, err
	}
	init, err := pln.Initialize(data, v, req.Rank)
	if err != nil {
		return nil, err
	}
	settings := optim.DefaultSettings()
	if req.Optimizer != nil {
		settings = *req.Optimizer
	}
	return &job{model: model, data: data, init: init, settings: settings}, nil
}

func denseFromRows(name string, rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	c := len(rows[0])
	if c == 0 {
		return nil, fmt.Errorf("%w: %s has empty rows", errRequest, name)
	}
	data := make([]float64, 0, len(rows)*c)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, want %d", errRequest, name, i, len(row), c)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), c, data), nil
}

func symFromRows(name string, rows [][]float64) (*mat.SymDense, error) {
	d, err := denseFromRows(name, rows)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s is empty", errRequest, name)
	}
	r, c := d.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: %s must be square, got %dx%d", errRequest, name, r, c)
	}
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			if d.At(i, j) != d.At(j, i) {
				return nil, fmt.Errorf("%w: %s is not symmetric at (%d,%d)", errRequest, name, i, j)
			}
			sym.SetSym(i, j, d.At(i, j))
		}
	}
	return sym, nil
}
