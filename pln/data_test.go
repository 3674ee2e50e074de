package pln

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewDataDefaults(t *testing.T) {
	y := mat.NewDense(3, 2, []float64{1, 2, 0, 4, 5, 6})
	d, err := NewData(y, nil, nil, nil)
	require.NoError(t, err)
	n, p, k := d.Dims()
	assert.Equal(t, []int{3, 2, 1}, []int{n, p, k})
	assert.Equal(t, []float64{1, 1, 1}, d.W)
	assert.Equal(t, 0.0, mat.Sum(d.O))
	assert.Equal(t, 3.0, mat.Sum(d.X))

	tests := []struct {
		name string
		y    *mat.Dense
		x    *mat.Dense
		w    []float64
	}{
		{"fractional count", mat.NewDense(1, 1, []float64{1.5}), nil, nil},
		{"negative count", mat.NewDense(1, 1, []float64{-1}), nil, nil},
		{"nan count", mat.NewDense(1, 1, []float64{math.NaN()}), nil, nil},
		{"x rows", y, mat.NewDense(2, 1, nil), nil},
		{"weight count", y, nil, []float64{1}},
		{"zero weights", y, nil, []float64{0, 0, 0}},
		{"inf weight", y, nil, []float64{1, math.Inf(1), 1}},
		{"nil counts", nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewData(tt.y, tt.x, nil, tt.w)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrData), "got %v", err)
		})
	}
}
