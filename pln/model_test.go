package pln

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestParseVariant(t *testing.T) {
	for _, name := range []string{"full", "spherical", "diagonal", "rank", "sparse", "FULL"} {
		v, err := ParseVariant(name)
		require.NoError(t, err, name)
		m, err := NewModel(v, mat.NewSymDense(1, []float64{1}))
		require.NoError(t, err)
		assert.Equal(t, v, m.Variant())
	}
	_, err := ParseVariant("mixture")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVariant))
	assert.Contains(t, err.Error(), "full spherical diagonal rank sparse")

	_, err = NewModel(VariantSparse, nil)
	assert.True(t, errors.Is(err, ErrShape))
}
