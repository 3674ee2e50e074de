package pln

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestInitialize(t *testing.T) {
	data := correlatedData(t)
	n, p, d := data.Dims()

	for _, v := range []Variant{VariantFull, VariantDiagonal, VariantSparse, VariantSpherical} {
		init, err := Initialize(data, v, 0)
		require.NoError(t, err, v)
		assert.NoError(t, checkShape(BlockTheta, init.Theta, p, d))
		assert.NoError(t, checkShape(BlockM, init.M, n, p))
		assert.Nil(t, init.B)
	}

	init, err := Initialize(data, VariantRank, 2)
	require.NoError(t, err)
	assert.NoError(t, checkShape(BlockB, init.B, p, 2))
	assert.NoError(t, checkShape(BlockM, init.M, n, 2))
	assert.NoError(t, checkShape(BlockS, init.S, n, 2))
	assert.NotZero(t, mat.Norm(init.B, 2))

	_, err = Initialize(data, VariantRank, 4)
	assert.True(t, errors.Is(err, ErrShape))
	_, err = Initialize(data, Variant("mixture"), 0)
	assert.True(t, errors.Is(err, ErrVariant))
}
