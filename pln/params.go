package pln

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Block names of the packed parameter vector, also accepted as keys of a
// per-block xtol_abs setting.
const (
	BlockTheta = "Theta"
	BlockB     = "B"
	BlockM     = "M"
	BlockS     = "S"
)

// Params carries starting or fitted values. Shapes depend on the model:
//
//	Theta  p×d                      (absent for VE steps)
//	B      p×q                      (rank only)
//	M      n×p, n×q for rank
//	S      n×p, n×1 spherical, n×q rank
type Params struct {
	Theta *mat.Dense
	B     *mat.Dense
	M     *mat.Dense
	S     *mat.Dense
}

// paramBlock is one free block with its starting value.
type paramBlock struct {
	name  string
	value *mat.Dense
}

func checkShape(name string, m *mat.Dense, rows, cols int) error {
	if m == nil || m.IsEmpty() {
		return fmt.Errorf("%w: %s is missing, want %dx%d", ErrShape, name, rows, cols)
	}
	if r, c := m.Dims(); r != rows || c != cols {
		return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShape, name, r, c, rows, cols)
	}
	return nil
}

// Clone returns a deep copy; missing blocks stay nil.
func (p Params) Clone() Params {
	return Params{
		Theta: cloneDense(p.Theta),
		B:     cloneDense(p.B),
		M:     cloneDense(p.M),
		S:     cloneDense(p.S),
	}
}

func cloneDense(m *mat.Dense) *mat.Dense {
	if m == nil || m.IsEmpty() {
		return nil
	}
	return mat.DenseCopyOf(m)
}
