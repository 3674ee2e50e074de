package pln

import "errors"

var (
	// ErrData is returned for malformed observations: mismatched row
	// counts, negative or fractional counts, invalid weights.
	ErrData = errors.New("pln: invalid data")

	// ErrShape is returned when a starting value or a fixed matrix does not
	// match the data dimensions.
	ErrShape = errors.New("pln: shape mismatch")

	// ErrNotPositiveDefinite is returned when a covariance or precision
	// matrix cannot be factorized. Raised during a fit it is fatal.
	ErrNotPositiveDefinite = errors.New("pln: matrix is not positive definite")

	// ErrVariant is returned for unknown model names.
	ErrVariant = errors.New("pln: unknown variant")
)
