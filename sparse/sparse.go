// Package sparse holds the matrix containers used by the conduction model.
//
// The conduction operator keeps the same sparsity pattern for the whole run,
// so a CSR matrix is built once and later copies only replace values. Linear
// systems of the form shift*I + alpha*A are solved with a banded LU
// factorization; with the radial index varying fastest the bandwidth equals
// the radial point count.
package sparse

import "errors"

// ErrSingular is returned when a zero or non-finite pivot is met during
// factorization.
var ErrSingular = errors.New("sparse: singular matrix")

// Matrix is a square sparse matrix.
type Matrix interface {
	// Dim returns the number of rows (and columns).
	Dim() int

	// At returns the stored value at (i, j), or 0 outside the pattern.
	At(i, j int) float64

	// MulVec computes y = A*x.
	MulVec(x, y []float64)
}

var _ Matrix = (*CSR)(nil)
