// Package solver integrates stiff systems of ordinary differential equations
// with an implicit, variable-order backward differentiation formula.
package solver

import (
	"errors"
	"fmt"

	"heatsim/sparse"
)

var (
	ErrStepTooSmall = errors.New("required step size is less than spacing between numbers")
	ErrNonFinite    = errors.New("state contains non-finite values")
	ErrMaxSteps     = errors.New("maximum number of steps exceeded")
	ErrInterval     = errors.New("empty integration interval")
)

// System is a first-order ODE dy/dt = f(t, y) with a sparse Jacobian whose
// pattern does not change between calls.
type System interface {
	Dim() int
	Eval(t float64, y, dydt []float64)
	Jacobian(t float64, y []float64) *sparse.CSR
}

type Options struct {
	RTol      float64
	ATol      float64
	MaxStep   float64
	FirstStep float64
	MaxSteps  int
}

func DefaultOptions() Options {
	return Options{
		RTol:     1e-3,
		ATol:     1e-6,
		MaxSteps: 200000,
	}
}

// Error reports an integration failure together with where it happened.
type Error struct {
	Time float64
	Step int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("integration failed at t=%g (step %d): %v", e.Time, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Stats struct {
	Steps     int `json:"steps"`
	RHSEvals  int `json:"rhs_evals"`
	JacEvals  int `json:"jac_evals"`
	LUDecomps int `json:"lu_decomps"`
}

// Solution holds the sampled trajectory. Y[k] is the state at T[k].
type Solution struct {
	T     []float64
	Y     [][]float64
	Stats Stats
}
