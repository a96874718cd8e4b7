package calculator

import (
	"errors"
	"fmt"
)

var (
	ErrNoLayers        = errors.New("at least one layer is required")
	ErrLayerMismatch   = errors.New("per-layer arrays have different lengths")
	ErrThickness       = errors.New("layer thickness must be positive")
	ErrMaterial        = errors.New("material properties must be finite and non-negative")
	ErrHeatCapacity    = errors.New("volumetric heat capacity must be positive")
	ErrNegativeVoltage = errors.New("voltage must be non-negative")
	ErrNegativeCurrent = errors.New("current density must be non-negative")
	ErrEQE             = errors.New("quantum efficiency must be within [0, 1]")
	ErrEmissivity      = errors.New("emissivity must be within [0, 1]")
	ErrConvection      = errors.New("convection coefficient must be non-negative")
	ErrTemperature     = errors.New("temperature must be positive")
	ErrArea            = errors.New("device area must be positive")
	ErrTimeSpan        = errors.New("time span must satisfy 0 <= t_start < t_end")
	ErrResolution      = errors.New("grid resolution is out of range")

	ErrLimit = errors.New("resource limit exceeded")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// LimitError reports a request that exceeds a configured resource limit.
// It is kept apart from ValidationError so callers can treat it as abuse.
type LimitError struct {
	Limit string
	Value float64
	Max   float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s=%g exceeds limit %g", e.Limit, e.Value, e.Max)
}

func (e *LimitError) Unwrap() error { return ErrLimit }

// SolverError wraps a failure of the time integrator.
type SolverError struct {
	Err error
}

func (e *SolverError) Error() string { return "solver: " + e.Err.Error() }

func (e *SolverError) Unwrap() error { return e.Err }
