package job

import (
	"context"
	"errors"
	"fmt"

	"heatsim/calculator"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrQueueFull    = errors.New("simulation queue is full")
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// Error kinds recorded on failed sessions.
const (
	KindValidation = "validation"
	KindLimit      = "limit"
	KindSolver     = "solver"
	KindCanceled   = "canceled"
	KindInternal   = "internal"
)

// InternalError is a panic recovered at the worker boundary.
type InternalError struct {
	Message string
	Stack   string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// ErrorInfo is the error record kept on a failed session.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func classify(err error) *ErrorInfo {
	info := &ErrorInfo{Kind: KindInternal, Message: err.Error()}
	var (
		limit    *calculator.LimitError
		invalid  *calculator.ValidationError
		solver   *calculator.SolverError
		internal *InternalError
	)
	switch {
	case errors.As(err, &limit):
		info.Kind = KindLimit
	case errors.As(err, &invalid):
		info.Kind = KindValidation
	case errors.As(err, &solver):
		info.Kind = KindSolver
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrShuttingDown):
		info.Kind = KindCanceled
	case errors.As(err, &internal):
		info.Detail = internal.Stack
	}
	return info
}
