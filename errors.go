package goimpfit

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownElement is returned when a topology uses a letter outside R, C, E, W, G, Q.
	ErrUnknownElement = errors.New("unknown circuit element")
	// ErrMalformedTopology is returned for unbalanced parentheses, wrong comma counts
	// and element letters without their digit.
	ErrMalformedTopology = errors.New("malformed circuit topology")
	// ErrParameterCount is returned when a parameter vector does not match the circuit arity.
	ErrParameterCount = errors.New("parameter count mismatch")
	// ErrNonConvergence is returned when the least-squares solver fails.
	ErrNonConvergence = errors.New("solver did not converge")
	// ErrInvalidData is returned for empty or inconsistent measurement data.
	ErrInvalidData = errors.New("invalid impedance data")
)

// ParseError describes where a topology string could not be parsed.
type ParseError struct {
	Code string
	Pos  int
	Msg  string
	Kind error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("circuit %q: %s at position %d", e.Code, e.Msg, e.Pos)
}

func (e *ParseError) Unwrap() error { return e.Kind }

// ParamCountError reports the expected and the supplied parameter count.
type ParamCountError struct {
	Want int
	Got  int
}

func (e *ParamCountError) Error() string {
	return fmt.Sprintf("circuit needs %d parameters, got %d", e.Want, e.Got)
}

func (e *ParamCountError) Unwrap() error { return ErrParameterCount }

// SolverError carries the solver status when a fit fails.
type SolverError struct {
	Method string
	Status string
	Err    error
}

func (e *SolverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s solver: %s: %v", e.Method, e.Status, e.Err)
	}
	return fmt.Sprintf("%s solver: %s", e.Method, e.Status)
}

func (e *SolverError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNonConvergence}
	}
	return []error{ErrNonConvergence, e.Err}
}
