package query

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a query attempt.
//
// An attempt is created not_executed. Generation failure moves it to
// failed_generation. Execution first claims the attempt by moving it to
// executing; the claim is a conditional update, so concurrent callers race
// for it and exactly one wins. The outcome then moves the attempt to exactly
// one of failed_execution, success, or timeout. A claim released before any
// SQL ran (pool busy) returns to not_executed. All other states are terminal:
// results are immutable and a new run requires a new attempt (see Rerun).
type Status string

const (
	StatusNotExecuted      Status = "not_executed"
	StatusExecuting        Status = "executing"
	StatusFailedGeneration Status = "failed_generation"
	StatusFailedExecution  Status = "failed_execution"
	StatusSuccess          Status = "success"
	StatusTimeout          Status = "timeout"
)

// ErrInvalidTransition indicates a disallowed status change.
var ErrInvalidTransition = errors.New("invalid status transition")

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusNotExecuted, StatusExecuting, StatusFailedGeneration, StatusFailedExecution, StatusSuccess, StatusTimeout:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusNotExecuted && s != StatusExecuting
}

// Transition checks that from -> to is an allowed status change.
func Transition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	switch from {
	case StatusNotExecuted:
		if to == StatusExecuting || to == StatusFailedGeneration {
			return nil
		}
	case StatusExecuting:
		// Release back to not_executed, or settle on an execution outcome.
		if to == StatusNotExecuted || to == StatusFailedExecution || to == StatusSuccess || to == StatusTimeout {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
