// Package errs carries the failure taxonomy shared by the engine and its collaborators.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the run must react to it.
type Kind string

const (
	// KindSetup aborts before any simulated timestep.
	KindSetup Kind = "SETUP_FAILURE"
	// KindStrategyFault is recovered locally; the strategy is skipped for the timestep.
	KindStrategyFault Kind = "STRATEGY_FAULT"
	// KindDataQuality is filtered at ingestion and never reaches the scheduler.
	KindDataQuality Kind = "DATA_QUALITY_VIOLATION"
	// KindPersistence degrades to a local fallback; fatal only on close.
	KindPersistence Kind = "PERSISTENCE_FAILURE"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Setup(op string, err error) error       { return New(KindSetup, op, err) }
func Fault(op string, err error) error       { return New(KindStrategyFault, op, err) }
func DataQuality(op string, err error) error { return New(KindDataQuality, op, err) }
func Persistence(op string, err error) error { return New(KindPersistence, op, err) }

// Setupf formats a setup failure message.
func Setupf(op, format string, a ...interface{}) error {
	return New(KindSetup, op, fmt.Errorf(format, a...))
}

// Is reports whether err (or anything it wraps) is of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
