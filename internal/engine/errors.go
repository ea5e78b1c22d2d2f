package engine

import (
	"errors"
	"fmt"
)

// ErrStaleTick is returned by Tick when now does not advance past the
// previous tick.
var ErrStaleTick = errors.New("tick time must advance")

// ErrorKind classifies a failure inside one conversation's evaluation.
type ErrorKind string

const (
	KindGateEvaluation    ErrorKind = "gate_evaluation"
	KindGenerationTimeout ErrorKind = "generation_timeout"
	KindGenerationError   ErrorKind = "generation_error"
	KindValidation        ErrorKind = "validation_failure"
	KindDispatch          ErrorKind = "dispatch_error"
	KindPersistence       ErrorKind = "persistence_error"
	KindPanic             ErrorKind = "panic"
)

// EvalError is a failure scoped to a single conversation. It never stops
// the tick.
type EvalError struct {
	Kind           ErrorKind
	ConversationID string
	Err            error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("conversation %s: %s: %v", e.ConversationID, e.Kind, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err, or "" if none.
func KindOf(err error) ErrorKind {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// attemptFailure reports whether a failure of this kind counts against a
// topic's pursuit budget.
func (k ErrorKind) attemptFailure() bool {
	switch k {
	case KindGenerationTimeout, KindGenerationError, KindValidation, KindDispatch:
		return true
	}
	return false
}
