// Package runtime executes compiled programs: a stack VM for expression and
// effect blocks, and a step driver that walks pipeline step tables with
// guards, routes, error policies, and parallel branch joins.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/corintai/corint/internal/evalctx"
	"github.com/corintai/corint/internal/value"
)

// ErrDeadlineExceeded is returned by Execute when the request deadline cut
// the evaluation short. The outcome still carries the partial result.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// ErrorCode classifies runtime failures for trace entries and policies.
type ErrorCode string

const (
	CodeTypeError        ErrorCode = "type_error"
	CodeInvalidOperation ErrorCode = "invalid_operation"
	CodeDivisionByZero   ErrorCode = "division_by_zero"
	CodePCOutOfBounds    ErrorCode = "pc_out_of_bounds"
	CodeStackUnderflow   ErrorCode = "stack_underflow"
	CodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	CodeExternal         ErrorCode = "external"
	CodeInternal         ErrorCode = "internal"
)

// Error is a classified runtime failure tied to the program and step where
// it surfaced.
type Error struct {
	Code    ErrorCode
	Program string
	Step    string
	Err     error
}

func (e *Error) Error() string {
	where := e.Program
	if e.Step != "" {
		where += "/" + e.Step
	}
	return fmt.Sprintf("runtime error [%s] in %s: %v", e.Code, where, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps lower-layer errors onto runtime error codes. External
// failures (features, services, LLM) arrive pre-classified.
func classify(program, step string, err error) *Error {
	var rtErr *Error
	if errors.As(err, &rtErr) {
		return rtErr
	}
	code := CodeInternal
	var typeErr *value.TypeError
	switch {
	case errors.As(err, &typeErr):
		code = CodeTypeError
	case errors.Is(err, value.ErrDivisionByZero):
		code = CodeDivisionByZero
	case errors.Is(err, evalctx.ErrInvalidOperation):
		code = CodeInvalidOperation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDeadlineExceeded):
		code = CodeDeadlineExceeded
	}
	return &Error{Code: code, Program: program, Step: step, Err: err}
}

// externalErr wraps a collaborator failure so the error policy can treat it
// as retriable.
func externalErr(program, step string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Code: CodeDeadlineExceeded, Program: program, Step: step, Err: err}
	}
	return &Error{Code: CodeExternal, Program: program, Step: step, Err: err}
}

// retriable reports whether an error is worth another attempt under a retry
// policy. Deterministic evaluation failures are not: re-running the same
// instructions on the same context cannot change the outcome.
func retriable(err error) bool {
	var rtErr *Error
	if errors.As(err, &rtErr) {
		return rtErr.Code == CodeExternal
	}
	return false
}
