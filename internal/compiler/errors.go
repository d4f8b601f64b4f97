package compiler

import (
	"errors"
	"fmt"

	"github.com/corintai/corint/internal/analyzer"
	"github.com/corintai/corint/internal/parser"
)

// ErrorCode classifies compile failures. All compile errors surface at
// engine-load time, never during Decide.
type ErrorCode string

const (
	CodeUndefinedSymbol    ErrorCode = "undefined_symbol"
	CodeTypeError          ErrorCode = "type_error"
	CodeInvalidExpression  ErrorCode = "invalid_expression"
	CodeCyclicPipeline     ErrorCode = "cyclic_pipeline"
	CodeUnsupportedFeature ErrorCode = "unsupported_feature"
	CodeInternal           ErrorCode = "internal"
)

// Error is a structured compile failure.
type Error struct {
	Code    ErrorCode
	Program string
	Err     error
}

func (e *Error) Error() string {
	if e.Program != "" {
		return fmt.Sprintf("compile %s: %s: %s", e.Program, e.Code, e.Err)
	}
	return fmt.Sprintf("compile: %s: %s", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrap classifies an underlying analysis or lowering error.
func wrap(program string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	code := CodeInternal
	switch {
	case errors.Is(err, analyzer.ErrUndefinedSymbol), errors.Is(err, analyzer.ErrUnknownFunction):
		code = CodeUndefinedSymbol
	case errors.Is(err, analyzer.ErrTypeMismatch):
		code = CodeTypeError
	case errors.Is(err, analyzer.ErrCyclicPipeline):
		code = CodeCyclicPipeline
	case errors.Is(err, analyzer.ErrUnknownStep), errors.Is(err, analyzer.ErrEntryMissing):
		code = CodeUndefinedSymbol
	case errors.Is(err, parser.ErrInvalidExpression):
		code = CodeInvalidExpression
	}
	return &Error{Code: code, Program: program, Err: err}
}

func internalf(program, format string, args ...any) error {
	return &Error{Code: CodeInternal, Program: program, Err: fmt.Errorf(format, args...)}
}

func unsupported(program, what string) error {
	return &Error{Code: CodeUnsupportedFeature, Program: program, Err: errors.New(what)}
}
