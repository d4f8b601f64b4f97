package parser

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidYAML             = errors.New("invalid YAML document")
	ErrMissingKind             = errors.New("document must declare a kind")
	ErrUnknownKind             = errors.New("unknown document kind")
	ErrInvalidExpression       = errors.New("invalid expression")
	ErrRuleIDRequired          = errors.New("rule id is required")
	ErrRulesetIDRequired       = errors.New("ruleset id is required")
	ErrPipelineIDRequired      = errors.New("pipeline id is required")
	ErrPipelineEntryRequired   = errors.New("pipeline entry is required")
	ErrStepIDRequired          = errors.New("step id is required")
	ErrStepKindRequired        = errors.New("step kind is required")
	ErrWhenMustBeStringOrMap   = errors.New("when must be a string or an all/any mapping")
	ErrRoutesMustBeArray       = errors.New("routes must be an array")
	ErrEffectInvalid           = errors.New("invalid effect entry")
	ErrOnErrorInvalid          = errors.New("invalid on_error action")
	ErrMergeInvalid            = errors.New("invalid merge strategy")
	ErrFeatureInvalid          = errors.New("invalid feature definition")
	ErrTemplateIDRequired      = errors.New("template id is required")
	ErrRegistryEntriesRequired = errors.New("registry entries are required")
	ErrUnknownTemplate         = errors.New("unknown template reference")
)

// LoadError is a structured parse failure carrying the offending field, what
// was expected there, and what was found.
type LoadError struct {
	Source   string
	Field    string
	Expected string
	Actual   string
	Err      error
}

func (e *LoadError) Error() string {
	var sb strings.Builder
	if e.Source != "" {
		sb.WriteString(e.Source)
		sb.WriteString(": ")
	}
	if e.Field != "" {
		fmt.Fprintf(&sb, "field %q: ", e.Field)
	}
	if e.Err != nil {
		sb.WriteString(e.Err.Error())
	}
	if e.Expected != "" {
		fmt.Fprintf(&sb, " (expected %s, got %s)", e.Expected, e.Actual)
	}
	return sb.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

func loadErr(field, expected, actual string, err error) *LoadError {
	return &LoadError{Field: field, Expected: expected, Actual: actual, Err: err}
}

// CyclicImportError reports an include cycle, listing the files on it in
// traversal order.
type CyclicImportError struct {
	Cycle []string
}

func (e *CyclicImportError) Error() string {
	return "cyclic import: " + strings.Join(e.Cycle, " -> ")
}
