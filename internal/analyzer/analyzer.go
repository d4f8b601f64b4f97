// Package analyzer performs semantic analysis over the AST: symbol
// collection, bottom-up type inference, and pipeline DAG validation. It runs
// between parsing and IR generation; its findings become compile errors.
package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/value"
)

var (
	ErrUndefinedSymbol = errors.New("undefined symbol")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUnknownStep     = errors.New("reference to undeclared step")
	ErrCyclicPipeline  = errors.New("pipeline contains a cycle")
	ErrEntryMissing    = errors.New("pipeline entry step is not declared")
	ErrUnknownFunction = errors.New("unknown function")
)

// Type is an inferred expression type.
type Type string

const (
	TypeUnknown Type = "unknown"
	TypeNull    Type = "null"
	TypeBool    Type = "bool"
	TypeNumber  Type = "number"
	TypeString  Type = "string"
	TypeList    Type = "list"
	TypeObject  Type = "object"
)

// builtins maps callable function names to their result type.
var builtins = map[string]Type{
	"abs":   TypeNumber,
	"min":   TypeNumber,
	"max":   TypeNumber,
	"round": TypeNumber,
	"floor": TypeNumber,
	"ceil":  TypeNumber,
	"len":   TypeNumber,
	"lower": TypeString,
	"upper": TypeString,
	"trim":  TypeString,
	"list":  TypeList,
}

// Scope carries the declared names visible to an expression: rule
// parameters (with their declared types) and feature names.
type Scope struct {
	Params   map[string]Type
	Features map[string]Type
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{Params: map[string]Type{}, Features: map[string]Type{}}
}

// DeclareParams registers a rule's parameter schema.
func (s *Scope) DeclareParams(params []ast.ParamSpec) {
	for _, p := range params {
		t := TypeUnknown
		if p.Type != "" {
			t = Type(p.Type)
		}
		s.Params[p.Name] = t
	}
}

// DeclareFeatures registers a pipeline's feature declarations. Aggregates
// are numbers; derived and lookup features stay unknown.
func (s *Scope) DeclareFeatures(features []*ast.FeatureDef) {
	for _, f := range features {
		t := TypeUnknown
		if f.Kind == ast.FeatureAggregate {
			t = TypeNumber
		}
		s.Features[f.Name] = t
	}
}

// Analysis is the outcome of analyzing one program.
type Analysis struct {
	// Symbols maps every referenced context path to its inferred type.
	Symbols map[string]Type
	// Unresolved lists references that cannot resolve to any namespace,
	// declared parameter, or declared feature. Non-empty is a compile error.
	Unresolved []string
}

// SortedSymbols returns the symbol paths in deterministic order.
func (a *Analysis) SortedSymbols() []string {
	paths := lo.Keys(a.Symbols)
	sort.Strings(paths)
	return paths
}

func newAnalysis() *Analysis {
	return &Analysis{Symbols: map[string]Type{}}
}

// Err returns the unresolved-reference error, if any.
func (a *Analysis) Err() error {
	if len(a.Unresolved) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUndefinedSymbol, strings.Join(lo.Uniq(a.Unresolved), ", "))
}

// AnalyzeRule checks a rule's condition and effects.
func AnalyzeRule(rule *ast.Rule, scope *Scope) (*Analysis, error) {
	a := newAnalysis()
	local := scope.child()
	local.DeclareParams(rule.Params)
	if _, err := a.inferExpr(rule.When, local); err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	for _, eff := range append(append([]ast.Effect{}, rule.Then...), rule.Else...) {
		for _, e := range []ast.Expr{eff.Score, eff.Value} {
			if e == nil {
				continue
			}
			if _, err := a.inferExpr(e, local); err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}
		}
	}
	return a, a.Err()
}

// AnalyzeRuleset checks every rule and the decision logic.
func AnalyzeRuleset(rs *ast.Ruleset, scope *Scope) (*Analysis, error) {
	a := newAnalysis()
	for _, rule := range rs.Rules {
		sub, err := AnalyzeRule(rule, scope)
		if err != nil {
			return nil, fmt.Errorf("ruleset %s: %w", rs.ID, err)
		}
		a.merge(sub)
	}
	for _, c := range rs.Cases {
		if c.When == nil {
			continue
		}
		if _, err := a.inferExpr(c.When, scope); err != nil {
			return nil, fmt.Errorf("ruleset %s decision_logic: %w", rs.ID, err)
		}
	}
	return a, a.Err()
}

// AnalyzePipeline validates the step DAG and checks every embedded
// expression.
func AnalyzePipeline(p *ast.Pipeline, scope *Scope) (*Analysis, error) {
	a := newAnalysis()
	local := scope.child()
	local.DeclareFeatures(p.Features)

	if err := ValidateDAG(p); err != nil {
		return nil, err
	}

	for _, f := range p.Features {
		for _, e := range []ast.Expr{f.Expr, f.Filter, f.Key} {
			if e == nil {
				continue
			}
			if _, err := a.inferExpr(e, local); err != nil {
				return nil, fmt.Errorf("pipeline %s feature %s: %w", p.ID, f.Name, err)
			}
		}
	}

	for _, step := range p.Steps {
		if step.When != nil {
			if _, err := a.inferExpr(step.When, local); err != nil {
				return nil, fmt.Errorf("pipeline %s step %s: %w", p.ID, step.ID, err)
			}
		}
		for _, route := range step.Routes {
			if route.When == nil {
				continue
			}
			if _, err := a.inferExpr(route.When, local); err != nil {
				return nil, fmt.Errorf("pipeline %s step %s route: %w", p.ID, step.ID, err)
			}
		}
		if step.Rule != nil {
			sub, err := AnalyzeRule(step.Rule, local)
			if err != nil {
				return nil, fmt.Errorf("pipeline %s: %w", p.ID, err)
			}
			a.merge(sub)
		}
		if step.Ruleset != nil {
			sub, err := AnalyzeRuleset(step.Ruleset, local)
			if err != nil {
				return nil, fmt.Errorf("pipeline %s: %w", p.ID, err)
			}
			a.merge(sub)
		}
		if step.Service != nil {
			for k, e := range step.Service.Payload {
				if _, err := a.inferExpr(e, local); err != nil {
					return nil, fmt.Errorf("pipeline %s step %s payload %s: %w", p.ID, step.ID, k, err)
				}
			}
		}
		for _, sub := range step.Branches {
			subAnalysis, err := AnalyzePipeline(sub, local)
			if err != nil {
				return nil, fmt.Errorf("pipeline %s branch: %w", p.ID, err)
			}
			a.merge(subAnalysis)
		}
	}
	return a, a.Err()
}

func (s *Scope) child() *Scope {
	child := NewScope()
	for k, v := range s.Params {
		child.Params[k] = v
	}
	for k, v := range s.Features {
		child.Features[k] = v
	}
	return child
}

func (a *Analysis) merge(o *Analysis) {
	for k, v := range o.Symbols {
		a.Symbols[k] = v
	}
	a.Unresolved = append(a.Unresolved, o.Unresolved...)
}

// inferExpr infers the type of an expression bottom-up, recording every
// variable reference in the symbol table.
func (a *Analysis) inferExpr(e ast.Expr, scope *Scope) (Type, error) {
	switch n := e.(type) {
	case *ast.Literal:
		return typeOfValue(n.Value), nil

	case *ast.VarRef:
		t := a.resolveVar(n.Path, scope)
		a.Symbols[n.Path] = t
		return t, nil

	case *ast.Unary:
		t, err := a.inferExpr(n.Operand, scope)
		if err != nil {
			return TypeUnknown, err
		}
		switch n.Op {
		case ast.UnaryNot:
			return TypeBool, nil
		case ast.UnaryNeg:
			if t != TypeNumber && t != TypeUnknown && t != TypeNull {
				return TypeUnknown, fmt.Errorf("%w: cannot negate %s", ErrTypeMismatch, t)
			}
			return TypeNumber, nil
		}
		return TypeUnknown, nil

	case *ast.Binary:
		lt, err := a.inferExpr(n.Left, scope)
		if err != nil {
			return TypeUnknown, err
		}
		rt, err := a.inferExpr(n.Right, scope)
		if err != nil {
			return TypeUnknown, err
		}
		return binaryResult(n.Op, lt, rt)

	case *ast.Logical:
		if _, err := a.inferExpr(n.Left, scope); err != nil {
			return TypeUnknown, err
		}
		if _, err := a.inferExpr(n.Right, scope); err != nil {
			return TypeUnknown, err
		}
		return TypeBool, nil

	case *ast.Compare:
		lt, err := a.inferExpr(n.Left, scope)
		if err != nil {
			return TypeUnknown, err
		}
		rt, err := a.inferExpr(n.Right, scope)
		if err != nil {
			return TypeUnknown, err
		}
		if err := comparable(n.Op, lt, rt); err != nil {
			return TypeUnknown, err
		}
		return TypeBool, nil

	case *ast.Call:
		result, ok := builtins[n.Name]
		if !ok {
			return TypeUnknown, fmt.Errorf("%w: %s", ErrUnknownFunction, n.Name)
		}
		for _, arg := range n.Args {
			if _, err := a.inferExpr(arg, scope); err != nil {
				return TypeUnknown, err
			}
		}
		return result, nil

	case *ast.Ternary:
		if _, err := a.inferExpr(n.Cond, scope); err != nil {
			return TypeUnknown, err
		}
		tt, err := a.inferExpr(n.Then, scope)
		if err != nil {
			return TypeUnknown, err
		}
		et, err := a.inferExpr(n.Else, scope)
		if err != nil {
			return TypeUnknown, err
		}
		if tt == et {
			return tt, nil
		}
		return TypeUnknown, nil

	case *ast.Template:
		for _, part := range n.Parts {
			if part.Path != "" {
				t := a.resolveVar(part.Path, scope)
				a.Symbols[part.Path] = t
			}
		}
		return TypeString, nil

	default:
		return TypeUnknown, fmt.Errorf("%w: unsupported expression %T", ErrTypeMismatch, e)
	}
}

// resolveVar resolves a dotted path against the scope and the context
// namespaces. Bare paths are event shorthand and always resolvable; only
// params.* and feature.* references to undeclared names are unresolved.
func (a *Analysis) resolveVar(path string, scope *Scope) Type {
	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "params":
		t, ok := scope.Params[rest]
		if !ok {
			a.Unresolved = append(a.Unresolved, path)
			return TypeUnknown
		}
		return t
	case "feature":
		name, _, _ := strings.Cut(rest, ".")
		if t, ok := scope.Features[name]; ok {
			return t
		}
		// Features may also be produced by set_fields or step outputs;
		// they stay unknown rather than unresolved.
		return TypeUnknown
	case "event", "system", "env":
		return TypeUnknown
	default:
		// Bare path: resolved against feature -> event -> system -> env at
		// runtime.
		return TypeUnknown
	}
}

func typeOfValue(v value.Value) Type {
	switch v.Kind() {
	case value.KindNull:
		return TypeNull
	case value.KindBool:
		return TypeBool
	case value.KindNumber:
		return TypeNumber
	case value.KindString:
		return TypeString
	case value.KindList:
		return TypeList
	case value.KindObject:
		return TypeObject
	default:
		return TypeUnknown
	}
}

// binaryResult computes the pairwise compatibility of an arithmetic
// operator: number+number is number, string+string is string concatenation,
// mixing numeric and string operands is an error. Unknown and Null operands
// pass through (absorption is decided at runtime).
func binaryResult(op value.ArithOp, lt, rt Type) (Type, error) {
	if lt == TypeUnknown || rt == TypeUnknown || lt == TypeNull || rt == TypeNull {
		return TypeUnknown, nil
	}
	if lt == TypeNumber && rt == TypeNumber {
		return TypeNumber, nil
	}
	if op == value.OpAdd && lt == TypeString && rt == TypeString {
		return TypeString, nil
	}
	return TypeUnknown, fmt.Errorf("%w: operator %s on %s and %s", ErrTypeMismatch, op, lt, rt)
}

// comparable enforces homogeneous operand types for comparisons, except
// when either side is Null or Unknown. Membership and the string predicates
// have their own operand shapes.
func comparable(op value.CompareOp, lt, rt Type) error {
	if lt == TypeUnknown || rt == TypeUnknown || lt == TypeNull || rt == TypeNull {
		return nil
	}
	switch op {
	case value.OpIn, value.OpNotIn:
		if rt == TypeList || rt == TypeObject || rt == TypeString {
			return nil
		}
		return fmt.Errorf("%w: right side of %s must be a collection, got %s", ErrTypeMismatch, op, rt)
	case value.OpContains:
		if lt == TypeString || lt == TypeList {
			return nil
		}
		return fmt.Errorf("%w: left side of contains must be a string or list, got %s", ErrTypeMismatch, lt)
	case value.OpStartsWith, value.OpEndsWith:
		if lt == TypeString && rt == TypeString {
			return nil
		}
		return fmt.Errorf("%w: %s requires string operands, got %s and %s", ErrTypeMismatch, op, lt, rt)
	default:
		if lt == rt {
			return nil
		}
		return fmt.Errorf("%w: comparison %s on %s and %s", ErrTypeMismatch, op, lt, rt)
	}
}
