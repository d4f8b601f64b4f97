// Package ast defines the tree form of the decision DSL produced by the
// parser and consumed by the analyzer and compiler. AST values are transient;
// they are discarded once a program is compiled.
package ast

import "github.com/corintai/corint/internal/value"

// Expr is an expression node.
type Expr interface {
	exprNode()
}

// Literal is a constant value.
type Literal struct {
	Value value.Value
}

// VarRef references a context field by dotted path (e.g. "event.amount").
type VarRef struct {
	Path string
}

// UnaryOp is a unary operator.
type UnaryOp string

const (
	UnaryNot UnaryOp = "not"
	UnaryNeg UnaryOp = "neg"
)

// Unary applies a unary operator.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// Binary applies an arithmetic operator.
type Binary struct {
	Op    value.ArithOp
	Left  Expr
	Right Expr
}

// LogicalOp is a boolean connective.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "and"
	LogicalOr  LogicalOp = "or"
)

// Logical applies a short-circuiting boolean connective.
type Logical struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

// Compare applies a comparison operator, including membership and the
// string predicates.
type Compare struct {
	Op    value.CompareOp
	Left  Expr
	Right Expr
}

// Call invokes a built-in function.
type Call struct {
	Name string
	Args []Expr
}

// Ternary is cond ? then : else.
type Ternary struct {
	Cond Expr
	Then Expr
	Else Expr
}

// TemplatePart is one segment of a template string: either literal text or
// a `{path}` substitution rewritten to a variable reference.
type TemplatePart struct {
	Text string
	Path string // non-empty for substitution parts
}

// Template is a template string with `{path}` interpolation.
type Template struct {
	Parts []TemplatePart
}

func (*Literal) exprNode()  {}
func (*VarRef) exprNode()   {}
func (*Unary) exprNode()    {}
func (*Binary) exprNode()   {}
func (*Logical) exprNode()  {}
func (*Compare) exprNode()  {}
func (*Call) exprNode()     {}
func (*Ternary) exprNode()  {}
func (*Template) exprNode() {}

// True and False are the canonical boolean literals used for empty
// condition groups (empty all == true, empty any == false).
func True() Expr  { return &Literal{Value: value.Bool(true)} }
func False() Expr { return &Literal{Value: value.Bool(false)} }

// Walk visits every node of an expression tree in depth-first order.
// The visit function returning false prunes the subtree.
func Walk(e Expr, visit func(Expr) bool) {
	if e == nil || !visit(e) {
		return
	}
	switch n := e.(type) {
	case *Unary:
		Walk(n.Operand, visit)
	case *Binary:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Logical:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Compare:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Call:
		for _, arg := range n.Args {
			Walk(arg, visit)
		}
	case *Ternary:
		Walk(n.Cond, visit)
		Walk(n.Then, visit)
		Walk(n.Else, visit)
	}
}
