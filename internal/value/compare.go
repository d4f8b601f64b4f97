package value

import (
	"errors"
	"strings"
)

// CompareOp is a comparison operator of the condition language.
type CompareOp string

const (
	OpEq         CompareOp = "=="
	OpNe         CompareOp = "!="
	OpGt         CompareOp = ">"
	OpGe         CompareOp = ">="
	OpLt         CompareOp = "<"
	OpLe         CompareOp = "<="
	OpIn         CompareOp = "in"
	OpNotIn      CompareOp = "not in"
	OpContains   CompareOp = "contains"
	OpStartsWith CompareOp = "starts_with"
	OpEndsWith   CompareOp = "ends_with"
)

// CompareOps lists every comparison operator accepted by the DSL.
var CompareOps = []CompareOp{
	OpEq, OpNe, OpGt, OpGe, OpLt, OpLe,
	OpIn, OpNotIn, OpContains, OpStartsWith, OpEndsWith,
}

// ArithOp is an arithmetic operator.
type ArithOp string

const (
	OpAdd ArithOp = "+"
	OpSub ArithOp = "-"
	OpMul ArithOp = "*"
	OpDiv ArithOp = "/"
	OpMod ArithOp = "%"
)

// ErrDivisionByZero is returned by Arith for x / 0 and x % 0.
var ErrDivisionByZero = errors.New("division by zero")

// Compare applies a comparison operator. Null compared to anything with any
// operator yields false, including != ; missing fields must never trigger
// rules either way.
func Compare(a Value, op CompareOp, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	switch op {
	case OpEq:
		return a.Equal(b)
	case OpNe:
		return !a.Equal(b)
	case OpGt, OpGe, OpLt, OpLe:
		return compareOrdered(a, op, b)
	case OpIn:
		return memberOf(a, b)
	case OpNotIn:
		return !memberOf(a, b)
	case OpContains:
		return stringPredicate(a, b, strings.Contains) || listContains(a, b)
	case OpStartsWith:
		return stringPredicate(a, b, strings.HasPrefix)
	case OpEndsWith:
		return stringPredicate(a, b, strings.HasSuffix)
	default:
		return false
	}
}

func compareOrdered(a Value, op CompareOp, b Value) bool {
	// Ordering is defined for homogeneous numbers and strings only.
	var cmp int
	switch {
	case a.kind == KindNumber && b.kind == KindNumber:
		switch {
		case a.num < b.num:
			cmp = -1
		case a.num > b.num:
			cmp = 1
		}
	case a.kind == KindString && b.kind == KindString:
		cmp = strings.Compare(a.str, b.str)
	default:
		return false
	}
	switch op {
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	}
	return false
}

// memberOf reports whether a is an element of list b, or a substring key of
// object b.
func memberOf(a, b Value) bool {
	switch b.kind {
	case KindList:
		for _, item := range b.list {
			if item.Equal(a) {
				return true
			}
		}
	case KindObject:
		if s, ok := a.AsString(); ok {
			_, found := b.obj[s]
			return found
		}
	case KindString:
		if s, ok := a.AsString(); ok {
			return strings.Contains(b.str, s)
		}
	}
	return false
}

// listContains handles `list contains elem`.
func listContains(a, b Value) bool {
	if a.kind != KindList {
		return false
	}
	for _, item := range a.list {
		if item.Equal(b) {
			return true
		}
	}
	return false
}

func stringPredicate(a, b Value, pred func(string, string) bool) bool {
	as, ok := a.AsString()
	if !ok {
		return false
	}
	bs, ok := b.AsString()
	if !ok {
		return false
	}
	return pred(as, bs)
}

// Arith applies an arithmetic operator. Any operand being Null yields Null
// (absorption); `+` on two strings concatenates; everything else requires
// two numbers.
func Arith(a Value, op ArithOp, b Value) (Value, error) {
	if a.IsNull() || b.IsNull() {
		return Null(), nil
	}
	if op == OpAdd {
		if as, ok := a.AsString(); ok {
			if bs, ok := b.AsString(); ok {
				return String(as + bs), nil
			}
		}
	}
	an, aok := a.AsNumber()
	bn, bok := b.AsNumber()
	if !aok || !bok {
		return Null(), errTypeMismatch(a, op, b)
	}
	switch op {
	case OpAdd:
		return Number(an + bn), nil
	case OpSub:
		return Number(an - bn), nil
	case OpMul:
		return Number(an * bn), nil
	case OpDiv:
		if bn == 0 {
			return Null(), ErrDivisionByZero
		}
		return Number(an / bn), nil
	case OpMod:
		if bn == 0 {
			return Null(), ErrDivisionByZero
		}
		return Number(float64(int64(an) % int64(bn))), nil
	default:
		return Null(), errTypeMismatch(a, op, b)
	}
}

// TypeError describes an operator applied to incompatible operand kinds.
type TypeError struct {
	Op    string
	Left  Kind
	Right Kind
}

func (e *TypeError) Error() string {
	return "operator " + e.Op + " not defined for " + e.Left.String() + " and " + e.Right.String()
}

func errTypeMismatch(a Value, op ArithOp, b Value) error {
	return &TypeError{Op: string(op), Left: a.kind, Right: b.kind}
}
