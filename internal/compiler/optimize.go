package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/value"
)

// foldExpr performs constant folding on pure unary, binary, comparison, and
// logical nodes. Folding never changes semantics: expressions that would
// error at runtime (division by zero) are left unfolded so the error
// surfaces under the step's error policy.
func foldExpr(e ast.Expr) ast.Expr {
	switch n := e.(type) {
	case *ast.Unary:
		operand := foldExpr(n.Operand)
		if lit, ok := operand.(*ast.Literal); ok {
			switch n.Op {
			case ast.UnaryNot:
				return &ast.Literal{Value: value.Bool(!lit.Value.Truthy())}
			case ast.UnaryNeg:
				if num, ok := lit.Value.AsNumber(); ok {
					return &ast.Literal{Value: value.Number(-num)}
				}
			}
		}
		return &ast.Unary{Op: n.Op, Operand: operand}

	case *ast.Binary:
		left, right := foldExpr(n.Left), foldExpr(n.Right)
		ll, lok := left.(*ast.Literal)
		rl, rok := right.(*ast.Literal)
		if lok && rok {
			if folded, err := value.Arith(ll.Value, n.Op, rl.Value); err == nil {
				return &ast.Literal{Value: folded}
			}
		}
		return &ast.Binary{Op: n.Op, Left: left, Right: right}

	case *ast.Compare:
		left, right := foldExpr(n.Left), foldExpr(n.Right)
		ll, lok := left.(*ast.Literal)
		rl, rok := right.(*ast.Literal)
		if lok && rok {
			return &ast.Literal{Value: value.Bool(value.Compare(ll.Value, n.Op, rl.Value))}
		}
		return &ast.Compare{Op: n.Op, Left: left, Right: right}

	case *ast.Logical:
		left, right := foldExpr(n.Left), foldExpr(n.Right)
		if ll, ok := left.(*ast.Literal); ok {
			// Short-circuit decided at compile time.
			if n.Op == ast.LogicalAnd {
				if !ll.Value.Truthy() {
					return &ast.Literal{Value: value.Bool(false)}
				}
				return right
			}
			if ll.Value.Truthy() {
				return &ast.Literal{Value: value.Bool(true)}
			}
			return right
		}
		return &ast.Logical{Op: n.Op, Left: left, Right: right}

	case *ast.Ternary:
		cond := foldExpr(n.Cond)
		if cl, ok := cond.(*ast.Literal); ok {
			if cl.Value.Truthy() {
				return foldExpr(n.Then)
			}
			return foldExpr(n.Else)
		}
		return &ast.Ternary{Cond: cond, Then: foldExpr(n.Then), Else: foldExpr(n.Else)}

	case *ast.Call:
		args := make([]ast.Expr, len(n.Args))
		for i, arg := range n.Args {
			args[i] = foldExpr(arg)
		}
		return &ast.Call{Name: n.Name, Args: args}

	default:
		return e
	}
}

// exprFingerprint produces a structural key for common-subexpression
// detection. Only pure nodes fingerprint; calls are excluded because
// builtins like list construction are cheap and features are not pure.
func exprFingerprint(e ast.Expr) (string, bool) {
	switch n := e.(type) {
	case *ast.Literal:
		return "lit:" + n.Value.Kind().String() + ":" + n.Value.String(), true
	case *ast.VarRef:
		return "var:" + n.Path, true
	case *ast.Unary:
		inner, ok := exprFingerprint(n.Operand)
		if !ok {
			return "", false
		}
		return "un:" + string(n.Op) + "(" + inner + ")", true
	case *ast.Binary:
		l, lok := exprFingerprint(n.Left)
		r, rok := exprFingerprint(n.Right)
		if !lok || !rok {
			return "", false
		}
		return "bin:" + string(n.Op) + "(" + l + "," + r + ")", true
	case *ast.Compare:
		l, lok := exprFingerprint(n.Left)
		r, rok := exprFingerprint(n.Right)
		if !lok || !rok {
			return "", false
		}
		return "cmp:" + string(n.Op) + "(" + l + "," + r + ")", true
	default:
		return "", false
	}
}

// eliminateCommon rewrites subexpressions that occur more than once across
// a rule's condition and effect expressions: the first occurrence computes
// and stores into the synthetic namespace, later occurrences load it back.
// Only compound pure subtrees qualify, and only ones the condition
// evaluates on every run: the condition executes before either effect
// branch, so an unconditional store there is visible everywhere, whereas a
// store inside `then`, a short-circuited logical operand, or an untaken
// ternary arm would leave later loads reading an unwritten path. exprs[0]
// is the condition.
func eliminateCommon(ruleID string, exprs []ast.Expr) []ast.Expr {
	counts := map[string]int{}
	for _, e := range exprs {
		if e == nil {
			continue
		}
		ast.Walk(e, func(sub ast.Expr) bool {
			if !compoundPure(sub) {
				return true
			}
			if fp, ok := exprFingerprint(sub); ok {
				counts[fp]++
			}
			return true
		})
	}

	uncond := map[string]bool{}
	if len(exprs) > 0 {
		collectUnconditional(exprs[0], uncond)
	}

	shared := map[string]string{}
	var names []string
	for fp, n := range counts {
		if n >= 2 && uncond[fp] {
			names = append(names, fp)
		}
	}
	if len(names) == 0 {
		return exprs
	}
	sort.Strings(names)
	for i, fp := range names {
		shared[fp] = fmt.Sprintf("synthetic.%s.cse%d", sanitizeID(ruleID), i)
	}

	seen := map[string]bool{}
	out := make([]ast.Expr, len(exprs))
	for i, e := range exprs {
		out[i] = rewriteShared(e, shared, seen, true)
	}
	return out
}

// collectUnconditional records fingerprints of pure subtrees the expression
// is guaranteed to evaluate. Logical right operands and ternary arms may be
// skipped at runtime and do not qualify, nor does anything beneath them.
func collectUnconditional(e ast.Expr, fps map[string]bool) {
	if e == nil {
		return
	}
	if compoundPure(e) {
		if fp, ok := exprFingerprint(e); ok {
			fps[fp] = true
		}
	}
	switch n := e.(type) {
	case *ast.Unary:
		collectUnconditional(n.Operand, fps)
	case *ast.Binary:
		collectUnconditional(n.Left, fps)
		collectUnconditional(n.Right, fps)
	case *ast.Compare:
		collectUnconditional(n.Left, fps)
		collectUnconditional(n.Right, fps)
	case *ast.Logical:
		collectUnconditional(n.Left, fps)
	case *ast.Ternary:
		collectUnconditional(n.Cond, fps)
	case *ast.Call:
		for _, arg := range n.Args {
			collectUnconditional(arg, fps)
		}
	}
}

func compoundPure(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Binary, *ast.Compare, *ast.Unary:
		return true
	default:
		return false
	}
}

// rewriteShared replaces shared subtrees. The store anchors at the first
// occurrence in evaluation order that sits at an always-evaluated position;
// occurrences after it become loads of the synthetic path. A conditional
// occurrence reached before the store stays inline, since its branch may
// run without the store ever having executed.
func rewriteShared(e ast.Expr, shared map[string]string, seen map[string]bool, uncond bool) ast.Expr {
	if e == nil {
		return nil
	}
	if fp, ok := exprFingerprint(e); ok {
		if path, isShared := shared[fp]; isShared {
			if seen[fp] {
				return &ast.VarRef{Path: path}
			}
			if uncond {
				seen[fp] = true
				return &ast.Call{Name: "__store", Args: []ast.Expr{&ast.Literal{Value: value.String(path)}, rewriteChildren(e, shared, seen, uncond)}}
			}
			return rewriteChildren(e, shared, seen, uncond)
		}
	}
	return rewriteChildren(e, shared, seen, uncond)
}

func rewriteChildren(e ast.Expr, shared map[string]string, seen map[string]bool, uncond bool) ast.Expr {
	switch n := e.(type) {
	case *ast.Unary:
		return &ast.Unary{Op: n.Op, Operand: rewriteShared(n.Operand, shared, seen, uncond)}
	case *ast.Binary:
		return &ast.Binary{Op: n.Op, Left: rewriteShared(n.Left, shared, seen, uncond), Right: rewriteShared(n.Right, shared, seen, uncond)}
	case *ast.Compare:
		return &ast.Compare{Op: n.Op, Left: rewriteShared(n.Left, shared, seen, uncond), Right: rewriteShared(n.Right, shared, seen, uncond)}
	case *ast.Logical:
		return &ast.Logical{Op: n.Op, Left: rewriteShared(n.Left, shared, seen, uncond), Right: rewriteShared(n.Right, shared, seen, false)}
	case *ast.Ternary:
		return &ast.Ternary{Cond: rewriteShared(n.Cond, shared, seen, uncond), Then: rewriteShared(n.Then, shared, seen, false), Else: rewriteShared(n.Else, shared, seen, false)}
	case *ast.Call:
		args := make([]ast.Expr, len(n.Args))
		for i, arg := range n.Args {
			args[i] = rewriteShared(arg, shared, seen, uncond)
		}
		return &ast.Call{Name: n.Name, Args: args}
	default:
		return e
	}
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' {
			return '_'
		}
		return r
	}, id)
}

// eliminateDeadTail truncates instructions of a block that follow an
// unconditional halt and are not the target of any jump within the block.
func eliminateDeadTail(code []ir.Instruction, start, end int) int {
	targets := map[int]bool{}
	for i := start; i < end; i++ {
		switch code[i].Op {
		case ir.OpJump, ir.OpJumpIfFalse, ir.OpJumpIfTrue:
			targets[code[i].Target] = true
		}
	}
	for i := start; i < end-1; i++ {
		if code[i].Op != ir.OpHalt {
			continue
		}
		cut := i + 1
		reachable := false
		for j := cut; j < end; j++ {
			if targets[j] {
				reachable = true
				break
			}
		}
		if !reachable {
			// Blank out the unreachable tail rather than shifting offsets.
			for j := cut; j < end; j++ {
				code[j] = ir.Instruction{Op: ir.OpNop}
			}
			return cut
		}
	}
	return end
}
