package compiler

import (
	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/value"
)

// codegen accumulates instructions for one program and patches forward
// jumps once targets are known.
type codegen struct {
	program string
	code    []ir.Instruction
}

func (g *codegen) emit(inst ir.Instruction) int {
	g.code = append(g.code, inst)
	return len(g.code) - 1
}

func (g *codegen) here() int { return len(g.code) }

// reserveJump emits a jump with an unresolved target and returns its index
// for patching.
func (g *codegen) reserveJump(op ir.OpCode) int {
	return g.emit(ir.Instruction{Op: op, Target: -1})
}

func (g *codegen) patch(at int, target int) {
	g.code[at].Target = target
}

// compileExpr lowers an expression to a postfix instruction sequence that
// leaves its value on the stack.
func (g *codegen) compileExpr(e ast.Expr) error {
	switch n := e.(type) {
	case *ast.Literal:
		g.emit(ir.Instruction{Op: ir.OpPushConst, Const: n.Value})
		return nil

	case *ast.VarRef:
		g.emit(ir.Instruction{Op: ir.OpLoadVar, Sym: n.Path})
		return nil

	case *ast.Unary:
		if err := g.compileExpr(n.Operand); err != nil {
			return err
		}
		op := ir.UnaryNot
		if n.Op == ast.UnaryNeg {
			op = ir.UnaryNeg
		}
		g.emit(ir.Instruction{Op: ir.OpUnary, UnaryOp: op})
		return nil

	case *ast.Binary:
		if err := g.compileExpr(n.Left); err != nil {
			return err
		}
		if err := g.compileExpr(n.Right); err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpBinary, ArithOp: n.Op})
		return nil

	case *ast.Compare:
		if err := g.compileExpr(n.Left); err != nil {
			return err
		}
		if err := g.compileExpr(n.Right); err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpCompare, CmpOp: n.Op})
		return nil

	case *ast.Logical:
		// Short-circuit: evaluate left; on the deciding value, skip right.
		if err := g.compileExpr(n.Left); err != nil {
			return err
		}
		var jump int
		if n.Op == ast.LogicalAnd {
			jump = g.reserveJump(ir.OpJumpIfFalse)
		} else {
			jump = g.reserveJump(ir.OpJumpIfTrue)
		}
		if err := g.compileExpr(n.Right); err != nil {
			return err
		}
		end := g.reserveJump(ir.OpJump)
		// The skipped side pushes the deciding constant back.
		g.patch(jump, g.here())
		g.emit(ir.Instruction{Op: ir.OpPushConst, Const: value.Bool(n.Op == ast.LogicalOr)})
		g.patch(end, g.here())
		return nil

	case *ast.Call:
		// __store is introduced by common-subexpression elimination: it
		// computes its second argument, stows it under the synthetic path in
		// the first, and leaves the value on the stack.
		if n.Name == "__store" {
			path, ok := n.Args[0].(*ast.Literal)
			if !ok {
				return internalf(g.program, "__store path must be a literal")
			}
			if err := g.compileExpr(n.Args[1]); err != nil {
				return err
			}
			sym, _ := path.Value.AsString()
			g.emit(ir.Instruction{Op: ir.OpStoreField, Sym: sym})
			g.emit(ir.Instruction{Op: ir.OpLoadVar, Sym: sym})
			return nil
		}
		for _, arg := range n.Args {
			if err := g.compileExpr(arg); err != nil {
				return err
			}
		}
		g.emit(ir.Instruction{Op: ir.OpCall, Sym: n.Name, Argc: len(n.Args)})
		return nil

	case *ast.Ternary:
		if err := g.compileExpr(n.Cond); err != nil {
			return err
		}
		elseJump := g.reserveJump(ir.OpJumpIfFalse)
		if err := g.compileExpr(n.Then); err != nil {
			return err
		}
		endJump := g.reserveJump(ir.OpJump)
		g.patch(elseJump, g.here())
		if err := g.compileExpr(n.Else); err != nil {
			return err
		}
		g.patch(endJump, g.here())
		return nil

	case *ast.Template:
		// Lowered to string concatenation of the parts.
		if len(n.Parts) == 0 {
			g.emit(ir.Instruction{Op: ir.OpPushConst, Const: value.String("")})
			return nil
		}
		for _, part := range n.Parts {
			if part.Path != "" {
				g.emit(ir.Instruction{Op: ir.OpLoadVar, Sym: part.Path})
			} else {
				g.emit(ir.Instruction{Op: ir.OpPushConst, Const: value.String(part.Text)})
			}
		}
		g.emit(ir.Instruction{Op: ir.OpCall, Sym: "concat", Argc: len(n.Parts)})
		return nil

	default:
		return internalf(g.program, "cannot lower expression %T", e)
	}
}

// compileExprBlock lowers an expression into a standalone block terminated
// by Halt and returns its entry offset.
func (g *codegen) compileExprBlock(e ast.Expr) (int, error) {
	entry := g.here()
	if err := g.compileExpr(e); err != nil {
		return -1, err
	}
	g.emit(ir.Instruction{Op: ir.OpHalt})
	return entry, nil
}

// compileGuard lowers an optional when-guard; nil means always true and
// yields no block.
func (g *codegen) compileGuard(e ast.Expr) (int, error) {
	if e == nil {
		return -1, nil
	}
	return g.compileExprBlock(e)
}
