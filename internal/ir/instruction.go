// Package ir defines the compiled, immutable program form executed by the
// runtime. A Program is a flat instruction sequence addressed by offsets plus
// metadata (symbols, step table, feature declarations). Programs are built
// once per source version and shared read-only across executions.
package ir

import (
	"github.com/corintai/corint/internal/value"
)

// OpCode identifies a stack-machine instruction.
type OpCode int

const (
	// OpNop does nothing. Used as a patch target by the optimizer.
	OpNop OpCode = iota
	// OpPushConst pushes Instruction.Const.
	OpPushConst
	// OpLoadVar resolves Instruction.Sym against the execution context and
	// pushes the result (Null when absent).
	OpLoadVar
	// OpStoreField pops a value and writes it to feature path Instruction.Sym.
	OpStoreField
	// OpPop discards the top of stack.
	OpPop
	// OpUnary applies Instruction.UnaryOp to the top of stack.
	OpUnary
	// OpBinary pops right then left and applies Instruction.ArithOp.
	OpBinary
	// OpCompare pops right then left and applies Instruction.CmpOp.
	OpCompare
	// OpJump sets pc to Instruction.Target.
	OpJump
	// OpJumpIfFalse pops a value and jumps to Instruction.Target when it is
	// not truthy.
	OpJumpIfFalse
	// OpJumpIfTrue pops a value and jumps to Instruction.Target when truthy.
	OpJumpIfTrue
	// OpCall pops Instruction.Argc arguments (last on top) and invokes the
	// builtin Instruction.Sym, pushing the result.
	OpCall
	// OpCallFeature computes feature Instruction.Sym, binds it into the
	// feature namespace and pushes the value. Suspension point.
	OpCallFeature
	// OpCallService invokes the service call declared in the step table for
	// Instruction.Sym and pushes the response value. Suspension point.
	OpCallService
	// OpCallLLM invokes the LLM client for step Instruction.Sym and pushes
	// the response. Suspension point.
	OpCallLLM
	// OpEmitSignal records signal Instruction.Sym in the result delta.
	OpEmitSignal
	// OpAddScore pops a number and adds it to the accumulated score.
	OpAddScore
	// OpSetAction sets the result action to Instruction.Sym.
	OpSetAction
	// OpMarkTriggered records rule Instruction.Sym as triggered.
	OpMarkTriggered
	// OpEnterStep and OpLeaveStep delimit a step body for tracing.
	OpEnterStep
	OpLeaveStep
	// OpHalt terminates the current block.
	OpHalt
)

func (op OpCode) String() string {
	switch op {
	case OpNop:
		return "nop"
	case OpPushConst:
		return "push_const"
	case OpLoadVar:
		return "load_var"
	case OpStoreField:
		return "store_field"
	case OpPop:
		return "pop"
	case OpUnary:
		return "unary"
	case OpBinary:
		return "binary"
	case OpCompare:
		return "compare"
	case OpJump:
		return "jump"
	case OpJumpIfFalse:
		return "jump_if_false"
	case OpJumpIfTrue:
		return "jump_if_true"
	case OpCall:
		return "call"
	case OpCallFeature:
		return "call_feature"
	case OpCallService:
		return "call_service"
	case OpCallLLM:
		return "call_llm"
	case OpEmitSignal:
		return "emit_signal"
	case OpAddScore:
		return "add_score"
	case OpSetAction:
		return "set_action"
	case OpMarkTriggered:
		return "mark_triggered"
	case OpEnterStep:
		return "enter_step"
	case OpLeaveStep:
		return "leave_step"
	case OpHalt:
		return "halt"
	default:
		return "invalid"
	}
}

// UnaryOp is the operand of OpUnary.
type UnaryOp int

const (
	UnaryNot UnaryOp = iota
	UnaryNeg
)

// Instruction is one stack-machine instruction. Operand fields are used
// according to Op; unused fields are zero.
type Instruction struct {
	Op      OpCode
	Const   value.Value
	Sym     string
	Target  int
	Argc    int
	UnaryOp UnaryOp
	ArithOp value.ArithOp
	CmpOp   value.CompareOp
}
