package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/corintai/corint/internal/evalctx"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/value"
)

// EvalFunc runs one compiled expression block of the current program against
// the request context. Collaborators use it to evaluate derived feature
// expressions and lookup keys.
type EvalFunc func(ctx context.Context, entry int) (value.Value, error)

// RowEvalFunc runs a block with a data-source row bound as the transient
// row scope, for aggregate filters.
type RowEvalFunc func(ctx context.Context, entry int, row map[string]value.Value) (value.Value, error)

// Env is the evaluation surface handed to a FeatureResolver.
type Env struct {
	Eval    EvalFunc
	EvalRow RowEvalFunc
}

// FeatureResolver computes a declared feature value, honoring its cache
// policy.
type FeatureResolver interface {
	Resolve(ctx context.Context, feature *ir.Feature, env Env) (value.Value, error)
}

// ServiceInvoker performs a service_call step's outbound request.
type ServiceInvoker interface {
	Invoke(ctx context.Context, call *ir.ServiceCall, payload map[string]value.Value) (value.Value, error)
}

// LLMClient performs an llm_call step's completion request.
type LLMClient interface {
	Complete(ctx context.Context, model, prompt string) (value.Value, error)
}

// ListProvider resolves `list.<id>` references to the list's current member
// snapshot, so conditions can test membership with `in`.
type ListProvider interface {
	List(ctx context.Context, listID string) (value.Value, error)
}

// vm executes instruction blocks of one program against one request
// context. A vm is single-goroutine; branches get their own vm over a
// forked context.
type vm struct {
	prog  *ir.Program
	ectx  *evalctx.Context
	delta *Delta

	features FeatureResolver
	services ServiceInvoker
	llm      LLMClient
	lists    ListProvider

	step string
}

func (m *vm) fail(code ErrorCode, format string, args ...any) error {
	return &Error{Code: code, Program: m.prog.Meta.ID, Step: m.step, Err: fmt.Errorf(format, args...)}
}

// runBlock executes instructions from entry until the block's Halt and
// returns the value left on top of the stack, or Null for effect-only
// blocks.
func (m *vm) runBlock(ctx context.Context, entry int) (value.Value, error) {
	if entry < 0 || entry >= len(m.prog.Code) {
		return value.Null(), m.fail(CodePCOutOfBounds, "block entry %d outside code of length %d", entry, len(m.prog.Code))
	}
	if err := ctx.Err(); err != nil {
		return value.Null(), classify(m.prog.Meta.ID, m.step, err)
	}

	var stack []value.Value
	pop := func() (value.Value, error) {
		if len(stack) == 0 {
			return value.Null(), m.fail(CodeStackUnderflow, "pop on empty stack at pc %d", entry)
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, nil
	}

	pc := entry
	for {
		if pc < 0 || pc >= len(m.prog.Code) {
			return value.Null(), m.fail(CodePCOutOfBounds, "pc %d outside code of length %d", pc, len(m.prog.Code))
		}
		inst := m.prog.Code[pc]
		pc++

		switch inst.Op {
		case ir.OpNop, ir.OpEnterStep, ir.OpLeaveStep:

		case ir.OpPushConst:
			stack = append(stack, inst.Const)

		case ir.OpLoadVar:
			if v, ok := m.delta.virtualVar(inst.Sym); ok {
				stack = append(stack, v)
				continue
			}
			if listID, isList := strings.CutPrefix(inst.Sym, "list."); isList && m.lists != nil {
				v, err := m.lists.List(ctx, listID)
				if err != nil {
					return value.Null(), externalErr(m.prog.Meta.ID, m.step, err)
				}
				stack = append(stack, v)
				continue
			}
			stack = append(stack, m.ectx.Get(inst.Sym))

		case ir.OpStoreField:
			v, err := pop()
			if err != nil {
				return value.Null(), err
			}
			if err := m.ectx.Set(inst.Sym, v); err != nil {
				return value.Null(), classify(m.prog.Meta.ID, m.step, err)
			}

		case ir.OpPop:
			if _, err := pop(); err != nil {
				return value.Null(), err
			}

		case ir.OpUnary:
			v, err := pop()
			if err != nil {
				return value.Null(), err
			}
			switch inst.UnaryOp {
			case ir.UnaryNot:
				stack = append(stack, value.Bool(!v.Truthy()))
			case ir.UnaryNeg:
				if v.IsNull() {
					stack = append(stack, value.Null())
					break
				}
				n, ok := v.AsNumber()
				if !ok {
					return value.Null(), m.fail(CodeTypeError, "negation of %s", v.Kind())
				}
				stack = append(stack, value.Number(-n))
			}

		case ir.OpBinary:
			right, err := pop()
			if err != nil {
				return value.Null(), err
			}
			left, err := pop()
			if err != nil {
				return value.Null(), err
			}
			result, err := value.Arith(left, inst.ArithOp, right)
			if err != nil {
				return value.Null(), classify(m.prog.Meta.ID, m.step, err)
			}
			stack = append(stack, result)

		case ir.OpCompare:
			right, err := pop()
			if err != nil {
				return value.Null(), err
			}
			left, err := pop()
			if err != nil {
				return value.Null(), err
			}
			stack = append(stack, value.Bool(value.Compare(left, inst.CmpOp, right)))

		case ir.OpJump:
			pc = inst.Target

		case ir.OpJumpIfFalse:
			v, err := pop()
			if err != nil {
				return value.Null(), err
			}
			if !v.Truthy() {
				pc = inst.Target
			}

		case ir.OpJumpIfTrue:
			v, err := pop()
			if err != nil {
				return value.Null(), err
			}
			if v.Truthy() {
				pc = inst.Target
			}

		case ir.OpCall:
			if len(stack) < inst.Argc {
				return value.Null(), m.fail(CodeStackUnderflow, "call %s needs %d arguments, stack has %d", inst.Sym, inst.Argc, len(stack))
			}
			args := make([]value.Value, inst.Argc)
			copy(args, stack[len(stack)-inst.Argc:])
			stack = stack[:len(stack)-inst.Argc]
			result, err := callBuiltin(inst.Sym, args)
			if err != nil {
				return value.Null(), classify(m.prog.Meta.ID, m.step, err)
			}
			stack = append(stack, result)

		case ir.OpCallFeature:
			v, err := m.callFeature(ctx, inst.Sym)
			if err != nil {
				return value.Null(), err
			}
			stack = append(stack, v)

		case ir.OpCallService:
			v, err := m.callService(ctx, inst.Sym)
			if err != nil {
				return value.Null(), err
			}
			stack = append(stack, v)

		case ir.OpCallLLM:
			v, err := m.callLLM(ctx, inst.Sym)
			if err != nil {
				return value.Null(), err
			}
			stack = append(stack, v)

		case ir.OpEmitSignal:
			m.delta.EmitSignal(inst.Sym)

		case ir.OpAddScore:
			v, err := pop()
			if err != nil {
				return value.Null(), err
			}
			n, ok := v.AsNumber()
			if !ok {
				if v.IsNull() {
					// Null score contributions are absorbed.
					break
				}
				return value.Null(), m.fail(CodeTypeError, "add_score with %s operand", v.Kind())
			}
			m.delta.AddScore(n)

		case ir.OpSetAction:
			m.delta.SetAction(inst.Sym)

		case ir.OpMarkTriggered:
			m.delta.MarkTriggered(inst.Sym)

		case ir.OpHalt:
			if len(stack) == 0 {
				return value.Null(), nil
			}
			return stack[len(stack)-1], nil

		default:
			return value.Null(), m.fail(CodeInternal, "unknown opcode %d", inst.Op)
		}
	}
}

// callFeature resolves a declared feature, binding the value into the
// feature namespace. A value already bound in this request is reused;
// features are pure within one request.
func (m *vm) callFeature(ctx context.Context, name string) (value.Value, error) {
	if err := ctx.Err(); err != nil {
		return value.Null(), classify(m.prog.Meta.ID, m.step, err)
	}
	path := evalctx.NSFeature + "." + name
	if bound := m.ectx.Get(path); !bound.IsNull() {
		return bound, nil
	}
	feature, ok := m.prog.Meta.Features[name]
	if !ok {
		return value.Null(), m.fail(CodeInvalidOperation, "feature %q is not declared", name)
	}
	if m.features == nil {
		return value.Null(), m.fail(CodeInvalidOperation, "feature %q requested without a feature resolver", name)
	}
	v, err := m.features.Resolve(ctx, feature, m.env())
	if err != nil {
		return value.Null(), externalErr(m.prog.Meta.ID, m.step, err)
	}
	if err := m.ectx.Set(path, v); err != nil {
		return value.Null(), classify(m.prog.Meta.ID, m.step, err)
	}
	return v, nil
}

// callService evaluates the step's payload blocks in field order and invokes
// the service client.
func (m *vm) callService(ctx context.Context, stepID string) (value.Value, error) {
	if err := ctx.Err(); err != nil {
		return value.Null(), classify(m.prog.Meta.ID, m.step, err)
	}
	step, ok := m.prog.StepByID(stepID)
	if !ok || step.Service == nil {
		return value.Null(), m.fail(CodeInternal, "no service call declared for step %q", stepID)
	}
	if m.services == nil {
		return value.Null(), m.fail(CodeInvalidOperation, "service call %q without a service client", stepID)
	}

	fields := make([]string, 0, len(step.Service.Payload))
	for field := range step.Service.Payload {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	payload := make(map[string]value.Value, len(fields))
	for _, field := range fields {
		v, err := m.runBlock(ctx, step.Service.Payload[field])
		if err != nil {
			return value.Null(), err
		}
		payload[field] = v
	}

	v, err := m.services.Invoke(ctx, step.Service, payload)
	if err != nil {
		return value.Null(), externalErr(m.prog.Meta.ID, m.step, err)
	}
	return v, nil
}

// callLLM renders the prompt template and invokes the LLM client.
func (m *vm) callLLM(ctx context.Context, stepID string) (value.Value, error) {
	if err := ctx.Err(); err != nil {
		return value.Null(), classify(m.prog.Meta.ID, m.step, err)
	}
	step, ok := m.prog.StepByID(stepID)
	if !ok || step.LLM == nil {
		return value.Null(), m.fail(CodeInternal, "no llm call declared for step %q", stepID)
	}
	if m.llm == nil {
		return value.Null(), m.fail(CodeInvalidOperation, "llm call %q without an llm client", stepID)
	}
	prompt, err := m.runBlock(ctx, step.LLM.PromptEntry)
	if err != nil {
		return value.Null(), err
	}
	v, err := m.llm.Complete(ctx, step.LLM.Model, prompt.String())
	if err != nil {
		return value.Null(), externalErr(m.prog.Meta.ID, m.step, err)
	}
	return v, nil
}

// env exposes block evaluation to collaborators without handing them the
// vm.
func (m *vm) env() Env {
	return Env{
		Eval: func(ctx context.Context, entry int) (value.Value, error) {
			return m.runBlock(ctx, entry)
		},
		EvalRow: func(ctx context.Context, entry int, row map[string]value.Value) (value.Value, error) {
			m.ectx.BindRow(row)
			defer m.ectx.ClearRow()
			return m.runBlock(ctx, entry)
		},
	}
}
