package runtime

import (
	"fmt"
	"math"
	"strings"

	"github.com/corintai/corint/internal/value"
)

// builtins are the pure functions callable from condition expressions. The
// analyzer admits only these names, so an unknown name here is an internal
// inconsistency, not user error.
var builtins = map[string]func(args []value.Value) (value.Value, error){
	"list":   builtinList,
	"concat": builtinConcat,
	"len":    builtinLen,
	"abs":    numeric1(math.Abs),
	"round":  numeric1(math.Round),
	"floor":  numeric1(math.Floor),
	"ceil":   numeric1(math.Ceil),
	"min":    builtinMin,
	"max":    builtinMax,
	"lower":  stringFn(strings.ToLower),
	"upper":  stringFn(strings.ToUpper),
	"trim":   stringFn(strings.TrimSpace),
}

func callBuiltin(name string, args []value.Value) (value.Value, error) {
	fn, ok := builtins[name]
	if !ok {
		return value.Null(), fmt.Errorf("unknown builtin %q", name)
	}
	return fn(args)
}

func builtinList(args []value.Value) (value.Value, error) {
	return value.List(args...), nil
}

// builtinConcat joins arguments into one string. Null parts render empty so
// templates over absent paths degrade instead of failing.
func builtinConcat(args []value.Value) (value.Value, error) {
	var sb strings.Builder
	for _, arg := range args {
		if arg.IsNull() {
			continue
		}
		sb.WriteString(arg.String())
	}
	return value.String(sb.String()), nil
}

func builtinLen(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Null(), fmt.Errorf("len takes 1 argument, got %d", len(args))
	}
	v := args[0]
	if s, ok := v.AsString(); ok {
		return value.Number(float64(len(s))), nil
	}
	if items, ok := v.AsList(); ok {
		return value.Number(float64(len(items))), nil
	}
	if fields, ok := v.AsObject(); ok {
		return value.Number(float64(len(fields))), nil
	}
	if v.IsNull() {
		return value.Null(), nil
	}
	return value.Null(), &value.TypeError{Op: "len", Left: v.Kind(), Right: v.Kind()}
}

// numeric1 adapts a unary float function. Null absorbs.
func numeric1(fn func(float64) float64) func(args []value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Null(), fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		if args[0].IsNull() {
			return value.Null(), nil
		}
		n, ok := args[0].AsNumber()
		if !ok {
			return value.Null(), &value.TypeError{Op: "numeric", Left: args[0].Kind(), Right: args[0].Kind()}
		}
		return value.Number(fn(n)), nil
	}
}

func builtinMin(args []value.Value) (value.Value, error) {
	return numericFold(args, func(a, b float64) float64 { return math.Min(a, b) })
}

func builtinMax(args []value.Value) (value.Value, error) {
	return numericFold(args, func(a, b float64) float64 { return math.Max(a, b) })
}

// numericFold reduces the numeric arguments, skipping Nulls. All-Null or
// empty argument lists yield Null.
func numericFold(args []value.Value, fn func(a, b float64) float64) (value.Value, error) {
	var (
		acc float64
		any bool
	)
	for _, arg := range args {
		if arg.IsNull() {
			continue
		}
		n, ok := arg.AsNumber()
		if !ok {
			return value.Null(), &value.TypeError{Op: "numeric", Left: arg.Kind(), Right: arg.Kind()}
		}
		if !any {
			acc, any = n, true
			continue
		}
		acc = fn(acc, n)
	}
	if !any {
		return value.Null(), nil
	}
	return value.Number(acc), nil
}

func stringFn(fn func(string) string) func(args []value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Null(), fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		if args[0].IsNull() {
			return value.Null(), nil
		}
		s, ok := args[0].AsString()
		if !ok {
			return value.Null(), &value.TypeError{Op: "string", Left: args[0].Kind(), Right: args[0].Kind()}
		}
		return value.String(fn(s)), nil
	}
}
