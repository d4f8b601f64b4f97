package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/parser"
)

func compileYAML(t *testing.T, src string) (map[string]*ir.Program, error) {
	t.Helper()
	repo, err := parser.LoadYAML([]byte(src))
	require.NoError(t, err)
	return New(repo).CompileAll(repo)
}

func TestCompileRule(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: rule
id: high_amount
when: amount > 1000
then:
  add_score: 1.0
  set_action: block
  emit_signal: high_amount
`)
	require.NoError(t, err)
	prog := programs["high_amount"]
	require.NotNil(t, prog)
	assert.Equal(t, ir.ProgramRule, prog.Meta.Kind)

	paths := make([]string, 0, len(prog.Meta.Symbols))
	for _, s := range prog.Meta.Symbols {
		paths = append(paths, s.Path)
	}
	assert.Contains(t, paths, "amount")

	// Every block terminates.
	require.NotEmpty(t, prog.Code)
	assert.Equal(t, ir.OpHalt, prog.Code[len(prog.Code)-1].Op)

	var triggered bool
	for _, inst := range prog.Code {
		if inst.Op == ir.OpMarkTriggered && inst.Sym == "high_amount" {
			triggered = true
		}
	}
	assert.True(t, triggered, "rule body must mark the rule as triggered")
}

func TestCompileConstantFolding(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: rule
id: folded
when: 1 + 1 > 1
then:
  add_score: 2 * 0.5
`)
	require.NoError(t, err)
	for _, inst := range programs["folded"].Code {
		assert.NotEqual(t, ir.OpCompare, inst.Op, "constant comparison must fold away")
		assert.NotEqual(t, ir.OpBinary, inst.Op, "constant arithmetic must fold away")
	}
}

func TestCompileRuleset(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: ruleset
id: card_checks
rules:
  - id: A
    when: amount > 100
    then:
      add_score: 0.3
  - id: B
    when: country == "XX"
    then:
      add_score: 0.5
conclusion:
  cases:
    - when: score >= 0.7
      action: review
  default: approve
`)
	require.NoError(t, err)
	prog := programs["card_checks"]
	require.NotNil(t, prog)
	assert.Equal(t, ir.ProgramRuleset, prog.Meta.Kind)
}

func TestCompilePipelineStepTable(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: rule
id: leaf
when: amount > 0
then:
  add_score: 0.1
---
kind: pipeline
id: flow
entry: route
steps:
  - id: route
    kind: router
    routes:
      - when: amount > 500
        next: high
    default: low
  - id: high
    rule_ref: leaf
    next: end
  - id: low
    rule_ref: leaf
    next: end
`)
	require.NoError(t, err)
	prog := programs["flow"]
	require.NotNil(t, prog)
	assert.Equal(t, "route", prog.Meta.EntryStep)
	require.Len(t, prog.Meta.Steps, 3)

	router, ok := prog.StepByID("route")
	require.True(t, ok)
	assert.Equal(t, ir.StepRouter, router.Kind)
	assert.Equal(t, -1, router.BodyEntry)
	require.Len(t, router.Routes, 1)
	assert.Equal(t, "high", router.Routes[0].Next)
	assert.Equal(t, "low", router.Default)

	high, ok := prog.StepByID("high")
	require.True(t, ok)
	assert.GreaterOrEqual(t, high.BodyEntry, 0)
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      string
		wantCode ErrorCode
	}{
		{
			name: "cyclicPipeline",
			src: `
kind: rule
id: leaf
then:
  add_score: 0.1
---
kind: pipeline
id: loop
entry: a
steps:
  - id: a
    rule_ref: leaf
    next: b
  - id: b
    rule_ref: leaf
    next: a
`,
			wantCode: CodeCyclicPipeline,
		},
		{
			name: "unknownRuleRef",
			src: `
kind: pipeline
id: flow
entry: s1
steps:
  - id: s1
    rule_ref: ghost
    next: end
`,
			wantCode: CodeUndefinedSymbol,
		},
		{
			name: "unknownSuccessor",
			src: `
kind: rule
id: leaf
then:
  add_score: 0.1
---
kind: pipeline
id: flow
entry: s1
steps:
  - id: s1
    rule_ref: leaf
    next: ghost
`,
			wantCode: CodeUndefinedSymbol,
		},
		{
			name: "weightedMergeMismatch",
			src: `
kind: rule
id: leaf
then:
  add_score: 0.1
---
kind: pipeline
id: flow
entry: fork
steps:
  - id: fork
    kind: branch
    merge:
      weighted:
        weights: [0.5]
    branches:
      - id: b1
        entry: s1
        steps:
          - id: s1
            rule_ref: leaf
            next: end
      - id: b2
        entry: s2
        steps:
          - id: s2
            rule_ref: leaf
            next: end
    next: end
`,
			wantCode: CodeUnsupportedFeature,
		},
		{
			name: "undefinedParam",
			src: `
kind: rule
id: r1
when: amount > params.threshold
then:
  add_score: 0.1
`,
			wantCode: CodeUndefinedSymbol,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := compileYAML(t, tc.src)
			var compileErr *Error
			require.ErrorAs(t, err, &compileErr)
			assert.Equal(t, tc.wantCode, compileErr.Code)
		})
	}
}

func TestCompileDuplicateProgramID(t *testing.T) {
	t.Parallel()

	_, err := compileYAML(t, `
kind: rule
id: dup
then:
  add_score: 0.1
---
kind: rule
id: dup
then:
  add_score: 0.2
`)
	var compileErr *Error
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, CodeInternal, compileErr.Code)
}

func TestCompileSharedSubexpression(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: rule
id: shared
when: base + extra > 10 and flag == 1
then:
  add_score: base + extra
`)
	require.NoError(t, err)

	// base + extra sits on the always-evaluated side of the condition, so
	// the effect reuses its stored value.
	var stored, loaded bool
	for _, inst := range programs["shared"].Code {
		if inst.Op == ir.OpStoreField && strings.HasPrefix(inst.Sym, "synthetic.") {
			stored = true
		}
		if inst.Op == ir.OpLoadVar && strings.HasPrefix(inst.Sym, "synthetic.") {
			loaded = true
		}
	}
	assert.True(t, stored)
	assert.True(t, loaded)
}

func TestCompileSharedSubexpressionShortCircuit(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: rule
id: shared
when: flag == 1 or base + extra > 10
then:
  add_score: base + extra
`)
	require.NoError(t, err)

	// The only condition occurrence of base + extra sits past a
	// short-circuit, so no store may anchor there: the effect must compute
	// the sum itself.
	for _, inst := range programs["shared"].Code {
		assert.NotContains(t, inst.Sym, "synthetic.")
	}
}

func TestCompileConclusionReservedNames(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: ruleset
id: card_checks
rules:
  - id: A
    when: amount > 100
    then:
      add_score: 0.3
conclusion:
  cases:
    - when: score >= 0.7 and "fraud" in signals
      action: review
  default: approve
`)
	require.NoError(t, err)

	// Conclusion cases read the accumulated result through reserved paths,
	// never through the bare names an event field could occupy.
	var reserved bool
	for _, inst := range programs["card_checks"].Code {
		if inst.Op != ir.OpLoadVar {
			continue
		}
		assert.NotEqual(t, "score", inst.Sym)
		assert.NotEqual(t, "signals", inst.Sym)
		if inst.Sym == "@score" || inst.Sym == "@signals" {
			reserved = true
		}
	}
	assert.True(t, reserved)
}

func TestCompileParamDefaultSubstitution(t *testing.T) {
	t.Parallel()

	programs, err := compileYAML(t, `
kind: rule
id: threshold_check
params:
  threshold:
    type: number
    default: 1000
when: amount > params.threshold
then:
  add_score: 1.0
`)
	require.NoError(t, err)

	// The default literal replaces the parameter reference; no params.*
	// load survives into the code.
	for _, inst := range programs["threshold_check"].Code {
		if inst.Op == ir.OpLoadVar {
			assert.NotContains(t, inst.Sym, "params.")
		}
	}
}
