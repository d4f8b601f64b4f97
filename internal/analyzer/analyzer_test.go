package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/parser"
)

func mustParse(t *testing.T, src string) ast.Expr {
	t.Helper()
	expr, err := parser.ParseCondition(src)
	require.NoError(t, err)
	return expr
}

func TestAnalyzeRule(t *testing.T) {
	t.Parallel()

	rule := &ast.Rule{
		ID:   "high_amount",
		When: mustParse(t, `amount > params.threshold and user.country == "US"`),
		Params: []ast.ParamSpec{
			{Name: "threshold", Type: "number"},
		},
		Then: []ast.Effect{
			{Kind: ast.EffectAddScore, Score: mustParse(t, "params.threshold / 1000")},
		},
	}

	a, err := AnalyzeRule(rule, NewScope())
	require.NoError(t, err)
	assert.Contains(t, a.Symbols, "amount")
	assert.Contains(t, a.Symbols, "user.country")
	assert.Equal(t, TypeNumber, a.Symbols["params.threshold"])
	assert.Empty(t, a.Unresolved)
}

func TestAnalyzeRuleUndefinedParam(t *testing.T) {
	t.Parallel()

	rule := &ast.Rule{
		ID:   "r1",
		When: mustParse(t, "amount > params.missing"),
	}
	_, err := AnalyzeRule(rule, NewScope())
	require.ErrorIs(t, err, ErrUndefinedSymbol)
	assert.Contains(t, err.Error(), "params.missing")
}

func TestAnalyzeRuleUnknownFunction(t *testing.T) {
	t.Parallel()

	rule := &ast.Rule{
		ID:   "r1",
		When: mustParse(t, "sqrt(amount) > 10"),
	}
	_, err := AnalyzeRule(rule, NewScope())
	require.ErrorIs(t, err, ErrUnknownFunction)
}

func TestAnalyzeRuleTypeMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{"numberMinusString", `1 - "a"`},
		{"numberComparedToString", `1 > "a"`},
		{"inScalar", `"x" in 5`},
		{"startsWithNumber", `5 starts_with "a"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rule := &ast.Rule{ID: "r1", When: mustParse(t, tc.src)}
			_, err := AnalyzeRule(rule, NewScope())
			require.ErrorIs(t, err, ErrTypeMismatch)
		})
	}
}

func TestAnalyzeRuleNullOperandsPass(t *testing.T) {
	t.Parallel()

	// Null operands defer to runtime absorption instead of failing analysis.
	rule := &ast.Rule{ID: "r1", When: mustParse(t, "user.country == null")}
	_, err := AnalyzeRule(rule, NewScope())
	require.NoError(t, err)
}

func TestAnalyzeRulesetVirtualVars(t *testing.T) {
	t.Parallel()

	rs := &ast.Ruleset{
		ID: "checks",
		Rules: []*ast.Rule{
			{ID: "A", When: mustParse(t, "amount > 100"), Then: []ast.Effect{
				{Kind: ast.EffectAddScore, Score: mustParse(t, "0.3")},
			}},
		},
		Cases: []ast.DecisionCase{
			{When: mustParse(t, "score >= 0.7"), Action: "review"},
		},
		DefaultAction: "approve",
	}
	a, err := AnalyzeRuleset(rs, NewScope())
	require.NoError(t, err)
	assert.Contains(t, a.Symbols, "score")
}

func TestValidateDAG(t *testing.T) {
	t.Parallel()

	step := func(id, next string) *ast.Step {
		return &ast.Step{ID: id, Kind: ast.StepRule, RuleRef: "r", Next: next}
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		p := &ast.Pipeline{ID: "p", Entry: "a", Steps: []*ast.Step{
			step("a", "b"), step("b", "end"),
		}}
		require.NoError(t, ValidateDAG(p))
	})

	t.Run("entryMissing", func(t *testing.T) {
		t.Parallel()
		p := &ast.Pipeline{ID: "p", Entry: "nope", Steps: []*ast.Step{step("a", "end")}}
		require.ErrorIs(t, ValidateDAG(p), ErrEntryMissing)
	})

	t.Run("unknownSuccessor", func(t *testing.T) {
		t.Parallel()
		p := &ast.Pipeline{ID: "p", Entry: "a", Steps: []*ast.Step{step("a", "ghost")}}
		require.ErrorIs(t, ValidateDAG(p), ErrUnknownStep)
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()
		p := &ast.Pipeline{ID: "p", Entry: "a", Steps: []*ast.Step{
			step("a", "b"), step("b", "c"), step("c", "a"),
		}}
		err := ValidateDAG(p)
		require.ErrorIs(t, err, ErrCyclicPipeline)
		assert.Contains(t, err.Error(), "a -> b -> c -> a")
	})

	t.Run("routerCycle", func(t *testing.T) {
		t.Parallel()
		router := &ast.Step{ID: "route", Kind: ast.StepRouter, Routes: []ast.Route{
			{When: mustParse(t, "amount > 500"), Next: "route"},
		}, Default: "end"}
		p := &ast.Pipeline{ID: "p", Entry: "route", Steps: []*ast.Step{router}}
		require.ErrorIs(t, ValidateDAG(p), ErrCyclicPipeline)
	})
}

func TestReachable(t *testing.T) {
	t.Parallel()

	p := &ast.Pipeline{ID: "p", Entry: "a", Steps: []*ast.Step{
		{ID: "a", Kind: ast.StepRouter, Routes: []ast.Route{
			{When: mustParse(t, "amount > 500"), Next: "high"},
		}, Default: "low"},
		{ID: "high", Kind: ast.StepRule, RuleRef: "r", Next: "end"},
		{ID: "low", Kind: ast.StepRule, RuleRef: "r", Next: "end"},
		{ID: "orphan", Kind: ast.StepRule, RuleRef: "r", Next: "end"},
	}}
	assert.Equal(t, []string{"a", "high", "low"}, Reachable(p))
}

func TestAnalyzePipeline(t *testing.T) {
	t.Parallel()

	p := &ast.Pipeline{
		ID:    "flow",
		Entry: "compute",
		Features: []*ast.FeatureDef{
			{Name: "velocity", Kind: ast.FeatureAggregate, Op: ast.AggCount},
		},
		Steps: []*ast.Step{
			{ID: "compute", Kind: ast.StepFeature, Feature: "velocity", Next: "decide"},
			{
				ID:   "decide",
				Kind: ast.StepRule,
				Rule: &ast.Rule{ID: "velocity_check", When: mustParse(t, "feature.velocity > 5"), Then: []ast.Effect{
					{Kind: ast.EffectAddScore, Score: mustParse(t, "0.4")},
				}},
				Next: "end",
			},
		},
	}
	a, err := AnalyzePipeline(p, NewScope())
	require.NoError(t, err)
	// Declared aggregates are numbers; the comparison typechecks.
	assert.Equal(t, TypeNumber, a.Symbols["feature.velocity"])
}
