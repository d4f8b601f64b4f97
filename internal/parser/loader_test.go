package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corintai/corint/internal/ast"
)

func TestLoadYAMLMultiDocument(t *testing.T) {
	t.Parallel()

	src := []byte(`
kind: rule
id: high_amount
when: amount > 1000
then:
  add_score: 1.0
  set_action: block
  emit_signal: high_amount
---
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
---
kind: pipeline
id: card_flow
entry: screen
steps:
  - id: screen
    rule_ref: high_amount
---
kind: registry
id: main
entries:
  - event_kind: card_payment
    program: card_flow
`)
	repo, err := LoadYAML(src)
	require.NoError(t, err)
	require.Len(t, repo.Documents, 4)

	rules := repo.DocumentsOfKind(ast.KindRule)
	require.Len(t, rules, 1)
	assert.Equal(t, "high_amount", rules[0].Rule.ID)
	require.Len(t, rules[0].Rule.Then, 3)

	rulesets := repo.DocumentsOfKind(ast.KindRuleset)
	require.Len(t, rulesets, 1)
	rs := rulesets[0].Ruleset
	assert.Equal(t, "card_checks", rs.ID)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, "A", rs.Rules[0].ID)
	require.Len(t, rs.Cases, 1)
	assert.Equal(t, "review", rs.Cases[0].Action)
	assert.Equal(t, "approve", rs.DefaultAction)

	pipelines := repo.DocumentsOfKind(ast.KindPipeline)
	require.Len(t, pipelines, 1)
	p := pipelines[0].Pipeline
	assert.Equal(t, "screen", p.Entry)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, ast.StepRule, p.Steps[0].Kind)
	assert.Equal(t, "high_amount", p.Steps[0].RuleRef)

	registries := repo.DocumentsOfKind(ast.KindRegistry)
	require.Len(t, registries, 1)
	require.Len(t, registries[0].Registry.Entries, 1)
	assert.Equal(t, "card_payment", registries[0].Registry.Entries[0].EventKind)
}

func TestLoadYAMLTemplateMerge(t *testing.T) {
	t.Parallel()

	// The document's own fields win over template-provided ones.
	src := []byte(`
kind: template
id: scoring_rule
body:
  description: from template
  then:
    add_score: 0.1
---
kind: rule
id: velocity
template: scoring_rule
when: attempts > 3
`)
	repo, err := LoadYAML(src)
	require.NoError(t, err)

	rules := repo.DocumentsOfKind(ast.KindRule)
	require.Len(t, rules, 1)
	rule := rules[0].Rule
	assert.Equal(t, "velocity", rule.ID)
	assert.Equal(t, "from template", rule.Description)
	require.Len(t, rule.Then, 1)
	assert.Equal(t, ast.EffectAddScore, rule.Then[0].Kind)
}

func TestLoadYAMLTemplateOrderIndependent(t *testing.T) {
	t.Parallel()

	// A template declared after its referrer still applies: templates are
	// collected in a first pass.
	src := []byte(`
kind: rule
id: velocity
template: scoring_rule
when: attempts > 3
---
kind: template
id: scoring_rule
body:
  then:
    add_score: 0.1
`)
	repo, err := LoadYAML(src)
	require.NoError(t, err)
	rules := repo.DocumentsOfKind(ast.KindRule)
	require.Len(t, rules, 1)
	require.Len(t, rules[0].Rule.Then, 1)
}

func TestLoadYAMLDecisionTemplateWarning(t *testing.T) {
	t.Parallel()

	src := []byte(`
kind: rule
id: r1
decision_template: legacy
when: amount > 1
then:
  add_score: 1.0
`)
	repo, err := LoadYAML(src)
	require.NoError(t, err)
	require.Len(t, repo.Warnings, 1)
	assert.Contains(t, repo.Warnings[0], "decision_template")
	require.Len(t, repo.Documents, 1)
}

func TestLoadYAMLErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantErr error
	}{
		{
			name:    "missingKind",
			src:     "id: r1\nwhen: amount > 1\n",
			wantErr: ErrMissingKind,
		},
		{
			name:    "unknownKind",
			src:     "kind: widget\nid: w1\n",
			wantErr: ErrUnknownKind,
		},
		{
			name:    "unknownTemplate",
			src:     "kind: rule\nid: r1\ntemplate: nope\nwhen: amount > 1\nthen:\n  add_score: 1.0\n",
			wantErr: ErrUnknownTemplate,
		},
		{
			name:    "ruleWithoutID",
			src:     "kind: rule\nwhen: amount > 1\nthen:\n  add_score: 1.0\n",
			wantErr: ErrRuleIDRequired,
		},
		{
			name:    "pipelineWithoutEntry",
			src:     "kind: pipeline\nid: p1\nsteps:\n  - id: s1\n    rule_ref: r1\n",
			wantErr: ErrPipelineEntryRequired,
		},
		{
			name:    "stepWithoutPayload",
			src:     "kind: pipeline\nid: p1\nentry: s1\nsteps:\n  - id: s1\n",
			wantErr: ErrStepKindRequired,
		},
		{
			name:    "invalidOnError",
			src:     "kind: pipeline\nid: p1\nentry: s1\nsteps:\n  - id: s1\n    rule_ref: r1\n    on_error: explode\n",
			wantErr: ErrOnErrorInvalid,
		},
		{
			name:    "badConditionExpression",
			src:     "kind: rule\nid: r1\nwhen: 'amount >'\nthen:\n  add_score: 1.0\n",
			wantErr: ErrInvalidExpression,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadYAML([]byte(tc.src))
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLoadRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "rules.yaml", `
kind: rule
id: high_amount
when: amount > 1000
then:
  add_score: 1.0
`)
	writeFile(t, dir, "flow.yaml", `
include: rules.yaml
---
kind: pipeline
id: card_flow
entry: screen
steps:
  - id: screen
    rule_ref: high_amount
`)

	repo, err := LoadRoot(dir)
	require.NoError(t, err)
	// The rule contributes once even though it is both walked and included.
	assert.Len(t, repo.DocumentsOfKind(ast.KindRule), 1)
	assert.Len(t, repo.DocumentsOfKind(ast.KindPipeline), 1)
}

func TestLoadRootCyclicInclude(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: b.yaml\n---\nkind: rule\nid: a\nthen:\n  add_score: 1.0\n")
	writeFile(t, dir, "b.yaml", "include: a.yaml\n---\nkind: rule\nid: b\nthen:\n  add_score: 1.0\n")

	_, err := LoadRoot(dir)
	var cycleErr *CyclicImportError
	require.ErrorAs(t, err, &cycleErr)
	assert.GreaterOrEqual(t, len(cycleErr.Cycle), 2)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}
