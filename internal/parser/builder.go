package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/value"
)

// decode converts a raw YAML mapping into a typed definition struct.
func decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return &LoadError{Err: fmt.Errorf("%w: %s", ErrInvalidYAML, err)}
	}
	return nil
}

func buildRule(def *ruleDef) (*ast.Rule, error) {
	if def.ID == "" {
		return nil, loadErr("id", "non-empty string", "empty", ErrRuleIDRequired)
	}
	when, err := buildWhen(def.When)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", def.ID, err)
	}
	if when == nil {
		when = ast.True()
	}
	then, err := buildEffects(def.Then)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", def.ID, err)
	}
	els, err := buildEffects(def.Else)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", def.ID, err)
	}
	params, err := buildParams(def.Params)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", def.ID, err)
	}
	return &ast.Rule{
		ID:          def.ID,
		Description: def.Description,
		Params:      params,
		When:        when,
		Then:        then,
		Else:        els,
	}, nil
}

func buildParams(raw map[string]any) ([]ast.ParamSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make([]ast.ParamSpec, 0, len(raw))
	for name, spec := range raw {
		p := ast.ParamSpec{Name: name}
		switch s := spec.(type) {
		case string:
			p.Type = s
		case map[string]any:
			if t, ok := s["type"].(string); ok {
				p.Type = t
			}
			if d, ok := s["default"]; ok {
				p.Default = &ast.Literal{Value: value.FromAny(d)}
			}
		default:
			p.Default = &ast.Literal{Value: value.FromAny(spec)}
		}
		params = append(params, p)
	}
	return params, nil
}

// buildWhen accepts the shorthand string form or the structured all/any
// mapping. A nil input yields nil (caller decides the default).
func buildWhen(raw any) (ast.Expr, error) {
	switch w := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseCondition(w)
	case bool:
		if w {
			return ast.True(), nil
		}
		return ast.False(), nil
	case map[string]any:
		return buildConditionGroup(w)
	default:
		return nil, loadErr("when", "string or all/any mapping", fmt.Sprintf("%T", raw), ErrWhenMustBeStringOrMap)
	}
}

// buildConditionGroup folds all: into a conjunction and any: into a
// disjunction. Empty all is true; empty any is false.
func buildConditionGroup(raw map[string]any) (ast.Expr, error) {
	all, hasAll := raw["all"]
	anyOf, hasAny := raw["any"]
	if !hasAll && !hasAny {
		return nil, loadErr("when", "all: or any: key", keysOf(raw), ErrWhenMustBeStringOrMap)
	}
	var exprs []ast.Expr
	if hasAll {
		items, err := buildConditionList(all)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, foldConditions(items, ast.LogicalAnd, ast.True()))
	}
	if hasAny {
		items, err := buildConditionList(anyOf)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, foldConditions(items, ast.LogicalOr, ast.False()))
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return &ast.Logical{Op: ast.LogicalAnd, Left: exprs[0], Right: exprs[1]}, nil
}

func buildConditionList(raw any) ([]ast.Expr, error) {
	items, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, nil
		}
		single, err := buildWhen(raw)
		if err != nil {
			return nil, err
		}
		return []ast.Expr{single}, nil
	}
	exprs := make([]ast.Expr, 0, len(items))
	for _, item := range items {
		e, err := buildWhen(item)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

func foldConditions(items []ast.Expr, op ast.LogicalOp, empty ast.Expr) ast.Expr {
	if len(items) == 0 {
		return empty
	}
	expr := items[0]
	for _, item := range items[1:] {
		expr = &ast.Logical{Op: op, Left: expr, Right: item}
	}
	return expr
}

// buildEffects accepts a single effect mapping or a list of them.
func buildEffects(raw any) ([]ast.Effect, error) {
	switch e := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return buildEffectMap(e)
	case []any:
		var effects []ast.Effect
		for _, item := range e {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, loadErr("then", "effect mapping", fmt.Sprintf("%T", item), ErrEffectInvalid)
			}
			batch, err := buildEffectMap(m)
			if err != nil {
				return nil, err
			}
			effects = append(effects, batch...)
		}
		return effects, nil
	default:
		return nil, loadErr("then", "effect mapping or list", fmt.Sprintf("%T", raw), ErrEffectInvalid)
	}
}

func buildEffectMap(m map[string]any) ([]ast.Effect, error) {
	var effects []ast.Effect
	if sig, ok := m["emit_signal"]; ok {
		name, ok := sig.(string)
		if !ok {
			return nil, loadErr("emit_signal", "string", fmt.Sprintf("%T", sig), ErrEffectInvalid)
		}
		effects = append(effects, ast.Effect{Kind: ast.EffectEmitSignal, Signal: name})
	}
	if sigs, ok := m["emit_signals"].([]any); ok {
		for _, sig := range sigs {
			name, ok := sig.(string)
			if !ok {
				return nil, loadErr("emit_signals", "list of strings", fmt.Sprintf("%T", sig), ErrEffectInvalid)
			}
			effects = append(effects, ast.Effect{Kind: ast.EffectEmitSignal, Signal: name})
		}
	}
	if score, ok := m["add_score"]; ok {
		expr, err := buildValueExpr(score)
		if err != nil {
			return nil, fmt.Errorf("add_score: %w", err)
		}
		effects = append(effects, ast.Effect{Kind: ast.EffectAddScore, Score: expr})
	}
	if action, ok := m["set_action"]; ok {
		name, ok := action.(string)
		if !ok {
			return nil, loadErr("set_action", "string", fmt.Sprintf("%T", action), ErrEffectInvalid)
		}
		effects = append(effects, ast.Effect{Kind: ast.EffectSetAction, Action: name})
	}
	if fields, ok := m["set_fields"].(map[string]any); ok {
		for path, raw := range fields {
			expr, err := buildValueExpr(raw)
			if err != nil {
				return nil, fmt.Errorf("set_fields.%s: %w", path, err)
			}
			effects = append(effects, ast.Effect{Kind: ast.EffectSetField, Field: path, Value: expr})
		}
	}
	if len(effects) == 0 {
		return nil, loadErr("then", "emit_signal, add_score, set_action or set_fields", keysOf(m), ErrEffectInvalid)
	}
	return effects, nil
}

// buildValueExpr treats strings as condition-language expressions and
// everything else as literals.
func buildValueExpr(raw any) (ast.Expr, error) {
	if s, ok := raw.(string); ok {
		return ParseCondition(s)
	}
	return &ast.Literal{Value: value.FromAny(raw)}, nil
}

func buildRuleset(def *rulesetDef) (*ast.Ruleset, error) {
	if def.ID == "" {
		return nil, loadErr("id", "non-empty string", "empty", ErrRulesetIDRequired)
	}
	rs := &ast.Ruleset{ID: def.ID, Description: def.Description}
	for i := range def.Rules {
		rule, err := buildRule(&def.Rules[i])
		if err != nil {
			return nil, fmt.Errorf("ruleset %s: %w", def.ID, err)
		}
		rs.Rules = append(rs.Rules, rule)
	}
	logic := def.DecisionLogic
	if logic == nil {
		logic = def.Conclusion
	}
	if logic != nil {
		for _, c := range logic.Cases {
			when, err := buildWhen(c.When)
			if err != nil {
				return nil, fmt.Errorf("ruleset %s decision_logic: %w", def.ID, err)
			}
			rs.Cases = append(rs.Cases, ast.DecisionCase{When: when, Action: c.Action})
		}
		rs.DefaultAction = logic.Default
	}
	return rs, nil
}

func buildPipeline(def *pipelineDef) (*ast.Pipeline, error) {
	if def.ID == "" {
		return nil, loadErr("id", "non-empty string", "empty", ErrPipelineIDRequired)
	}
	if def.Entry == "" {
		return nil, loadErr("entry", "step id", "empty", ErrPipelineEntryRequired)
	}
	p := &ast.Pipeline{ID: def.ID, Entry: def.Entry}
	for i := range def.Steps {
		step, err := buildStep(&def.Steps[i])
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", def.ID, err)
		}
		p.Steps = append(p.Steps, step)
	}
	for i := range def.Features {
		feat, err := buildFeature(&def.Features[i])
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", def.ID, err)
		}
		p.Features = append(p.Features, feat)
	}
	return p, nil
}

func buildStep(def *stepDef) (*ast.Step, error) {
	if def.ID == "" {
		return nil, loadErr("steps[].id", "non-empty string", "empty", ErrStepIDRequired)
	}
	kind, err := stepKind(def)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", def.ID, err)
	}
	when, err := buildWhen(def.When)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", def.ID, err)
	}
	onError, err := buildOnError(def.OnError)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", def.ID, err)
	}
	step := &ast.Step{
		ID:      def.ID,
		Kind:    kind,
		When:    when,
		OnError: onError,
		Next:    def.Next,
		Default: def.Default,
	}
	for _, r := range def.Routes {
		cond, err := buildWhen(r.When)
		if err != nil {
			return nil, fmt.Errorf("step %s route: %w", def.ID, err)
		}
		step.Routes = append(step.Routes, ast.Route{When: cond, Next: r.Next})
	}
	switch kind {
	case ast.StepRule:
		if def.Rule != nil {
			rule, err := buildRule(def.Rule)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", def.ID, err)
			}
			step.Rule = rule
		}
		step.RuleRef = def.RuleRef
	case ast.StepRuleset:
		if def.Ruleset != nil {
			rs, err := buildRuleset(def.Ruleset)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", def.ID, err)
			}
			step.Ruleset = rs
		}
		step.SetRef = def.RulesetRef
	case ast.StepFeature:
		step.Feature = def.Feature
	case ast.StepServiceCall:
		svc, err := buildService(def.Service)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", def.ID, err)
		}
		step.Service = svc
	case ast.StepLLMCall:
		llm, err := buildLLM(def.LLM)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", def.ID, err)
		}
		step.LLM = llm
	case ast.StepBranch:
		for i := range def.Branches {
			b := def.Branches[i]
			sub, err := buildPipeline(&pipelineDef{ID: b.ID, Entry: b.Entry, Steps: b.Steps})
			if err != nil {
				return nil, fmt.Errorf("step %s branch: %w", def.ID, err)
			}
			step.Branches = append(step.Branches, sub)
		}
		merge, err := buildMerge(def.Merge)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", def.ID, err)
		}
		step.Merge = merge
	}
	return step, nil
}

func stepKind(def *stepDef) (ast.StepKind, error) {
	if def.Kind != "" {
		switch k := ast.StepKind(def.Kind); k {
		case ast.StepRule, ast.StepRuleset, ast.StepRouter, ast.StepBranch,
			ast.StepFeature, ast.StepServiceCall, ast.StepLLMCall:
			return k, nil
		default:
			return "", loadErr("kind", "rule|ruleset|router|branch|feature|service_call|llm_call", def.Kind, ErrStepKindRequired)
		}
	}
	// Infer the kind from the payload when omitted.
	switch {
	case len(def.Routes) > 0:
		return ast.StepRouter, nil
	case len(def.Branches) > 0:
		return ast.StepBranch, nil
	case def.Feature != "":
		return ast.StepFeature, nil
	case def.Service != nil:
		return ast.StepServiceCall, nil
	case def.LLM != nil:
		return ast.StepLLMCall, nil
	case def.Ruleset != nil || def.RulesetRef != "":
		return ast.StepRuleset, nil
	case def.Rule != nil || def.RuleRef != "":
		return ast.StepRule, nil
	default:
		return "", ErrStepKindRequired
	}
}

func buildOnError(raw any) (*ast.ErrorAction, error) {
	switch e := raw.(type) {
	case nil:
		return nil, nil
	case string:
		switch ast.ErrorActionKind(e) {
		case ast.ErrorFailFast, ast.ErrorSkip:
			return &ast.ErrorAction{Kind: ast.ErrorActionKind(e)}, nil
		default:
			return nil, loadErr("on_error", "fail_fast|skip|default_value|retry", e, ErrOnErrorInvalid)
		}
	case map[string]any:
		if retry, ok := e["retry"].(map[string]any); ok {
			action := &ast.ErrorAction{Kind: ast.ErrorRetry, Attempts: 1}
			if n, ok := asInt(retry["attempts"]); ok {
				action.Attempts = n
			}
			if ms, ok := asInt(retry["backoff_ms"]); ok {
				action.Backoff = time.Duration(ms) * time.Millisecond
			}
			if ms, ok := asInt(retry["deadline_ms"]); ok {
				action.Deadline = time.Duration(ms) * time.Millisecond
			}
			return action, nil
		}
		if dv, ok := e["default_value"]; ok {
			expr, err := buildValueExpr(dv)
			if err != nil {
				return nil, err
			}
			return &ast.ErrorAction{Kind: ast.ErrorDefaultValue, Default: expr}, nil
		}
		return nil, loadErr("on_error", "retry or default_value mapping", keysOf(e), ErrOnErrorInvalid)
	default:
		return nil, loadErr("on_error", "string or mapping", fmt.Sprintf("%T", raw), ErrOnErrorInvalid)
	}
}

func buildMerge(raw any) (*ast.MergeStrategy, error) {
	switch m := raw.(type) {
	case nil:
		return &ast.MergeStrategy{Kind: ast.MergeAll}, nil
	case string:
		switch k := ast.MergeKind(m); k {
		case ast.MergeAll, ast.MergeAny, ast.MergeFirst:
			return &ast.MergeStrategy{Kind: k}, nil
		default:
			return nil, loadErr("merge", "all|any|first|weighted", m, ErrMergeInvalid)
		}
	case map[string]any:
		weighted, ok := m["weighted"]
		if !ok {
			return nil, loadErr("merge", "weighted mapping", keysOf(m), ErrMergeInvalid)
		}
		spec, ok := weighted.(map[string]any)
		if !ok {
			return nil, loadErr("merge.weighted", "mapping with weights", fmt.Sprintf("%T", weighted), ErrMergeInvalid)
		}
		rawWeights, ok := spec["weights"].([]any)
		if !ok {
			return nil, loadErr("merge.weighted.weights", "list of numbers", fmt.Sprintf("%T", spec["weights"]), ErrMergeInvalid)
		}
		weights := make([]float64, 0, len(rawWeights))
		for _, w := range rawWeights {
			f, ok := asFloat(w)
			if !ok {
				return nil, loadErr("merge.weighted.weights", "number", fmt.Sprintf("%T", w), ErrMergeInvalid)
			}
			weights = append(weights, f)
		}
		return &ast.MergeStrategy{Kind: ast.MergeWeighted, Weights: weights}, nil
	default:
		return nil, loadErr("merge", "string or mapping", fmt.Sprintf("%T", raw), ErrMergeInvalid)
	}
}

func buildService(def *serviceDef) (*ast.ServiceSpec, error) {
	if def == nil || def.URL == "" {
		return nil, loadErr("service.url", "non-empty URL", "empty", ErrInvalidYAML)
	}
	spec := &ast.ServiceSpec{
		Name:    def.Name,
		URL:     def.URL,
		Method:  strings.ToUpper(def.Method),
		Timeout: time.Duration(def.TimeoutSec) * time.Second,
	}
	if spec.Method == "" {
		spec.Method = "POST"
	}
	if len(def.Payload) > 0 {
		spec.Payload = make(map[string]ast.Expr, len(def.Payload))
		for k, raw := range def.Payload {
			expr, err := buildValueExpr(raw)
			if err != nil {
				return nil, fmt.Errorf("service payload %s: %w", k, err)
			}
			spec.Payload[k] = expr
		}
	}
	return spec, nil
}

func buildLLM(def *llmDef) (*ast.LLMSpec, error) {
	if def == nil || def.Prompt == "" {
		return nil, loadErr("llm.prompt", "non-empty template", "empty", ErrInvalidYAML)
	}
	prompt, err := ParseTemplate(def.Prompt)
	if err != nil {
		return nil, err
	}
	out := def.Output
	if out == "" {
		out = "feature.llm_response"
	}
	return &ast.LLMSpec{Model: def.Model, Prompt: prompt, Output: out}, nil
}

func buildFeature(def *featureDef) (*ast.FeatureDef, error) {
	if def.Name == "" {
		return nil, loadErr("features[].name", "non-empty string", "empty", ErrFeatureInvalid)
	}
	feat := &ast.FeatureDef{Name: def.Name, Kind: ast.FeatureKind(def.Kind)}
	cache, err := buildCache(def.Cache, def.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("feature %s: %w", def.Name, err)
	}
	feat.Cache = cache
	switch feat.Kind {
	case ast.FeatureDerived:
		if def.Expr == "" {
			return nil, loadErr("features[].expr", "expression", "empty", ErrFeatureInvalid)
		}
		expr, err := ParseCondition(def.Expr)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", def.Name, err)
		}
		feat.Expr = expr
	case ast.FeatureAggregate:
		switch op := ast.AggregateOp(def.Agg); op {
		case ast.AggCount, ast.AggSum, ast.AggMin, ast.AggMax, ast.AggAvg:
			feat.Op = op
		default:
			return nil, loadErr("features[].agg", "count|sum|min|max|avg", def.Agg, ErrFeatureInvalid)
		}
		feat.Field = def.Field
		window, err := parseWindow(def.Window)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", def.Name, err)
		}
		feat.Window = window
		feat.Table = def.Table
		if feat.Table == "" {
			feat.Table = "events"
		}
		if def.Filter != "" {
			filter, err := ParseCondition(def.Filter)
			if err != nil {
				return nil, fmt.Errorf("feature %s filter: %w", def.Name, err)
			}
			feat.Filter = filter
		}
	case ast.FeatureLookup:
		if def.Table == "" || def.Key == "" {
			return nil, loadErr("features[]", "table and key", "missing", ErrFeatureInvalid)
		}
		feat.Table = def.Table
		key, err := ParseCondition(def.Key)
		if err != nil {
			return nil, fmt.Errorf("feature %s key: %w", def.Name, err)
		}
		feat.Key = key
	default:
		return nil, loadErr("features[].kind", "derived|aggregate|lookup", def.Kind, ErrFeatureInvalid)
	}
	return feat, nil
}

func buildCache(kind, ttl string) (ast.CachePolicy, error) {
	switch kind {
	case "", "none":
		return ast.CachePolicy{Kind: ast.CacheNone}, nil
	case "request":
		return ast.CachePolicy{Kind: ast.CacheRequestScoped}, nil
	case "ttl":
		d, err := parseWindow(ttl)
		if err != nil {
			return ast.CachePolicy{}, loadErr("features[].cache_ttl", "duration", ttl, ErrFeatureInvalid)
		}
		return ast.CachePolicy{Kind: ast.CacheTTL, TTL: d}, nil
	default:
		return ast.CachePolicy{}, loadErr("features[].cache", "none|ttl|request", kind, ErrFeatureInvalid)
	}
}

// parseWindow parses a duration, additionally accepting a "d" suffix for
// days, which time.ParseDuration does not.
func parseWindow(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrFeatureInvalid)
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func buildRegistry(def *registryDef) (*ast.Registry, error) {
	if len(def.Entries) == 0 {
		return nil, loadErr("entries", "non-empty list", "empty", ErrRegistryEntriesRequired)
	}
	reg := &ast.Registry{ID: def.ID}
	for _, e := range def.Entries {
		if e.EventKind == "" || e.Program == "" {
			return nil, loadErr("entries[]", "event_kind and program", "missing", ErrRegistryEntriesRequired)
		}
		reg.Entries = append(reg.Entries, ast.RegistryEntry{EventKind: e.EventKind, Program: e.Program})
	}
	return reg, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func keysOf(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return strings.Join(keys, ",")
}
