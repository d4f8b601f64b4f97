// Package compiler lowers AST documents into immutable stack-machine
// programs. Every compile failure is surfaced at load time; Decide only ever
// sees programs that compiled cleanly.
package compiler

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/corintai/corint/internal/analyzer"
	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/parser"
)

// Compiler lowers documents of one repository. Shared rule and ruleset
// documents are resolvable by id from pipeline steps.
type Compiler struct {
	rules    map[string]*ast.Rule
	rulesets map[string]*ast.Ruleset
}

// New builds a compiler over a parsed repository. A nil repository yields a
// compiler without shared documents, which suits single-document use.
func New(repo *parser.Repository) *Compiler {
	c := &Compiler{
		rules:    map[string]*ast.Rule{},
		rulesets: map[string]*ast.Ruleset{},
	}
	if repo == nil {
		return c
	}
	for _, doc := range repo.Documents {
		switch doc.Kind {
		case ast.KindRule:
			c.rules[doc.Rule.ID] = doc.Rule
		case ast.KindRuleset:
			c.rulesets[doc.Ruleset.ID] = doc.Ruleset
		}
	}
	return c
}

// CompileAll compiles every rule, ruleset, and pipeline document of the
// repository, keyed by document id.
func (c *Compiler) CompileAll(repo *parser.Repository) (map[string]*ir.Program, error) {
	programs := map[string]*ir.Program{}
	for _, doc := range repo.Documents {
		var (
			prog *ir.Program
			err  error
		)
		switch doc.Kind {
		case ast.KindRule:
			prog, err = c.CompileRule(doc.Rule)
		case ast.KindRuleset:
			prog, err = c.CompileRuleset(doc.Ruleset)
		case ast.KindPipeline:
			prog, err = c.CompilePipeline(doc.Pipeline)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, dup := programs[prog.Meta.ID]; dup {
			return nil, internalf(prog.Meta.ID, "duplicate program id")
		}
		programs[prog.Meta.ID] = prog
	}
	return programs, nil
}

// CompileRule compiles a standalone rule program.
func (c *Compiler) CompileRule(rule *ast.Rule) (*ir.Program, error) {
	a, err := analyzer.AnalyzeRule(rule, analyzer.NewScope())
	if err != nil {
		return nil, wrap(rule.ID, err)
	}
	g := &codegen{program: rule.ID}
	if err := g.compileRuleBlock(rule); err != nil {
		return nil, wrap(rule.ID, err)
	}
	g.emit(ir.Instruction{Op: ir.OpHalt})
	return &ir.Program{
		Meta: ir.Metadata{
			ID:      rule.ID,
			Kind:    ir.ProgramRule,
			Symbols: symbolTable(a),
		},
		Code: g.code,
	}, nil
}

// CompileRuleset compiles an ordered rule sequence plus its decision logic.
func (c *Compiler) CompileRuleset(rs *ast.Ruleset) (*ir.Program, error) {
	a, err := analyzer.AnalyzeRuleset(rs, analyzer.NewScope())
	if err != nil {
		return nil, wrap(rs.ID, err)
	}
	g := &codegen{program: rs.ID}
	for _, rule := range rs.Rules {
		if err := g.compileRuleBlock(rule); err != nil {
			return nil, wrap(rs.ID, err)
		}
	}
	if err := g.compileDecisionLogic(rs); err != nil {
		return nil, wrap(rs.ID, err)
	}
	g.emit(ir.Instruction{Op: ir.OpHalt})
	return &ir.Program{
		Meta: ir.Metadata{
			ID:      rs.ID,
			Kind:    ir.ProgramRuleset,
			Symbols: symbolTable(a),
		},
		Code: g.code,
	}, nil
}

// CompilePipeline compiles a step DAG. Steps are lowered in topological
// order from the entry, then any declared-but-unreachable steps follow in
// declaration order so their ids still resolve.
func (c *Compiler) CompilePipeline(p *ast.Pipeline) (*ir.Program, error) {
	a, err := analyzer.AnalyzePipeline(p, analyzer.NewScope())
	if err != nil {
		return nil, wrap(p.ID, err)
	}
	g := &codegen{program: p.ID}
	meta := ir.Metadata{
		ID:        p.ID,
		Kind:      ir.ProgramPipeline,
		Symbols:   symbolTable(a),
		EntryStep: p.Entry,
		Features:  map[string]*ir.Feature{},
	}

	for _, f := range p.Features {
		feat, err := g.compileFeature(f)
		if err != nil {
			return nil, wrap(p.ID, err)
		}
		meta.Features[f.Name] = feat
	}

	order := analyzer.Reachable(p)
	for _, step := range p.Steps {
		if !lo.Contains(order, step.ID) {
			order = append(order, step.ID)
		}
	}
	for _, id := range order {
		step, _ := p.StepByID(id)
		compiled, err := c.compileStep(g, step)
		if err != nil {
			return nil, wrap(p.ID, err)
		}
		meta.Steps = append(meta.Steps, compiled)
	}

	return &ir.Program{Meta: meta, Code: g.code}, nil
}

// compileRuleBlock lowers one rule: condition, JumpIfFalse over the then
// effects, then effects, optional else effects.
func (g *codegen) compileRuleBlock(rule *ast.Rule) error {
	when := substituteParams(rule.When, rule.Params)

	exprs := []ast.Expr{when}
	for _, eff := range rule.Then {
		exprs = append(exprs, substituteParams(effectExpr(eff), rule.Params))
	}
	for _, eff := range rule.Else {
		exprs = append(exprs, substituteParams(effectExpr(eff), rule.Params))
	}
	exprs = lo.Map(exprs, func(e ast.Expr, _ int) ast.Expr { return foldExpr(e) })
	exprs = eliminateCommon(rule.ID, exprs)

	start := g.here()
	if err := g.compileExpr(exprs[0]); err != nil {
		return err
	}
	elseJump := g.reserveJump(ir.OpJumpIfFalse)

	g.emit(ir.Instruction{Op: ir.OpMarkTriggered, Sym: rule.ID})
	for i, eff := range rule.Then {
		if err := g.compileEffect(eff, exprs[1+i]); err != nil {
			return err
		}
	}
	endJump := g.reserveJump(ir.OpJump)
	g.patch(elseJump, g.here())
	for i, eff := range rule.Else {
		if err := g.compileEffect(eff, exprs[1+len(rule.Then)+i]); err != nil {
			return err
		}
	}
	g.patch(endJump, g.here())

	eliminateDeadTail(g.code, start, g.here())
	return nil
}

// effectExpr returns the expression operand of an effect, or nil.
func effectExpr(eff ast.Effect) ast.Expr {
	switch eff.Kind {
	case ast.EffectAddScore:
		return eff.Score
	case ast.EffectSetField:
		return eff.Value
	default:
		return nil
	}
}

func (g *codegen) compileEffect(eff ast.Effect, operand ast.Expr) error {
	switch eff.Kind {
	case ast.EffectEmitSignal:
		g.emit(ir.Instruction{Op: ir.OpEmitSignal, Sym: eff.Signal})
	case ast.EffectAddScore:
		if err := g.compileExpr(operand); err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpAddScore})
	case ast.EffectSetAction:
		g.emit(ir.Instruction{Op: ir.OpSetAction, Sym: eff.Action})
	case ast.EffectSetField:
		if err := g.compileExpr(operand); err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpStoreField, Sym: featurePath(eff.Field)})
	default:
		return internalf(g.program, "unknown effect %q", eff.Kind)
	}
	return nil
}

// decisionVars maps the in-flight result names a conclusion case reads onto
// reserved paths the VM resolves from the accumulated delta. The "@" prefix
// cannot be written in the condition language, so event fields named score
// or signals stay reachable everywhere outside decision logic.
var decisionVars = map[string]string{
	"score":           "@score",
	"action":          "@action",
	"signals":         "@signals",
	"triggered_rules": "@triggered_rules",
}

func bindDecisionVars(e ast.Expr) ast.Expr {
	switch n := e.(type) {
	case *ast.VarRef:
		if reserved, ok := decisionVars[n.Path]; ok {
			return &ast.VarRef{Path: reserved}
		}
		return n
	case *ast.Unary:
		return &ast.Unary{Op: n.Op, Operand: bindDecisionVars(n.Operand)}
	case *ast.Binary:
		return &ast.Binary{Op: n.Op, Left: bindDecisionVars(n.Left), Right: bindDecisionVars(n.Right)}
	case *ast.Compare:
		return &ast.Compare{Op: n.Op, Left: bindDecisionVars(n.Left), Right: bindDecisionVars(n.Right)}
	case *ast.Logical:
		return &ast.Logical{Op: n.Op, Left: bindDecisionVars(n.Left), Right: bindDecisionVars(n.Right)}
	case *ast.Ternary:
		return &ast.Ternary{Cond: bindDecisionVars(n.Cond), Then: bindDecisionVars(n.Then), Else: bindDecisionVars(n.Else)}
	case *ast.Call:
		args := make([]ast.Expr, len(n.Args))
		for i, arg := range n.Args {
			args[i] = bindDecisionVars(arg)
		}
		return &ast.Call{Name: n.Name, Args: args}
	default:
		return e
	}
}

// compileDecisionLogic lowers the conclusion section: an ordered case chain
// over accumulated signals and score, falling through to the default.
func (g *codegen) compileDecisionLogic(rs *ast.Ruleset) error {
	var endJumps []int
	for _, c := range rs.Cases {
		when := c.When
		if when == nil {
			when = ast.True()
		}
		if err := g.compileExpr(foldExpr(bindDecisionVars(when))); err != nil {
			return err
		}
		skip := g.reserveJump(ir.OpJumpIfFalse)
		g.emit(ir.Instruction{Op: ir.OpSetAction, Sym: c.Action})
		endJumps = append(endJumps, g.reserveJump(ir.OpJump))
		g.patch(skip, g.here())
	}
	if rs.DefaultAction != "" {
		g.emit(ir.Instruction{Op: ir.OpSetAction, Sym: rs.DefaultAction})
	}
	for _, j := range endJumps {
		g.patch(j, g.here())
	}
	return nil
}

// compileStep lowers one pipeline step into its guard block, body block, and
// route condition blocks, producing the step-table entry the driver follows.
func (c *Compiler) compileStep(g *codegen, step *ast.Step) (*ir.Step, error) {
	guard, err := g.compileGuard(foldIfSet(step.When))
	if err != nil {
		return nil, err
	}
	compiled := &ir.Step{
		ID:         step.ID,
		Kind:       ir.StepKind(step.Kind),
		GuardEntry: guard,
		BodyEntry:  -1,
		Next:       step.Next,
		Default:    step.Default,
	}

	if step.OnError != nil {
		policy := &ir.ErrorPolicy{
			Kind:         ir.ErrorPolicyKind(step.OnError.Kind),
			Attempts:     step.OnError.Attempts,
			Backoff:      step.OnError.Backoff,
			Deadline:     step.OnError.Deadline,
			DefaultEntry: -1,
		}
		if step.OnError.Kind == ast.ErrorDefaultValue && step.OnError.Default != nil {
			entry, err := g.compileExprBlock(foldExpr(step.OnError.Default))
			if err != nil {
				return nil, err
			}
			policy.DefaultEntry = entry
		}
		compiled.OnError = policy
	}

	for _, route := range step.Routes {
		when := route.When
		if when == nil {
			when = ast.True()
		}
		entry, err := g.compileExprBlock(foldExpr(when))
		if err != nil {
			return nil, err
		}
		compiled.Routes = append(compiled.Routes, ir.Route{CondEntry: entry, Next: route.Next})
	}

	switch step.Kind {
	case ast.StepRule:
		rule := step.Rule
		if rule == nil {
			shared, ok := c.rules[step.RuleRef]
			if !ok {
				return nil, wrap(g.program, fmt.Errorf("%w: rule %q", analyzer.ErrUndefinedSymbol, step.RuleRef))
			}
			rule = shared
		}
		entry := g.here()
		if err := g.compileRuleBlock(rule); err != nil {
			return nil, err
		}
		g.emit(ir.Instruction{Op: ir.OpHalt})
		compiled.BodyEntry = entry

	case ast.StepRuleset:
		rs := step.Ruleset
		if rs == nil {
			shared, ok := c.rulesets[step.SetRef]
			if !ok {
				return nil, wrap(g.program, fmt.Errorf("%w: ruleset %q", analyzer.ErrUndefinedSymbol, step.SetRef))
			}
			rs = shared
		}
		entry := g.here()
		for _, rule := range rs.Rules {
			if err := g.compileRuleBlock(rule); err != nil {
				return nil, err
			}
		}
		if err := g.compileDecisionLogic(rs); err != nil {
			return nil, err
		}
		g.emit(ir.Instruction{Op: ir.OpHalt})
		compiled.BodyEntry = entry

	case ast.StepFeature:
		if step.Feature == "" {
			return nil, unsupported(g.program, "feature step without a feature name")
		}
		entry := g.here()
		g.emit(ir.Instruction{Op: ir.OpCallFeature, Sym: step.Feature})
		g.emit(ir.Instruction{Op: ir.OpPop})
		g.emit(ir.Instruction{Op: ir.OpHalt})
		compiled.BodyEntry = entry
		compiled.Feature = step.Feature

	case ast.StepServiceCall:
		svc := &ir.ServiceCall{
			Name:    step.Service.Name,
			URL:     step.Service.URL,
			Method:  step.Service.Method,
			Timeout: step.Service.Timeout,
			Payload: map[string]int{},
		}
		for k, e := range step.Service.Payload {
			entry, err := g.compileExprBlock(foldExpr(e))
			if err != nil {
				return nil, err
			}
			svc.Payload[k] = entry
		}
		entry := g.here()
		g.emit(ir.Instruction{Op: ir.OpCallService, Sym: step.ID})
		g.emit(ir.Instruction{Op: ir.OpStoreField, Sym: featurePath(step.ID)})
		g.emit(ir.Instruction{Op: ir.OpHalt})
		compiled.BodyEntry = entry
		compiled.Service = svc

	case ast.StepLLMCall:
		promptEntry, err := g.compileExprBlock(step.LLM.Prompt)
		if err != nil {
			return nil, err
		}
		entry := g.here()
		g.emit(ir.Instruction{Op: ir.OpCallLLM, Sym: step.ID})
		g.emit(ir.Instruction{Op: ir.OpStoreField, Sym: featurePath(step.LLM.Output)})
		g.emit(ir.Instruction{Op: ir.OpHalt})
		compiled.BodyEntry = entry
		compiled.LLM = &ir.LLMCall{
			Model:       step.LLM.Model,
			PromptEntry: promptEntry,
			Output:      featurePath(step.LLM.Output),
		}

	case ast.StepBranch:
		for _, sub := range step.Branches {
			subProg, err := c.CompilePipeline(sub)
			if err != nil {
				return nil, err
			}
			compiled.Branches = append(compiled.Branches, subProg)
		}
		merge := step.Merge
		if merge == nil {
			merge = &ast.MergeStrategy{Kind: ast.MergeAll}
		}
		if merge.Kind == ast.MergeWeighted && len(merge.Weights) != len(step.Branches) {
			return nil, unsupported(g.program,
				fmt.Sprintf("weighted merge declares %d weights for %d branches", len(merge.Weights), len(step.Branches)))
		}
		compiled.Merge = &ir.Merge{Kind: ir.MergeKind(merge.Kind), Weights: merge.Weights}

	case ast.StepRouter:
		// Routes compiled above; the driver walks them in declaration order.

	default:
		return nil, unsupported(g.program, "step kind "+string(step.Kind))
	}

	return compiled, nil
}

func (g *codegen) compileFeature(f *ast.FeatureDef) (*ir.Feature, error) {
	feat := &ir.Feature{
		Name:         f.Name,
		Kind:         string(f.Kind),
		DerivedEntry: -1,
		Cache:        ir.CacheSpec{Kind: string(f.Cache.Kind), TTL: f.Cache.TTL},
	}
	switch f.Kind {
	case ast.FeatureDerived:
		entry, err := g.compileExprBlock(foldExpr(f.Expr))
		if err != nil {
			return nil, err
		}
		feat.DerivedEntry = entry
	case ast.FeatureAggregate:
		spec := &ir.AggregateSpec{
			Op:          string(f.Op),
			Table:       f.Table,
			Field:       f.Field,
			Window:      f.Window,
			FilterEntry: -1,
		}
		if f.Filter != nil {
			entry, err := g.compileExprBlock(foldExpr(f.Filter))
			if err != nil {
				return nil, err
			}
			spec.FilterEntry = entry
		}
		feat.Aggregate = spec
	case ast.FeatureLookup:
		entry, err := g.compileExprBlock(foldExpr(f.Key))
		if err != nil {
			return nil, err
		}
		feat.Lookup = &ir.LookupSpec{Table: f.Table, KeyEntry: entry}
	}
	return feat, nil
}

// substituteParams replaces params.<name> references with the declared
// default literal. Parameters without defaults stay as references and
// resolve to Null at runtime.
func substituteParams(e ast.Expr, params []ast.ParamSpec) ast.Expr {
	if e == nil || len(params) == 0 {
		return e
	}
	defaults := map[string]ast.Expr{}
	for _, p := range params {
		if p.Default != nil {
			defaults["params."+p.Name] = p.Default
		}
	}
	if len(defaults) == 0 {
		return e
	}
	var rewrite func(ast.Expr) ast.Expr
	rewrite = func(e ast.Expr) ast.Expr {
		switch n := e.(type) {
		case *ast.VarRef:
			if d, ok := defaults[n.Path]; ok {
				return d
			}
			return n
		case *ast.Unary:
			return &ast.Unary{Op: n.Op, Operand: rewrite(n.Operand)}
		case *ast.Binary:
			return &ast.Binary{Op: n.Op, Left: rewrite(n.Left), Right: rewrite(n.Right)}
		case *ast.Logical:
			return &ast.Logical{Op: n.Op, Left: rewrite(n.Left), Right: rewrite(n.Right)}
		case *ast.Compare:
			return &ast.Compare{Op: n.Op, Left: rewrite(n.Left), Right: rewrite(n.Right)}
		case *ast.Ternary:
			return &ast.Ternary{Cond: rewrite(n.Cond), Then: rewrite(n.Then), Else: rewrite(n.Else)}
		case *ast.Call:
			args := make([]ast.Expr, len(n.Args))
			for i, arg := range n.Args {
				args[i] = rewrite(arg)
			}
			return &ast.Call{Name: n.Name, Args: args}
		default:
			return e
		}
	}
	return rewrite(e)
}

func foldIfSet(e ast.Expr) ast.Expr {
	if e == nil {
		return nil
	}
	return foldExpr(e)
}

// featurePath normalizes a write target into the feature namespace unless
// it already carries a writable prefix.
func featurePath(path string) string {
	if strings.HasPrefix(path, "feature.") || strings.HasPrefix(path, "synthetic.") {
		return path
	}
	return "feature." + path
}

func symbolTable(a *analyzer.Analysis) []ir.Symbol {
	symbols := make([]ir.Symbol, 0, len(a.Symbols))
	for _, path := range a.SortedSymbols() {
		symbols = append(symbols, ir.Symbol{Path: path, Type: string(a.Symbols[path])})
	}
	return symbols
}
