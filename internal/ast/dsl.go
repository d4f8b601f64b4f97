package ast

import "time"

// DocumentKind is the top-level kind tag of a DSL document.
type DocumentKind string

const (
	KindRule     DocumentKind = "rule"
	KindRuleset  DocumentKind = "ruleset"
	KindPipeline DocumentKind = "pipeline"
	KindRegistry DocumentKind = "registry"
	KindTemplate DocumentKind = "template"
)

// Document is one parsed DSL document. Exactly one of the payload fields is
// set, matching Kind.
type Document struct {
	Kind     DocumentKind
	Source   string // origin file, empty for in-memory sources
	Rule     *Rule
	Ruleset  *Ruleset
	Pipeline *Pipeline
	Registry *Registry
	Template *TemplateDoc
}

// ParamSpec declares a rule parameter with an optional default.
type ParamSpec struct {
	Name    string
	Type    string
	Default Expr
}

// EffectKind discriminates rule effects.
type EffectKind string

const (
	EffectEmitSignal EffectKind = "emit_signal"
	EffectAddScore   EffectKind = "add_score"
	EffectSetAction  EffectKind = "set_action"
	EffectSetField   EffectKind = "set_field"
)

// Effect is one entry of a rule's then/else block.
type Effect struct {
	Kind   EffectKind
	Signal string // emit_signal
	Score  Expr   // add_score
	Action string // set_action
	Field  string // set_field target path
	Value  Expr   // set_field value
}

// Rule is a pure predicate plus a small effect list.
type Rule struct {
	ID          string
	Description string
	Params      []ParamSpec
	When        Expr
	Then        []Effect
	Else        []Effect
}

// DecisionCase maps a condition on accumulated signals/score to an action.
type DecisionCase struct {
	When   Expr
	Action string
}

// Ruleset is an ordered list of rules plus decision logic.
type Ruleset struct {
	ID            string
	Description   string
	Rules         []*Rule
	Cases         []DecisionCase
	DefaultAction string
}

// StepKind discriminates pipeline steps.
type StepKind string

const (
	StepRule        StepKind = "rule"
	StepRuleset     StepKind = "ruleset"
	StepRouter      StepKind = "router"
	StepBranch      StepKind = "branch"
	StepFeature     StepKind = "feature"
	StepServiceCall StepKind = "service_call"
	StepLLMCall     StepKind = "llm_call"
)

// EndStepID is the reserved terminal successor.
const EndStepID = "end"

// ErrorActionKind is a step's on_error policy.
type ErrorActionKind string

const (
	ErrorFailFast     ErrorActionKind = "fail_fast"
	ErrorSkip         ErrorActionKind = "skip"
	ErrorDefaultValue ErrorActionKind = "default_value"
	ErrorRetry        ErrorActionKind = "retry"
)

// ErrorAction configures how a step failure is handled.
type ErrorAction struct {
	Kind     ErrorActionKind
	Attempts int
	Backoff  time.Duration
	Deadline time.Duration // per-step retry deadline bound
	Default  Expr          // default_value binding
}

// Route is one router arm.
type Route struct {
	When Expr
	Next string
}

// MergeKind selects the branch join rule.
type MergeKind string

const (
	MergeAll      MergeKind = "all"
	MergeAny      MergeKind = "any"
	MergeFirst    MergeKind = "first"
	MergeWeighted MergeKind = "weighted"
)

// MergeStrategy describes how forked branch results are combined.
type MergeStrategy struct {
	Kind    MergeKind
	Weights []float64 // weighted only, by branch index
}

// FeatureKind discriminates feature definitions.
type FeatureKind string

const (
	FeatureDerived   FeatureKind = "derived"
	FeatureAggregate FeatureKind = "aggregate"
	FeatureLookup    FeatureKind = "lookup"
)

// AggregateOp is an aggregation function over a time window.
type AggregateOp string

const (
	AggCount AggregateOp = "count"
	AggSum   AggregateOp = "sum"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
	AggAvg   AggregateOp = "avg"
)

// CacheKind selects the feature cache strategy.
type CacheKind string

const (
	CacheNone          CacheKind = "none"
	CacheTTL           CacheKind = "ttl"
	CacheRequestScoped CacheKind = "request"
)

// CachePolicy is a feature's cache strategy.
type CachePolicy struct {
	Kind CacheKind
	TTL  time.Duration
}

// FeatureDef declares a computable feature.
type FeatureDef struct {
	Name   string
	Kind   FeatureKind
	Expr   Expr        // derived
	Op     AggregateOp // aggregate
	Field  string      // aggregate source field
	Window time.Duration
	Filter Expr   // aggregate row filter
	Table  string // lookup source table
	Key    Expr   // lookup key expression
	Cache  CachePolicy
}

// ServiceSpec configures a service_call step.
type ServiceSpec struct {
	Name    string
	URL     string
	Method  string
	Payload map[string]Expr
	Timeout time.Duration
}

// LLMSpec configures an llm_call step.
type LLMSpec struct {
	Model  string
	Prompt *Template
	Output string // feature path the response is bound to
}

// Step is one node of a pipeline DAG.
type Step struct {
	ID      string
	Kind    StepKind
	When    Expr // inline guard; nil means always
	OnError *ErrorAction

	// Successors: Next for plain steps, Routes+Default for routers.
	Next    string
	Default string
	Routes  []Route

	// Payload, by kind.
	Rule     *Rule       // inline rule
	RuleRef  string      // reference to a shared rule document
	Ruleset  *Ruleset    // inline ruleset
	SetRef   string      // reference to a shared ruleset document
	Feature  string      // feature name to compute
	Service  *ServiceSpec
	LLM      *LLMSpec
	Branches []*Pipeline
	Merge    *MergeStrategy
}

// Pipeline is a DAG of steps with a unique entry.
type Pipeline struct {
	ID       string
	Entry    string
	Steps    []*Step
	Features []*FeatureDef
}

// StepByID returns the declared step with the given id.
func (p *Pipeline) StepByID(id string) (*Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// RegistryEntry maps an incoming event kind to an entry program.
type RegistryEntry struct {
	EventKind string
	Program   string
}

// Registry maps event kinds to entry programs.
type Registry struct {
	ID      string
	Entries []RegistryEntry
}

// TemplateDoc is a named partial document fragment merged into rules or
// pipelines that reference it. The raw mapping is merged before building.
type TemplateDoc struct {
	ID   string
	Body map[string]any
}
