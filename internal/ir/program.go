package ir

import "time"

// ProgramKind discriminates compiled programs.
type ProgramKind string

const (
	ProgramRule     ProgramKind = "rule"
	ProgramRuleset  ProgramKind = "ruleset"
	ProgramPipeline ProgramKind = "pipeline"
)

// Symbol is one context path referenced by the program, with its inferred
// type name ("unknown" when undeclared).
type Symbol struct {
	Path string
	Type string
}

// StepKind mirrors the DSL step kinds in the compiled step table.
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

// EndStep is the reserved terminal successor id.
const EndStep = "end"

// ErrorPolicyKind is a compiled on_error policy kind.
type ErrorPolicyKind string

const (
	ErrFailFast     ErrorPolicyKind = "fail_fast"
	ErrSkip         ErrorPolicyKind = "skip"
	ErrDefaultValue ErrorPolicyKind = "default_value"
	ErrRetry        ErrorPolicyKind = "retry"
)

// ErrorPolicy is a step's compiled on_error behavior.
type ErrorPolicy struct {
	Kind     ErrorPolicyKind
	Attempts int
	Backoff  time.Duration
	Deadline time.Duration
	// DefaultEntry is the offset of the default-value expression block,
	// or -1 when the policy is not default_value.
	DefaultEntry int
}

// Route is a compiled router arm: a condition block plus the successor
// taken when it evaluates true. Routes are walked in declaration order.
type Route struct {
	CondEntry int
	Next      string
}

// MergeKind selects the compiled branch join rule.
type MergeKind string

const (
	MergeAll      MergeKind = "all"
	MergeAny      MergeKind = "any"
	MergeFirst    MergeKind = "first"
	MergeWeighted MergeKind = "weighted"
)

// Merge is a compiled branch merge strategy.
type Merge struct {
	Kind    MergeKind
	Weights []float64
}

// ServiceCall is the compiled form of a service_call step. Payload field
// values are expression block offsets.
type ServiceCall struct {
	Name    string
	URL     string
	Method  string
	Payload map[string]int
	Timeout time.Duration
}

// LLMCall is the compiled form of an llm_call step.
type LLMCall struct {
	Model       string
	PromptEntry int    // template expression block offset
	Output      string // feature path the response binds to
}

// Step is one entry of a pipeline's compiled step table.
type Step struct {
	ID   string
	Kind StepKind

	// GuardEntry is the when-guard block offset, or -1 when unguarded.
	GuardEntry int
	// BodyEntry is the step body block offset, or -1 for steps whose work
	// is driven outside the VM (branch).
	BodyEntry int

	OnError *ErrorPolicy

	Next    string
	Default string
	Routes  []Route

	Feature  string
	Service  *ServiceCall
	LLM      *LLMCall
	Branches []*Program
	Merge    *Merge
}

// AggregateSpec is the compiled window aggregation of an aggregate feature.
type AggregateSpec struct {
	Op          string
	Table       string
	Field       string
	Window      time.Duration
	FilterEntry int // row filter block offset, -1 when absent
}

// LookupSpec is the compiled data-source query of a lookup feature.
type LookupSpec struct {
	Table    string
	KeyEntry int
}

// CacheSpec is the compiled cache policy of a feature.
type CacheSpec struct {
	Kind string // none | ttl | request
	TTL  time.Duration
}

// Feature is a compiled feature declaration.
type Feature struct {
	Name string
	Kind string // derived | aggregate | lookup

	// DerivedEntry is the expression block offset for derived features.
	DerivedEntry int
	Aggregate    *AggregateSpec
	Lookup       *LookupSpec
	Cache        CacheSpec
}

// Metadata carries everything about a program that is not code.
type Metadata struct {
	ID       string
	Kind     ProgramKind
	Symbols  []Symbol
	Features map[string]*Feature
	// EntryStep is the pipeline entry step id; empty for rule/ruleset
	// programs.
	EntryStep string
	// Entry is the offset rule/ruleset programs start at.
	Entry int
	Steps []*Step
}

// Program is an immutable compiled program. The instruction slice and the
// metadata must not be mutated after compilation; reload swaps whole
// program sets atomically.
type Program struct {
	Meta Metadata
	Code []Instruction
}

// StepByID returns the compiled step with the given id.
func (p *Program) StepByID(id string) (*Step, bool) {
	for _, s := range p.Meta.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}
