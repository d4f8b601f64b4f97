package parser

// Raw definition structs decoded from YAML mappings before building. The
// data is then converted into ast nodes by the builder. Fields typed `any`
// accept the polymorphic forms of the DSL (string shorthand or structured
// mapping, scalar or array).

type ruleDef struct {
	ID          string         `mapstructure:"id"`
	Description string         `mapstructure:"description"`
	Template    string         `mapstructure:"template"`
	Params      map[string]any `mapstructure:"params"`
	When        any            `mapstructure:"when"`
	Then        any            `mapstructure:"then"`
	Else        any            `mapstructure:"else"`
}

type decisionCaseDef struct {
	When   any    `mapstructure:"when"`
	Action string `mapstructure:"action"`
}

type decisionLogicDef struct {
	Cases   []decisionCaseDef `mapstructure:"cases"`
	Default string            `mapstructure:"default"`
}

type rulesetDef struct {
	ID            string            `mapstructure:"id"`
	Description   string            `mapstructure:"description"`
	Rules         []ruleDef         `mapstructure:"rules"`
	DecisionLogic *decisionLogicDef `mapstructure:"decision_logic"`
	Conclusion    *decisionLogicDef `mapstructure:"conclusion"`
}

type routeDef struct {
	When any    `mapstructure:"when"`
	Next string `mapstructure:"next"`
}

type serviceDef struct {
	Name       string         `mapstructure:"name"`
	URL        string         `mapstructure:"url"`
	Method     string         `mapstructure:"method"`
	Payload    map[string]any `mapstructure:"payload"`
	TimeoutSec int            `mapstructure:"timeout_sec"`
}

type llmDef struct {
	Model  string `mapstructure:"model"`
	Prompt string `mapstructure:"prompt"`
	Output string `mapstructure:"output"`
}

type branchDef struct {
	ID    string    `mapstructure:"id"`
	Entry string    `mapstructure:"entry"`
	Steps []stepDef `mapstructure:"steps"`
}

type stepDef struct {
	ID      string     `mapstructure:"id"`
	Kind    string     `mapstructure:"kind"`
	When    any        `mapstructure:"when"`
	OnError any        `mapstructure:"on_error"`
	Next    string     `mapstructure:"next"`
	Default string     `mapstructure:"default"`
	Routes  []routeDef `mapstructure:"routes"`

	Rule       *ruleDef    `mapstructure:"rule"`
	RuleRef    string      `mapstructure:"rule_ref"`
	Ruleset    *rulesetDef `mapstructure:"ruleset"`
	RulesetRef string      `mapstructure:"ruleset_ref"`
	Feature    string      `mapstructure:"feature"`
	Service    *serviceDef `mapstructure:"service"`
	LLM        *llmDef     `mapstructure:"llm"`
	Branches   []branchDef `mapstructure:"branches"`
	Merge      any         `mapstructure:"merge"`
}

type featureDef struct {
	Name      string `mapstructure:"name"`
	Kind      string `mapstructure:"kind"`
	Expr      string `mapstructure:"expr"`
	Agg       string `mapstructure:"agg"`
	Field     string `mapstructure:"field"`
	Window    string `mapstructure:"window"`
	Filter    string `mapstructure:"filter"`
	Table     string `mapstructure:"table"`
	Key       string `mapstructure:"key"`
	Cache     string `mapstructure:"cache"`
	CacheTTL  string `mapstructure:"cache_ttl"`
}

type pipelineDef struct {
	ID       string       `mapstructure:"id"`
	Template string       `mapstructure:"template"`
	Entry    string       `mapstructure:"entry"`
	Steps    []stepDef    `mapstructure:"steps"`
	Features []featureDef `mapstructure:"features"`
}

type registryEntryDef struct {
	EventKind string `mapstructure:"event_kind"`
	Program   string `mapstructure:"program"`
}

type registryDef struct {
	ID      string             `mapstructure:"id"`
	Entries []registryEntryDef `mapstructure:"entries"`
}

type templateDef struct {
	ID   string         `mapstructure:"id"`
	Body map[string]any `mapstructure:"body"`
}
