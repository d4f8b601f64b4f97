// Package engine ties the stages together: it loads and compiles the DSL
// repository, keeps the compiled program set behind an atomic pointer so
// reloads never disturb in-flight requests, and serves Decide.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/corintai/corint/internal/ast"
	"github.com/corintai/corint/internal/compiler"
	"github.com/corintai/corint/internal/evalctx"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/logger"
	"github.com/corintai/corint/internal/parser"
	"github.com/corintai/corint/internal/runtime"
	"github.com/corintai/corint/internal/value"
)

// ErrProgramNotFound is returned by Decide when neither the requested
// program id nor the event kind resolves to a compiled program.
var ErrProgramNotFound = errors.New("program not found")

// ErrDeadlineExceeded is returned by Decide when the request deadline cut
// evaluation short. The response still carries the partial result.
var ErrDeadlineExceeded = runtime.ErrDeadlineExceeded

// programSet is one immutable generation of compiled programs. Reload
// builds a full new generation and swaps the pointer; a generation observed
// by a request never changes under it.
type programSet struct {
	programs map[string]*ir.Program
	registry map[string]string // event kind -> program id
	warnings []string
	loadedAt time.Time
}

// DecisionRequest is one evaluation request.
type DecisionRequest struct {
	// Program selects the program to run by id. Empty means resolve
	// through the registry by EventKind.
	Program   string
	EventKind string
	Event     map[string]any
	Metadata  map[string]string
	Options   RequestOptions
}

// RequestOptions tune one request.
type RequestOptions struct {
	IncludeTrace bool
	// Deadline overrides the engine's default per-request deadline.
	Deadline time.Duration
}

// DecisionResult is the outcome of one evaluation.
type DecisionResult struct {
	Action         string        `json:"action"`
	Score          float64       `json:"score"`
	TriggeredRules []string      `json:"triggered_rules"`
	Signals        []string      `json:"signals"`
	Explanation    string        `json:"explanation"`
	Trace          runtime.Trace `json:"trace,omitempty"`
}

// DecisionResponse wraps a result with request bookkeeping.
type DecisionResponse struct {
	RequestID        string         `json:"request_id"`
	Result           DecisionResult `json:"result"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// Engine evaluates decision requests against the loaded program set.
type Engine struct {
	programs atomic.Pointer[programSet]
	runner   *runtime.Runner
	logger   logger.Logger

	defaultDeadline time.Duration
	env             map[string]string
	health          []HealthChecker
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner sets the program runner. Without it the engine evaluates with
// a bare runner: no features, lists, services, or LLM.
func WithRunner(r *runtime.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithLogger sets the engine's logger.
func WithLogger(lg logger.Logger) Option {
	return func(e *Engine) { e.logger = lg }
}

// WithDefaultDeadline sets the per-request deadline used when the request
// carries none.
func WithDefaultDeadline(d time.Duration) Option {
	return func(e *Engine) { e.defaultDeadline = d }
}

// WithEnv exposes whitelisted environment variables under env.*.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) { e.env = env }
}

// WithHealthChecker registers a backend health probe.
func WithHealthChecker(hc HealthChecker) Option {
	return func(e *Engine) { e.health = append(e.health, hc) }
}

// New builds an Engine. Load or Reload must run before Decide.
func New(opts ...Option) *Engine {
	e := &Engine{
		runner:          runtime.NewRunner(),
		logger:          logger.Default(),
		defaultDeadline: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load parses and compiles the DSL repository rooted at dir and installs it
// as the active program set.
func (e *Engine) Load(dir string) error {
	repo, err := parser.LoadRoot(dir)
	if err != nil {
		return err
	}
	return e.install(repo)
}

// LoadYAML compiles an in-memory multi-document source, for tests and
// one-shot CLI evaluation.
func (e *Engine) LoadYAML(source []byte) error {
	repo, err := parser.LoadYAML(source)
	if err != nil {
		return err
	}
	return e.install(repo)
}

// Reload replaces the active program set and reports how many programs the
// new set carries. In-flight requests keep the generation they started
// with; a compile error leaves the active set untouched.
func (e *Engine) Reload(dir string) (int, error) {
	if err := e.Load(dir); err != nil {
		return 0, fmt.Errorf("reload rejected: %w", err)
	}
	loaded := len(e.programs.Load().programs)
	e.logger.Info("program set reloaded", "dir", dir, "programs", loaded)
	return loaded, nil
}

func (e *Engine) install(repo *parser.Repository) error {
	programs, err := compiler.New(repo).CompileAll(repo)
	if err != nil {
		return err
	}
	registry := map[string]string{}
	for _, doc := range repo.Documents {
		if doc.Kind != ast.KindRegistry {
			continue
		}
		for _, entry := range doc.Registry.Entries {
			registry[entry.EventKind] = entry.Program
		}
	}
	e.programs.Store(&programSet{
		programs: programs,
		registry: registry,
		warnings: repo.Warnings,
		loadedAt: time.Now(),
	})
	return nil
}

// Warnings returns the load warnings of the active program set.
func (e *Engine) Warnings() []string {
	set := e.programs.Load()
	if set == nil {
		return nil
	}
	return set.warnings
}

// Decide evaluates one request. It never fails on evaluation errors: those
// surface in the result's action and trace. The returned error is reserved
// for a missing program and for a deadline cut, which still carries the
// partial response.
func (e *Engine) Decide(ctx context.Context, req DecisionRequest) (*DecisionResponse, error) {
	started := time.Now()
	set := e.programs.Load()
	if set == nil {
		return nil, fmt.Errorf("%w: no program set loaded", ErrProgramNotFound)
	}

	prog, err := set.resolve(req)
	if err != nil {
		return nil, err
	}

	deadline := req.Options.Deadline
	if deadline <= 0 {
		deadline = e.defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	requestID := uuid.NewString()
	ectx := evalctx.New(req.Event, e.systemMeta(requestID, req, started), e.env)

	outcome, execErr := e.runner.Execute(ctx, prog, ectx)

	resp := &DecisionResponse{
		RequestID:        requestID,
		Result:           assembleResult(outcome, req.Options.IncludeTrace),
		ProcessingTimeMS: time.Since(started).Milliseconds(),
	}
	if execErr != nil {
		// Deadline: partial result plus the sentinel for the caller.
		return resp, ErrDeadlineExceeded
	}
	return resp, nil
}

func (s *programSet) resolve(req DecisionRequest) (*ir.Program, error) {
	id := req.Program
	if id == "" {
		mapped, ok := s.registry[req.EventKind]
		if !ok {
			return nil, fmt.Errorf("%w: no registry entry for event kind %q", ErrProgramNotFound, req.EventKind)
		}
		id = mapped
	}
	prog, ok := s.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProgramNotFound, id)
	}
	return prog, nil
}

func (e *Engine) systemMeta(requestID string, req DecisionRequest, started time.Time) map[string]value.Value {
	meta := map[string]value.Value{
		"request_id": value.String(requestID),
		"timestamp":  value.String(started.UTC().Format(time.RFC3339)),
		"event_kind": value.String(req.EventKind),
	}
	for k, v := range req.Metadata {
		meta["meta."+k] = value.String(v)
	}
	return meta
}

func assembleResult(outcome *runtime.Outcome, includeTrace bool) DecisionResult {
	delta := outcome.Delta
	result := DecisionResult{
		Action:         delta.Action,
		Score:          delta.Score,
		TriggeredRules: delta.Triggered,
		Signals:        delta.Signals,
		Explanation:    explain(outcome),
	}
	if includeTrace {
		result.Trace = outcome.Trace
	}
	return result
}

// explain renders a one-line summary of how the decision came about.
func explain(outcome *runtime.Outcome) string {
	delta := outcome.Delta
	var sb strings.Builder
	fmt.Fprintf(&sb, "action %q with score %g", delta.Action, delta.Score)
	if len(delta.Triggered) > 0 {
		fmt.Fprintf(&sb, "; triggered %s", strings.Join(delta.Triggered, ", "))
	}
	if len(delta.Signals) > 0 {
		fmt.Fprintf(&sb, "; signals %s", strings.Join(delta.Signals, ", "))
	}
	if outcome.Failure != nil {
		fmt.Fprintf(&sb, "; failed at %s (%s)", outcome.Failure.Step, outcome.Failure.Code)
	}
	return sb.String()
}
