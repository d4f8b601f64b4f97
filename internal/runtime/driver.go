package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/corintai/corint/internal/backoff"
	"github.com/corintai/corint/internal/evalctx"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/logger"
)

// Runner executes compiled programs. A Runner is stateless across requests
// and safe for concurrent use; per-request state lives in the context, the
// delta, and the trace recorder.
type Runner struct {
	features FeatureResolver
	services ServiceInvoker
	llm      LLMClient
	lists    ListProvider
	bounds   ScoreBounds
	logger   logger.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFeatureResolver wires the feature extraction backend.
func WithFeatureResolver(fr FeatureResolver) RunnerOption {
	return func(r *Runner) { r.features = fr }
}

// WithServiceInvoker wires the outbound service client.
func WithServiceInvoker(si ServiceInvoker) RunnerOption {
	return func(r *Runner) { r.services = si }
}

// WithLLMClient wires the LLM client.
func WithLLMClient(c LLMClient) RunnerOption {
	return func(r *Runner) { r.llm = c }
}

// WithListProvider wires the list membership backend.
func WithListProvider(lp ListProvider) RunnerOption {
	return func(r *Runner) { r.lists = lp }
}

// WithScoreBounds sets the score saturation range.
func WithScoreBounds(bounds ScoreBounds) RunnerOption {
	return func(r *Runner) { r.bounds = bounds }
}

// WithLogger sets the runner's logger.
func WithLogger(lg logger.Logger) RunnerOption {
	return func(r *Runner) { r.logger = lg }
}

// NewRunner builds a Runner with the given options.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		bounds: DefaultScoreBounds,
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Outcome is the result of one program execution: the accumulated delta,
// the step trace, and the terminal failure when the evaluation did not run
// to completion.
type Outcome struct {
	Delta   *Delta
	Trace   Trace
	Failure *Error
}

// Execute runs a compiled program against a request context. Evaluation
// failures do not raise: a terminal runtime failure forces the action to
// "review" and is reported through Outcome.Failure and the trace. Only a
// request deadline cut returns an error, alongside the partial outcome.
func (r *Runner) Execute(ctx context.Context, prog *ir.Program, ectx *evalctx.Context) (*Outcome, error) {
	delta := NewDelta(r.bounds)
	rec := &traceRecorder{}

	err := r.runProgram(ctx, prog, ectx, delta, rec)
	outcome := &Outcome{Delta: delta, Trace: rec.entries}
	if err == nil {
		return outcome, nil
	}

	var rtErr *Error
	if !errors.As(err, &rtErr) {
		rtErr = classify(prog.Meta.ID, "", err)
	}
	outcome.Failure = rtErr

	if rtErr.Code == CodeDeadlineExceeded {
		// Partial result; an action already decided by the policy stands.
		if delta.Action == "" {
			delta.SetAction("review")
		}
		return outcome, ErrDeadlineExceeded
	}

	r.logger.Error("evaluation failed", "program", prog.Meta.ID, "step", rtErr.Step, "err", rtErr.Err)
	delta.SetAction("review")
	return outcome, nil
}

// runProgram dispatches on program kind. Rule and ruleset programs are a
// single block from the entry offset; pipelines run the step driver.
func (r *Runner) runProgram(ctx context.Context, prog *ir.Program, ectx *evalctx.Context, delta *Delta, rec *traceRecorder) error {
	if prog.Meta.Kind == ir.ProgramPipeline {
		return r.runPipeline(ctx, prog, ectx, delta, rec)
	}
	m := r.newVM(prog, ectx, delta)
	ectx.BeginStep(prog.Meta.ID)
	entry := begin(prog.Meta.ID)
	_, err := m.runBlock(ctx, prog.Meta.Entry)
	if err != nil {
		rec.add(finish(entry, failureStatus(err), 1, err))
		return err
	}
	rec.add(finish(entry, StatusSuccess, 1, nil))
	return nil
}

func (r *Runner) newVM(prog *ir.Program, ectx *evalctx.Context, delta *Delta) *vm {
	return &vm{
		prog:     prog,
		ectx:     ectx,
		delta:    delta,
		features: r.features,
		services: r.services,
		llm:      r.llm,
		lists:    r.lists,
	}
}

// runPipeline walks the step table from the entry step until "end". The
// step order is data-dependent (routes) but bounded: the compiler admits
// only acyclic graphs, so the visit budget is the step count.
func (r *Runner) runPipeline(ctx context.Context, prog *ir.Program, ectx *evalctx.Context, delta *Delta, rec *traceRecorder) error {
	m := r.newVM(prog, ectx, delta)

	stepID := prog.Meta.EntryStep
	for visited := 0; stepID != "" && stepID != ir.EndStep; visited++ {
		if visited > len(prog.Meta.Steps) {
			return &Error{Code: CodeInternal, Program: prog.Meta.ID, Step: stepID,
				Err: fmt.Errorf("step budget exceeded after %d transitions", visited)}
		}
		step, ok := prog.StepByID(stepID)
		if !ok {
			return &Error{Code: CodeInternal, Program: prog.Meta.ID, Step: stepID,
				Err: fmt.Errorf("successor %q not in step table", stepID)}
		}

		m.step = stepID
		entry := begin(stepID)

		if err := ctx.Err(); err != nil {
			rec.add(finish(entry, StatusDeadlineExceeded, 0, err))
			return classify(prog.Meta.ID, stepID, err)
		}

		// Guard.
		if step.GuardEntry >= 0 {
			guard, err := m.runBlock(ctx, step.GuardEntry)
			if err != nil {
				next, handled := r.handleFailure(ctx, m, step, entry, 1, err, rec)
				if !handled {
					return err
				}
				stepID = next
				continue
			}
			if !guard.Truthy() {
				rec.add(finish(entry, StatusSkipped, 0, nil))
				next, err := r.successor(ctx, m, step)
				if err != nil {
					return err
				}
				stepID = next
				continue
			}
		}

		attempts, err := r.runBody(ctx, m, prog, step, ectx, delta, rec)
		if err != nil {
			next, handled := r.handleFailure(ctx, m, step, entry, attempts, err, rec)
			if !handled {
				return err
			}
			stepID = next
			continue
		}

		rec.add(finish(entry, StatusSuccess, attempts, nil))
		next, err := r.successor(ctx, m, step)
		if err != nil {
			return err
		}
		stepID = next
	}
	return nil
}

// runBody executes a step's work, applying the retry policy when declared.
// It returns the number of attempts made.
func (r *Runner) runBody(ctx context.Context, m *vm, prog *ir.Program, step *ir.Step, ectx *evalctx.Context, delta *Delta, rec *traceRecorder) (int, error) {
	run := func(ctx context.Context) error {
		ectx.BeginStep(step.ID)
		if step.Kind == ir.StepBranch {
			return r.runBranches(ctx, prog, step, ectx, delta, rec)
		}
		if step.BodyEntry < 0 {
			// Routers have no body; their work is successor selection.
			return nil
		}
		_, err := m.runBlock(ctx, step.BodyEntry)
		return err
	}

	policy := step.OnError
	if policy == nil || policy.Kind != ir.ErrRetry {
		return 1, run(ctx)
	}

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if policy.Deadline > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, policy.Deadline)
	}
	defer cancel()

	attempts := 0
	err := backoff.Retry(attemptCtx, func(ctx context.Context) error {
		attempts++
		return run(ctx)
	}, backoff.Policy{
		Initial:    policy.Backoff,
		MaxRetries: policy.Attempts - 1,
	}, retriable)
	if err != nil && policy.Deadline > 0 && ctx.Err() == nil && deadlineShaped(err) {
		// The retry budget expired, not the request. This is a terminal
		// step failure and must not cut the whole evaluation short.
		err = &Error{
			Code:    CodeExternal,
			Program: prog.Meta.ID,
			Step:    step.ID,
			Err:     fmt.Errorf("retry deadline of %s spent after %d attempts: %w", policy.Deadline, attempts, err),
		}
	}
	return attempts, err
}

func deadlineShaped(err error) bool {
	var rtErr *Error
	if errors.As(err, &rtErr) && rtErr.Code == CodeDeadlineExceeded {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// handleFailure applies the step's on_error policy to a body failure. It
// reports whether the pipeline continues, and with which successor. Retry
// exhaustion arrives here with the last attempt's error and is terminal.
func (r *Runner) handleFailure(ctx context.Context, m *vm, step *ir.Step, entry StepTraceEntry, attempts int, err error, rec *traceRecorder) (string, bool) {
	var rtErr *Error
	if errors.As(err, &rtErr) && rtErr.Code == CodeDeadlineExceeded {
		rec.add(finish(entry, StatusDeadlineExceeded, attempts, err))
		return "", false
	}

	policy := step.OnError
	if policy == nil {
		rec.add(finish(entry, StatusFailed, attempts, err))
		return "", false
	}

	switch policy.Kind {
	case ir.ErrSkip:
		rec.add(finish(entry, StatusFailed, attempts, err))
		next, serr := r.successor(ctx, m, step)
		if serr != nil {
			return "", false
		}
		r.logger.Warn("step failed, skipping", "step", step.ID, "err", err)
		return next, true

	case ir.ErrDefaultValue:
		if derr := r.bindDefault(ctx, m, step); derr != nil {
			rec.add(finish(entry, StatusFailed, attempts, derr))
			return "", false
		}
		rec.add(finish(entry, StatusDefaulted, attempts, err))
		next, serr := r.successor(ctx, m, step)
		if serr != nil {
			return "", false
		}
		return next, true

	default:
		// fail_fast, and retry once its attempts are spent.
		rec.add(finish(entry, StatusFailed, attempts, err))
		return "", false
	}
}

// bindDefault evaluates the declared default-value block and binds it as the
// step's output feature.
func (r *Runner) bindDefault(ctx context.Context, m *vm, step *ir.Step) error {
	if step.OnError.DefaultEntry < 0 {
		return m.fail(CodeInternal, "default_value policy without a default block")
	}
	v, err := m.runBlock(ctx, step.OnError.DefaultEntry)
	if err != nil {
		return err
	}
	return m.ectx.Set(evalctx.NSFeature+"."+step.ID, v)
}

// successor picks the next step id: routers walk their routes in declaration
// order and take the first truthy condition, falling back to default; plain
// steps follow next.
func (r *Runner) successor(ctx context.Context, m *vm, step *ir.Step) (string, error) {
	if len(step.Routes) > 0 {
		for _, route := range step.Routes {
			v, err := m.runBlock(ctx, route.CondEntry)
			if err != nil {
				return "", err
			}
			if v.Truthy() {
				return route.Next, nil
			}
		}
		if step.Default != "" {
			return step.Default, nil
		}
		return ir.EndStep, nil
	}
	if step.Next != "" {
		return step.Next, nil
	}
	if step.Default != "" {
		return step.Default, nil
	}
	return ir.EndStep, nil
}

func failureStatus(err error) StepStatus {
	var rtErr *Error
	if errors.As(err, &rtErr) && rtErr.Code == CodeDeadlineExceeded {
		return StatusDeadlineExceeded
	}
	return StatusFailed
}
