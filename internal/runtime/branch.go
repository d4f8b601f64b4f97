package runtime

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corintai/corint/internal/evalctx"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/value"
)

// branchOutcome is what one sub-pipeline sends back to the join: its local
// delta, its trace, and the feature bindings it produced. Branches never
// touch the parent's state directly.
type branchOutcome struct {
	delta    *Delta
	trace    Trace
	features map[string]value.Value
	err      error
	finished bool
}

// runBranches forks each sub-pipeline onto its own goroutine with a deep
// copy of the context, waits per the merge strategy, and folds the branch
// deltas back in declared branch-index order. Arrival order never affects
// the merged result except under `first`, where it is the strategy.
func (r *Runner) runBranches(ctx context.Context, prog *ir.Program, step *ir.Step, ectx *evalctx.Context, delta *Delta, rec *traceRecorder) error {
	merge := step.Merge
	if merge == nil {
		merge = &ir.Merge{Kind: ir.MergeAll}
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]branchOutcome, len(step.Branches))
	var (
		group      errgroup.Group
		winnerOnce sync.Once
		winner     = -1
	)

	for i, sub := range step.Branches {
		forked := ectx.Fork()
		group.Go(func() error {
			subDelta := NewDelta(r.bounds)
			subRec := &traceRecorder{}
			err := r.runProgram(branchCtx, sub, forked, subDelta, subRec)
			outcomes[i] = branchOutcome{
				delta:    subDelta,
				trace:    subRec.entries,
				features: forked.Features(),
				err:      err,
				finished: err == nil,
			}
			if err != nil {
				return nil
			}
			switch merge.Kind {
			case ir.MergeAny:
				if decisive(subDelta.Action) {
					cancel()
				}
			case ir.MergeFirst:
				winnerOnce.Do(func() {
					winner = i
					cancel()
				})
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return classify(prog.Meta.ID, step.ID, err)
	}

	switch merge.Kind {
	case ir.MergeAll, ir.MergeWeighted:
		weights := merge.Weights
		for i, out := range outcomes {
			if out.err != nil {
				return out.err
			}
			w := 1.0
			if merge.Kind == ir.MergeWeighted {
				w = weights[i]
			}
			r.joinBranch(ectx, delta, rec, out, w)
		}
		return nil

	case ir.MergeAny:
		// The lowest-index branch with a decisive action wins; with no
		// decisive branch, every finished branch merges as under `all`.
		for _, out := range outcomes {
			if out.finished && decisive(out.delta.Action) {
				r.joinBranch(ectx, delta, rec, out, 1)
				return nil
			}
		}
		finished := 0
		for _, out := range outcomes {
			if !out.finished {
				continue
			}
			finished++
			r.joinBranch(ectx, delta, rec, out, 1)
		}
		if finished == 0 {
			return firstBranchErr(prog, step, outcomes)
		}
		return nil

	case ir.MergeFirst:
		if winner < 0 {
			return firstBranchErr(prog, step, outcomes)
		}
		r.joinBranch(ectx, delta, rec, outcomes[winner], 1)
		return nil

	default:
		return &Error{Code: CodeInternal, Program: prog.Meta.ID, Step: step.ID,
			Err: fmt.Errorf("unknown merge strategy %q", merge.Kind)}
	}
}

// joinBranch applies one branch outcome to the parent: delta first, then
// feature bindings, then the branch's trace entries.
func (r *Runner) joinBranch(ectx *evalctx.Context, delta *Delta, rec *traceRecorder, out branchOutcome, weight float64) {
	delta.Apply(out.delta, weight)
	ectx.MergeFeatures(out.features)
	rec.addAll(out.trace)
}

// decisive reports whether a branch action ends an `any` merge early:
// anything but empty or the explicit continue verb.
func decisive(action string) bool {
	return action != "" && action != "continue"
}

func firstBranchErr(prog *ir.Program, step *ir.Step, outcomes []branchOutcome) error {
	for _, out := range outcomes {
		if out.err != nil {
			return out.err
		}
	}
	return &Error{Code: CodeInternal, Program: prog.Meta.ID, Step: step.ID,
		Err: fmt.Errorf("no branch produced a result")}
}
