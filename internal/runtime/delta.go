package runtime

import (
	"github.com/corintai/corint/internal/value"
)

// ScoreBounds saturate score accumulation. Additions past a bound clamp to
// it instead of overflowing the configured range.
type ScoreBounds struct {
	Min float64
	Max float64
}

// DefaultScoreBounds is the saturation range used when none is configured.
var DefaultScoreBounds = ScoreBounds{Min: -1000, Max: 1000}

func (b ScoreBounds) clamp(n float64) float64 {
	if n < b.Min {
		return b.Min
	}
	if n > b.Max {
		return b.Max
	}
	return n
}

// Delta is the mutable result a single evaluation accumulates: action,
// saturating score, and insertion-ordered sets of triggered rules and
// signals. Branches compute into private deltas that the join merges in
// declared branch order.
type Delta struct {
	Action    string
	Score     float64
	Triggered []string
	Signals   []string

	bounds       ScoreBounds
	triggeredSet map[string]struct{}
	signalSet    map[string]struct{}
}

// NewDelta returns an empty delta with the given saturation bounds.
func NewDelta(bounds ScoreBounds) *Delta {
	return &Delta{
		bounds:       bounds,
		triggeredSet: map[string]struct{}{},
		signalSet:    map[string]struct{}{},
	}
}

// AddScore adds to the accumulated score, saturating at the bounds.
func (d *Delta) AddScore(n float64) {
	d.Score = d.bounds.clamp(d.Score + n)
}

// EmitSignal records a signal. Re-emission is a no-op; signals form an
// ordered set.
func (d *Delta) EmitSignal(signal string) {
	if _, seen := d.signalSet[signal]; seen {
		return
	}
	d.signalSet[signal] = struct{}{}
	d.Signals = append(d.Signals, signal)
}

// MarkTriggered records a triggered rule id, keeping first-trigger order.
func (d *Delta) MarkTriggered(ruleID string) {
	if _, seen := d.triggeredSet[ruleID]; seen {
		return
	}
	d.triggeredSet[ruleID] = struct{}{}
	d.Triggered = append(d.Triggered, ruleID)
}

// SetAction overwrites the decision action.
func (d *Delta) SetAction(action string) {
	d.Action = action
}

// Apply folds another delta into this one: score adds (scaled by weight),
// signal and trigger sets union in the other's order, and a non-empty action
// overwrites. The join calls this in branch-index order so merged results
// are reproducible.
func (d *Delta) Apply(other *Delta, weight float64) {
	if other == nil {
		return
	}
	d.AddScore(other.Score * weight)
	for _, s := range other.Signals {
		d.EmitSignal(s)
	}
	for _, r := range other.Triggered {
		d.MarkTriggered(r)
	}
	if other.Action != "" {
		d.Action = other.Action
	}
}

// virtualVar resolves the in-flight result fields that decision logic reads
// (`score >= 0.7`, `"fraud" in signals`). The compiler rewrites those names
// to "@"-prefixed paths when lowering a conclusion, so only decision-logic
// reads land here and event fields with the same bare names stay visible.
func (d *Delta) virtualVar(path string) (value.Value, bool) {
	switch path {
	case "@score":
		return value.Number(d.Score), true
	case "@action":
		if d.Action == "" {
			return value.Null(), true
		}
		return value.String(d.Action), true
	case "@signals":
		items := make([]value.Value, len(d.Signals))
		for i, s := range d.Signals {
			items[i] = value.String(s)
		}
		return value.List(items...), true
	case "@triggered_rules":
		items := make([]value.Value, len(d.Triggered))
		for i, r := range d.Triggered {
			items[i] = value.String(r)
		}
		return value.List(items...), true
	default:
		return value.Value{}, false
	}
}
