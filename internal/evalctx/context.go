// Package evalctx implements the flattened execution context expressions
// read during a decision: four namespaces (feature, event, system, env)
// queried in a fixed order. A context belongs to one request and is dropped
// when the request finishes.
package evalctx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/corintai/corint/internal/value"
)

// ErrInvalidOperation is returned for writes outside the writable
// namespaces or repeated writes to the same key within one step.
var ErrInvalidOperation = errors.New("invalid operation")

// namespace prefixes, in lookup order.
const (
	NSFeature   = "feature"
	NSEvent     = "event"
	NSSystem    = "system"
	NSEnv       = "env"
	NSSynthetic = "synthetic"
)

// Context is a per-request flattened namespace. Lookups of absent paths
// return Null, never an error. Writes go only into the feature and
// synthetic namespaces.
type Context struct {
	feature   map[string]value.Value
	event     map[string]value.Value
	system    map[string]value.Value
	env       map[string]value.Value
	synthetic map[string]value.Value

	// stepWrites guards per-step write idempotence: a second write to the
	// same feature key within the same step is an InvalidOperation.
	stepWrites map[string]bool
	step       string

	// row is a transient scope bound while an aggregate filter evaluates
	// one data-source row. Bare paths and the "row" prefix resolve here
	// first while bound.
	row map[string]value.Value
}

// New builds a context from a caller event payload, system metadata, and a
// whitelisted environment. Nested event objects are flattened to pre-joined
// dotted paths; intermediate objects stay addressable for prefix traversal.
func New(event map[string]any, system map[string]value.Value, env map[string]string) *Context {
	ctx := &Context{
		feature:    map[string]value.Value{},
		event:      map[string]value.Value{},
		system:     map[string]value.Value{},
		env:        map[string]value.Value{},
		synthetic:  map[string]value.Value{},
		stepWrites: map[string]bool{},
	}
	for k, v := range event {
		flatten(ctx.event, k, value.FromAny(v))
	}
	for k, v := range system {
		ctx.system[k] = v
	}
	for k, v := range env {
		ctx.env[k] = value.String(v)
	}
	return ctx
}

// flatten stores a value under its pre-joined path and recurses into object
// fields so that both `user` and `user.country` resolve.
func flatten(dst map[string]value.Value, path string, v value.Value) {
	dst[path] = v
	if fields, ok := v.AsObject(); ok {
		for k, item := range fields {
			flatten(dst, path+"."+k, item)
		}
	}
}

// Get resolves a dotted path. Prefixed paths go straight to their
// namespace; bare paths search feature, then event, then system, then env.
// Absent paths resolve to Null.
func (c *Context) Get(path string) value.Value {
	head, rest, cut := strings.Cut(path, ".")
	if c.row != nil {
		if cut && head == "row" {
			return lookup(c.row, rest)
		}
		if v := lookup(c.row, path); !v.IsNull() {
			return v
		}
	}
	if cut {
		switch head {
		case NSFeature:
			return lookup(c.feature, rest)
		case NSEvent:
			return lookup(c.event, rest)
		case NSSystem:
			return lookup(c.system, rest)
		case NSEnv:
			return lookup(c.env, rest)
		case NSSynthetic:
			return lookup(c.synthetic, rest)
		}
	}
	for _, ns := range []map[string]value.Value{c.feature, c.event, c.system, c.env} {
		if v := lookup(ns, path); !v.IsNull() {
			return v
		}
	}
	return value.Null()
}

// lookup resolves a path within one namespace with longest-prefix match:
// the exact pre-joined key first, then the longest stored prefix whose
// value is an object, traversing the remaining segments through fields.
func lookup(ns map[string]value.Value, path string) value.Value {
	if v, ok := ns[path]; ok {
		return v
	}
	for i := len(path) - 1; i > 0; i-- {
		if path[i] != '.' {
			continue
		}
		prefix, rest := path[:i], path[i+1:]
		v, ok := ns[prefix]
		if !ok {
			continue
		}
		return descend(v, rest)
	}
	return value.Null()
}

func descend(v value.Value, path string) value.Value {
	for _, segment := range strings.Split(path, ".") {
		v = v.Field(segment)
		if v.IsNull() {
			return value.Null()
		}
	}
	return v
}

// BindRow binds the transient row scope for aggregate filter evaluation.
// The caller must ClearRow when the row is done.
func (c *Context) BindRow(row map[string]value.Value) {
	c.row = row
}

// ClearRow drops the transient row scope.
func (c *Context) ClearRow() {
	c.row = nil
}

// BeginStep resets the per-step write guard. The driver calls this when a
// step starts executing.
func (c *Context) BeginStep(stepID string) {
	c.step = stepID
	c.stepWrites = map[string]bool{}
}

// Set writes into the feature or synthetic namespace. A second write to the
// same feature key within the current step is rejected.
func (c *Context) Set(path string, v value.Value) error {
	head, rest, cut := strings.Cut(path, ".")
	if !cut {
		return fmt.Errorf("%w: write target %q has no namespace", ErrInvalidOperation, path)
	}
	switch head {
	case NSFeature:
		if c.stepWrites[path] {
			return fmt.Errorf("%w: feature %q written twice in step %q", ErrInvalidOperation, rest, c.step)
		}
		c.stepWrites[path] = true
		flatten(c.feature, rest, v)
		return nil
	case NSSynthetic:
		c.synthetic[rest] = v
		return nil
	default:
		return fmt.Errorf("%w: namespace %q is read-only", ErrInvalidOperation, head)
	}
}

// SetSystem records a system metadata field (request id, timestamp,
// attempt count). Reserved to the engine; expressions cannot write here.
func (c *Context) SetSystem(key string, v value.Value) {
	c.system[key] = v
}

// Features returns a copy of the feature namespace, used when merging
// branch results.
func (c *Context) Features() map[string]value.Value {
	out := make(map[string]value.Value, len(c.feature))
	for k, v := range c.feature {
		out[k] = v
	}
	return out
}

// MergeFeatures copies feature bindings produced by a branch into this
// context. Merge bypasses the per-step write guard: the join applies branch
// deltas in deterministic branch order.
func (c *Context) MergeFeatures(features map[string]value.Value) {
	for k, v := range features {
		c.feature[k] = v
	}
}

// Fork deep-copies the context for a parallel branch. Branches never share
// mutable state; their effects come back as deltas at the join.
func (c *Context) Fork() *Context {
	forked := &Context{
		feature:    copyNS(c.feature),
		event:      c.event, // read-only after construction
		system:     copyNS(c.system),
		env:        c.env, // read-only after construction
		synthetic:  copyNS(c.synthetic),
		stepWrites: map[string]bool{},
	}
	return forked
}

func copyNS(ns map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(ns))
	for k, v := range ns {
		out[k] = v
	}
	return out
}
