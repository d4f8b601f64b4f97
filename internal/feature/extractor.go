package feature

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/corintai/corint/internal/datasource"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/logger"
	"github.com/corintai/corint/internal/runtime"
	"github.com/corintai/corint/internal/value"
)

// Extractor resolves compiled feature declarations. It is safe for
// concurrent use; identical in-flight computations coalesce onto one
// execution through singleflight.
type Extractor struct {
	store  datasource.Store
	cache  Cache
	group  singleflight.Group
	logger logger.Logger
}

var _ runtime.FeatureResolver = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithStore wires the data source backing aggregate and lookup features.
func WithStore(store datasource.Store) Option {
	return func(e *Extractor) { e.store = store }
}

// WithCache wires the TTL cache backend.
func WithCache(cache Cache) Option {
	return func(e *Extractor) { e.cache = cache }
}

// WithLogger sets the extractor's logger.
func WithLogger(lg logger.Logger) Option {
	return func(e *Extractor) { e.logger = lg }
}

// NewExtractor builds an Extractor. Without options it computes derived
// features only, with an in-process TTL cache.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		cache:  NewMemoryCache(),
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve computes one feature. Request-scoped caching is the caller's
// concern (a computed feature stays bound in the request context); the
// extractor handles the ttl policy across requests.
func (e *Extractor) Resolve(ctx context.Context, feature *ir.Feature, env runtime.Env) (value.Value, error) {
	key, err := e.cacheKey(ctx, feature, env)
	if err != nil {
		return value.Null(), err
	}

	cacheable := feature.Cache.Kind == "ttl" && feature.Cache.TTL > 0
	if cacheable {
		if v, hit, cerr := e.cache.Get(ctx, key); cerr == nil && hit {
			return v, nil
		} else if cerr != nil {
			e.logger.Warn("feature cache read failed", "feature", feature.Name, "err", cerr)
		}
	}

	// Only lookups coalesce: their cache key fully determines the result.
	// Derived features and aggregate filters read the per-request context,
	// so sharing an in-flight computation would cross-wire requests.
	var v value.Value
	if feature.Kind == "lookup" {
		var shared any
		shared, err, _ = e.group.Do(key, func() (any, error) {
			return e.compute(ctx, feature, env)
		})
		if err == nil {
			v = shared.(value.Value)
		}
	} else {
		v, err = e.compute(ctx, feature, env)
	}
	if err != nil {
		return value.Null(), err
	}

	if cacheable {
		if cerr := e.cache.Set(ctx, key, v, feature.Cache.TTL); cerr != nil {
			e.logger.Warn("feature cache write failed", "feature", feature.Name, "err", cerr)
		}
	}
	return v, nil
}

// cacheKey distinguishes computations that must not share results: lookups
// vary by key, aggregates by table and window.
func (e *Extractor) cacheKey(ctx context.Context, feature *ir.Feature, env runtime.Env) (string, error) {
	switch feature.Kind {
	case "lookup":
		key, err := env.Eval(ctx, feature.Lookup.KeyEntry)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s:%s:%s", feature.Name, feature.Lookup.Table, key.String()), nil
	case "aggregate":
		return fmt.Sprintf("%s:%s:%s", feature.Name, feature.Aggregate.Table, feature.Aggregate.Window), nil
	default:
		return feature.Name, nil
	}
}

func (e *Extractor) compute(ctx context.Context, feature *ir.Feature, env runtime.Env) (value.Value, error) {
	switch feature.Kind {
	case "derived":
		return env.Eval(ctx, feature.DerivedEntry)
	case "aggregate":
		return e.aggregate(ctx, feature, env)
	case "lookup":
		return e.lookup(ctx, feature, env)
	default:
		return value.Null(), fmt.Errorf("unknown feature kind %q", feature.Kind)
	}
}

// aggregate fetches the window's rows, keeps the ones passing the filter,
// and folds the declared operation over the source field.
func (e *Extractor) aggregate(ctx context.Context, feature *ir.Feature, env runtime.Env) (value.Value, error) {
	if e.store == nil {
		return value.Null(), fmt.Errorf("aggregate feature %q needs a data source", feature.Name)
	}
	spec := feature.Aggregate
	rows, err := e.store.Rows(ctx, spec.Table, spec.Window)
	if err != nil {
		return value.Null(), fmt.Errorf("feature %q: %w", feature.Name, err)
	}

	var kept []datasource.Row
	for _, row := range rows {
		if spec.FilterEntry >= 0 {
			pass, err := env.EvalRow(ctx, spec.FilterEntry, row)
			if err != nil {
				return value.Null(), fmt.Errorf("feature %q filter: %w", feature.Name, err)
			}
			if !pass.Truthy() {
				continue
			}
		}
		kept = append(kept, row)
	}

	if spec.Op == "count" {
		return value.Number(float64(len(kept))), nil
	}

	var (
		sum   float64
		minV  float64
		maxV  float64
		count int
	)
	for _, row := range kept {
		n, ok := row[spec.Field].AsNumber()
		if !ok {
			// Null and non-numeric cells are absorbed, not errors.
			continue
		}
		if count == 0 {
			minV, maxV = n, n
		} else {
			if n < minV {
				minV = n
			}
			if n > maxV {
				maxV = n
			}
		}
		sum += n
		count++
	}
	if count == 0 {
		return value.Null(), nil
	}

	switch spec.Op {
	case "sum":
		return value.Number(sum), nil
	case "avg":
		return value.Number(sum / float64(count)), nil
	case "min":
		return value.Number(minV), nil
	case "max":
		return value.Number(maxV), nil
	default:
		return value.Null(), fmt.Errorf("unknown aggregate op %q", spec.Op)
	}
}

func (e *Extractor) lookup(ctx context.Context, feature *ir.Feature, env runtime.Env) (value.Value, error) {
	if e.store == nil {
		return value.Null(), fmt.Errorf("lookup feature %q needs a data source", feature.Name)
	}
	key, err := env.Eval(ctx, feature.Lookup.KeyEntry)
	if err != nil {
		return value.Null(), err
	}
	if key.IsNull() {
		// A Null key cannot match anything; absorb instead of querying.
		return value.Null(), nil
	}
	return e.store.Get(ctx, feature.Lookup.Table, key)
}
