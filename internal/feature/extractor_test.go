package feature

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corintai/corint/internal/datasource"
	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/runtime"
	"github.com/corintai/corint/internal/value"
)

func constEnv(v value.Value) runtime.Env {
	return runtime.Env{
		Eval: func(_ context.Context, _ int) (value.Value, error) {
			return v, nil
		},
	}
}

func TestResolveDerived(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	feat := &ir.Feature{Name: "amount_usd", Kind: "derived", DerivedEntry: 3}

	calls := 0
	env := runtime.Env{
		Eval: func(_ context.Context, entry int) (value.Value, error) {
			calls++
			assert.Equal(t, 3, entry)
			return value.Number(42), nil
		},
	}
	v, err := e.Resolve(context.Background(), feat, env)
	require.NoError(t, err)
	assert.Equal(t, value.Number(42), v)
	assert.Equal(t, 1, calls)
}

func TestResolveAggregate(t *testing.T) {
	t.Parallel()

	store := datasource.NewMemoryStore()
	now := time.Now()
	for _, amount := range []float64{100, 250, 50} {
		store.Insert("transactions", now, datasource.Row{
			"amount": value.Number(amount),
		})
	}
	// Null and non-numeric cells are skipped, not counted.
	store.Insert("transactions", now, datasource.Row{"amount": value.Null()})
	store.Insert("transactions", now, datasource.Row{"amount": value.String("n/a")})

	e := NewExtractor(WithStore(store))
	agg := func(op string) *ir.Feature {
		return &ir.Feature{
			Name: "txn_" + op,
			Kind: "aggregate",
			Aggregate: &ir.AggregateSpec{
				Op:          op,
				Table:       "transactions",
				Field:       "amount",
				Window:      time.Hour,
				FilterEntry: -1,
			},
		}
	}

	tests := []struct {
		op   string
		want float64
	}{
		{"count", 5}, // count folds over kept rows, not numeric cells
		{"sum", 400},
		{"avg", 400.0 / 3},
		{"min", 50},
		{"max", 250},
	}
	for _, tc := range tests {
		t.Run(tc.op, func(t *testing.T) {
			t.Parallel()
			v, err := e.Resolve(context.Background(), agg(tc.op), runtime.Env{})
			require.NoError(t, err)
			n, ok := v.AsNumber()
			require.True(t, ok)
			assert.InDelta(t, tc.want, n, 1e-9)
		})
	}
}

func TestResolveAggregateFilter(t *testing.T) {
	t.Parallel()

	store := datasource.NewMemoryStore()
	now := time.Now()
	for _, amount := range []float64{100, 600, 900} {
		store.Insert("transactions", now, datasource.Row{
			"amount": value.Number(amount),
		})
	}

	e := NewExtractor(WithStore(store))
	feat := &ir.Feature{
		Name: "large_txn_count",
		Kind: "aggregate",
		Aggregate: &ir.AggregateSpec{
			Op:          "count",
			Table:       "transactions",
			Window:      time.Hour,
			FilterEntry: 5,
		},
	}
	env := runtime.Env{
		EvalRow: func(_ context.Context, entry int, row map[string]value.Value) (value.Value, error) {
			require.Equal(t, 5, entry)
			n, _ := row["amount"].AsNumber()
			return value.Bool(n > 500), nil
		},
	}
	v, err := e.Resolve(context.Background(), feat, env)
	require.NoError(t, err)
	assert.Equal(t, value.Number(2), v)
}

func TestResolveAggregateEmptyWindow(t *testing.T) {
	t.Parallel()

	store := datasource.NewMemoryStore()
	store.Insert("transactions", time.Now().Add(-2*time.Hour), datasource.Row{
		"amount": value.Number(100),
	})

	e := NewExtractor(WithStore(store))
	feat := &ir.Feature{
		Name: "recent_sum",
		Kind: "aggregate",
		Aggregate: &ir.AggregateSpec{
			Op:          "sum",
			Table:       "transactions",
			Field:       "amount",
			Window:      time.Hour,
			FilterEntry: -1,
		},
	}
	v, err := e.Resolve(context.Background(), feat, runtime.Env{})
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestResolveLookup(t *testing.T) {
	t.Parallel()

	store := datasource.NewMemoryStore()
	store.Put("user_profiles", "user-7", value.Object(map[string]value.Value{
		"country": value.String("US"),
	}))

	e := NewExtractor(WithStore(store))
	feat := &ir.Feature{
		Name:   "user_profile",
		Kind:   "lookup",
		Lookup: &ir.LookupSpec{Table: "user_profiles", KeyEntry: 0},
	}

	v, err := e.Resolve(context.Background(), feat, constEnv(value.String("user-7")))
	require.NoError(t, err)
	assert.Equal(t, value.String("US"), v.Field("country"))

	// Absent keys resolve to Null.
	v, err = e.Resolve(context.Background(), feat, constEnv(value.String("user-404")))
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestResolveLookupNullKeyAbsorbed(t *testing.T) {
	t.Parallel()

	// The table does not exist; a query would fail. A Null key must short
	// circuit before reaching the store.
	e := NewExtractor(WithStore(datasource.NewMemoryStore()))
	feat := &ir.Feature{
		Name:   "user_profile",
		Kind:   "lookup",
		Lookup: &ir.LookupSpec{Table: "missing_table", KeyEntry: 0},
	}
	v, err := e.Resolve(context.Background(), feat, constEnv(value.Null()))
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestResolveTTLCache(t *testing.T) {
	t.Parallel()

	cache := NewMemoryCache()
	e := NewExtractor(WithCache(cache))
	feat := &ir.Feature{
		Name:         "fx_rate",
		Kind:         "derived",
		DerivedEntry: 0,
		Cache:        ir.CacheSpec{Kind: "ttl", TTL: time.Minute},
	}

	computations := 0
	env := runtime.Env{
		Eval: func(_ context.Context, _ int) (value.Value, error) {
			computations++
			return value.Number(1.08), nil
		},
	}

	for range 3 {
		v, err := e.Resolve(context.Background(), feat, env)
		require.NoError(t, err)
		assert.Equal(t, value.Number(1.08), v)
	}
	assert.Equal(t, 1, computations)

	// Past the TTL the cached entry lapses and the feature recomputes.
	cache.clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := e.Resolve(context.Background(), feat, env)
	require.NoError(t, err)
	assert.Equal(t, 2, computations)
}

func TestResolveNonTTLNotCached(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	feat := &ir.Feature{Name: "amount_usd", Kind: "derived", Cache: ir.CacheSpec{Kind: "request"}}

	computations := 0
	env := runtime.Env{
		Eval: func(_ context.Context, _ int) (value.Value, error) {
			computations++
			return value.Number(1), nil
		},
	}
	for range 2 {
		_, err := e.Resolve(context.Background(), feat, env)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, computations)
}

// gatedStore blocks Get until released, counting calls, to observe
// coalescing of concurrent identical lookups.
type gatedStore struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int64
}

func (s *gatedStore) Rows(context.Context, string, time.Duration) ([]datasource.Row, error) {
	return nil, nil
}

func (s *gatedStore) Get(context.Context, string, value.Value) (value.Value, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.started) })
	<-s.release
	return value.String("profile"), nil
}

func (s *gatedStore) Close() error { return nil }

func TestResolveLookupCoalescing(t *testing.T) {
	t.Parallel()

	store := &gatedStore{started: make(chan struct{}), release: make(chan struct{})}
	e := NewExtractor(WithStore(store))
	feat := &ir.Feature{
		Name:   "user_profile",
		Kind:   "lookup",
		Lookup: &ir.LookupSpec{Table: "user_profiles", KeyEntry: 0},
	}
	env := constEnv(value.String("user-7"))

	const concurrency = 8
	var wg sync.WaitGroup
	results := make([]value.Value, concurrency)
	errs := make([]error, concurrency)
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.Resolve(context.Background(), feat, env)
		}()
	}

	<-store.started
	time.Sleep(50 * time.Millisecond) // let the rest join the in-flight call
	close(store.release)
	wg.Wait()

	for i := range concurrency {
		require.NoError(t, errs[i])
		assert.Equal(t, value.String("profile"), results[i])
	}
	assert.Equal(t, int64(1), store.calls.Load())
}
