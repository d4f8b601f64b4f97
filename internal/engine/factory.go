package engine

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/corintai/corint/internal/config"
	"github.com/corintai/corint/internal/datasource"
	"github.com/corintai/corint/internal/feature"
	"github.com/corintai/corint/internal/lists"
	"github.com/corintai/corint/internal/logger"
	"github.com/corintai/corint/internal/runtime"
	"github.com/corintai/corint/internal/service"
)

// Build assembles an Engine with backends selected by the configuration
// and loads the rules directory. The returned cleanup closes every backend.
func Build(ctx context.Context, cfg *config.Config, lg logger.Logger) (*Engine, func(), error) {
	if lg == nil {
		lg = logger.Default()
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	listSvc, err := buildLists(ctx, cfg, lg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() { _ = listSvc.Close() })

	store, err := buildStore(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = store.Close() })

	cache, cacheCheck := buildCache(cfg)

	extractor := feature.NewExtractor(
		feature.WithStore(store),
		feature.WithCache(cache),
		feature.WithLogger(lg),
	)

	var svcOpts []service.Option
	svcOpts = append(svcOpts, service.WithLogger(lg))
	if cfg.ServiceBaseURL != "" {
		svcOpts = append(svcOpts, service.WithBaseURL(cfg.ServiceBaseURL))
	}

	runner := runtime.NewRunner(
		runtime.WithFeatureResolver(extractor),
		runtime.WithServiceInvoker(service.NewClient(svcOpts...)),
		runtime.WithListProvider(lists.NewProvider(listSvc)),
		runtime.WithScoreBounds(runtime.ScoreBounds{Min: cfg.ScoreMin, Max: cfg.ScoreMax}),
		runtime.WithLogger(lg),
	)

	opts := []Option{
		WithRunner(runner),
		WithLogger(lg),
		WithDefaultDeadline(cfg.DefaultDeadline),
		WithEnv(whitelistEnv(cfg.EnvWhitelist)),
	}
	if cacheCheck != nil {
		opts = append(opts, WithHealthChecker(cacheCheck))
	}

	eng := New(opts...)
	if err := eng.Load(cfg.RulesDir); err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

func buildLists(ctx context.Context, cfg *config.Config, lg logger.Logger) (lists.Service, error) {
	switch cfg.ListBackend {
	case config.BackendFile:
		return lists.NewFileService(cfg.ListDir, lg)
	case config.BackendPostgres:
		return lists.OpenPostgres(ctx, cfg.ListDSN, cfg.ListTable)
	default:
		return lists.NewMemoryService(nil), nil
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (datasource.Store, error) {
	if cfg.DataBackend == config.BackendPostgres {
		return datasource.OpenPostgres(ctx, cfg.DataDSN)
	}
	return datasource.NewMemoryStore(), nil
}

func buildCache(cfg *config.Config) (feature.Cache, HealthChecker) {
	if cfg.CacheBackend != config.BackendRedis {
		return feature.NewMemoryCache(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	check := HealthCheckFunc{
		Component: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
	return feature.NewRedisCache(client, ""), check
}

// whitelistEnv copies only the configured variables into the env.*
// namespace.
func whitelistEnv(names []string) map[string]string {
	env := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	return env
}
