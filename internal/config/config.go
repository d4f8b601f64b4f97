// Package config holds the engine configuration: DSL location, score
// saturation bounds, deadlines, the environment whitelist, and backend
// selection for lists, data source, and feature cache.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted for the pluggable collaborators.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	// RulesDir is the root directory of the DSL sources.
	RulesDir string

	// ScoreMin and ScoreMax saturate score accumulation.
	ScoreMin float64
	ScoreMax float64

	// DefaultDeadline bounds each Decide call unless the request overrides
	// it.
	DefaultDeadline time.Duration

	// EnvWhitelist lists the environment variables exposed under env.*.
	// Everything else stays invisible to rules.
	EnvWhitelist []string

	// ListBackend is memory, file, or postgres.
	ListBackend string
	ListDir     string
	ListDSN     string
	ListTable   string

	// DataBackend is memory or postgres.
	DataBackend string
	DataDSN     string

	// CacheBackend is memory or redis.
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ServiceBaseURL prefixes relative service_call URLs.
	ServiceBaseURL string

	Debug     bool
	LogFormat string
}

// Load reads the configuration from an optional file plus CORINT_*
// environment variables and applies defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("corint")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	_ = v.BindEnv("rulesDir", "CORINT_RULES_DIR")
	_ = v.BindEnv("scoreMin", "CORINT_SCORE_MIN")
	_ = v.BindEnv("scoreMax", "CORINT_SCORE_MAX")
	_ = v.BindEnv("defaultDeadlineMs", "CORINT_DEADLINE_MS")
	_ = v.BindEnv("envWhitelist", "CORINT_ENV_WHITELIST")
	_ = v.BindEnv("listBackend", "CORINT_LIST_BACKEND")
	_ = v.BindEnv("listDir", "CORINT_LIST_DIR")
	_ = v.BindEnv("listDsn", "CORINT_LIST_DSN")
	_ = v.BindEnv("listTable", "CORINT_LIST_TABLE")
	_ = v.BindEnv("dataBackend", "CORINT_DATA_BACKEND")
	_ = v.BindEnv("dataDsn", "CORINT_DATA_DSN")
	_ = v.BindEnv("cacheBackend", "CORINT_CACHE_BACKEND")
	_ = v.BindEnv("redisAddr", "CORINT_REDIS_ADDR")
	_ = v.BindEnv("redisPassword", "CORINT_REDIS_PASSWORD")
	_ = v.BindEnv("redisDb", "CORINT_REDIS_DB")
	_ = v.BindEnv("serviceBaseUrl", "CORINT_SERVICE_BASE_URL")
	_ = v.BindEnv("debug", "CORINT_DEBUG")
	_ = v.BindEnv("logFormat", "CORINT_LOG_FORMAT")

	v.SetDefault("rulesDir", "rules")
	v.SetDefault("scoreMin", -1000.0)
	v.SetDefault("scoreMax", 1000.0)
	v.SetDefault("defaultDeadlineMs", 5000)
	v.SetDefault("envWhitelist", []string{})
	v.SetDefault("listBackend", BackendMemory)
	v.SetDefault("listTable", "list_members")
	v.SetDefault("dataBackend", BackendMemory)
	v.SetDefault("cacheBackend", BackendMemory)
	v.SetDefault("logFormat", "text")

	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		RulesDir:        v.GetString("rulesDir"),
		ScoreMin:        v.GetFloat64("scoreMin"),
		ScoreMax:        v.GetFloat64("scoreMax"),
		DefaultDeadline: time.Duration(v.GetInt("defaultDeadlineMs")) * time.Millisecond,
		EnvWhitelist:    v.GetStringSlice("envWhitelist"),
		ListBackend:     v.GetString("listBackend"),
		ListDir:         v.GetString("listDir"),
		ListDSN:         v.GetString("listDsn"),
		ListTable:       v.GetString("listTable"),
		DataBackend:     v.GetString("dataBackend"),
		DataDSN:         v.GetString("dataDsn"),
		CacheBackend:    v.GetString("cacheBackend"),
		RedisAddr:       v.GetString("redisAddr"),
		RedisPassword:   v.GetString("redisPassword"),
		RedisDB:         v.GetInt("redisDb"),
		ServiceBaseURL:  v.GetString("serviceBaseUrl"),
		Debug:           v.GetBool("debug"),
		LogFormat:       v.GetString("logFormat"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ScoreMin >= c.ScoreMax {
		return fmt.Errorf("score bounds [%v, %v] are empty", c.ScoreMin, c.ScoreMax)
	}
	switch c.ListBackend {
	case BackendMemory:
	case BackendFile:
		if c.ListDir == "" {
			return fmt.Errorf("list backend %q needs listDir", c.ListBackend)
		}
	case BackendPostgres:
		if c.ListDSN == "" {
			return fmt.Errorf("list backend %q needs listDsn", c.ListBackend)
		}
	default:
		return fmt.Errorf("unknown list backend %q", c.ListBackend)
	}
	switch c.DataBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DataDSN == "" {
			return fmt.Errorf("data backend %q needs dataDsn", c.DataBackend)
		}
	default:
		return fmt.Errorf("unknown data backend %q", c.DataBackend)
	}
	switch c.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("cache backend %q needs redisAddr", c.CacheBackend)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	return nil
}
