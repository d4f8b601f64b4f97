package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "rules", cfg.RulesDir)
	assert.Equal(t, -1000.0, cfg.ScoreMin)
	assert.Equal(t, 1000.0, cfg.ScoreMax)
	assert.Equal(t, 5*time.Second, cfg.DefaultDeadline)
	assert.Empty(t, cfg.EnvWhitelist)
	assert.Equal(t, BackendMemory, cfg.ListBackend)
	assert.Equal(t, "list_members", cfg.ListTable)
	assert.Equal(t, BackendMemory, cfg.DataBackend)
	assert.Equal(t, BackendMemory, cfg.CacheBackend)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.Debug)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CORINT_RULES_DIR", "/etc/corint/rules")
	t.Setenv("CORINT_SCORE_MAX", "50")
	t.Setenv("CORINT_DEADLINE_MS", "250")
	t.Setenv("CORINT_LIST_BACKEND", "file")
	t.Setenv("CORINT_LIST_DIR", "/etc/corint/lists")
	t.Setenv("CORINT_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/corint/rules", cfg.RulesDir)
	assert.Equal(t, 50.0, cfg.ScoreMax)
	assert.Equal(t, 250*time.Millisecond, cfg.DefaultDeadline)
	assert.Equal(t, BackendFile, cfg.ListBackend)
	assert.Equal(t, "/etc/corint/lists", cfg.ListDir)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rulesDir: /srv/rules
scoreMin: -10
scoreMax: 10
cacheBackend: redis
redisAddr: localhost:6379
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/rules", cfg.RulesDir)
	assert.Equal(t, -10.0, cfg.ScoreMin)
	assert.Equal(t, 10.0, cfg.ScoreMax)
	assert.Equal(t, BackendRedis, cfg.CacheBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "emptyScoreRange",
			mutate:  func(c *Config) { c.ScoreMin, c.ScoreMax = 5, 5 },
			wantErr: "score bounds",
		},
		{
			name:    "fileListsWithoutDir",
			mutate:  func(c *Config) { c.ListBackend = BackendFile },
			wantErr: "needs listDir",
		},
		{
			name:    "postgresListsWithoutDSN",
			mutate:  func(c *Config) { c.ListBackend = BackendPostgres },
			wantErr: "needs listDsn",
		},
		{
			name:    "unknownListBackend",
			mutate:  func(c *Config) { c.ListBackend = "etcd" },
			wantErr: "unknown list backend",
		},
		{
			name:    "postgresDataWithoutDSN",
			mutate:  func(c *Config) { c.DataBackend = BackendPostgres },
			wantErr: "needs dataDsn",
		},
		{
			name:    "redisCacheWithoutAddr",
			mutate:  func(c *Config) { c.CacheBackend = BackendRedis },
			wantErr: "needs redisAddr",
		},
		{
			name:    "unknownCacheBackend",
			mutate:  func(c *Config) { c.CacheBackend = "disk" },
			wantErr: "unknown cache backend",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				ScoreMin:     -1000,
				ScoreMax:     1000,
				ListBackend:  BackendMemory,
				DataBackend:  BackendMemory,
				CacheBackend: BackendMemory,
			}
			tc.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
