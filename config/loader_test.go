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
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 100, cfg.Memory.ConsolidationThreshold)
	assert.Equal(t, 0.8, cfg.Memory.TrimRatio)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "clawmem.db", cfg.Database.Name)
	assert.False(t, cfg.Semantic.EmbeddingEnabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9999
memory:
  consolidation_threshold: 50
  short_term_max_items: 120
database:
  driver: postgres
  host: db.internal
  port: 5433
  user: claw
  password: secret
  name: memories
semantic:
  embedding_enabled: true
  api_key: sk-test
  model: text-embedding-3-large
log:
  level: debug
  format: console
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 50, cfg.Memory.ConsolidationThreshold)
	assert.Equal(t, 120, cfg.Memory.ShortTermMaxItems)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "text-embedding-3-large", cfg.Semantic.Model)
	assert.Equal(t, "debug", cfg.Log.Level)

	// File values merge over defaults; untouched keys keep theirs.
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 0.8, cfg.Memory.TrimRatio)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLAWMEM_SERVER_HTTP_PORT", "7070")
	t.Setenv("CLAWMEM_MEMORY_CONSOLIDATION_THRESHOLD", "42")
	t.Setenv("CLAWMEM_MEMORY_TRIM_RATIO", "0.5")
	t.Setenv("CLAWMEM_MEMORY_CLEANUP_INTERVAL", "30m")
	t.Setenv("CLAWMEM_DATABASE_DRIVER", "mysql")
	t.Setenv("CLAWMEM_SEMANTIC_EMBEDDING_ENABLED", "true")
	t.Setenv("CLAWMEM_SEMANTIC_API_KEY", "sk-env")
	t.Setenv("CLAWMEM_LOG_OUTPUT_PATHS", "stdout, /var/log/clawmem.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 42, cfg.Memory.ConsolidationThreshold)
	assert.Equal(t, 0.5, cfg.Memory.TrimRatio)
	assert.Equal(t, 30*time.Minute, cfg.Memory.CleanupInterval)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.True(t, cfg.Semantic.EmbeddingEnabled)
	assert.Equal(t, "sk-env", cfg.Semantic.APIKey)
	assert.Equal(t, []string{"stdout", "/var/log/clawmem.log"}, cfg.Log.OutputPaths)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9999\n"), 0o644))
	t.Setenv("CLAWMEM_SERVER_HTTP_PORT", "7070")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6060")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.HTTPPort)
}

func TestLoadInvalidEnvValue(t *testing.T) {
	t.Setenv("CLAWMEM_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestValidatorHook(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(cfg *Config) error {
		called = true
		return cfg.Validate()
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"trim ratio zero", func(c *Config) { c.Memory.TrimRatio = 0 }},
		{"trim ratio above one", func(c *Config) { c.Memory.TrimRatio = 1.5 }},
		{"threshold zero", func(c *Config) { c.Memory.ConsolidationThreshold = 0 }},
		{"threshold above buffer capacity", func(c *Config) {
			c.Memory.ShortTermMaxItems = 50
			c.Memory.ConsolidationThreshold = 100
		}},
		{"similarity out of range", func(c *Config) { c.Semantic.MinSimilarity = 1.2 }},
		{"embedding without key", func(c *Config) {
			c.Semantic.EmbeddingEnabled = true
			c.Semantic.APIKey = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "u", Password: "p", Name: "mem", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=mem sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "mem"}
	assert.Equal(t, "u:p@tcp(db:3306)/mem?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "state.db"}
	assert.Equal(t, "state.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Equal(t, "", unknown.DSN())
}

func TestMustLoadPanicsOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	assert.Panics(t, func() { MustLoad(path) })
}
