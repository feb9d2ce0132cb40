package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/arvore/internal/cache"
	pkgconfig "github.com/starford/arvore/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Records.BaseURL = "http://records.local/api"
	return cfg
}

func TestDefaultConfig_NeedsRecordURL(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Error(t, cfg.Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.AuthEnabled())
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AuthModeDisabled, cfg.Mode)
}

func TestAuthConfig_TokenMode(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AuthEnabled())

	cfg = AuthConfig{Mode: "token"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is empty")
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_Sections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults with url", func(*Config) {}, true},
		{"bad port", func(c *Config) { c.App.HTTP.Port = 70000 }, false},
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, false},
		{"neo4j without uri", func(c *Config) { c.Store.Driver = StoreNeo4j }, false},
		{"neo4j with uri", func(c *Config) {
			c.Store.Driver = StoreNeo4j
			c.Neo4j.URI = "bolt://localhost:7687"
			c.Neo4j.Username = "neo4j"
		}, true},
		{"neo4j skips sqlite path", func(c *Config) {
			c.Store.Driver = StoreNeo4j
			c.Neo4j.URI = "bolt://localhost:7687"
			c.Neo4j.Username = "neo4j"
			c.SQLite.Path = ""
		}, true},
		{"sqlite without path", func(c *Config) { c.SQLite.Path = "" }, false},
		{"disk cache without path", func(c *Config) { c.Cache.Path = "" }, false},
		{"memory cache without path", func(c *Config) {
			c.Cache.Path = ""
			c.Cache.InMemory = true
		}, true},
		{"file mode without dir", func(c *Config) { c.Records.Mode = RecordsFile }, false},
		{"file mode with dir", func(c *Config) {
			c.Records.Mode = RecordsFile
			c.Records.BaseURL = ""
			c.Records.FixturesDir = "./fixtures"
		}, true},
		{"unknown records mode", func(c *Config) { c.Records.Mode = "ftp" }, false},
		{"negative rate", func(c *Config) { c.Records.RatePerSecond = -1 }, false},
		{"breaker ratio above one", func(c *Config) { c.Records.Breaker.FailureRatio = 1.5 }, false},
		{"breaker ratio zero", func(c *Config) { c.Records.Breaker.FailureRatio = 0 }, false},
		{"breaker ratio negative", func(c *Config) { c.Records.Breaker.FailureRatio = -0.1 }, false},
		{"breaker ratio one", func(c *Config) { c.Records.Breaker.FailureRatio = 1 }, true},
		{"depth too high", func(c *Config) { c.Search.MaxDepth = 6 }, false},
		{"depth missing", func(c *Config) { c.Search.MaxDepth = 0 }, false},
		{"negative ttl", func(c *Config) { c.Search.CacheTTL = -time.Second }, false},
		{"zero ttl", func(c *Config) { c.Search.CacheTTL = 0 }, true},
		{"batch too large", func(c *Config) { c.Search.BatchSize = 11 }, false},
		{"token auth without token", func(c *Config) { c.Auth.Mode = AuthModeToken }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfigValidate_FillsDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = ""
	cfg.Records.Mode = ""
	cfg.Cache.Namespace = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, RecordsHTTP, cfg.Records.Mode)
	assert.Equal(t, cache.DefaultNamespace, cfg.Cache.Namespace)
}

func TestSearchDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Search.MaxDepth = 2
	cfg.Search.IncludeSpouses = false
	cfg.Search.CacheTTL = time.Hour

	opts := cfg.SearchDefaults()
	assert.Equal(t, 2, opts.MaxDepth)
	assert.False(t, opts.IncludeSpouses)
	assert.Equal(t, time.Hour, opts.CacheTTL)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("ARVORE_TEST_BASE_URL", "http://records.test/api")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  log_level: debug
  http:
    port: 9000
records:
  base_url: ${ARVORE_TEST_BASE_URL}
  timeout: 5s
  breaker:
    interval: 2m
search:
  max_depth: 4
  include_spouses: false
  cache_ttl: 1h
  batch_size: 3
`), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, pkgconfig.Load(path, cfg))

	assert.Equal(t, 9000, cfg.App.HTTP.Port)
	assert.Equal(t, "DEBUG", cfg.App.LogLevel.String())
	assert.Equal(t, "http://records.test/api", cfg.Records.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Records.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Records.Breaker.Interval)
	assert.Equal(t, 0.6, cfg.Records.Breaker.FailureRatio)
	assert.Equal(t, 4, cfg.Search.MaxDepth)
	assert.False(t, cfg.Search.IncludeSpouses)
	assert.Equal(t, time.Hour, cfg.Search.CacheTTL)
	assert.Equal(t, 3, cfg.Search.BatchSize)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
}
