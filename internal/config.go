package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/arvore/internal/cache"
	"github.com/starford/arvore/internal/familysearch"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreNeo4j  = "neo4j"
)

// Record source modes.
const (
	RecordsHTTP = "http"
	RecordsFile = "file"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Store   StoreConfig       `yaml:"store"`
	Neo4j   Neo4jConfig       `yaml:"neo4j"`
	Cache   CacheConfig       `yaml:"cache"`
	Records RecordsConfig     `yaml:"records"`
	Search  SearchConfig      `yaml:"search"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case StoreSQLite:
		if err := c.SQLite.Validate(); err != nil {
			return err
		}
	case StoreNeo4j:
		if err := c.Neo4j.Validate(); err != nil {
			return err
		}
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Records.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StoreConfig selects where imported family graphs are kept.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = StoreSQLite
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(StoreSQLite, StoreNeo4j)),
	)
}

// Neo4jConfig holds the graph database connection used when store.driver is neo4j.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Validate validates the Neo4j configuration.
func (c *Neo4jConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URI, validation.Required),
		validation.Field(&c.Username, validation.Required),
	)
}

// CacheConfig configures the Badger-backed search cache.
type CacheConfig struct {
	Path      string `yaml:"path"`
	InMemory  bool   `yaml:"in_memory"`
	Namespace string `yaml:"namespace"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.Namespace == "" {
		c.Namespace = cache.DefaultNamespace
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(!c.InMemory, validation.Required)),
	)
}

// BreakerConfig tunes the circuit breaker around the record service.
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	FailureRatio float64       `yaml:"failure_ratio"`
	MinRequests  uint32        `yaml:"min_requests"`
}

// Validate validates the breaker configuration.
func (c *BreakerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FailureRatio, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
	)
}

// RecordsConfig configures where person records come from.
//
// Mode controls the source:
//   - "http" (default): the upstream record service at BaseURL.
//   - "file": fixture files in FixturesDir, optionally watched for changes.
//
// RecordDir, when set, saves every person fetched in http mode as a fixture.
type RecordsConfig struct {
	Mode          string        `yaml:"mode"`
	BaseURL       string        `yaml:"base_url"`
	CPFToken      string        `yaml:"cpf_token"`
	ParentToken   string        `yaml:"parent_token"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Breaker       BreakerConfig `yaml:"breaker"`
	FixturesDir   string        `yaml:"fixtures_dir"`
	RecordDir     string        `yaml:"record_dir"`
	Watch         bool          `yaml:"watch"`
	Avatar        string        `yaml:"avatar"`
}

// Validate validates the records configuration.
func (c *RecordsConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = RecordsHTTP
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(RecordsHTTP, RecordsFile)),
		validation.Field(&c.BaseURL, validation.When(c.Mode == RecordsHTTP, validation.Required)),
		validation.Field(&c.FixturesDir, validation.When(c.Mode == RecordsFile, validation.Required)),
		validation.Field(&c.RatePerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	return c.Breaker.Validate()
}

// SearchConfig holds the defaults applied to family searches.
type SearchConfig struct {
	MaxDepth       int           `yaml:"max_depth"`
	IncludeSpouses bool          `yaml:"include_spouses"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	BatchSize      int           `yaml:"batch_size"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxDepth, validation.Required, validation.Min(familysearch.MinDepth), validation.Max(familysearch.MaxDepth)),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1), validation.Max(familysearch.MaxIdentifiers)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./arvore.db",
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
		},
		Neo4j: Neo4jConfig{
			Database: "neo4j",
		},
		Cache: CacheConfig{
			Path:      "./data/cache",
			Namespace: cache.DefaultNamespace,
		},
		Records: RecordsConfig{
			Mode:          RecordsHTTP,
			Timeout:       30 * time.Second,
			RatePerSecond: 5,
			Burst:         5,
			Breaker: BreakerConfig{
				MaxRequests:  1,
				Interval:     time.Minute,
				Timeout:      30 * time.Second,
				FailureRatio: 0.6,
				MinRequests:  10,
			},
		},
		Search: SearchConfig{
			MaxDepth:       familysearch.DefaultDepth,
			IncludeSpouses: true,
			CacheTTL:       familysearch.DefaultCacheTTL,
			BatchSize:      familysearch.DefaultBatchSize,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

// SearchDefaults returns the configured search options.
func (c *Config) SearchDefaults() familysearch.Options {
	return familysearch.Options{
		MaxDepth:       c.Search.MaxDepth,
		IncludeSpouses: c.Search.IncludeSpouses,
		CacheTTL:       c.Search.CacheTTL,
	}
}
