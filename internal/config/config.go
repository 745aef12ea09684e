// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Cache drivers.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Access evaluators.
const (
	AccessAllowAll = "allow_all"
	AccessStatic   = "static"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Store         StoreConfig         `yaml:"store"`
	Cache         CacheConfig         `yaml:"cache"`
	Access        AccessConfig        `yaml:"access"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Bulk          BulkConfig          `yaml:"bulk"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// DefinitionsConfig describes where to find workflow definition files.
type DefinitionsConfig struct {
	Directories    []string      `yaml:"directories"`
	HotReload      bool          `yaml:"hot_reload"`
	ReloadDebounce time.Duration `yaml:"reload_debounce"`
}

// StoreConfig describes document and action persistence.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// CacheConfig describes the workflow lookup cache.
type CacheConfig struct {
	Driver    string        `yaml:"driver"`
	AddrEnv   string        `yaml:"addr_env"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// AccessConfig describes document read authorization.
type AccessConfig struct {
	Evaluator        string        `yaml:"evaluator"`
	StaticPolicyFile string        `yaml:"static_policy_file"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// WorkflowConfig describes workflow engine settings.
type WorkflowConfig struct {
	Administrator      string `yaml:"administrator"`
	ConditionListLimit int    `yaml:"condition_list_limit"`
}

// BulkConfig describes bulk action settings.
type BulkConfig struct {
	ProgressThreshold int `yaml:"progress_threshold"`
	Concurrency       int `yaml:"concurrency"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			HandlerTimeout:  110 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Definitions: DefinitionsConfig{
			Directories:    []string{"/definitions"},
			ReloadDebounce: 250 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:          StoreMemory,
			DSNEnv:          "DOCFLOW_DATABASE_URL",
			MaxConns:        25,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			Driver:    CacheMemory,
			AddrEnv:   "DOCFLOW_REDIS_ADDR",
			KeyPrefix: "docflow:",
		},
		Access: AccessConfig{
			Evaluator: AccessAllowAll,
			CacheTTL:  5 * time.Minute,
		},
		Workflow: WorkflowConfig{
			Administrator:      "Administrator",
			ConditionListLimit: 100,
		},
		Bulk: BulkConfig{
			ProgressThreshold: 5,
			Concurrency:       1,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories must not be empty")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSNEnv == "" {
			errs = append(errs, "store.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres", c.Store.Driver))
	}

	switch c.Cache.Driver {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.AddrEnv == "" {
			errs = append(errs, "cache.addr_env is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.driver %q is not one of memory, redis", c.Cache.Driver))
	}

	switch c.Access.Evaluator {
	case AccessAllowAll:
	case AccessStatic:
		if c.Access.StaticPolicyFile == "" {
			errs = append(errs, "access.static_policy_file is required for the static evaluator")
		}
	default:
		errs = append(errs, fmt.Sprintf("access.evaluator %q is not one of allow_all, static", c.Access.Evaluator))
	}

	if c.Workflow.Administrator == "" {
		errs = append(errs, "workflow.administrator is required")
	}
	if c.Workflow.ConditionListLimit < 1 {
		errs = append(errs, "workflow.condition_list_limit must be positive")
	}
	if c.Bulk.ProgressThreshold < 1 {
		errs = append(errs, "bulk.progress_threshold must be positive")
	}
	if c.Bulk.Concurrency < 1 {
		errs = append(errs, "bulk.concurrency must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads DOCFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("DOCFLOW_SERVER_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DOCFLOW_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("DOCFLOW_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("DOCFLOW_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("DOCFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DOCFLOW_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := os.Getenv("DOCFLOW_ACCESS_EVALUATOR"); v != "" {
		cfg.Access.Evaluator = v
	}
	if v := os.Getenv("DOCFLOW_WORKFLOW_ADMINISTRATOR"); v != "" {
		cfg.Workflow.Administrator = v
	}
	if v, ok := envInt("DOCFLOW_BULK_CONCURRENCY"); ok {
		cfg.Bulk.Concurrency = v
	}
	if v := os.Getenv("DOCFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
