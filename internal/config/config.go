// Package config provides unified configuration loading for treadline.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the treadline service and runner.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Cache     CacheConfig     `yaml:"cache"`
	Model     ModelConfig     `yaml:"model"`
	Engine    EngineConfig    `yaml:"engine"`
	Runner    RunnerConfig    `yaml:"runner"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// AuthConfig holds session and identity settings. Mode "local" disables
// OIDC token fetching and lets callers run without a session cookie
// issuer configured.
type AuthConfig struct {
	Mode            string        `yaml:"mode"` // local or cloud
	ServicePassword string        `yaml:"service_password"`
	SessionSecret   string        `yaml:"session_secret"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	Audience        string        `yaml:"audience"`
}

// WarehouseConfig holds candidate-warehouse settings.
type WarehouseConfig struct {
	Driver     string         `yaml:"driver"` // sqlite or postgres
	Table      string         `yaml:"table"`
	QueryLimit int            `yaml:"query_limit"`
	MirrorPath string         `yaml:"mirror_path"` // local CSV fallback
	SQLite     SQLiteConfig   `yaml:"sqlite"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds candidate-cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // disk, redis, or memory
	DiskRoot   string        `yaml:"disk_root"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ModelConfig holds generative-model settings.
type ModelConfig struct {
	Name            string            `yaml:"name"`
	Project         string            `yaml:"project"`
	Location        string            `yaml:"location"`
	Endpoint        string            `yaml:"endpoint"`
	Temperature     float64           `yaml:"temperature"`
	TopP            float64           `yaml:"top_p"`
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	SafetySettings  map[string]string `yaml:"safety_settings"`
	DatastoreID     string            `yaml:"datastore_id"`
	DisableSearch   bool              `yaml:"disable_search"`
	Benchmark       bool              `yaml:"benchmark"`
	Retry           RetryConfig       `yaml:"retry"`
}

// RetryConfig bounds the quota-retry loop inside the model client.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// EngineConfig holds batch-engine settings.
type EngineConfig struct {
	MaxWorkers    int           `yaml:"max_workers"`
	BatchDeadline time.Duration `yaml:"batch_deadline"`
	CAMDeadline   time.Duration `yaml:"cam_deadline"`
	MaxBatchCAMs  int           `yaml:"max_batch_cams"`
}

// RunnerConfig holds settings for the batch runner binary.
type RunnerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RunlistPath    string        `yaml:"runlist_path"`
	OutputDir      string        `yaml:"output_dir"`
	Total          int           `yaml:"total"`
	BatchSize      int           `yaml:"batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Knobs          KnobConfig    `yaml:"knobs"`
	Prices         PriceConfig   `yaml:"prices"`
}

// KnobConfig carries the prompt tuning knobs the runner sends with every
// batch. Out-of-range values are clamped by the prompt builder.
type KnobConfig struct {
	GoldilocksZonePct     float64 `yaml:"goldilocks_zone_pct"`
	PriceFluctuationUpper float64 `yaml:"price_fluctuation_upper"`
	PriceFluctuationLower float64 `yaml:"price_fluctuation_lower"`
	BrandEnhancer         string  `yaml:"brand_enhancer"`
	ModelEnhancer         string  `yaml:"model_enhancer"`
	Season                string  `yaml:"season"`
	DisableSearch         bool    `yaml:"disable_search"`
}

// PriceConfig holds token prices in GBP per million tokens.
type PriceConfig struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     15 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Auth: AuthConfig{
			Mode:       "local",
			SessionTTL: 12 * time.Hour,
		},
		Warehouse: WarehouseConfig{
			Driver:     "sqlite",
			Table:      "tyre_scores",
			QueryLimit: 100,
			MirrorPath: "data/warehouse_mirror.csv",
			SQLite: SQLiteConfig{
				Path:         "/tmp/treadline.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "disk",
			DiskRoot:   "data/cache",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Model: ModelConfig{
			Name:            "gemini-2.5-flash-lite",
			Location:        "europe-west1",
			Temperature:     0.5,
			TopP:            0.95,
			MaxOutputTokens: 8292,
			DisableSearch:   true,
			Retry: RetryConfig{
				MaxRetries:  3,
				BaseBackoff: 2 * time.Second,
			},
		},
		Engine: EngineConfig{
			MaxWorkers:    10,
			BatchDeadline: 120 * time.Second,
			CAMDeadline:   30 * time.Second,
			MaxBatchCAMs:  500,
		},
		Runner: RunnerConfig{
			BaseURL:        "http://localhost:8080",
			RunlistPath:    "runlist/priority_runlist_current.csv",
			OutputDir:      "output",
			Total:          10000,
			BatchSize:      500,
			RequestTimeout: 900 * time.Second,
			Knobs: KnobConfig{
				GoldilocksZonePct:     15,
				PriceFluctuationUpper: 1.1,
				PriceFluctuationLower: 0.9,
				DisableSearch:         true,
			},
			Prices: PriceConfig{
				InputPerMillion:  0.072505,
				OutputPerMillion: 0.29002,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Auth.Mode != "local" && c.Auth.Mode != "cloud" {
		return fmt.Errorf("invalid auth mode: %s", c.Auth.Mode)
	}

	if c.Warehouse.Driver != "sqlite" && c.Warehouse.Driver != "postgres" {
		return fmt.Errorf("invalid warehouse driver: %s", c.Warehouse.Driver)
	}

	if c.Warehouse.QueryLimit < 1 {
		return fmt.Errorf("warehouse query_limit must be positive")
	}

	switch c.Cache.Driver {
	case "disk", "redis", "memory":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Engine.MaxWorkers < 1 {
		return fmt.Errorf("engine max_workers must be positive")
	}

	if c.Engine.MaxBatchCAMs < 1 {
		return fmt.Errorf("engine max_batch_cams must be positive")
	}

	if c.Engine.BatchDeadline <= 0 {
		return fmt.Errorf("engine batch_deadline must be positive")
	}

	if c.Runner.BatchSize < 1 || c.Runner.BatchSize > c.Engine.MaxBatchCAMs {
		return fmt.Errorf("runner batch_size must be between 1 and %d", c.Engine.MaxBatchCAMs)
	}

	if s := c.Runner.Knobs.Season; s != "" {
		switch s {
		case "summer", "winter", "allseason":
		default:
			return fmt.Errorf("invalid season: %s", s)
		}
	}

	return nil
}

// IsLocal reports whether the deployment runs in local mode (no OIDC,
// tolerant auth).
func (c *Config) IsLocal() bool {
	return c.Auth.Mode == "local"
}

// WarehouseDSN returns the connection string for the configured driver.
func (c *Config) WarehouseDSN() string {
	if c.Warehouse.Driver == "sqlite" {
		return c.Warehouse.SQLite.Path
	}
	return c.Warehouse.Postgres.DSN
}

// applyEnvOverrides applies TREADLINE_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TREADLINE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("TREADLINE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("TREADLINE_MODE"); v != "" {
		cfg.Auth.Mode = v
	}

	if v := os.Getenv("TREADLINE_SERVICE_PASSWORD"); v != "" {
		cfg.Auth.ServicePassword = v
	}

	if v := os.Getenv("TREADLINE_SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}

	if v := os.Getenv("TREADLINE_WAREHOUSE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Warehouse.Driver = "sqlite"
			cfg.Warehouse.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Warehouse.Driver = "postgres"
			cfg.Warehouse.Postgres.DSN = v
		}
	}

	if v := os.Getenv("TREADLINE_REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("TREADLINE_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}

	if v := os.Getenv("TREADLINE_MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}

	if v := os.Getenv("TREADLINE_MODEL_PROJECT"); v != "" {
		cfg.Model.Project = v
	}

	if v := os.Getenv("TREADLINE_MODEL_LOCATION"); v != "" {
		cfg.Model.Location = v
	}

	if v := os.Getenv("TREADLINE_MODEL_DATASTORE_ID"); v != "" {
		cfg.Model.DatastoreID = v
	}

	if v := os.Getenv("TREADLINE_MAX_WORKERS"); v != "" {
		var workers int
		if _, err := fmt.Sscanf(v, "%d", &workers); err == nil && workers > 0 {
			cfg.Engine.MaxWorkers = workers
		}
	}

	if v := os.Getenv("TREADLINE_BATCH_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.BatchDeadline = d
		}
	}

	if v := os.Getenv("TREADLINE_CAM_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.CAMDeadline = d
		}
	}

	if v := os.Getenv("TREADLINE_MAX_BATCH_CAMS"); v != "" {
		var cams int
		if _, err := fmt.Sscanf(v, "%d", &cams); err == nil && cams > 0 {
			cfg.Engine.MaxBatchCAMs = cams
		}
	}

	if v := os.Getenv("TREADLINE_RUNNER_BASE_URL"); v != "" {
		cfg.Runner.BaseURL = v
	}

	if v := os.Getenv("TREADLINE_PRICE_INPUT"); v != "" {
		var price float64
		if _, err := fmt.Sscanf(v, "%f", &price); err == nil && price >= 0 {
			cfg.Runner.Prices.InputPerMillion = price
		}
	}

	if v := os.Getenv("TREADLINE_PRICE_OUTPUT"); v != "" {
		var price float64
		if _, err := fmt.Sscanf(v, "%f", &price); err == nil && price >= 0 {
			cfg.Runner.Prices.OutputPerMillion = price
		}
	}

	if v := os.Getenv("TREADLINE_RUNLIST_PATH"); v != "" {
		cfg.Runner.RunlistPath = v
	}

	if v := os.Getenv("TREADLINE_OUTPUT_DIR"); v != "" {
		cfg.Runner.OutputDir = v
	}

	if v := os.Getenv("TREADLINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("TREADLINE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
