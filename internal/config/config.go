package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fenceworks/estimator/internal/db"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Adjust  AdjustConfig  `yaml:"adjust" mapstructure:"adjust"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Path        string        `yaml:"path" mapstructure:"path"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// CatalogConfig selects where catalog snapshots are read from.
type CatalogConfig struct {
	Source      string        `yaml:"source" mapstructure:"source"`
	Path        string        `yaml:"path" mapstructure:"path"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker     BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// RetryConfig configures retries of transient catalog reads.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures the catalog database circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// AdjustConfig holds the adjustment classification thresholds. Zero leaves
// a threshold unset.
type AdjustConfig struct {
	FlagPercent     float64 `yaml:"flag_percent" mapstructure:"flag_percent"`
	FlagAmount      float64 `yaml:"flag_amount" mapstructure:"flag_amount"`
	ApprovalPercent float64 `yaml:"approval_percent" mapstructure:"approval_percent"`
	ApprovalAmount  float64 `yaml:"approval_amount" mapstructure:"approval_amount"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Thresholds converts the adjust section for the classifier.
func (c AdjustConfig) Thresholds() model.Thresholds {
	return model.Thresholds{
		FlagPercent:     c.FlagPercent,
		FlagAmount:      c.FlagAmount,
		ApprovalPercent: c.ApprovalPercent,
		ApprovalAmount:  c.ApprovalAmount,
	}
}

// RetryPolicy converts the retry section, keeping defaults for zero values.
func (c CatalogConfig) RetryPolicy() resilience.RetryConfig {
	return resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
}

// BreakerPolicy converts the breaker section for the catalog database.
func (c CatalogConfig) BreakerPolicy() resilience.BreakerConfig {
	return resilience.FromBreakerConfig("catalog", c.Breaker.FailureThreshold, c.Breaker.ResetTimeoutSecs)
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FENCEBOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "fence-bom.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("catalog.source", "file")
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("catalog.database_url", "")
	v.SetDefault("catalog.retry.max_attempts", 3)
	v.SetDefault("catalog.retry.initial_backoff_ms", 100)
	v.SetDefault("catalog.retry.max_backoff_ms", 2000)
	v.SetDefault("catalog.breaker.failure_threshold", 5)
	v.SetDefault("catalog.breaker.reset_timeout_secs", 30)
	v.SetDefault("adjust.flag_percent", 5)
	v.SetDefault("adjust.flag_amount", 0)
	v.SetDefault("adjust.approval_percent", 10)
	v.SetDefault("adjust.approval_amount", 0)
	v.SetDefault("batch.max_concurrent_runs", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "compute" (catalog and store), "serve" (compute plus the listener) and
// "catalog" (a postgres catalog database).
func (c *Config) Validate(mode string) error {
	var errs []string

	storeChecks := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.Path == "" {
				errs = append(errs, "store.path is required for the sqlite driver")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		default:
			errs = append(errs, "store.driver must be sqlite or postgres, got "+c.Store.Driver)
		}
	}
	catalogChecks := func() {
		switch c.Catalog.Source {
		case "file":
		case "postgres":
			if c.CatalogDatabaseURL() == "" {
				errs = append(errs, "catalog.database_url is required for the postgres catalog source")
			}
		default:
			errs = append(errs, "catalog.source must be file or postgres, got "+c.Catalog.Source)
		}
	}

	switch mode {
	case "compute":
		storeChecks()
		catalogChecks()
	case "serve":
		storeChecks()
		catalogChecks()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
			errs = append(errs, "server rate limits must be >= 0")
		}
	case "catalog":
		if c.CatalogDatabaseURL() == "" {
			errs = append(errs, "catalog.database_url (or store.database_url) is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Batch.MaxConcurrentRuns < 1 || c.Batch.MaxConcurrentRuns > 64 {
		errs = append(errs, "batch.max_concurrent_runs must be between 1 and 64")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CatalogDatabaseURL returns the catalog DSN, falling back to the store's.
func (c *Config) CatalogDatabaseURL() string {
	if c.Catalog.DatabaseURL != "" {
		return c.Catalog.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
