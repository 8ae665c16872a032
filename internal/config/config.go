package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Dedupe     DedupeConfig     `yaml:"dedupe" mapstructure:"dedupe"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// DedupeConfig holds the identity-matching thresholds.
type DedupeConfig struct {
	AutoMergeThreshold float64 `yaml:"auto_merge_threshold" mapstructure:"auto_merge_threshold"`
	ReviewFloor        float64 `yaml:"review_floor" mapstructure:"review_floor"`
	FuzzyFloor         float64 `yaml:"fuzzy_floor" mapstructure:"fuzzy_floor"`
	MaxWriteAttempts   int     `yaml:"max_write_attempts" mapstructure:"max_write_attempts"`
}

// RunnerConfig configures discovery orchestration.
type RunnerConfig struct {
	SourceConcurrency int `yaml:"source_concurrency" mapstructure:"source_concurrency"`
}

// SourceLimitConfig is one source's outbound rate budget.
type SourceLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// SourcesConfig configures per-source rate limits. Keys of Limits are
// source names; DefaultLimit applies to sources without an entry.
type SourcesConfig struct {
	DefaultLimit SourceLimitConfig            `yaml:"default_limit" mapstructure:"default_limit"`
	Limits       map[string]SourceLimitConfig `yaml:"limits" mapstructure:"limits"`
}

// MonitoringConfig configures the ingestion-health checker.
type MonitoringConfig struct {
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StallAfterMins         int     `yaml:"stall_after_mins" mapstructure:"stall_after_mins"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "portfolio.db")
	v.SetDefault("dedupe.auto_merge_threshold", 0.95)
	v.SetDefault("dedupe.review_floor", 0.75)
	v.SetDefault("dedupe.fuzzy_floor", 0.80)
	v.SetDefault("dedupe.max_write_attempts", 3)
	v.SetDefault("runner.source_concurrency", 4)
	v.SetDefault("sources.default_limit.requests_per_second", 1.0)
	v.SetDefault("sources.default_limit.burst", 1)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stall_after_mins", 120)
	v.SetDefault("monitoring.review_backlog_threshold", 200)
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

// Validate checks that the config is usable for the given mode
// ("discover", "review", or "monitor"). It collects all problems into
// one error.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "discover":
		if c.Dedupe.AutoMergeThreshold <= 0 || c.Dedupe.AutoMergeThreshold > 1 {
			problems = append(problems, "dedupe.auto_merge_threshold must be in (0, 1]")
		}
		if c.Dedupe.ReviewFloor < 0 || c.Dedupe.ReviewFloor > c.Dedupe.AutoMergeThreshold {
			problems = append(problems, "dedupe.review_floor must be in [0, auto_merge_threshold]")
		}
		if c.Dedupe.FuzzyFloor < 0 || c.Dedupe.FuzzyFloor > 1 {
			problems = append(problems, "dedupe.fuzzy_floor must be in [0, 1]")
		}
		if c.Runner.SourceConcurrency < 1 || c.Runner.SourceConcurrency > 32 {
			problems = append(problems, "runner.source_concurrency must be between 1 and 32")
		}
		if c.Sources.DefaultLimit.RequestsPerSecond <= 0 {
			problems = append(problems, "sources.default_limit.requests_per_second must be > 0")
		}
	case "review":
		// Only the store is needed.
	case "monitor":
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			problems = append(problems, "monitoring.failure_rate_threshold must be in [0, 1]")
		}
		if c.Monitoring.LookbackWindowHours <= 0 {
			problems = append(problems, "monitoring.lookback_window_hours must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
