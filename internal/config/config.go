package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Reference ReferenceConfig `yaml:"reference" mapstructure:"reference"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Fallback  FallbackConfig  `yaml:"fallback" mapstructure:"fallback"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ReadTimeoutSecs int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
}

// ReferenceConfig locates the district coordinate table. Source may be a
// file path, an http(s) URL, a postgres:// DSN or a sqlite:// DSN.
type ReferenceConfig struct {
	Source  string `yaml:"source" mapstructure:"source"`
	Sheet   string `yaml:"sheet" mapstructure:"sheet"`
	Table   string `yaml:"table" mapstructure:"table"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// SearchConfig configures candidate search.
type SearchConfig struct {
	RadiusKM         float64 `yaml:"radius_km" mapstructure:"radius_km"`
	Strategy         string  `yaml:"strategy" mapstructure:"strategy"`
	QueryTimeoutSecs int     `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	MaxCandidates    int     `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// SourceConfig configures the remote price source.
type SourceConfig struct {
	BaseURL          string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string        `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs      int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageLimit        int           `yaml:"page_limit" mapstructure:"page_limit"`
	MaxPages         int           `yaml:"max_pages" mapstructure:"max_pages"`
	RatePerSec       float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int           `yaml:"burst" mapstructure:"burst"`
	Window           string        `yaml:"window" mapstructure:"window"`
	Days             int           `yaml:"days" mapstructure:"days"`
	LookbackDays     int           `yaml:"lookback_days" mapstructure:"lookback_days"`
	Concurrency      int           `yaml:"concurrency" mapstructure:"concurrency"`
	DateFilterLayout string        `yaml:"date_filter_layout" mapstructure:"date_filter_layout"`
	Retry            RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit          CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures in-place retries of remote calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the remote source circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// FallbackConfig enables the synthetic price source.
type FallbackConfig struct {
	Synthetic bool `yaml:"synthetic" mapstructure:"synthetic"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is applied to the environment first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CROPPRICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare names used by existing deployments.
	if err := v.BindEnv("source.api_key", "CROPPRICE_SOURCE_API_KEY", "API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind api key")
	}
	if err := v.BindEnv("source.base_url", "CROPPRICE_SOURCE_BASE_URL", "BASE_URL"); err != nil {
		return nil, eris.Wrap(err, "config: bind base url")
	}

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("reference.source", "data/Coordinate_Dataset.csv")
	v.SetDefault("reference.sheet", "")
	v.SetDefault("reference.table", "reference_locations")
	v.SetDefault("reference.temp_dir", filepath.Join(os.TempDir(), "cropprice"))
	v.SetDefault("search.radius_km", 250.0)
	v.SetDefault("search.strategy", "district")
	v.SetDefault("search.query_timeout_secs", 60)
	v.SetDefault("search.max_candidates", 0)
	v.SetDefault("source.base_url", "https://api.data.gov.in/resource/35985678-0d79-46b4-9ed6-6f13308a1d24")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.timeout_secs", 10)
	v.SetDefault("source.page_limit", 5000)
	v.SetDefault("source.max_pages", 50)
	v.SetDefault("source.rate_per_sec", 5.0)
	v.SetDefault("source.burst", 5)
	v.SetDefault("source.window", "fixed_days")
	v.SetDefault("source.days", 7)
	v.SetDefault("source.lookback_days", 10)
	v.SetDefault("source.concurrency", 1)
	v.SetDefault("source.date_filter_layout", "02-01-2006")
	v.SetDefault("source.retry.max_attempts", 1)
	v.SetDefault("source.retry.initial_backoff_ms", 500)
	v.SetDefault("source.retry.max_backoff_ms", 10000)
	v.SetDefault("source.circuit.failure_threshold", 5)
	v.SetDefault("source.circuit.reset_timeout_secs", 30)
	v.SetDefault("fallback.synthetic", false)
}

var (
	strategies = map[string]bool{"district": true, "state": true}
	windows    = map[string]bool{
		"fixed_days": true, "fixed": true,
		"latest_available": true, "latest": true,
		"full_history": true, "full": true,
	}
)

// Validate checks values Load cannot default and reports every problem at
// once. Mode "serve" also checks the server settings.
func (c *Config) Validate(mode string) error {
	var problems []string
	if c.Reference.Source == "" {
		problems = append(problems, "reference.source is required")
	}
	if c.Search.RadiusKM <= 0 {
		problems = append(problems, fmt.Sprintf("search.radius_km must be positive, got %g", c.Search.RadiusKM))
	}
	if !strategies[strings.ToLower(c.Search.Strategy)] {
		problems = append(problems, fmt.Sprintf("unknown search.strategy %q", c.Search.Strategy))
	}
	if !windows[strings.ToLower(c.Source.Window)] {
		problems = append(problems, fmt.Sprintf("unknown source.window %q", c.Source.Window))
	}
	if c.Source.PageLimit < 1 {
		problems = append(problems, fmt.Sprintf("source.page_limit must be at least 1, got %d", c.Source.PageLimit))
	}
	if c.Source.MaxPages < 1 {
		problems = append(problems, fmt.Sprintf("source.max_pages must be at least 1, got %d", c.Source.MaxPages))
	}
	if c.Source.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("source.concurrency must be at least 1, got %d", c.Source.Concurrency))
	}
	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
