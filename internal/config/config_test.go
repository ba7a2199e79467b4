package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// inTempDir runs the test from an empty directory so no config.yaml or
// .env is found.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "data/Coordinate_Dataset.csv", cfg.Reference.Source)
	assert.Equal(t, "reference_locations", cfg.Reference.Table)
	assert.Equal(t, filepath.Join(os.TempDir(), "cropprice"), cfg.Reference.TempDir)
	assert.InDelta(t, 250.0, cfg.Search.RadiusKM, 0.001)
	assert.Equal(t, "district", cfg.Search.Strategy)
	assert.Equal(t, 60, cfg.Search.QueryTimeoutSecs)
	assert.Zero(t, cfg.Search.MaxCandidates)
	assert.Equal(t, "https://api.data.gov.in/resource/35985678-0d79-46b4-9ed6-6f13308a1d24", cfg.Source.BaseURL)
	assert.Empty(t, cfg.Source.APIKey)
	assert.Equal(t, 10, cfg.Source.TimeoutSecs)
	assert.Equal(t, 5000, cfg.Source.PageLimit)
	assert.Equal(t, 50, cfg.Source.MaxPages)
	assert.InDelta(t, 5.0, cfg.Source.RatePerSec, 0.001)
	assert.Equal(t, "fixed_days", cfg.Source.Window)
	assert.Equal(t, 7, cfg.Source.Days)
	assert.Equal(t, 10, cfg.Source.LookbackDays)
	assert.Equal(t, "02-01-2006", cfg.Source.DateFilterLayout)
	assert.Equal(t, 1, cfg.Source.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Source.Circuit.FailureThreshold)
	assert.Equal(t, 30, cfg.Source.Circuit.ResetTimeoutSecs)
	assert.False(t, cfg.Fallback.Synthetic)

	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
log:
  level: debug
  format: console
server:
  port: 9090
search:
  radius_km: 80
  strategy: state
source:
  window: latest_available
  retry:
    max_attempts: 3
fallback:
  synthetic: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 80.0, cfg.Search.RadiusKM, 0.001)
	assert.Equal(t, "state", cfg.Search.Strategy)
	assert.Equal(t, "latest_available", cfg.Source.Window)
	assert.Equal(t, 3, cfg.Source.Retry.MaxAttempts)
	assert.True(t, cfg.Fallback.Synthetic)
	// Defaults still apply for unset values
	assert.Equal(t, 5000, cfg.Source.PageLimit)
	assert.Equal(t, 500, cfg.Source.Retry.InitialBackoffMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
log:
  level: debug
search:
  radius_km: 80
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CROPPRICE_LOG_LEVEL", "warn")
	t.Setenv("CROPPRICE_SEARCH_RADIUS_KM", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 120.0, cfg.Search.RadiusKM, 0.001)
}

func TestLoadBareSourceVariables(t *testing.T) {
	inTempDir(t)

	t.Setenv("API_KEY", "bare-key")
	t.Setenv("BASE_URL", "http://localhost:9999/resource")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bare-key", cfg.Source.APIKey)
	assert.Equal(t, "http://localhost:9999/resource", cfg.Source.BaseURL)
}

func TestLoadPrefixedVariableWins(t *testing.T) {
	inTempDir(t)

	t.Setenv("API_KEY", "bare-key")
	t.Setenv("CROPPRICE_SOURCE_API_KEY", "prefixed-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed-key", cfg.Source.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("CROPPRICE_SERVER_PORT=3000\n"), 0644))
	// godotenv sets process variables; register cleanup through t.Setenv.
	t.Setenv("CROPPRICE_SERVER_PORT", "")
	require.NoError(t, os.Unsetenv("CROPPRICE_SERVER_PORT"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("search: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Reference.Source = "data/Coordinate_Dataset.csv"
	cfg.Search.RadiusKM = 250
	cfg.Search.Strategy = "district"
	cfg.Source.Window = "fixed_days"
	cfg.Source.PageLimit = 5000
	cfg.Source.MaxPages = 50
	cfg.Source.Concurrency = 1
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mode: "serve"},
		{name: "state strategy upper case", mutate: func(c *Config) { c.Search.Strategy = "STATE" }},
		{name: "short window alias", mutate: func(c *Config) { c.Source.Window = "full" }},
		{name: "zero radius", mutate: func(c *Config) { c.Search.RadiusKM = 0 }, wantErr: "search.radius_km must be positive"},
		{name: "unknown strategy", mutate: func(c *Config) { c.Search.Strategy = "country" }, wantErr: `unknown search.strategy "country"`},
		{name: "unknown window", mutate: func(c *Config) { c.Source.Window = "weekly" }, wantErr: `unknown source.window "weekly"`},
		{name: "page limit", mutate: func(c *Config) { c.Source.PageLimit = 0 }, wantErr: "source.page_limit must be at least 1"},
		{name: "max pages", mutate: func(c *Config) { c.Source.MaxPages = 0 }, wantErr: "source.max_pages must be at least 1"},
		{name: "concurrency", mutate: func(c *Config) { c.Source.Concurrency = 0 }, wantErr: "source.concurrency must be at least 1"},
		{name: "no reference", mutate: func(c *Config) { c.Reference.Source = "" }, wantErr: "reference.source is required"},
		{name: "bad port when serving", mode: "serve", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "port ignored for query", mode: "query", mutate: func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.RadiusKM = -1
	cfg.Source.PageLimit = 0
	cfg.Reference.Source = ""

	err := cfg.Validate("query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference.source is required")
	assert.Contains(t, err.Error(), "search.radius_km")
	assert.Contains(t, err.Error(), "source.page_limit")
}
