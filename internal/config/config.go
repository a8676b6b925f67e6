// Package config holds the closed configuration set for the market-data
// library, loaded from an optional YAML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings ("30s",
// "1m") or bare numbers (seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if secs, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete set of recognised options.
type Config struct {
	DBPath    string `yaml:"db_path"`
	ConfigDir string `yaml:"config_dir"`
	LogLevel  string `yaml:"log_level"`

	HTTPTimeout      Duration `yaml:"http_timeout"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	RetryBackoffBase Duration `yaml:"retry_backoff_base"`
	RetryBackoffCap  Duration `yaml:"retry_backoff_cap"`

	TiingoMinSpacing       Duration `yaml:"tiingo_min_spacing"`
	TiingoRPMWarnThreshold int      `yaml:"tiingo_rpm_warn_threshold"`

	BarchartSymbolDelay    Duration `yaml:"barchart_symbol_delay"`
	BarchartLongPauseEvery int      `yaml:"barchart_long_pause_every"`
	BarchartLongPause      Duration `yaml:"barchart_long_pause"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	configDir := defaultConfigDir()
	return &Config{
		DBPath:    filepath.Join(configDir, "prices.db"),
		ConfigDir: configDir,
		LogLevel:  "info",

		HTTPTimeout:      Duration(30 * time.Second),
		RetryAttempts:    3,
		RetryBackoffBase: Duration(time.Second),
		RetryBackoffCap:  Duration(10 * time.Second),

		TiingoMinSpacing:       Duration(time.Second),
		TiingoRPMWarnThreshold: 450,

		BarchartSymbolDelay:    Duration(2 * time.Second),
		BarchartLongPauseEvery: 10,
		BarchartLongPause:      Duration(30 * time.Second),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// it exists; an empty path means <config_dir>/config.yaml), then environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.ConfigDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKETDATA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MARKETDATA_CONFIG_DIR"); v != "" {
		cfg.ConfigDir = v
	}
	if v := os.Getenv("MARKETDATA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MARKETDATA_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = Duration(d)
		}
	}
	if v := os.Getenv("MARKETDATA_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryAttempts = n
		}
	}
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".market-data")
	}
	return filepath.Join(home, ".config", "market-data")
}
