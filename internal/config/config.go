// =============================================================================
// gridsubmit - Configuration Module
// =============================================================================
//
// This module loads the application configuration. Values are resolved in
// this order, later sources winning:
//
//   1. Built-in defaults (setDefaults)
//   2. The YAML config file (--config, or gridsubmit.yaml on the search path)
//   3. Environment variables prefixed with GRIDSUBMIT_
//      e.g. GRIDSUBMIT_BACKEND_BASE_URL, GRIDSUBMIT_CLIPBOARD_STRATEGY
//
// A missing config file on the search path is not an error; the defaults and
// the environment are enough to run.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ginjaninja78/gridsubmit/internal/htmlparser"
	"github.com/ginjaninja78/gridsubmit/internal/submit"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "GRIDSUBMIT"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the whole application configuration.
type Config struct {
	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// LogFormat selects the log encoding.
	// Valid values: "text", "json"
	// Default: "text"
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Clipboard ClipboardConfig `mapstructure:"clipboard" yaml:"clipboard"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// BackendConfig describes where submissions are sent.
type BackendConfig struct {
	// BaseURL is the scheme and host of the backend.
	// Default: "http://localhost:8000"
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// ConfirmPath receives clipboard submissions.
	// Default: "/api/confirm-data"
	ConfirmPath string `mapstructure:"confirm_path" yaml:"confirm_path"`

	// ProcessPath receives spreadsheet submissions.
	// Default: "/api/process-excel"
	ProcessPath string `mapstructure:"process_path" yaml:"process_path"`

	// Timeout bounds each submission. 0 disables the limit.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MinInterval is the minimum spacing between two submissions.
	// Default: 0s (no pacing)
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

// ClipboardConfig controls the clipboard table extractor.
type ClipboardConfig struct {
	// Strategy picks the table locator.
	// Valid values: "structural", "heuristic", "auto"
	// Default: "auto"
	Strategy string `mapstructure:"strategy" yaml:"strategy"`

	// TableSelector is the structural path to the data table.
	TableSelector string `mapstructure:"table_selector" yaml:"table_selector"`

	// DescriptionSelector is the structural path to the label table.
	DescriptionSelector string `mapstructure:"description_selector" yaml:"description_selector"`

	// OnTableNotFound decides whether a missing table is an empty result or
	// an error.
	// Valid values: "empty", "error"
	// Default: "empty"
	OnTableNotFound string `mapstructure:"on_table_not_found" yaml:"on_table_not_found"`

	// CoerceNumbers turns numeric-looking cell text into numbers.
	// Default: false
	CoerceNumbers bool `mapstructure:"coerce_numbers" yaml:"coerce_numbers"`
}

// ServerConfig configures the reference receiver.
type ServerConfig struct {
	Port           string   `mapstructure:"port" yaml:"port"`
	Environment    string   `mapstructure:"environment" yaml:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load resolves the configuration.
//
// PARAMETERS:
//   - configPath: An explicit YAML file. When empty, gridsubmit.yaml is looked
//     up in the working directory and in $HOME/.config/gridsubmit, and a
//     missing file is tolerated.
//
// RETURNS:
//   - The validated configuration.
//   - An error if an explicit file is unreadable, decoding fails or a value
//     is invalid.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gridsubmit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/gridsubmit")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Backend: BackendConfig{
			BaseURL:     "http://localhost:8000",
			ConfirmPath: submit.DefaultConfirmPath,
			ProcessPath: submit.DefaultProcessPath,
			Timeout:     30 * time.Second,
		},
		Clipboard: ClipboardConfig{
			Strategy:            string(htmlparser.StrategyAuto),
			TableSelector:       htmlparser.DefaultTableSelector,
			DescriptionSelector: htmlparser.DefaultDescriptionSelector,
			OnTableNotFound:     string(htmlparser.NotFoundEmpty),
		},
		Server: ServerConfig{
			Port:           "8000",
			Environment:    "development",
			AllowedOrigins: []string{"http://localhost:*"},
		},
	}
}

// setDefaults registers every key with viper so env overrides apply.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.confirm_path", d.Backend.ConfirmPath)
	v.SetDefault("backend.process_path", d.Backend.ProcessPath)
	v.SetDefault("backend.timeout", d.Backend.Timeout.String())
	v.SetDefault("backend.min_interval", "0s")

	v.SetDefault("clipboard.strategy", d.Clipboard.Strategy)
	v.SetDefault("clipboard.table_selector", d.Clipboard.TableSelector)
	v.SetDefault("clipboard.description_selector", d.Clipboard.DescriptionSelector)
	v.SetDefault("clipboard.on_table_not_found", d.Clipboard.OnTableNotFound)
	v.SetDefault("clipboard.coerce_numbers", d.Clipboard.CoerceNumbers)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.environment", d.Server.Environment)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks enumerated values and the backend URL.
func (c *Config) Validate() error {
	if !oneOf(c.LogLevel, "debug", "info", "warn", "error") {
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got: %q", c.LogLevel)
	}
	if !oneOf(c.LogFormat, "text", "json") {
		return fmt.Errorf("log_format must be 'text' or 'json', got: %q", c.LogFormat)
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an http(s) URL, got: %q", c.Backend.BaseURL)
	}
	if c.Backend.Timeout < 0 || c.Backend.MinInterval < 0 {
		return fmt.Errorf("backend timeout and min_interval must not be negative")
	}

	if !oneOf(c.Clipboard.Strategy,
		string(htmlparser.StrategyStructural), string(htmlparser.StrategyHeuristic), string(htmlparser.StrategyAuto)) {
		return fmt.Errorf("clipboard.strategy must be structural, heuristic or auto, got: %q", c.Clipboard.Strategy)
	}
	if !oneOf(c.Clipboard.OnTableNotFound, string(htmlparser.NotFoundEmpty), string(htmlparser.NotFoundError)) {
		return fmt.Errorf("clipboard.on_table_not_found must be 'empty' or 'error', got: %q", c.Clipboard.OnTableNotFound)
	}
	for _, sel := range []string{c.Clipboard.TableSelector, c.Clipboard.DescriptionSelector} {
		if _, err := htmlparser.ParseSelector(sel); err != nil {
			return fmt.Errorf("clipboard selector %q: %w", sel, err)
		}
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if !oneOf(c.Server.Environment, "development", "production", "test") {
		return fmt.Errorf("server.environment must be development, production or test, got: %q", c.Server.Environment)
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// ExtractOptions returns the clipboard extractor options.
func (c *Config) ExtractOptions(logger *slog.Logger) htmlparser.Options {
	return htmlparser.Options{
		Strategy:            htmlparser.Strategy(c.Clipboard.Strategy),
		TableSelector:       c.Clipboard.TableSelector,
		DescriptionSelector: c.Clipboard.DescriptionSelector,
		OnTableNotFound:     htmlparser.NotFoundPolicy(c.Clipboard.OnTableNotFound),
		CoerceNumbers:       c.Clipboard.CoerceNumbers,
		Logger:              logger,
	}
}

// SubmitConfig returns the submission client settings.
func (c *Config) SubmitConfig() submit.Config {
	return submit.Config{
		BaseURL:     c.Backend.BaseURL,
		ConfirmPath: c.Backend.ConfirmPath,
		ProcessPath: c.Backend.ProcessPath,
		Timeout:     c.Backend.Timeout,
		MinInterval: c.Backend.MinInterval,
	}
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}
