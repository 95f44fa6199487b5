// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config is the root configuration tree for the application. All fields are
// populated from (in order of precedence) command-line flags, environment
// variables under the FORMPILOT prefix, the config file, and the defaults
// registered by SetDefaults.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Providers  ProvidersConfig  `mapstructure:"providers" yaml:"providers"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chromium instance driven over CDP.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	ProfileDir     string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout" yaml:"nav_timeout"`
	ActionTimeout  time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args           []string      `mapstructure:"args" yaml:"args"`
}

// AutomationConfig bounds the action loop and the orchestrator retry cycle.
type AutomationConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	BatchMaxIterations int           `mapstructure:"batch_max_iterations" yaml:"batch_max_iterations"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	ActionDelay        time.Duration `mapstructure:"action_delay" yaml:"action_delay"`
	ModelInterval      time.Duration `mapstructure:"model_interval" yaml:"model_interval"`
	BatchMaxCards      int           `mapstructure:"batch_max_cards" yaml:"batch_max_cards"`
}

// ProvidersConfig groups the vision model providers. Claude is the primary
// driver, Gemini the fallback.
type ProvidersConfig struct {
	Claude ClaudeConfig `mapstructure:"claude" yaml:"claude"`
	Gemini GeminiConfig `mapstructure:"gemini" yaml:"gemini"`
}

// ClaudeConfig configures the Anthropic Messages API client.
type ClaudeConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Model          string        `mapstructure:"model" yaml:"model"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	ThinkingBudget int           `mapstructure:"thinking_budget" yaml:"thinking_budget"`
	APITimeout     time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
}

// GeminiConfig configures the Google genai client.
type GeminiConfig struct {
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Model      string        `mapstructure:"model" yaml:"model"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// ArtifactsConfig controls where run records and failure screenshots land.
type ArtifactsConfig struct {
	Dir             string `mapstructure:"dir" yaml:"dir"`
	SaveScreenshots bool   `mapstructure:"save_screenshots" yaml:"save_screenshots"`
}

// SetDefaults registers every default value on the given viper instance.
// Called before unmarshalling so that absent keys resolve predictably.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "formpilot-cli")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.nav_timeout", 45*time.Second)
	v.SetDefault("browser.action_timeout", 30*time.Second)

	v.SetDefault("automation.max_iterations", 25)
	v.SetDefault("automation.batch_max_iterations", 40)
	v.SetDefault("automation.max_retries", 3)
	v.SetDefault("automation.action_delay", 500*time.Millisecond)
	v.SetDefault("automation.model_interval", 1*time.Second)
	v.SetDefault("automation.batch_max_cards", 20)

	v.SetDefault("providers.claude.model", "claude-opus-4-5")
	v.SetDefault("providers.claude.max_tokens", 4096)
	v.SetDefault("providers.claude.thinking_budget", 2048)
	v.SetDefault("providers.claude.api_timeout", 3*time.Minute)
	v.SetDefault("providers.gemini.model", "gemini-2.5-computer-use-preview-10-2025")
	v.SetDefault("providers.gemini.api_timeout", 3*time.Minute)

	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("artifacts.save_screenshots", true)
}

// NewConfigFromViper builds and validates a Config from the given viper
// instance. API keys fall back to the conventional provider environment
// variables when the FORMPILOT-prefixed ones are unset.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Secrets are never expected in the config file.
	if err := v.BindEnv("providers.claude.api_key", "FORMPILOT_PROVIDERS_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind claude api key: %w", err)
	}
	if err := v.BindEnv("providers.gemini.api_key", "FORMPILOT_PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind gemini api key: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefaultConfig returns a Config holding only the registered defaults.
// Validation is skipped; defaults carry no API keys.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks internal consistency. At least one provider key must be
// present; per-provider requirements are enforced at client construction.
func (c *Config) Validate() error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logger.Level)); err != nil {
		return fmt.Errorf("invalid logger.level %q: %w", c.Logger.Level, err)
	}
	switch strings.ToLower(c.Logger.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logger.format %q (want console or json)", c.Logger.Format)
	}

	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Automation.MaxIterations <= 0 {
		return fmt.Errorf("automation.max_iterations must be positive, got %d", c.Automation.MaxIterations)
	}
	if c.Automation.MaxRetries <= 0 {
		return fmt.Errorf("automation.max_retries must be positive, got %d", c.Automation.MaxRetries)
	}
	if c.Providers.Claude.APIKey == "" && c.Providers.Gemini.APIKey == "" {
		return fmt.Errorf("no provider API key configured (set ANTHROPIC_API_KEY or GEMINI_API_KEY)")
	}
	return nil
}
