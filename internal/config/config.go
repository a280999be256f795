// Package config handles configuration loading for quartermaster.
// It supports XDG config paths, project-level overrides, and environment
// variables. Limits are loaded once at startup and immutable for the process
// lifetime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/rgoodall/quartermaster/internal/ledger"
)

// Config holds all configuration for the engine.
type Config struct {
	Anthropic    AnthropicConfig           `mapstructure:"anthropic"`
	Providers    map[string]ProviderLimits `mapstructure:"providers"`
	Budget       BudgetConfig              `mapstructure:"budget"`
	Cache        CacheConfig               `mapstructure:"cache"`
	Orchestrator OrchestratorConfig        `mapstructure:"orchestrator"`
	// FreeCapabilities lists capability tags servable without paid calls.
	FreeCapabilities []string `mapstructure:"free_capabilities"`
	// DataDir is where sqlite databases and the control directory live.
	DataDir string `mapstructure:"data_dir"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Model is the model identifier requests are issued against.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes calls through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// ProviderLimits holds per-provider daily consumption ceilings. Zero means
// unlimited.
type ProviderLimits struct {
	TokensPerDay int64 `mapstructure:"tokens_per_day"`
	// CallsPerMinute is the configured rate; the ledger enforces the
	// equivalent per-day ceiling.
	CallsPerMinute int     `mapstructure:"calls_per_minute"`
	CostPerDayUSD  float64 `mapstructure:"cost_per_day_usd"`
}

// BudgetConfig holds global cost settings.
type BudgetConfig struct {
	// CostPerMonthUSD caps spend across all providers. Zero means unlimited.
	CostPerMonthUSD float64 `mapstructure:"cost_per_month_usd"`
	// WarnThreshold is the utilization fraction that fires advisory alerts.
	WarnThreshold float64 `mapstructure:"warn_threshold"`
}

// CacheConfig holds result-cache settings.
type CacheConfig struct {
	// SimilarityThreshold is the minimum near-duplicate score for reuse.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// TTL is the default entry retention.
	TTL time.Duration `mapstructure:"ttl"`
	// SweepInterval is the period between expired-entry sweeps.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// InMemory disables sqlite persistence.
	InMemory bool `mapstructure:"in_memory"`
}

// OrchestratorConfig holds run-loop settings.
type OrchestratorConfig struct {
	// Parallelism bounds concurrent node executions.
	Parallelism int `mapstructure:"parallelism"`
	// MaxAttempts is the per-node attempt ceiling.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Provider is the ledger provider key runs are charged to.
	Provider string `mapstructure:"provider"`
	// Temperature is the sampling temperature for runner payloads.
	Temperature float64 `mapstructure:"temperature"`
	// MaxResultBytes caps result sizes at the quality gate. Zero is unlimited.
	MaxResultBytes int `mapstructure:"max_result_bytes"`
	// Simulate replaces the live runner with the deterministic offline one.
	Simulate bool `mapstructure:"simulate"`
}

// Load loads configuration with precedence (highest to lowest):
// environment variables (QUARTERMASTER_*, ANTHROPIC_API_KEY), project config
// (.quartermaster.yaml in the current directory or a parent), user config
// (~/.config/quartermaster/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("QUARTERMASTER")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Budget.WarnThreshold < 0 || c.Budget.WarnThreshold > 1 {
		return fmt.Errorf("budget.warn_threshold %v outside [0, 1]", c.Budget.WarnThreshold)
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold %v outside [0, 1]", c.Cache.SimilarityThreshold)
	}
	if c.Orchestrator.Parallelism < 1 {
		return fmt.Errorf("orchestrator.parallelism %d must be at least 1", c.Orchestrator.Parallelism)
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts %d must be at least 1", c.Orchestrator.MaxAttempts)
	}
	if c.Orchestrator.Temperature < 0 {
		return fmt.Errorf("orchestrator.temperature %v must not be negative", c.Orchestrator.Temperature)
	}
	for name, limits := range c.Providers {
		if limits.TokensPerDay < 0 || limits.CallsPerMinute < 0 || limits.CostPerDayUSD < 0 {
			return fmt.Errorf("provider %s has a negative limit", name)
		}
	}
	if c.Budget.CostPerMonthUSD < 0 {
		return fmt.Errorf("budget.cost_per_month_usd must not be negative")
	}
	return nil
}

// EnsureDirs creates the data and control directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.ControlDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// ControlDir is where cancel/pause control files are watched.
func (c *Config) ControlDir() string {
	return filepath.Join(c.DataDir, "control")
}

// LedgerDBPath is the sqlite file backing the usage ledger.
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// CacheDBPath is the sqlite file backing the result cache.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// LedgerConfig converts the configured limits to the ledger's shape.
// Per-minute call rates become per-day ceilings, the window the ledger
// tracks.
func (c *Config) LedgerConfig() ledger.Config {
	providers := make(map[string]ledger.Limits, len(c.Providers))
	for name, limits := range c.Providers {
		providers[name] = ledger.Limits{
			TokensPerDay:  limits.TokensPerDay,
			CallsPerDay:   int64(limits.CallsPerMinute) * 60 * 24,
			CostPerDayUSD: limits.CostPerDayUSD,
		}
	}
	return ledger.Config{
		Providers:       providers,
		CostPerMonthUSD: c.Budget.CostPerMonthUSD,
		WarnThreshold:   c.Budget.WarnThreshold,
	}
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("providers.anthropic.tokens_per_day", 5_000_000)
	v.SetDefault("providers.anthropic.calls_per_minute", 10)
	v.SetDefault("providers.anthropic.cost_per_day_usd", 50.0)

	v.SetDefault("budget.cost_per_month_usd", 500.0)
	v.SetDefault("budget.warn_threshold", 0.80)

	v.SetDefault("cache.similarity_threshold", 0.95)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.in_memory", false)

	v.SetDefault("orchestrator.parallelism", 4)
	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.provider", "anthropic")
	v.SetDefault("orchestrator.temperature", 0.0)
	v.SetDefault("orchestrator.max_result_bytes", 0)
	v.SetDefault("orchestrator.simulate", false)

	v.SetDefault("free_capabilities", []string{})
	v.SetDefault("data_dir", defaultDataDir())
}

// getUserConfigDir returns the XDG config directory.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "quartermaster")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "quartermaster")
	}
	return filepath.Join(home, ".config", "quartermaster")
}

func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "quartermaster")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".quartermaster")
	}
	return filepath.Join(home, ".local", "share", "quartermaster")
}

// findProjectConfig searches for .quartermaster.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".quartermaster.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the project config file if one exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Default returns a Config with built-in defaults, without touching disk.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{Model: "claude-sonnet-4-20250514"},
		Providers: map[string]ProviderLimits{
			"anthropic": {TokensPerDay: 5_000_000, CallsPerMinute: 10, CostPerDayUSD: 50},
		},
		Budget: BudgetConfig{CostPerMonthUSD: 500, WarnThreshold: 0.80},
		Cache: CacheConfig{
			SimilarityThreshold: 0.95,
			TTL:                 24 * time.Hour,
			SweepInterval:       5 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			Parallelism: 4,
			MaxAttempts: 3,
			Provider:    "anthropic",
		},
		DataDir: defaultDataDir(),
	}
}
