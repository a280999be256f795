package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rgoodall/quartermaster/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Display the effective configuration after merging defaults, the user
config (~/.config/quartermaster/config.yaml), the project config
(.quartermaster.yaml), and environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		displayConfig(cfg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func displayConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)

	providers := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	for _, name := range providers {
		limits := cfg.Providers[name]
		fmt.Printf("providers.%s: %d tokens/day, %d calls/min, $%.2f/day\n",
			name, limits.TokensPerDay, limits.CallsPerMinute, limits.CostPerDayUSD)
	}

	fmt.Printf("budget.cost_per_month_usd: %.2f\n", cfg.Budget.CostPerMonthUSD)
	fmt.Printf("budget.warn_threshold: %.2f\n", cfg.Budget.WarnThreshold)
	fmt.Printf("cache.similarity_threshold: %.2f\n", cfg.Cache.SimilarityThreshold)
	fmt.Printf("cache.ttl: %s\n", cfg.Cache.TTL)
	fmt.Printf("cache.sweep_interval: %s\n", cfg.Cache.SweepInterval)
	fmt.Printf("orchestrator.parallelism: %d\n", cfg.Orchestrator.Parallelism)
	fmt.Printf("orchestrator.max_attempts: %d\n", cfg.Orchestrator.MaxAttempts)
	fmt.Printf("orchestrator.provider: %s\n", cfg.Orchestrator.Provider)
	fmt.Printf("orchestrator.temperature: %.2f\n", cfg.Orchestrator.Temperature)
	fmt.Printf("free_capabilities: %v\n", cfg.FreeCapabilities)
	fmt.Printf("data_dir: %s\n", cfg.DataDir)
	fmt.Printf("control_dir: %s\n", cfg.ControlDir())

	fmt.Printf("\nuser config: %s\n", config.GetUserConfigPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("project config: %s\n", project)
	}
}
