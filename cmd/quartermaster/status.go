package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rgoodall/quartermaster/internal/cache"
	"github.com/rgoodall/quartermaster/internal/config"
	"github.com/rgoodall/quartermaster/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger usage and cache state",
	Long: `Display persisted usage per provider and day, aggregate totals, and
result-cache occupancy.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("%s\n", bold("Usage ledger"))
	if _, err := os.Stat(cfg.LedgerDBPath()); os.IsNotExist(err) {
		fmt.Println("  no usage recorded yet")
	} else {
		store, err := ledger.OpenStore(cfg.LedgerDBPath())
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()

		rows, err := store.Load()
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		for _, row := range rows {
			fmt.Printf("  %s %s  %12d tokens  %6d calls  $%8.4f\n",
				cyan(row.Day), row.Provider, row.Tokens, row.Calls, row.Cost)
		}

		tokens, calls, cost, err := store.Totals()
		if err != nil {
			return fmt.Errorf("ledger totals: %w", err)
		}
		fmt.Printf("  %s        %12d tokens  %6d calls  $%8.4f\n", bold("total     "), tokens, calls, cost)
	}

	fmt.Printf("\n%s\n", bold("Result cache"))
	if _, err := os.Stat(cfg.CacheDBPath()); os.IsNotExist(err) {
		fmt.Println("  empty")
		return nil
	}
	kv, err := cache.OpenSQLiteKV(cfg.CacheDBPath())
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer kv.Close()

	total, live, err := kv.Stats(time.Now())
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	fmt.Printf("  %d entries (%d live, %d expired)\n", total, live, total-live)
	return nil
}
