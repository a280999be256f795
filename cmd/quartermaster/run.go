package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rgoodall/quartermaster/internal/cache"
	"github.com/rgoodall/quartermaster/internal/config"
	"github.com/rgoodall/quartermaster/internal/ledger"
	"github.com/rgoodall/quartermaster/internal/metrics"
	"github.com/rgoodall/quartermaster/internal/orchestrator"
	"github.com/rgoodall/quartermaster/internal/planner"
	"github.com/rgoodall/quartermaster/internal/qc"
	"github.com/rgoodall/quartermaster/internal/runner"
	"github.com/rgoodall/quartermaster/pkg/models"
)

var (
	runTasksFile   string
	runSimulate    bool
	runParallelism int
	runVerbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task file",
	Long: `Load tasks from a YAML file, plan budgets against current ledger usage,
and execute the dependency graph.

Task file format:

  tasks:
    - id: design
      description: Design the storage schema
      capabilities: [sql]
    - id: implement
      description: Implement the storage layer
      depends_on: [design]
      capabilities: [go, sql]
      complexity_hint: 0.6

A run can be paused or cancelled cooperatively by creating a file named
"pause" or "cancel" in the control directory (see 'quartermaster config').`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runTasksFile, "tasks", "t", "", "Path to the task YAML file (required)")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Use the deterministic offline runner (no API calls)")
	runCmd.Flags().IntVarP(&runParallelism, "parallelism", "p", 0, "Concurrent node limit (overrides config)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Log engine activity")
	runCmd.MarkFlagRequired("tasks")
	rootCmd.AddCommand(runCmd)
}

// taskFile is the YAML shape of a submission.
type taskFile struct {
	Tasks []models.Task `yaml:"tasks"`
}

func loadTasks(path string) ([]models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}

	now := time.Now()
	for i := range tf.Tasks {
		if tf.Tasks[i].ID == "" {
			tf.Tasks[i].ID = uuid.New().String()[:8]
		}
		tf.Tasks[i].CreatedAt = now
	}
	return tf.Tasks, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if !runVerbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	tasks, err := loadTasks(runTasksFile)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()

	lg := ledger.New(cfg.LedgerConfig())
	lg.SetMetrics(collector)
	lg.SetAlertFunc(func(a ledger.Alert) {
		color.Yellow("warning: %s %s at %.0f%% of limit", a.Provider, a.Resource, 100*a.Used/a.Limit)
	})
	store, err := ledger.OpenStore(cfg.LedgerDBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := lg.AttachStore(store); err != nil {
		return err
	}

	var kv cache.KV
	if cfg.Cache.InMemory {
		kv = cache.NewMemoryKV()
	} else {
		skv, err := cache.OpenSQLiteKV(cfg.CacheDBPath())
		if err != nil {
			return err
		}
		defer skv.Close()
		kv = skv
	}
	resultCache := cache.New(kv,
		cache.WithSimilarity(cache.JaccardSimilarity, cfg.Cache.SimilarityThreshold),
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithMetrics(collector),
	)

	var run runner.Runner
	if runSimulate || cfg.Orchestrator.Simulate {
		run = runner.NewSimRunner()
	} else {
		run, err = runner.NewAnthropicRunner(runner.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return err
		}
	}

	controller, err := orchestrator.NewController(cfg.ControlDir())
	if err != nil {
		return err
	}
	defer controller.Stop()

	parallelism := cfg.Orchestrator.Parallelism
	if runParallelism > 0 {
		parallelism = runParallelism
	}

	engine := orchestrator.New(
		planner.New(cfg.FreeCapabilities),
		lg,
		resultCache,
		qc.New(qc.WithMaxAttempts(cfg.Orchestrator.MaxAttempts)),
		run,
		orchestrator.WithMetrics(collector),
		orchestrator.WithController(controller),
		orchestrator.WithParallelism(parallelism),
		orchestrator.WithProvider(cfg.Orchestrator.Provider, cfg.Anthropic.Model),
		orchestrator.WithTemperature(cfg.Orchestrator.Temperature),
		orchestrator.WithCacheTTL(cfg.Cache.TTL),
		orchestrator.WithMaxResultBytes(cfg.Orchestrator.MaxResultBytes),
		orchestrator.WithFreeRunner(runner.NewSimRunner()),
	)

	job, err := engine.Submit(tasks)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	resultCache.StartSweeper(ctx, cfg.Cache.SweepInterval)

	report, err := job.Execute(ctx)
	if err != nil {
		return err
	}

	printReport(report)
	printSummary(collector.Summary())

	if !report.AllApproved {
		os.Exit(1)
	}
	return nil
}

func printReport(report *orchestrator.Report) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println()
	for _, tr := range report.Tasks {
		if tr.Status == models.TaskStatusApproved {
			fmt.Printf("%s %s [%s]\n", green("✓"), tr.TaskID, tr.Budget.Tier)
			continue
		}
		fmt.Printf("%s %s [%s]\n", red("✗"), tr.TaskID, tr.Budget.Tier)
		if tr.Reason != "" {
			fmt.Printf("    %s\n", tr.Reason)
		}
	}
}

func printSummary(s metrics.Summary) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Printf("\n%s\n", bold("Run summary"))
	fmt.Printf("  tasks:     %d approved, %d failed\n", s.TasksApproved, s.TasksFailed)
	fmt.Printf("  nodes:     %d executed, %d cancelled\n", s.NodesExecuted, s.NodesCancelled)
	fmt.Printf("  QC:        %.0f%% approval\n", 100*s.QCApprovalRate)
	fmt.Printf("  cache:     %.0f%% hit rate, %d tokens saved ($%.4f)\n",
		100*s.CacheHitRate, s.TokensSaved, s.CostSavedUSD)
	for provider, tokens := range s.TokensUsed {
		fmt.Printf("  %s: %d tokens, %d calls, $%.4f\n",
			provider, tokens, s.CallsMade[provider], s.CostUSD[provider])
	}
}
