package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hablara/leadscope/internal/cache"
	"github.com/hablara/leadscope/internal/genai"
	"github.com/hablara/leadscope/internal/input"
	"github.com/hablara/leadscope/internal/logging"
	"github.com/hablara/leadscope/internal/model"
	"github.com/hablara/leadscope/internal/pipeline"
	"github.com/hablara/leadscope/internal/recipe"
	"github.com/hablara/leadscope/internal/watch"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"

	jsonOutput bool
	logLevel   string
)

func main() {
	// .env is optional; real deployments set the key in the environment.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "leadscope",
		Short: "Batch analyzer for lead conversation histories",
		Long: `Leadscope analyzes batches of per-lead conversation histories,
combining deterministic rule processors with an LLM summarization
call, and produces one structured analysis record per lead.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logLevel, jsonOutput)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(cacheCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("leadscope %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	}
}

func analyzeCmd() *cobra.Command {
	var (
		inputPath  string
		recipePath string
		outPath    string
		workers    int
		noCache    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one batch file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			analyzer, store, client, err := buildAnalyzer(recipePath, workers, noCache)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			batch, err := input.Load(inputPath)
			if err != nil {
				return err
			}

			records := analyzer.AnalyzeBatch(ctx, batch)

			if err := writeRecords(records, outPath); err != nil {
				return err
			}
			printSummary(records, client.GetUsageStats())
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Batch file (JSON)")
	cmd.Flags().StringVarP(&recipePath, "recipe", "r", "", "Recipe file (YAML, built-in default if omitted)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Results file (stdout if omitted)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Worker pool size (0 = auto)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the analysis cache")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func watchCmd() *cobra.Command {
	var (
		dir         string
		recipePath  string
		workers     int
		noCache     bool
		debounceSec int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop directory and analyze new batch files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			analyzer, store, client, err := buildAnalyzer(recipePath, workers, noCache)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			w := watch.New(dir, time.Duration(debounceSec)*time.Second, func(ctx context.Context, path string) error {
				if strings.HasSuffix(path, ".results.json") {
					return nil
				}
				batch, err := input.Load(path)
				if err != nil {
					return err
				}
				records := analyzer.AnalyzeBatch(ctx, batch)
				outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".results.json"
				if err := writeRecords(records, outPath); err != nil {
					return err
				}
				printSummary(records, client.GetUsageStats())
				return nil
			})

			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to watch")
	cmd.Flags().StringVarP(&recipePath, "recipe", "r", "", "Recipe file (YAML, built-in default if omitted)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Worker pool size (0 = auto)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the analysis cache")
	cmd.Flags().IntVar(&debounceSec, "debounce", 2, "Seconds to wait for a file to settle")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the analysis cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cache.OpenDefault()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(stats)
			} else {
				fmt.Printf("entries: %d\n", stats.Entries)
				for model, n := range stats.Models {
					fmt.Printf("  %s: %d\n", model, n)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cache.OpenDefault()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(context.Background()); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		},
	})

	return cmd
}

// buildAnalyzer wires recipe + model client + cache into a pipeline.
func buildAnalyzer(recipePath string, workers int, noCache bool) (*pipeline.Analyzer, *cache.Store, *genai.Client, error) {
	rec, err := loadRecipe(recipePath)
	if err != nil {
		return nil, nil, nil, err
	}

	apiKey := os.Getenv("LEADSCOPE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, nil, nil, fmt.Errorf("no API key: set LEADSCOPE_API_KEY or GEMINI_API_KEY")
	}
	client := genai.NewClient(apiKey)

	var store *cache.Store
	if !noCache {
		store, err = cache.OpenDefault()
		if err != nil {
			return nil, nil, nil, err
		}
	}

	var rcache pipeline.ResultCache
	if store != nil {
		rcache = store
	}
	analyzer, err := pipeline.New(rec, client, rcache, workers)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, nil, err
	}
	return analyzer, store, client, nil
}

func loadRecipe(path string) (*recipe.Recipe, error) {
	if path == "" {
		return recipe.Default(), nil
	}
	return recipe.Load(path)
}

func writeRecords(records []model.AnalysisRecord, outPath string) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if outPath == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(outPath, data, 0644)
}

func printSummary(records []model.AnalysisRecord, usage genai.UsageStats) {
	counts := map[model.Status]int{}
	for _, r := range records {
		counts[r.Status]++
	}

	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(os.Stderr, "%d leads: %s fresh, %s cached, %s no-data, %s errors\n",
		len(records),
		green(counts[model.StatusFresh]),
		cyan(counts[model.StatusCached]),
		yellow(counts[model.StatusNoData]),
		red(counts[model.StatusErrorAPI]+counts[model.StatusErrorTimeout]+counts[model.StatusErrorValidation]),
	)
	if usage.GenerateCalls > 0 {
		fmt.Fprintf(os.Stderr, "model calls: %d (est. $%.4f)\n", usage.GenerateCalls, usage.EstimatedCostUSD)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
