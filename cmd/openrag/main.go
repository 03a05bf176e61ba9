// Package main provides the openrag binary entry point.
// Openrag answers natural-language questions against Aralia data planets:
// it searches the galaxy for relevant datasets, plans chart queries, fills
// in filter values, runs the explorations, and interprets the results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/araliadata/openrag/llm/providers"

	"github.com/araliadata/openrag/config"
	"github.com/araliadata/openrag/pipeline"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "openrag"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Ask questions against Aralia data planets",
		Long: `Openrag turns a natural-language question into chart queries against
Aralia data planets and interprets the results.

The pipeline runs five stages: dataset search, chart planning, filter
decision, query execution, and interpretation. Credentials and model
settings come from openrag.yaml, ~/.config/openrag/config.yaml, and
environment variables (OPENRAG_API_KEY, ARALIA_CLIENT_ID, ...).`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log stage progress (same as --log-level info)")

	cmd.AddCommand(askCmd(&configPath, &logLevel, &verbose))
	cmd.AddCommand(configCmd(&logLevel))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func askCmd(configPath, logLevel *string, verbose *bool) *cobra.Command {
	var (
		model           string
		provider        string
		apiKey          string
		endpoint        string
		csvDir          string
		interpretPrompt string
		timeout         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask \"question\"",
		Short: "Answer a question with the analytics pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(*logLevel, *verbose)

			cfg, err := config.NewLoader(logger).Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyOverrides(cfg, model, provider, apiKey, endpoint, csvDir)
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			question := strings.Join(args, " ")
			res, err := p.Run(ctx, pipeline.Request{
				Question:             question,
				InterpretationPrompt: interpretPrompt,
				CSVDir:               csvDir,
			})
			if res != nil {
				printResult(cmd, res)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name (overrides config)")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider (openai, anthropic, gemini)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "LLM API key (or OPENRAG_API_KEY)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "LLM endpoint override")
	cmd.Flags().StringVar(&csvDir, "csv-dir", "", "Directory for per-chart CSV artifacts")
	cmd.Flags().StringVarP(&interpretPrompt, "interpretation-prompt", "p", "", "Custom instructions for the interpretation stage")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall run timeout (0 disables)")

	return cmd
}

func configCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage openrag configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default user config file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogging(*logLevel, false)
			if err := config.NewLoader(logger).EnsureUserConfig(); err != nil {
				return fmt.Errorf("write user config: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return nil
			}
			cmd.Printf("user config: %s\n", filepath.Join(home, config.UserConfigDir, config.UserConfigFile))
			return nil
		},
	})

	return cmd
}

// setupLogging configures the default slog logger. --verbose raises the
// floor to info so stage progress shows without debug noise.
func setupLogging(logLevel string, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	if verbose && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func applyOverrides(cfg *config.Config, model, provider, apiKey, endpoint, csvDir string) {
	if model != "" {
		cfg.Model.Name = model
	}
	if provider != "" {
		cfg.Model.Provider = provider
	}
	if apiKey != "" {
		cfg.Model.APIKey = apiKey
	}
	if endpoint != "" {
		cfg.Model.Endpoint = endpoint
	}
	if csvDir != "" {
		cfg.Output.CSVDir = csvDir
	}
}

// printResult writes the narrative followed by the usage report. Partial
// results from a failed run get the same treatment; the error itself is
// reported by the command runner.
func printResult(cmd *cobra.Command, res *pipeline.Result) {
	if res.FinalResponse != "" {
		cmd.Println(res.FinalResponse)
		cmd.Println()
	}
	for _, note := range res.Errors {
		cmd.PrintErrf("note: %s\n", note)
	}
	printUsageReport(cmd, res.Meta)
}

func printUsageReport(cmd *cobra.Command, meta *pipeline.Metadata) {
	if meta == nil || meta.TotalTokens.TotalTokens == 0 {
		return
	}

	cmd.Println("=== Token Usage Summary ===")
	cmd.Printf("Total Tokens: %d\n", meta.TotalTokens.TotalTokens)
	cmd.Printf("Prompt Tokens: %d\n", meta.TotalTokens.PromptTokens)
	cmd.Printf("Completion Tokens: %d\n", meta.TotalTokens.CompletionTokens)

	stages := meta.CompletedStages
	if meta.CurrentStage != "" {
		stages = append(append([]string{}, stages...), meta.CurrentStage)
	}
	if len(stages) == 0 {
		return
	}

	cmd.Println("\n=== Per-Stage Usage ===")
	for _, name := range stages {
		usage := meta.StageTokens[name]
		cmd.Printf("%s: %d tokens (prompt: %d, completion: %d) in %s\n",
			name, usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens,
			meta.StageDurations[name].Round(time.Millisecond))
	}
}
