// Package main implements the rasterbench binary: it converts a source file
// into every storage backend, times parallel reads against each, and reports
// the averaged results.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rasterbench/rasterbench/internal/app"
	"github.com/rasterbench/rasterbench/internal/config"
	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// runFlags are the command line overrides of the run configuration.
type runFlags struct {
	policy       string
	suite        string
	timeout      time.Duration
	sweep        bool
	noDropCaches bool
	dryRun       bool
	catalog      string
	chart        bool
	verbose      bool
	wide         bool
}

func main() {
	// A missing .env file is the common case.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags runFlags

	rootCmd := &cobra.Command{
		Use:   "rasterbench <config> <times>",
		Short: "Storage format read benchmark",
		Long: `rasterbench converts a source file into every storage backend, times
parallel reads against each under a multi-process launcher, and reports the
mean read time per backend over <times> repetitions.

Environment Variables:
  RASTERBENCH_LAUNCHER      Launcher program (empty runs executables directly)
  RASTERBENCH_BIN_DIR       Directory of the converter and read executables
  RASTERBENCH_POLICY        Failure policy (strict, lenient)
  RASTERBENCH_CATALOG       SQLite results catalog path
  RASTERBENCH_STORAGE_TYPE  Report publishing (none, local, s3)
  RASTERBENCH_MQTT_BROKER   MQTT broker for progress messages`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd.Context(), args[0], args[1], flags)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&flags.policy, "policy", "", "Failure policy: strict or lenient")
	f.StringVar(&flags.suite, "suite", "", "Read suite: basic, streaming, regions, regions-streaming")
	f.DurationVar(&flags.timeout, "timeout", 0, "Timeout for each external invocation (0 disables)")
	f.BoolVar(&flags.sweep, "sweep", false, "Sweep the full process-count by region matrix")
	f.BoolVar(&flags.noDropCaches, "no-drop-caches", false, "Do not drop the page cache before timed phases")
	f.BoolVar(&flags.dryRun, "dry-run", false, "Print every command without running it")
	f.StringVar(&flags.catalog, "catalog", "", "SQLite results catalog path")
	f.BoolVar(&flags.chart, "chart", false, "Render a PNG chart of the report")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Stream the raw output of every invocation to stderr")
	f.BoolVar(&flags.wide, "wide", false, "Always print median and interval columns")

	rootCmd.AddCommand(newHistoryCommand(), newShowCommand(), newFetchCommand(), &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rasterbench version %s (commit: %s)\n", version, commit)
		},
	})
	return rootCmd
}

func runBenchmark(ctx context.Context, configFile, timesArg string, flags runFlags) error {
	times, err := strconv.Atoi(timesArg)
	if err != nil || times <= 0 {
		return benchErrors.NewConfigError(benchErrors.CodeConfigInvalid,
			fmt.Sprintf("times must be a positive integer, got %q", timesArg), err)
	}

	// Nothing may be touched before the configuration is known to exist.
	if _, err := os.Stat(configFile); err != nil {
		return benchErrors.NewConfigError(benchErrors.CodeConfigNotFound,
			fmt.Sprintf("config file %s not found", configFile), err)
	}

	cfg, err := loadConfig(configFile, flags)
	if err != nil {
		return err
	}

	opts := app.Options{DryRun: flags.dryRun, Wide: flags.wide}
	if flags.verbose {
		opts.Echo = os.Stderr
	}
	a, err := app.New(cfg, opts)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := a.Shutdown().WithSignals(ctx)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	rep, runErr := a.Run(ctx, times)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		log.Printf("[WARN] rasterbench: shutdown: %v", err)
	}

	if runErr != nil {
		return runErr
	}
	if failed := len(rep.Failed()); failed > 0 && !flags.dryRun {
		return fmt.Errorf("%d of %d axis points failed", failed, len(rep.Entries))
	}
	return nil
}

// loadConfig reads the file, applies environment overrides, then flags.
func loadConfig(configFile string, flags runFlags) (*config.Config, error) {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, benchErrors.NewConfigError(benchErrors.CodeConfigInvalid, "failed to load configuration", err)
	}
	config.LoadFromEnv(cfg)

	if flags.policy != "" {
		cfg.Harness.Policy = config.Policy(flags.policy)
	}
	if flags.suite != "" {
		cfg.Harness.Suite = config.Suite(flags.suite)
	}
	if flags.timeout > 0 {
		cfg.Harness.Timeout = config.Duration(flags.timeout)
	}
	if flags.sweep {
		cfg.Harness.Sweep = true
	}
	if flags.noDropCaches {
		cfg.Harness.DropCaches = false
	}
	if flags.catalog != "" {
		cfg.Results.Catalog = flags.catalog
	}
	if flags.chart {
		cfg.Results.Chart = true
	}
	return cfg, nil
}
