package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rasterbench/rasterbench/internal/catalog"
	"github.com/rasterbench/rasterbench/internal/config"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/internal/storage"
)

// catalogPath resolves the catalog from the flag or the environment.
func catalogPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv("RASTERBENCH_CATALOG"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no results catalog: pass --catalog or set RASTERBENCH_CATALOG")
}

func openCatalog(flag string) (*catalog.SQLiteCatalog, error) {
	path, err := catalogPath(flag)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("results catalog %s not found", path)
	}
	return catalog.NewCatalog(path)
}

func newHistoryCommand() *cobra.Command {
	var (
		catalogFlag string
		fingerprint string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(catalogFlag)
			if err != nil {
				return err
			}
			defer cat.Close()

			runs, err := cat.ListRuns(cmd.Context(), catalog.RunFilter{Fingerprint: fingerprint, Limit: limit})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tSUITE\tPOLICY\tTIMES\tPOINTS\tFAILED\tFINGERPRINT")
			for _, r := range runs {
				started := r.Started.Local().Format(time.DateTime)
				if r.Finished == nil {
					started += " (unfinished)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.RunID, started, r.Suite, r.Policy, r.Times, r.Points, r.Failed, r.Fingerprint)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&catalogFlag, "catalog", "", "SQLite results catalog path")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Only list runs of this setup fingerprint")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs (0 lists all)")
	return cmd
}

func newShowCommand() *cobra.Command {
	var (
		catalogFlag string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(catalogFlag)
			if err != nil {
				return err
			}
			defer cat.Close()

			rep, err := cat.LoadReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				return report.WriteTable(out, rep, true)
			case "json":
				return report.WriteJSON(out, rep)
			case "yaml":
				return report.WriteYAML(out, rep)
			default:
				return fmt.Errorf("unknown format %q (must be text, json or yaml)", format)
			}
		},
	}

	cmd.Flags().StringVar(&catalogFlag, "catalog", "", "SQLite results catalog path")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, json, yaml")
	return cmd
}

func newFetchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <config> <run-id> <dir>",
		Short: "Download the published artifacts of a run",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			config.LoadFromEnv(cfg)
			cfg.Resolve()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			store, err := storage.New(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("storage is not configured in %s", args[0])
			}

			files, err := storage.NewPublisher(store, cfg.Storage.Prefix, 4).Fetch(ctx, args[1], args[2])
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	return cmd
}
