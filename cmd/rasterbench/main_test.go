package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rasterbench/rasterbench/internal/config"
	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
)

func TestRunBenchmark_MissingConfig(t *testing.T) {
	dir := t.TempDir()
	wd, wdErr := os.Getwd()
	if wdErr != nil {
		t.Fatal(wdErr)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	err := runBenchmark(context.Background(), filepath.Join(dir, "missing.json"), "3", runFlags{})
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if benchErrors.GetCode(err) != benchErrors.CodeConfigNotFound {
		t.Errorf("code = %q, want %q", benchErrors.GetCode(err), benchErrors.CodeConfigNotFound)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("missing config left %d entries behind", len(entries))
	}
}

func TestRunBenchmark_InvalidTimes(t *testing.T) {
	for _, arg := range []string{"0", "-2", "three"} {
		err := runBenchmark(context.Background(), "config.json", arg, runFlags{})
		if benchErrors.GetCode(err) != benchErrors.CodeConfigInvalid {
			t.Errorf("times %q: err = %v", arg, err)
		}
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"filepath": "/data/cesm.nc", "nprocs": 4, "varname": "TS", "outfn": "/scratch/out/cesm.nc"}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, runFlags{
		policy:       "lenient",
		suite:        "streaming",
		timeout:      90 * time.Second,
		noDropCaches: true,
		catalog:      "/tmp/results.db",
	})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.NProcs != 4 || cfg.VarName != "TS" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.Harness.Policy != config.PolicyLenient || cfg.Harness.Suite != config.SuiteStreaming {
		t.Errorf("harness = %+v", cfg.Harness)
	}
	if time.Duration(cfg.Harness.Timeout) != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Harness.Timeout)
	}
	if cfg.Harness.DropCaches {
		t.Error("--no-drop-caches ignored")
	}
	if cfg.Results.Catalog != "/tmp/results.db" {
		t.Errorf("catalog = %q", cfg.Results.Catalog)
	}
}

func TestRootCommand_RequiresTwoArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"config.json"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected usage error with one argument")
	}
}
