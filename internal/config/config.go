// Package config provides the benchmark configuration: the run target
// (source file, process count, converter arguments) and the harness settings
// around it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// Policy decides what a failed repetition costs.
type Policy string

const (
	// PolicyStrict aborts the axis point on the first launch or parse failure.
	PolicyStrict Policy = "strict"

	// PolicyLenient drops the failed repetition and keeps measuring.
	PolicyLenient Policy = "lenient"
)

// Suite names a set of read probes.
type Suite string

const (
	SuiteBasic            Suite = "basic"
	SuiteStreaming        Suite = "streaming"
	SuiteRegions          Suite = "regions"
	SuiteRegionsStreaming Suite = "regions-streaming"
)

// DefaultRegions is the CESM region matrix used when sweeping regions.
var DefaultRegions = []types.RegionSpec{
	{"1"}, {"2"}, {"3"}, {"6"}, {"10"},
	{"10", "2", "3"}, {"1", "3", "6"}, {"2", "3", "6"}, {"2", "6", "1"}, {"1", "2", "10"},
}

// DefaultProcessCounts is the process-count axis used when sweeping.
var DefaultProcessCounts = []int{1, 2, 4, 8}

// Config holds the full benchmark configuration. The flat fields match the
// keys of the original run configuration files so those load unchanged.
type Config struct {
	// FilePath is the source data file handed to the converter
	FilePath string `json:"filepath" yaml:"filepath"`

	// NProcs is the default number of worker processes
	NProcs int `json:"nprocs" yaml:"nprocs"`

	// HostFile is an optional host placement list; empty means no constraint
	HostFile string `json:"hostfile" yaml:"hostfile"`

	// Mask is the region mask variable name
	Mask string `json:"mask" yaml:"mask"`

	// VarName is the variable under test
	VarName string `json:"varname" yaml:"varname"`

	// Scale is the scale factor passed to the converter
	Scale float64 `json:"scale" yaml:"scale"`

	// OutFn is the converter destination; its extension is stripped to get
	// the prefix shared by every backend artifact
	OutFn string `json:"outfn" yaml:"outfn"`

	// Harness controls how trials are launched and measured
	Harness HarnessConfig `json:"harness" yaml:"harness"`

	// Results controls the results catalog and report artifacts
	Results ResultsConfig `json:"results" yaml:"results"`

	// Storage configures where report artifacts are published
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Notify configures progressive summary publishing
	Notify NotifyConfig `json:"notify" yaml:"notify"`

	// Status configures the live status endpoint
	Status StatusConfig `json:"status" yaml:"status"`
}

// HarnessConfig holds launch and measurement settings.
type HarnessConfig struct {
	// Launcher is the multi-process launch program; empty runs executables directly
	Launcher string `json:"launcher" yaml:"launcher"`

	// LauncherFlags are passed to the launcher before the process count flag
	LauncherFlags []string `json:"launcher_flags" yaml:"launcher_flags"`

	// BinDir is the directory holding the converter and read executables
	BinDir string `json:"bin_dir" yaml:"bin_dir"`

	// Suite selects the read probes to run
	Suite Suite `json:"suite" yaml:"suite"`

	// Policy is the failure policy: strict or lenient
	Policy Policy `json:"policy" yaml:"policy"`

	// Timeout bounds each external invocation; zero disables it
	Timeout Duration `json:"timeout" yaml:"timeout"`

	// DropCaches enables the page cache drop before timed phases
	DropCaches bool `json:"drop_caches" yaml:"drop_caches"`

	// DropCachesPath is the kernel control file written to drop caches
	DropCachesPath string `json:"drop_caches_path" yaml:"drop_caches_path"`

	// Sweep enables the full process-count by region matrix
	Sweep bool `json:"sweep" yaml:"sweep"`

	// ProcessCounts overrides the process-count axis of a sweep
	ProcessCounts []int `json:"process_counts" yaml:"process_counts"`

	// Regions overrides the region axis of a sweep
	Regions []types.RegionSpec `json:"regions" yaml:"regions"`
}

// ResultsConfig holds result persistence settings.
type ResultsConfig struct {
	// Dir is where report artifacts are written
	Dir string `json:"dir" yaml:"dir"`

	// Catalog is the SQLite results catalog path; empty disables it
	Catalog string `json:"catalog" yaml:"catalog"`

	// ArchiveOutput stores compressed captured output for every trial
	ArchiveOutput bool `json:"archive_output" yaml:"archive_output"`

	// Chart renders a PNG chart of the final report
	Chart bool `json:"chart" yaml:"chart"`
}

// StorageConfig holds report publishing configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every published object path
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// NotifyConfig holds MQTT publishing configuration.
type NotifyConfig struct {
	// Broker is the MQTT broker URL, e.g. tcp://localhost:1883; empty disables publishing
	Broker string `json:"broker" yaml:"broker"`

	// Topic is the topic prefix for published summaries
	Topic string `json:"topic" yaml:"topic"`

	// ClientID is the MQTT client identifier
	ClientID string `json:"client_id" yaml:"client_id"`
}

// StatusConfig holds status endpoint configuration.
type StatusConfig struct {
	// Addr is the gRPC listen address; empty disables the endpoint
	Addr string `json:"addr" yaml:"addr"`
}

// DefaultConfig returns a configuration with every harness default set and
// no run target.
func DefaultConfig() *Config {
	return &Config{
		NProcs: 1,
		Scale:  1,
		Harness: HarnessConfig{
			Launcher:       "mpirun",
			LauncherFlags:  []string{"--allow-run-as-root"},
			BinDir:         ".",
			Suite:          SuiteBasic,
			Policy:         PolicyStrict,
			DropCaches:     true,
			DropCachesPath: "/proc/sys/vm/drop_caches",
		},
		Results: ResultsConfig{
			Dir: "./results",
		},
		Storage: StorageConfig{
			Type: "none",
		},
		Notify: NotifyConfig{
			Topic:    "rasterbench",
			ClientID: "rasterbench",
		},
	}
}

// Resolve fills derived defaults.
func (c *Config) Resolve() {
	if c.Harness.BinDir == "" {
		c.Harness.BinDir = "."
	}
	if c.Harness.Suite == "" {
		c.Harness.Suite = SuiteBasic
	}
	if c.Harness.Policy == "" {
		c.Harness.Policy = PolicyStrict
	}
	if c.Results.Dir == "" {
		c.Results.Dir = "./results"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "none"
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.Results.Dir, "published")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.FilePath == "" {
		return fmt.Errorf("filepath is required")
	}
	if c.NProcs <= 0 {
		return fmt.Errorf("nprocs must be a positive integer, got %d", c.NProcs)
	}
	if c.VarName == "" {
		return fmt.Errorf("varname is required")
	}
	if c.OutFn == "" {
		return fmt.Errorf("outfn is required")
	}
	if dir := filepath.Dir(c.OutFn); dir == "." || dir == "" {
		return fmt.Errorf("outfn %q must include a directory component", c.OutFn)
	}
	if err := c.validateWorkspace(); err != nil {
		return err
	}

	switch c.Harness.Policy {
	case PolicyStrict, PolicyLenient:
	default:
		return fmt.Errorf("invalid policy: %s (must be strict or lenient)", c.Harness.Policy)
	}

	switch c.Harness.Suite {
	case SuiteBasic, SuiteStreaming:
	case SuiteRegions, SuiteRegionsStreaming:
		if c.Mask == "" {
			return fmt.Errorf("mask is required for suite %s", c.Harness.Suite)
		}
	default:
		return fmt.Errorf("invalid suite: %s", c.Harness.Suite)
	}

	if c.Harness.Timeout < 0 {
		return fmt.Errorf("harness.timeout must not be negative")
	}
	for _, n := range c.Harness.ProcessCounts {
		if n <= 0 {
			return fmt.Errorf("harness.process_counts must be positive, got %d", n)
		}
	}

	switch c.Storage.Type {
	case "none", "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when storage type is s3")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}

	return nil
}

// validateWorkspace rejects inputs and result locations inside the output
// directory, which the workspace preparer wipes before every conversion.
func (c *Config) validateWorkspace() error {
	out := c.OutputDir()
	paths := []struct{ key, path string }{
		{"filepath", c.FilePath},
		{"results.dir", c.Results.Dir},
		{"results.catalog", c.Results.Catalog},
		{"harness.bin_dir", c.Harness.BinDir},
	}
	for _, p := range paths {
		if p.path == "" || !within(out, p.path) {
			continue
		}
		return benchErrors.NewConfigError(benchErrors.CodeConfigInvalid,
			fmt.Sprintf("%s %q lies inside the output directory %q, which is wiped before every conversion", p.key, p.path, out), nil)
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ScaleArg formats the scale factor the way the converter expects it.
func (c *Config) ScaleArg() string {
	return strconv.FormatFloat(c.Scale, 'f', -1, 64)
}

// ArtifactPrefix returns outfn without its extension.
func (c *Config) ArtifactPrefix() string {
	return strings.TrimSuffix(c.OutFn, filepath.Ext(c.OutFn))
}

// ArtifactExt returns the extension of outfn, including the dot.
func (c *Config) ArtifactExt() string {
	return filepath.Ext(c.OutFn)
}

// ArtifactPath returns the path of the artifact the converter writes for b.
func (c *Config) ArtifactPath(b types.Backend) string {
	return c.ArtifactPrefix() + "_" + b.ArtifactSuffix() + c.ArtifactExt()
}

// OutputDir returns the directory owned by the workspace preparer.
func (c *Config) OutputDir() string {
	return filepath.Dir(c.OutFn)
}

// Executable returns the path of a harness executable inside BinDir.
func (c *Config) Executable(name string) string {
	if c.Harness.BinDir == "." {
		return "./" + name
	}
	return filepath.Join(c.Harness.BinDir, name)
}

// ForProcs returns a copy of the configuration targeting n processes.
func (c *Config) ForProcs(n int) *Config {
	cp := *c
	cp.NProcs = n
	return &cp
}

// Axes returns the process counts and region specs of the run in iteration
// order. Without sweeping the run is a single point at NProcs.
func (c *Config) Axes() ([]int, []types.RegionSpec) {
	procs := []int{c.NProcs}
	regions := []types.RegionSpec{{}}

	if c.Harness.Sweep {
		procs = DefaultProcessCounts
		if len(c.Harness.ProcessCounts) > 0 {
			procs = c.Harness.ProcessCounts
		}
	}

	isRegional := c.Harness.Suite == SuiteRegions || c.Harness.Suite == SuiteRegionsStreaming
	if isRegional {
		regions = DefaultRegions
		if len(c.Harness.Regions) > 0 {
			regions = c.Harness.Regions
		}
	}
	return procs, regions
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration overrides from environment variables.
// Environment variables use the RASTERBENCH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("RASTERBENCH_HOSTFILE"); v != "" {
		cfg.HostFile = v
	}
	if v := os.Getenv("RASTERBENCH_NPROCS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.NProcs)
	}

	// Harness configuration
	if v := os.Getenv("RASTERBENCH_LAUNCHER"); v != "" {
		cfg.Harness.Launcher = v
	}
	if v := os.Getenv("RASTERBENCH_BIN_DIR"); v != "" {
		cfg.Harness.BinDir = v
	}
	if v := os.Getenv("RASTERBENCH_POLICY"); v != "" {
		cfg.Harness.Policy = Policy(v)
	}
	if v := os.Getenv("RASTERBENCH_SUITE"); v != "" {
		cfg.Harness.Suite = Suite(v)
	}
	if v := os.Getenv("RASTERBENCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Harness.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("RASTERBENCH_DROP_CACHES"); v != "" {
		cfg.Harness.DropCaches = v == "true" || v == "1"
	}

	// Results configuration
	if v := os.Getenv("RASTERBENCH_RESULTS_DIR"); v != "" {
		cfg.Results.Dir = v
	}
	if v := os.Getenv("RASTERBENCH_CATALOG"); v != "" {
		cfg.Results.Catalog = v
	}

	// Storage configuration
	if v := os.Getenv("RASTERBENCH_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("RASTERBENCH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("RASTERBENCH_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("RASTERBENCH_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("RASTERBENCH_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Notify and status configuration
	if v := os.Getenv("RASTERBENCH_MQTT_BROKER"); v != "" {
		cfg.Notify.Broker = v
	}
	if v := os.Getenv("RASTERBENCH_STATUS_ADDR"); v != "" {
		cfg.Status.Addr = v
	}
}
