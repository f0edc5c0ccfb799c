package catalog

import (
	"encoding/hex"
	"encoding/json"

	"github.com/spaolacci/murmur3"

	"github.com/rasterbench/rasterbench/internal/config"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// setup is the part of a configuration that determines what is measured.
// Output locations, publishing and policy do not change the measurement.
type setup struct {
	FilePath      string             `json:"filepath"`
	HostFile      string             `json:"hostfile"`
	Mask          string             `json:"mask"`
	VarName       string             `json:"varname"`
	Scale         float64            `json:"scale"`
	Launcher      string             `json:"launcher"`
	LauncherFlags []string           `json:"launcher_flags"`
	Suite         config.Suite       `json:"suite"`
	DropCaches    bool               `json:"drop_caches"`
	ProcessCounts []int              `json:"process_counts"`
	Regions       []types.RegionSpec `json:"regions"`
}

// Fingerprint returns a stable 128-bit murmur3 digest of the measured setup,
// hex encoded. Runs with the same fingerprint are directly comparable.
func Fingerprint(cfg *config.Config) string {
	procs, regions := cfg.Axes()
	s := setup{
		FilePath:      cfg.FilePath,
		HostFile:      cfg.HostFile,
		Mask:          cfg.Mask,
		VarName:       cfg.VarName,
		Scale:         cfg.Scale,
		Launcher:      cfg.Harness.Launcher,
		LauncherFlags: cfg.Harness.LauncherFlags,
		Suite:         cfg.Harness.Suite,
		DropCaches:    cfg.Harness.DropCaches,
		ProcessCounts: procs,
		Regions:       regions,
	}
	// Struct fields marshal in declaration order, so the encoding is stable.
	data, _ := json.Marshal(s)

	h := murmur3.New128()
	h.Write(data)
	h1, h2 := h.Sum128()

	var sum [16]byte
	for i := 0; i < 8; i++ {
		sum[i] = byte(h1 >> (56 - 8*i))
		sum[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(sum[:])
}
