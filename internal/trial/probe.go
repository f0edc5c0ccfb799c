package trial

import (
	"fmt"

	"github.com/rasterbench/rasterbench/internal/config"
	"github.com/rasterbench/rasterbench/internal/parser"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// Target is what an argument builder sees: the run configuration (already
// narrowed to one process count) and the region spec of the axis point.
type Target struct {
	Config  *config.Config
	Regions types.RegionSpec
}

// ArgsFunc builds the positional arguments of one executable. Argument order
// is owned by the executable.
type ArgsFunc func(t Target) []string

// Probe describes one external executable invocation per repetition and the
// tags it reports. One probe may measure several backends.
type Probe struct {
	Name       string
	Executable string
	Args       ArgsFunc
	Vocabulary parser.Vocabulary
}

// Backends returns the backends the probe measures.
func (p Probe) Backends() []types.Backend {
	return p.Vocabulary.Backends()
}

// ConvertProbe materializes every backend's artifact from the source file:
// (source, dest, mask, varname, scale).
var ConvertProbe = Probe{
	Name:       "convert",
	Executable: "test_convert",
	Args: func(t Target) []string {
		c := t.Config
		return []string{c.FilePath, c.OutFn, c.Mask, c.VarName, c.ScaleArg()}
	},
	Vocabulary: parser.Vocabulary{parser.TagConvertPlain, parser.TagConvertRegion, parser.TagConvertStreaming},
}

// ReadProbe reads the whole variable from the plain and region artifacts:
// (plain, region, varname).
var ReadProbe = Probe{
	Name:       "read",
	Executable: "test_benchmark",
	Args: func(t Target) []string {
		c := t.Config
		return []string{c.ArtifactPath(types.BackendPlain), c.ArtifactPath(types.BackendRegion), c.VarName}
	},
	Vocabulary: parser.Vocabulary{parser.TagReadPlain, parser.TagReadRegion},
}

// StreamingReadProbe reads the whole variable from the ADIOS2 artifact:
// (streaming, varname).
var StreamingReadProbe = Probe{
	Name:       "read-adios2",
	Executable: "test_benchmark_adios",
	Args: func(t Target) []string {
		c := t.Config
		return []string{c.ArtifactPath(types.BackendStreaming), c.VarName}
	},
	Vocabulary: parser.Vocabulary{parser.TagReadStreaming},
}

// MaskedReadProbe reads the listed regions from the plain and region
// artifacts: (plain, region, varname, mask, ids...).
var MaskedReadProbe = Probe{
	Name:       "masked-read",
	Executable: "test_masked_multi_read",
	Args: func(t Target) []string {
		c := t.Config
		args := []string{c.ArtifactPath(types.BackendPlain), c.ArtifactPath(types.BackendRegion), c.VarName, c.Mask}
		return append(args, t.Regions...)
	},
	Vocabulary: parser.Vocabulary{parser.TagReadPlain, parser.TagReadRegion},
}

// MaskedStreamingReadProbe reads the listed regions through ADIOS2, which
// addresses variables by absolute path:
// (plain, region, "/"+varname, "/"+mask, ids...).
var MaskedStreamingReadProbe = Probe{
	Name:       "masked-read-adios2",
	Executable: "test_masked_multi_read_adios2",
	Args: func(t Target) []string {
		c := t.Config
		args := []string{c.ArtifactPath(types.BackendPlain), c.ArtifactPath(types.BackendRegion), "/" + c.VarName, "/" + c.Mask}
		return append(args, t.Regions...)
	},
	Vocabulary: parser.Vocabulary{parser.TagReadStreaming},
}

// SuiteProbes returns the read probes of a suite in invocation order.
func SuiteProbes(s config.Suite) ([]Probe, error) {
	switch s {
	case config.SuiteBasic:
		return []Probe{ReadProbe}, nil
	case config.SuiteStreaming:
		return []Probe{ReadProbe, StreamingReadProbe}, nil
	case config.SuiteRegions:
		return []Probe{MaskedReadProbe}, nil
	case config.SuiteRegionsStreaming:
		return []Probe{MaskedReadProbe, MaskedStreamingReadProbe}, nil
	default:
		return nil, fmt.Errorf("unknown suite %q", s)
	}
}

// ProbeBackends returns the union of backends measured by probes, in report order.
func ProbeBackends(probes []Probe) []types.Backend {
	var all []types.Backend
	for _, p := range probes {
		all = append(all, p.Backends()...)
	}
	return types.SortBackends(all)
}
