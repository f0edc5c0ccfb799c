package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

// Artifact file names inside a run directory.
const (
	TextFile  = "report.txt"
	JSONFile  = "report.json"
	YAMLFile  = "report.yaml"
	ProtoFile = "report.pb"
	ChartFile = "chart.png"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *SweepReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes the report as YAML.
func WriteYAML(w io.Writer, r *SweepReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// ToStruct converts the report into a protobuf Struct with the same field
// names as the JSON form.
func ToStruct(r *SweepReport) (*structpb.Struct, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return structpb.NewStruct(m)
}

// MarshalProto encodes the report in protobuf wire format.
func MarshalProto(r *SweepReport) ([]byte, error) {
	s, err := ToStruct(r)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// UnmarshalProto decodes a report produced by MarshalProto.
func UnmarshalProto(data []byte) (*SweepReport, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode protobuf report: %w", err)
	}
	raw, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var r SweepReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// WriteArtifacts writes every report form into dir and returns the written
// paths. The chart is skipped when chart is false or nothing succeeded.
func WriteArtifacts(dir string, r *SweepReport, chart bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	var paths []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}

	if err := write(TextFile, func(w io.Writer) error { return WriteTable(w, r, true) }); err != nil {
		return paths, err
	}
	if err := write(JSONFile, func(w io.Writer) error { return WriteJSON(w, r) }); err != nil {
		return paths, err
	}
	if err := write(YAMLFile, func(w io.Writer) error { return WriteYAML(w, r) }); err != nil {
		return paths, err
	}
	if err := write(ProtoFile, func(w io.Writer) error {
		data, err := MarshalProto(r)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}); err != nil {
		return paths, err
	}

	if chart && len(r.Failed()) < len(r.Entries) {
		path := filepath.Join(dir, ChartFile)
		if err := RenderChart(r, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
