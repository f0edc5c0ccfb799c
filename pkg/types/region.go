package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RegionSpec is an ordered list of region identifiers restricting a read.
// An empty spec means the whole domain.
type RegionSpec []string

// IsWholeDomain reports whether the spec restricts nothing.
func (r RegionSpec) IsWholeDomain() bool {
	return len(r) == 0
}

// String returns "all" for the whole domain and the comma-joined ids otherwise.
func (r RegionSpec) String() string {
	if r.IsWholeDomain() {
		return "all"
	}
	return strings.Join(r, ",")
}

// UnmarshalJSON accepts region ids written either as strings or as numbers.
func (r *RegionSpec) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("region spec must be a list: %w", err)
	}
	ids := make(RegionSpec, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			ids = append(ids, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("region id %s is neither a string nor a number", string(item))
		}
		ids = append(ids, n.String())
	}
	*r = ids
	return nil
}

// ParseRegionSpec parses the String form back into a spec.
func ParseRegionSpec(s string) RegionSpec {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return RegionSpec{}
	}
	parts := strings.Split(s, ",")
	spec := make(RegionSpec, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			spec = append(spec, p)
		}
	}
	return spec
}
