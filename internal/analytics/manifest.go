package analytics

import (
	"encoding/json"
	"fmt"
	"os"
)

// ManifestMismatchError is returned when live feature rows diverge from the
// training manifest. It intentionally aborts the scoring call: silently
// scoring against a rotated model with an incompatible feature contract is
// worse than failing loudly.
type ManifestMismatchError struct {
	Model   string
	Version int
	Detail  string
}

func (e *ManifestMismatchError) Error() string {
	return fmt.Sprintf("feature manifest mismatch for model %s v%d: %s", e.Model, e.Version, e.Detail)
}

// ManifestFeature is one expected feature column with its declared type.
// Dtype is one of "float", "int", "bool", "str".
type ManifestFeature struct {
	Name  string `json:"name"`
	Dtype string `json:"dtype"`
}

// FeatureManifest pins the exact feature contract a scorer was trained on.
type FeatureManifest struct {
	Model    string            `json:"model"`
	Version  int               `json:"version"`
	Features []ManifestFeature `json:"features"`
}

// ColumnNames returns the manifest's expected columns in declared order.
func (m *FeatureManifest) ColumnNames() []string {
	names := make([]string, len(m.Features))
	for i, f := range m.Features {
		names[i] = f.Name
	}
	return names
}

// LoadFeatureManifest reads and validates a manifest file.
func LoadFeatureManifest(path string) (*FeatureManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature manifest: %w", err)
	}
	return ParseFeatureManifest(raw)
}

// ParseFeatureManifest decodes manifest JSON and rejects empty feature lists.
func ParseFeatureManifest(raw []byte) (*FeatureManifest, error) {
	var m FeatureManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode feature manifest: %w", err)
	}
	if m.Model == "" {
		m.Model = "unknown"
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if len(m.Features) == 0 {
		return nil, &ManifestMismatchError{Model: m.Model, Version: m.Version, Detail: "manifest contains no features"}
	}
	return &m, nil
}

// FeatureValue is one typed live feature cell.
type FeatureValue struct {
	Name  string
	Value any
}

// FeatureRow is an ordered live feature vector. Order matters: validation
// compares the column sequence against the manifest exactly.
type FeatureRow []FeatureValue

// ValidateRows checks every live feature row against the manifest: exact
// column set and order, and strict value types. The first violation aborts
// the whole batch.
func (m *FeatureManifest) ValidateRows(rows []FeatureRow) error {
	for rowIdx, row := range rows {
		if len(row) != len(m.Features) {
			return &ManifestMismatchError{
				Model:   m.Model,
				Version: m.Version,
				Detail: fmt.Sprintf("row %d has %d columns, expected %d (%v)",
					rowIdx, len(row), len(m.Features), m.ColumnNames()),
			}
		}
		for i, cell := range row {
			expect := m.Features[i]
			if cell.Name != expect.Name {
				return &ManifestMismatchError{
					Model:   m.Model,
					Version: m.Version,
					Detail: fmt.Sprintf("row %d column %d is %q, expected %q",
						rowIdx, i, cell.Name, expect.Name),
				}
			}
			if !dtypeMatches(cell.Value, expect.Dtype) {
				return &ManifestMismatchError{
					Model:   m.Model,
					Version: m.Version,
					Detail: fmt.Sprintf("row %d column %q: value %v does not match dtype %q",
						rowIdx, cell.Name, cell.Value, expect.Dtype),
				}
			}
		}
	}
	return nil
}

func dtypeMatches(value any, dtype string) bool {
	if value == nil {
		return false
	}
	switch dtype {
	case "float":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
	case "int":
		switch value.(type) {
		case int, int32, int64:
			return true
		}
	case "bool":
		_, ok := value.(bool)
		return ok
	case "str":
		_, ok := value.(string)
		return ok
	}
	return false
}
