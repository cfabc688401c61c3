package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for output paths that are neither JSON
// nor YAML.
var ErrUnsupportedFormat = fmt.Errorf("unsupported report format: use .json, .yaml or .yml")

// ValidateOutputPath fails fast on unknown report extensions so a scenario
// never runs to completion only to discover it cannot be saved.
func ValidateOutputPath(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return nil
	}
	return fmt.Errorf("%w (got %q)", ErrUnsupportedFormat, path)
}

// Save writes the report to path, choosing the encoding by extension.
func (r *Report) Save(path string) error {
	if err := ValidateOutputPath(path); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(r, "", "  ")
	default:
		data, err = yaml.Marshal(r)
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// Load reads a report back, for tooling and tests.
func Load(path string) (*Report, error) {
	if err := ValidateOutputPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}
	var r Report
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &r)
	default:
		err = yaml.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}
