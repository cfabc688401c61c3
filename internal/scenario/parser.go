package scenario

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a scenario file. The encoding is chosen by
// file extension: .json, .yaml or .yml.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var sc Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse scenario %s as JSON: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse scenario %s as YAML: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario format %q: use JSON or YAML", filepath.Ext(path))
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks structural invariants before any request is issued.
func (s *Scenario) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(s.Items) == 0 {
		return fmt.Errorf("at least one scenario item is required")
	}
	for i, item := range s.Items {
		if item.Call.Method == "" {
			return fmt.Errorf("item %d: call.method is required", i)
		}
		if item.Call.URL == "" {
			return fmt.Errorf("item %d: call.url is required", i)
		}
		if _, err := url.ParseRequestURI(item.Call.URL); err != nil {
			return fmt.Errorf("item %d: invalid call.url: %w", i, err)
		}
		if len(item.Context.Upstreams) == 0 {
			return fmt.Errorf("item %d: context.upstreams is required", i)
		}
		if _, err := item.Context.Fault.Build(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		if st := item.Context.Strategy; st != nil {
			if st.Mode != "repeat" {
				return fmt.Errorf("item %d: unknown strategy mode %q", i, st.Mode)
			}
			if st.Count <= 0 {
				return fmt.Errorf("item %d: strategy.count must be positive", i)
			}
			if st.Wait != nil && *st.Wait < 0 {
				return fmt.Errorf("item %d: strategy.wait must be non-negative", i)
			}
		}
	}
	return nil
}
