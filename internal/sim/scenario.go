package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// LoadScenario reads a scenario from a YAML file. An empty path returns
// the healthy default.
func LoadScenario(path string) (Scenario, error) {
	var s Scenario
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read scenario: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if s.NonStaticReports < 0 || s.CorruptSettings < 0 || s.CorruptRadio < 0 || s.DegradedChecks < 0 {
		return s, fmt.Errorf("scenario counts must not be negative")
	}
	if s.LinkDelay < 0 {
		return s, fmt.Errorf("linkDelay must not be negative")
	}
	return s, nil
}
