package harness

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stitch/internal/errors"
)

// Scenario defines a conformance test scenario: dataset runs into one
// shared store, then assertions on the merged entities.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Runs are executed in order against the same store.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the merged entities.
	Assertions []Assertion `yaml:"assertions"`
}

// RunStep is one dataset run.
type RunStep struct {
	// Config is the dataset configuration, relative to the scenario file.
	Config string `yaml:"config"`

	// Source names the inline source. Defaults to "inline".
	Source string `yaml:"source,omitempty"`

	// Records replace the sources of the config when set.
	Records []map[string]any `yaml:"records,omitempty"`
}

// Assertion validates the merged result.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// ID is the entity id (entity, absent, conflict).
	ID string `yaml:"id,omitempty"`

	// Schema is the expected merged schema (entity).
	Schema string `yaml:"schema,omitempty"`

	// Properties must all be present with exactly these values (entity).
	// Properties not listed are not checked.
	Properties map[string][]string `yaml:"properties,omitempty"`

	// Datasets is the expected dataset list (entity).
	Datasets []string `yaml:"datasets,omitempty"`

	// Kind and Prop select a conflict (conflict).
	Kind string `yaml:"kind,omitempty"`
	Prop string `yaml:"prop,omitempty"`

	// Count is the expected number (entity_count, statements, dropped).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertEntity      = "entity"
	AssertAbsent      = "absent"
	AssertEntityCount = "entity_count"
	AssertConflict    = "conflict"
	AssertStatements  = "statements"
	AssertDropped     = "dropped"
)

// LoadScenario reads and parses a scenario YAML file. Config paths are
// resolved relative to the scenario file. Unknown fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario file")
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}

	base := filepath.Dir(path)
	for i, run := range scenario.Runs {
		if run.Config != "" && !filepath.IsAbs(run.Config) {
			scenario.Runs[i].Config = filepath.Join(base, run.Config)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Runs) == 0 {
		return errors.New("runs list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	for i, run := range s.Runs {
		if run.Config == "" {
			return errors.Newf("runs[%d]: config is required", i)
		}
		if _, err := os.Stat(run.Config); os.IsNotExist(err) {
			return errors.Newf("runs[%d]: config file not found: %s", i, run.Config)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return errors.Newf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntity, AssertAbsent:
		if a.ID == "" {
			return errors.Newf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertConflict:
		if a.ID == "" || a.Kind == "" {
			return errors.Newf("assertions[%d]: id and kind are required for conflict", index)
		}
	case AssertEntityCount, AssertStatements, AssertDropped:
		if a.Count == nil || *a.Count < 0 {
			return errors.Newf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	default:
		return errors.Newf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
