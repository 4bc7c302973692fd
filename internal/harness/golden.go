package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stitch/internal/ir"
)

// Snapshot captures the merged outcome of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	ScenarioName string
	Runs         []RunStats
	Entities     []ir.MergedEntity
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical
// JSON serialization.
func (s *Snapshot) toCanonicalMap() map[string]any {
	runs := make([]any, len(s.Runs))
	for i, r := range s.Runs {
		runs[i] = map[string]any{
			"run_id":     r.RunID,
			"dataset":    r.Dataset,
			"records":    r.Records,
			"failed":     r.Failed,
			"entities":   r.Entities,
			"dropped":    r.Dropped,
			"statements": r.Statements,
		}
	}
	entities := make([]any, len(s.Entities))
	for i, e := range s.Entities {
		entities[i] = e.CanonicalMap()
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"runs":          runs,
		"entities":      entities,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Runs:         result.Runs,
		Entities:     result.Entities,
	}
	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
