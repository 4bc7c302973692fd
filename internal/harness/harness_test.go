package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/store"
)

func TestRun_Fragments(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/fragments.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Runs, 2)
	assert.Equal(t, "fragments-1", result.Runs[0].RunID)
	assert.Empty(t, result.Conflicts)
}

func TestRun_Conflicts(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/conflicts.yaml")
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	result, err := Run(context.Background(), scenario, WithLogger(zap.New(core).Sugar()))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ir.Conflict{
		Kind:     ir.PropertyConflict,
		EntityID: "org-7",
		Property: "leiCode",
		Kept:     "AAA",
		Rejected: []string{"BBB"},
	}, result.Conflicts[0])
	assert.Equal(t, 1, logs.FilterMessage("merge conflict").Len())
	assert.Equal(t, 1, logs.FilterMessage("dropping entity: required property empty").Len())
}

func TestRun_FailedAssertions(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/fragments.yaml")
	require.NoError(t, err)
	two := 2
	scenario.Assertions = []Assertion{
		{Type: AssertEntityCount, Count: &two},
		{Type: AssertEntity, ID: "org-42", Schema: "Organization"},
		{Type: AssertEntity, ID: "org-42", Properties: map[string][]string{"name": {"ACME"}}},
		{Type: AssertAbsent, ID: "org-42"},
		{Type: AssertConflict, ID: "org-42", Kind: string(ir.SchemaConflict)},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "entity_count = 2")
	assert.Contains(t, result.Errors[0], "[1] org-42")
	assert.Contains(t, result.Errors[1], "schema Company")
	assert.Contains(t, result.Errors[2], "[Acme]")
	assert.Contains(t, result.Errors[3], "entity found")
	assert.Contains(t, result.Errors[4], "no conflicts")
}

func TestRun_SharedStore(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/fragments.yaml")
	require.NoError(t, err)
	mem := store.NewMemory()

	_, err = Run(context.Background(), scenario, WithStore(mem))
	require.NoError(t, err)
	again, err := Run(context.Background(), scenario, WithStore(mem))
	require.NoError(t, err)

	assert.Equal(t, 0, again.Statements(), "replaying a scenario writes nothing new")
	assert.False(t, again.Pass, "the statements assertion counts new statements only")
	require.Len(t, again.Entities, 1)
	assert.Equal(t, "Company", again.Entities[0].Schema)
}
