package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the merged entity ids to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	IDs      []string // Merged entity ids for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.IDs) > 0 {
		fmt.Fprintf(&buf, "\nMerged entities:\n")
		for i, id := range e.IDs {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, id)
		}
	}
	return buf.String()
}

func entityIDs(result *Result) []string {
	ids := make([]string, len(result.Entities))
	for i, e := range result.Entities {
		ids[i] = e.ID
	}
	return ids
}

// assertEntity checks that the merged entity exists and matches the
// given schema, properties (subset) and datasets.
func assertEntity(result *Result, a Assertion) error {
	e, ok := result.Entity(a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("entity %s", a.ID),
			Actual:   "not found",
			IDs:      entityIDs(result),
		}
	}
	if a.Schema != "" && e.Schema != a.Schema {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s has schema %s", a.ID, a.Schema),
			Actual:   fmt.Sprintf("schema %s", e.Schema),
		}
	}
	for _, prop := range slices.Sorted(maps.Keys(a.Properties)) {
		want, got := a.Properties[prop], e.Properties[prop]
		if !slices.Equal(want, got) {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s.%s = %v", a.ID, prop, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	if a.Datasets != nil && !slices.Equal(a.Datasets, e.Datasets) {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s in datasets %v", a.ID, a.Datasets),
			Actual:   fmt.Sprintf("%v", e.Datasets),
		}
	}
	return nil
}

// assertAbsent checks that no merged entity has the id.
func assertAbsent(result *Result, a Assertion) error {
	if _, ok := result.Entity(a.ID); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no entity %s", a.ID),
			Actual:   "entity found",
		}
	}
	return nil
}

// assertConflict checks that the merge reported a matching conflict.
func assertConflict(result *Result, a Assertion) error {
	for _, c := range result.Conflicts {
		if c.EntityID == a.ID && string(c.Kind) == a.Kind && (a.Prop == "" || c.Property == a.Prop) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertConflict,
		Expected: fmt.Sprintf("%s conflict on %s %s", a.Kind, a.ID, a.Prop),
		Actual:   formatConflicts(result.Conflicts),
	}
}

func formatConflicts(conflicts []ir.Conflict) string {
	if len(conflicts) == 0 {
		return "no conflicts"
	}
	parts := make([]string, len(conflicts))
	for i, c := range conflicts {
		parts[i] = fmt.Sprintf("%s %s %s kept=%s", c.Kind, c.EntityID, c.Property, c.Kept)
	}
	return strings.Join(parts, "; ")
}

// assertCount compares one of the result counters.
func assertCount(kind string, actual int, a Assertion, result *Result) error {
	if actual == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%s = %d", kind, *a.Count),
		Actual:   fmt.Sprintf("%d", actual),
		IDs:      entityIDs(result),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEntity:
			err = assertEntity(result, assertion)
		case AssertAbsent:
			err = assertAbsent(result, assertion)
		case AssertConflict:
			err = assertConflict(result, assertion)
		case AssertEntityCount:
			err = assertCount(AssertEntityCount, len(result.Entities), assertion, result)
		case AssertStatements:
			err = assertCount(AssertStatements, result.Statements(), assertion, result)
		case AssertDropped:
			err = assertCount(AssertDropped, result.Dropped(), assertion, result)
		default:
			err = errors.Newf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
