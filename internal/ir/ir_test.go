package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord_FieldOrder(t *testing.T) {
	r := NewRecord([]string{"Id", "Name", "Missing"}, map[string]any{
		"Name":    "Acme",
		"Id":      "42",
		"Website": "acme.org",
		"Country": "fr",
	})
	assert.Equal(t, []string{"Id", "Name", "Country", "Website"}, r.Fields())

	v, ok := r.Get("Name")
	require.True(t, ok)
	assert.Equal(t, "Acme", v)

	_, ok = r.Get("Missing")
	assert.False(t, ok)
}

func TestRecord_WithDoesNotMutate(t *testing.T) {
	r := RecordFromMap(map[string]any{"a": "1"})
	tagged := r.With(SourceField, "src")

	assert.Equal(t, "", r.Source())
	assert.Equal(t, "src", tagged.Source())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, tagged.Len())

	untagged := tagged.Without(SourceField)
	assert.Equal(t, []string{"a"}, untagged.Fields())
}

func TestRecord_JSONKeepsKeyOrder(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"z":"1","a":2,"m":null}`), &r))
	assert.Equal(t, []string{"z", "a", "m"}, r.Fields())

	v, _ := r.Get("a")
	assert.Equal(t, json.Number("2"), v)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"1","a":2,"m":null}`, string(out))
}

func TestRecord_UnmarshalRejectsNonObject(t *testing.T) {
	var r Record
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &r))
}

func TestDeltaBuilder_DedupAndOrder(t *testing.T) {
	b := NewDeltaBuilder("gdho-42", "Organization")
	require.NoError(t, b.Add("name", "Acme", " Acme ", "", "ACME"))
	require.NoError(t, b.Add("website", "acme.org"))
	require.NoError(t, b.Add("alias"))
	require.NoError(t, b.Add("name", "Acme"))

	d := b.Seal()
	assert.Equal(t, "gdho-42", d.ID())
	assert.Equal(t, "Organization", d.Schema())
	assert.Equal(t, []string{"name", "website"}, d.Properties())
	assert.Equal(t, []string{"Acme", "ACME"}, d.Values("name"))
	assert.Equal(t, "acme.org", d.First("website"))
	assert.Equal(t, 3, d.Len())
}

func TestDeltaBuilder_SealedRejectsMutation(t *testing.T) {
	b := NewDeltaBuilder("x", "Thing")
	require.NoError(t, b.Add("name", "a"))
	d := b.Seal()

	assert.ErrorIs(t, b.Add("name", "b"), ErrSealed)
	assert.Equal(t, []string{"a"}, d.Values("name"))

	values := d.Values("name")
	values[0] = "changed"
	assert.Equal(t, "a", d.First("name"), "returned slices are copies")
}

func TestEntityDelta_Merge(t *testing.T) {
	a := NewDeltaBuilder("p1", "Person")
	require.NoError(t, a.Add("name", "Jane"))
	b := NewDeltaBuilder("p1", "LegalEntity")
	require.NoError(t, b.Add("name", "Jane", "J. Doe"))
	require.NoError(t, b.Add("country", "fr"))

	merged, err := a.Seal().Merge(b.Seal())
	require.NoError(t, err)
	assert.Equal(t, "Person", merged.Schema())
	assert.Equal(t, []string{"Jane", "J. Doe"}, merged.Values("name"))
	assert.Equal(t, []string{"name", "country"}, merged.Properties())

	_, err = a.Seal().Merge(NewDeltaBuilder("other", "Person").Seal())
	assert.Error(t, err)
}

func TestStatementID_IdentityFields(t *testing.T) {
	s1 := NewStatement("X", "Organization", "name", "Acme", "A", "run-1", 1)
	s2 := NewStatement("X", "Organization", "name", "Acme", "A", "run-2", 99)
	s3 := NewStatement("X", "Organization", "name", "Acme", "B", "run-1", 1)

	assert.Equal(t, s1.ID, s2.ID, "origin and seq are not identity")
	assert.NotEqual(t, s1.ID, s3.ID, "dataset is identity")
	assert.Len(t, s1.ID, 64)
}

func TestStatementID_FieldBoundaries(t *testing.T) {
	assert.NotEqual(t,
		StatementID("ab", "c", "p", "v", "d"),
		StatementID("a", "bc", "p", "v", "d"),
	)
}

func TestSortStatements(t *testing.T) {
	stmts := []Statement{
		NewStatement("X", "Thing", "name", "b", "A", "", 2),
		NewStatement("X", "Thing", "name", "z", "A", "", 1),
		NewStatement("X", "Thing", "name", "a", "A", "", 2),
	}
	SortStatements(stmts)
	assert.Equal(t, []string{"z", "a", "b"}, []string{stmts[0].Value, stmts[1].Value, stmts[2].Value})
}

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"no html escape", "<a&b>", `"<a&b>"`},
		{"control chars", "a\nb\x01", `"a\nb\u0001"`},
		{"line separator kept", "a\u2028b", "\"a\u2028b\""},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"strings keep order", []string{"b", "a"}, `["b","a"]`},
		{"sorted keys", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"multi map", map[string][]string{"name": {"Acme"}}, `{"name":["Acme"]}`},
		{"nfc", "e\u0301", "\"\u00e9\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonical_Forbidden(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)
	_, err = MarshalCanonical(1.5)
	assert.Error(t, err)
	_, err = MarshalCanonical(map[string]any{"x": 2.0})
	assert.Error(t, err)
}

func TestMergedEntity_CanonicalMap(t *testing.T) {
	e := MergedEntity{
		ID:         "X",
		Schema:     "Organization",
		Properties: map[string][]string{"website": {"acme.org"}, "name": {"Acme"}},
		Datasets:   []string{"A", "B"},
	}
	out, err := MarshalCanonical(e.CanonicalMap())
	require.NoError(t, err)
	assert.Equal(t,
		`{"datasets":["A","B"],"id":"X","properties":{"name":["Acme"],"website":["acme.org"]},"schema":"Organization"}`,
		string(out))
}

func TestDataset_IDPrefix(t *testing.T) {
	assert.Equal(t, "gdho", Dataset{Name: "gdho"}.IDPrefix())
	assert.Equal(t, "eu", Dataset{Name: "eu_authorities", Prefix: "eu"}.IDPrefix())
}
