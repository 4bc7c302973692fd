package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/errors"
)

func TestDefault_Loads(t *testing.T) {
	c := Default()
	assert.NotEmpty(t, c.Version())
	for _, name := range []string{"Thing", "LegalEntity", "Organization", "Company", "Person", "Address", "Ownership"} {
		assert.True(t, c.Has(name), name)
	}
}

func TestIsAncestorOf(t *testing.T) {
	c := Default()

	assert.True(t, c.IsAncestorOf("LegalEntity", "Organization"))
	assert.True(t, c.IsAncestorOf("Thing", "Company"))
	assert.True(t, c.IsAncestorOf("Asset", "Company"))
	assert.False(t, c.IsAncestorOf("Organization", "Organization"), "strict")
	assert.False(t, c.IsAncestorOf("Organization", "LegalEntity"))
	assert.False(t, c.IsAncestorOf("Person", "Organization"))
	assert.False(t, c.IsAncestorOf("Thing", "Unknown"))
}

func TestMostSpecific(t *testing.T) {
	c := Default()

	tests := []struct {
		name    string
		schemas []string
		want    string
		ok      bool
	}{
		{"single", []string{"Person"}, "Person", true},
		{"chain", []string{"LegalEntity", "Company", "Organization"}, "Company", true},
		{"repeated", []string{"Thing", "Thing"}, "Thing", true},
		{"incomparable", []string{"Person", "Organization"}, "", false},
		{"unknown", []string{"Person", "Martian"}, "", false},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.MostSpecific(tt.schemas...)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProperty_Inherited(t *testing.T) {
	c := Default()

	p, ok := c.Property("Company", "name")
	require.True(t, ok)
	assert.Equal(t, "Thing", p.Schema)
	assert.Equal(t, TypeName, p.Type)

	p, ok = c.Property("Ownership", "owner")
	require.True(t, ok)
	assert.Equal(t, TypeEntity, p.Type)
	assert.Equal(t, "LegalEntity", p.Range)

	_, ok = c.Property("Address", "birthDate")
	assert.False(t, ok)

	assert.True(t, c.IsSingle("Person", "birthDate"))
	assert.False(t, c.IsSingle("Person", "name"))
}

func TestProperties_Sorted(t *testing.T) {
	props := Default().Properties("Organization")
	require.NotEmpty(t, props)
	for i := 1; i < len(props); i++ {
		assert.Less(t, props[i-1].Name, props[i].Name)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"empty", `version: "1"`, "no schemas"},
		{"unknown parent", `schemas: {A: {extends: [B]}}`, "unknown schema B"},
		{"cycle", `schemas: {A: {extends: [B]}, B: {extends: [A]}}`, "cycle"},
		{"bad type", `schemas: {A: {properties: {x: {type: blob}}}}`, "unknown type"},
		{"bad range", `schemas: {A: {properties: {x: {type: entity, range: Z}}}}`, "unknown schema Z"},
		{"unknown field", `schemas: {A: {parents: [B]}}`, "parents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.True(t, errors.Is(err, errors.ErrConfig))
		})
	}
}

func TestLoad_OwnPropertyOverridesInherited(t *testing.T) {
	c, err := Load(strings.NewReader(`
version: "t"
schemas:
  Base:
    properties:
      code: {type: string}
  Child:
    extends: [Base]
    properties:
      code: {type: identifier, single: true}
`))
	require.NoError(t, err)

	p, ok := c.Property("Child", "code")
	require.True(t, ok)
	assert.Equal(t, "Child", p.Schema)
	assert.True(t, p.Single)
	assert.Equal(t, []string{"Base", "Child"}, c.Names())
}

func TestResolve(t *testing.T) {
	c, err := Resolve("")
	require.NoError(t, err)
	assert.Same(t, Default(), c)

	_, err = Resolve("/does/not/exist.yaml")
	assert.True(t, errors.Is(err, errors.ErrConfig))
}
