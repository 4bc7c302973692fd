package ir

// Dataset identifies the collection a run writes statements for.
type Dataset struct {
	Name    string `json:"name" yaml:"name"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix"`
	Title   string `json:"title,omitempty" yaml:"title"`
	Summary string `json:"summary,omitempty" yaml:"summary"`
	Catalog string `json:"catalog,omitempty" yaml:"catalog"`
}

// IDPrefix returns the identifier prefix, defaulting to the name.
func (d Dataset) IDPrefix() string {
	if d.Prefix != "" {
		return d.Prefix
	}
	return d.Name
}

// ConflictKind classifies merge disagreements.
type ConflictKind string

const (
	// SchemaConflict: fragments claim schemas on different ancestor chains.
	SchemaConflict ConflictKind = "schema_conflict"

	// PropertyConflict: a single-valued property has several values.
	PropertyConflict ConflictKind = "property_conflict"
)

// Conflict describes one merge disagreement. Kept is the value (or
// schema) the merge retained; Rejected lists the others in order.
type Conflict struct {
	Kind     ConflictKind `json:"kind"`
	EntityID string       `json:"entity_id"`
	Property string       `json:"prop,omitempty"`
	Kept     string       `json:"kept"`
	Rejected []string     `json:"rejected"`
}

// MergedEntity is the canonical entity reconstructed from all statements
// sharing one identifier. It is recomputed on every read.
type MergedEntity struct {
	ID         string              `json:"id"`
	Schema     string              `json:"schema"`
	Properties map[string][]string `json:"properties"`
	Datasets   []string            `json:"datasets"`
	Conflicts  []Conflict          `json:"conflicts,omitempty"`
}

// First returns the first value of prop, or "".
func (e MergedEntity) First(prop string) string {
	if vs := e.Properties[prop]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
