package ir

import (
	"cmp"
	"slices"
)

// IDProperty is the pseudo-property of the statement that records an
// entity's existence and schema even when it carries no other values.
const IDProperty = "id"

// Statement is one atomic fact about an entity with its provenance.
// Statements are never updated. Identity is (EntityID, Schema, Property,
// Value, Dataset); Origin and Seq describe the first write only.
type Statement struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	Schema   string `json:"schema"`
	Property string `json:"prop"`
	Value    string `json:"value"`
	Dataset  string `json:"dataset"`
	Origin   string `json:"origin"`
	Seq      int64  `json:"seq"`
}

// NewStatement builds a statement and computes its identity hash.
func NewStatement(entityID, schema, prop, value, dataset, origin string, seq int64) Statement {
	return Statement{
		ID:       StatementID(entityID, schema, prop, value, dataset),
		EntityID: entityID,
		Schema:   schema,
		Property: prop,
		Value:    value,
		Dataset:  dataset,
		Origin:   origin,
		Seq:      seq,
	}
}

// CompareStatements orders statements by seq, then value, then statement
// id. It is the tie-break every read path uses, so merges do not depend
// on insertion order.
func CompareStatements(a, b Statement) int {
	return cmp.Or(
		cmp.Compare(a.Seq, b.Seq),
		cmp.Compare(a.Value, b.Value),
		cmp.Compare(a.ID, b.ID),
	)
}

// SortStatements sorts stmts in place with CompareStatements.
func SortStatements(stmts []Statement) {
	slices.SortFunc(stmts, CompareStatements)
}
