// Package merge reconstructs canonical entities from stored statements.
//
// Merging is a pure function of an entity's statement set. Statements are
// ordered by (seq, value, statement id) before folding, so the result does
// not depend on the order in which backends return them.
//
// Schema resolution: the claimed schemas are visited by first seq, then
// name. A schema on the same ancestor chain as the current one replaces it
// when more specific. An incomparable schema is rejected and reported as a
// SchemaConflict; a rejected schema that turns out to be an ancestor of the
// final one is not reported.
//
// Properties keep distinct values in first-write order. A single-valued
// property keeps its first value; the rest become a PropertyConflict.
// Conflicts are warnings and never fail a merge.
package merge
