// Package errors provides error handling for stitch.
//
// This package re-exports github.com/cockroachdb/errors and defines the
// error kinds every stage classifies its failures into. A kind is attached
// with Mark and checked with Is:
//
//	err = errors.Mark(errors.Wrap(err, "open store"), errors.ErrStore)
//	if errors.Is(err, errors.ErrStore) {
//	    // retry
//	}
//
// Kinds decide propagation. ErrConfig and exhausted ErrStore abort a run.
// ErrRecord, ErrEntity and ErrIDGeneration drop one record or entity.
// ErrMergeConflict is only ever reported as a diagnostic.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Mark           = crdb.Mark
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error kinds.
var (
	// ErrConfig marks malformed configuration: missing schema, cyclic
	// entity references, ambiguous property modes, unknown handlers.
	ErrConfig = New("config error")

	// ErrRecord marks a record that cannot be mapped (malformed field types).
	ErrRecord = New("record error")

	// ErrEntity marks an entity delta dropped because a required property
	// did not resolve.
	ErrEntity = New("entity error")

	// ErrIDGeneration marks identifier parts that all normalized to empty.
	ErrIDGeneration = New("id generation error")

	// ErrStore marks connectivity or write failures at the store boundary.
	ErrStore = New("store error")

	// ErrMergeConflict marks schema or single-valued property disagreement
	// between fragments of one entity.
	ErrMergeConflict = New("merge conflict")
)

// kinds is ordered for Kind lookups.
var kinds = []struct {
	err  error
	name string
}{
	{ErrConfig, "config"},
	{ErrRecord, "record"},
	{ErrEntity, "entity"},
	{ErrIDGeneration, "id_generation"},
	{ErrStore, "store"},
	{ErrMergeConflict, "merge_conflict"},
}

// Kind returns the short name of the first kind err is marked with,
// or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// IsFatal reports whether err must abort a run.
func IsFatal(err error) bool {
	return IsAny(err, ErrConfig, ErrStore)
}
