// Package ir provides the canonical data types shared by every stitch stage.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Records are read-only once built; stages derive new records instead
//     of editing fields in place.
//   - EntityDelta is produced by a DeltaBuilder and is immutable once sealed.
//   - Statements are the unit of truth. MergedEntity is a projection and
//     is never persisted.
//   - Ordering uses the logical seq stamped by the encoder, never wall time.
//   - All JSON tags use snake_case.
package ir
