// Package store persists entity statements.
//
// The fragment store is append-only and idempotent. A statement is keyed
// by its content hash (see ir.StatementID); writing it again is a no-op.
// Statements are never updated: a changed value is a new statement.
//
// # Backends
//
// Open selects a backend by URI:
//   - memory://              process-lifetime map
//   - sqlite:///path/to.db   SQLite via mattn/go-sqlite3 (also file: and bare paths)
//   - redis://host:port/db   Redis via go-redis, one hash per entity
//
// All backends satisfy the same contract:
//   - Put returns the number of newly inserted statements
//   - Get returns an entity's statements ordered by seq, value, then id
//   - Scan yields distinct entity ids in ascending byte order
//
// Writers never coordinate. Each statement insert is atomic on its own, so
// concurrent pipeline runs may share one store.
//
// # SQLite configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Retrying wraps any backend with bounded exponential backoff on store errors.
package store
