package store

import (
	"context"
	"database/sql"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// Get returns all statements of an entity.
// Ordered by seq ASC, value ASC, id ASC with COLLATE BINARY so the merge
// sees the same order on every read.
func (s *SQLite) Get(ctx context.Context, entityID string) ([]ir.Statement, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, schema, prop, value, dataset, origin, seq
		FROM statements
		WHERE entity_id = ?
		ORDER BY seq ASC, value COLLATE BINARY ASC, id COLLATE BINARY ASC
	`, entityID)
	if err != nil {
		return nil, storeErr(sqliteBackend, "get", err)
	}
	defer rows.Close()

	stmts, err := s.scanStatements(rows)
	if err != nil {
		return nil, storeErr(sqliteBackend, "get", err)
	}
	if stmts == nil {
		stmts = []ir.Statement{}
	}
	return stmts, nil
}

// HasTag reports whether key was recorded by an earlier run.
func (s *SQLite) HasTag(ctx context.Context, key string) (bool, error) {
	if err := s.open(); err != nil {
		return false, err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tags WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(sqliteBackend, "has tag", err)
	}
	return true, nil
}

// MaxSeq returns the highest seq stored, or 0 for an empty store.
func (s *SQLite) MaxSeq(ctx context.Context) (int64, error) {
	if err := s.open(); err != nil {
		return 0, err
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM statements`).Scan(&seq)
	if err != nil {
		return 0, storeErr(sqliteBackend, "max seq", err)
	}
	return seq, nil
}
