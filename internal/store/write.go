package store

import (
	"context"
	"fmt"

	"github.com/roach88/stitch/internal/ir"
)

// Put inserts statements in one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate ids are
// silently ignored. Other constraint violations still return errors.
func (s *SQLite) Put(ctx context.Context, stmts []ir.Statement) (int, error) {
	if err := s.open(); err != nil {
		return 0, err
	}
	if len(stmts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(sqliteBackend, "put", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO statements
		(id, entity_id, schema, prop, value, dataset, origin, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return 0, storeErr(sqliteBackend, "put", err)
	}
	defer insert.Close()

	inserted := 0
	for _, st := range stmts {
		res, err := insert.ExecContext(ctx, st.ID, st.EntityID, st.Schema, st.Property, st.Value, st.Dataset, st.Origin, st.Seq)
		if err != nil {
			return 0, storeErr(sqliteBackend, "put", fmt.Errorf("statement %s: %w", st.ID, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storeErr(sqliteBackend, "put", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr(sqliteBackend, "put", err)
	}
	return inserted, nil
}

// PutTag records an incremental-run key. Existing keys keep their value.
func (s *SQLite) PutTag(ctx context.Context, key, value string) error {
	if err := s.open(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, value)
	return storeErr(sqliteBackend, "put tag", err)
}
