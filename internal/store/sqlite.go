package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"iter"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/stitch/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Statements keyed by content hash, tags table
// 2 - Dataset index for scoped exports
const currentSchemaVersion = 2

const sqliteBackend = "sqlite"

// scanPage bounds how many ids a Scan reads per query. Scan releases the
// single connection between pages so callers may Get while iterating.
const scanPage = 512

// SQLite is the durable statement store.
// Uses SQLite with WAL mode for concurrent read access.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeErr(sqliteBackend, "open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeErr(sqliteBackend, "connect", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := NewSQLite(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite prepares an already open database handle.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if err := applyPragmas(ctx, db); err != nil {
		return nil, storeErr(sqliteBackend, "pragmas", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, storeErr(sqliteBackend, "schema", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying sql.DB for direct queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(ctx, db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}
	if version == currentSchemaVersion {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV2(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_statements_dataset
		ON statements(dataset)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func (s *SQLite) open() error {
	if s.db == nil {
		return storeErr(sqliteBackend, "use", ErrClosed)
	}
	return nil
}

var (
	_ Store     = (*SQLite)(nil)
	_ Tags      = (*SQLite)(nil)
	_ Sequencer = (*SQLite)(nil)
)

// Scan yields distinct entity ids in ascending byte order. It reads
// keyset pages bounded by the rowid high-water mark at scan start, so
// statements inserted mid-scan are not visited.
func (s *SQLite) Scan(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := s.open(); err != nil {
			yield("", err)
			return
		}
		var snapshot int64
		err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid), 0) FROM statements`).Scan(&snapshot)
		if err != nil {
			yield("", storeErr(sqliteBackend, "scan", err))
			return
		}
		cursor := ""
		for {
			page, err := s.scanPage(ctx, snapshot, cursor)
			if err != nil {
				yield("", err)
				return
			}
			for _, id := range page {
				if !yield(id, nil) {
					return
				}
			}
			if len(page) < scanPage {
				return
			}
			cursor = page[len(page)-1]
		}
	}
}

func (s *SQLite) scanPage(ctx context.Context, snapshot int64, after string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM statements
		WHERE rowid <= ? AND entity_id > ?
		ORDER BY entity_id COLLATE BINARY ASC
		LIMIT ?
	`, snapshot, after, scanPage)
	if err != nil {
		return nil, storeErr(sqliteBackend, "scan", err)
	}
	defer rows.Close()

	page := make([]string, 0, scanPage)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(sqliteBackend, "scan", err)
		}
		page = append(page, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(sqliteBackend, "scan", err)
	}
	return page, nil
}

func (s *SQLite) scanStatements(rows *sql.Rows) ([]ir.Statement, error) {
	var stmts []ir.Statement
	for rows.Next() {
		var st ir.Statement
		if err := rows.Scan(&st.ID, &st.EntityID, &st.Schema, &st.Property, &st.Value, &st.Dataset, &st.Origin, &st.Seq); err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	return stmts, rows.Err()
}
