package store

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// Store is the fragment store contract.
type Store interface {
	// Put inserts statements, ignoring ones already present, and returns
	// how many were new.
	Put(ctx context.Context, stmts []ir.Statement) (int, error)

	// Get returns every statement of entityID ordered by
	// ir.CompareStatements. Unknown ids yield an empty slice.
	Get(ctx context.Context, entityID string) ([]ir.Statement, error)

	// Scan yields distinct entity ids in ascending order. A yielded error
	// ends the sequence.
	Scan(ctx context.Context) iter.Seq2[string, error]

	Close() error
}

// Tags records keys for incremental runs.
type Tags interface {
	HasTag(ctx context.Context, key string) (bool, error)
	PutTag(ctx context.Context, key, value string) error
}

// Sequencer reports the highest seq written, so a new run's clock can
// continue after earlier runs.
type Sequencer interface {
	MaxSeq(ctx context.Context) (int64, error)
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Error is a backend failure. It matches errors.ErrStore, which the
// Retrying wrapper retries.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports the store error kind.
func (e *Error) Is(target error) bool { return target == errors.ErrStore }

func storeErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

// Open opens the backend selected by uri.
func Open(ctx context.Context, uri string) (Store, error) {
	scheme, rest, found := strings.Cut(uri, ":")
	if !found {
		return OpenSQLite(ctx, uri)
	}
	switch scheme {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, sqlitePath(rest))
	case "file":
		return OpenSQLite(ctx, uri)
	case "redis", "rediss":
		return OpenRedis(ctx, uri)
	default:
		return nil, errors.Mark(errors.Newf("unsupported store uri %q", uri), errors.ErrConfig)
	}
}

// sqlitePath turns the part after "sqlite:" into a driver DSN:
// "///tmp/a.db" -> "/tmp/a.db", "//a.db" -> "a.db", ":memory:" kept.
func sqlitePath(rest string) string {
	if strings.HasPrefix(rest, "//") {
		u, err := url.Parse("sqlite:" + rest)
		if err == nil {
			p := u.Host + u.Path
			if u.RawQuery != "" {
				p += "?" + u.RawQuery
			}
			return p
		}
	}
	return rest
}
