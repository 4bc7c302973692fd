package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

// backends returns one constructor per backend. Redis runs against an
// in-process server unless STITCH_TEST_REDIS_URL points at a real one.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	b := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stitch.db"))
			require.NoError(t, err)
			return s
		},
	}
	b["redis"] = func(t *testing.T) Store {
		url := os.Getenv("STITCH_TEST_REDIS_URL")
		if url == "" {
			url = "redis://" + miniredis.RunT(t).Addr()
		}
		s, err := OpenRedis(context.Background(), url+"?prefix=test-"+uuid.NewString())
		require.NoError(t, err)
		return s
	}
	return b
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func stmt(entity, prop, value string, seq int64) ir.Statement {
	return ir.NewStatement(entity, "Organization", prop, value, "gdho", "run-1/src", seq)
}

func TestStore_PutIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		batch := []ir.Statement{
			stmt("gdho-1", "id", "gdho-1", 1),
			stmt("gdho-1", "name", "Acme", 1),
			stmt("gdho-2", "name", "Beta", 2),
		}

		n, err := s.Put(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.Put(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		// Same fact from a later run keeps the first provenance.
		later := ir.NewStatement("gdho-1", "Organization", "name", "Acme", "gdho", "run-2/src", 9)
		n, err = s.Put(ctx, []ir.Statement{later, stmt("gdho-1", "alias", "ACME", 3)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.Get(ctx, "gdho-1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, st := range got {
			if st.Property == "name" {
				assert.Equal(t, "run-1/src", st.Origin)
				assert.Equal(t, int64(1), st.Seq)
			}
		}

		n, err = s.Put(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_GetOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Put(ctx, []ir.Statement{
			stmt("X", "name", "b", 2),
			stmt("X", "name", "z", 1),
			stmt("X", "name", "a", 2),
			stmt("Y", "name", "other", 1),
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, "X")
		require.NoError(t, err)
		values := make([]string, len(got))
		for i, st := range got {
			values[i] = st.Value
		}
		assert.Equal(t, []string{"z", "a", "b"}, values)
		assert.True(t, slices.IsSortedFunc(got, ir.CompareStatements))

		none, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestStore_ScanDistinctSorted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var batch []ir.Statement
		var want []string
		for i := range scanPage + 7 {
			id := fmt.Sprintf("e-%04d", i)
			want = append(want, id)
			batch = append(batch, stmt(id, "id", id, int64(i)), stmt(id, "name", "n", int64(i)))
		}
		slices.Reverse(batch)
		_, err := s.Put(ctx, batch)
		require.NoError(t, err)

		var got []string
		for id, err := range s.Scan(ctx) {
			require.NoError(t, err)
			got = append(got, id)
			// Reads during a scan must not block on the connection.
			if len(got) == 1 {
				stmts, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Len(t, stmts, 2)
			}
		}
		assert.Equal(t, want, got)
	})
}

func TestStore_ScanEarlyStop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Put(ctx, []ir.Statement{stmt("a", "name", "1", 1), stmt("b", "name", "2", 2)})
		require.NoError(t, err)
		for id, err := range s.Scan(ctx) {
			require.NoError(t, err)
			assert.Equal(t, "a", id)
			break
		}
	})
}

func TestStore_TagsAndMaxSeq(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tags, ok := s.(Tags)
		require.True(t, ok)
		has, err := tags.HasTag(ctx, "gdho:src:abc")
		require.NoError(t, err)
		assert.False(t, has)
		require.NoError(t, tags.PutTag(ctx, "gdho:src:abc", "run-1"))
		require.NoError(t, tags.PutTag(ctx, "gdho:src:abc", "run-2"))
		has, err = tags.HasTag(ctx, "gdho:src:abc")
		require.NoError(t, err)
		assert.True(t, has)

		seqr, ok := s.(Sequencer)
		require.True(t, ok)
		top, err := seqr.MaxSeq(ctx)
		require.NoError(t, err)
		assert.Zero(t, top)

		_, err = s.Put(ctx, []ir.Statement{stmt("a", "name", "1", 4), stmt("b", "name", "2", 11)})
		require.NoError(t, err)
		top, err = seqr.MaxSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(11), top)

		clock, err := ClockFor(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, int64(12), clock.Next())
	})
}

func TestStore_ValuesRoundTripExactly(t *testing.T) {
	values := map[string]string{
		"nfd":          "Cafe\u0301",
		"nfc":          "Caf\u00e9",
		"invalid utf8": "bad\xffbyte",
		"html":         "<a&b>",
		"control":      "line\nbreak\x01",
	}
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var batch []ir.Statement
		for _, v := range values {
			batch = append(batch, stmt("X", "name", v, 1))
		}
		n, err := s.Put(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, len(values), n, "NFD and NFC forms are distinct statements")

		got, err := s.Get(ctx, "X")
		require.NoError(t, err)
		require.Len(t, got, len(values))
		stored := make(map[string]bool)
		for _, st := range got {
			stored[st.Value] = true
			assert.Equal(t, ir.StatementID(st.EntityID, st.Schema, st.Property, st.Value, st.Dataset), st.ID,
				"id hashes from stored fields for %q", st.Value)
			assert.Equal(t, "run-1/src", st.Origin)
		}
		for name, v := range values {
			assert.True(t, stored[v], "%s value %q not returned byte-exact", name, v)
		}

		n, err = s.Put(ctx, batch)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_Closed(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.Close())
			_, err := s.Put(context.Background(), []ir.Statement{stmt("a", "name", "1", 1)})
			assert.ErrorIs(t, err, ErrClosed)
			assert.True(t, errors.Is(err, errors.ErrStore))
		})
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stitch.db")

	s1, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = s1.Put(ctx, []ir.Statement{stmt("a", "name", "1", 1)})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	for range 3 {
		s, err := OpenSQLite(ctx, path)
		require.NoError(t, err)
		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, got, 1)

		var version int
		require.NoError(t, s.DB().QueryRow("PRAGMA user_version").Scan(&version))
		assert.Equal(t, currentSchemaVersion, version)
		require.NoError(t, s.Close())
	}
}

func TestSQLite_Pragmas(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stitch.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_Dispatch(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory://")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	s.Close()

	path := filepath.Join(t.TempDir(), "a.db")
	s, err = Open(ctx, "sqlite://"+path)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	s.Close()
	assert.FileExists(t, path)

	_, err = Open(ctx, "postgres://localhost/x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestSQLitePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"///tmp/a.db", "/tmp/a.db"},
		{"//a.db", "a.db"},
		{":memory:", ":memory:"},
		{"rel/a.db", "rel/a.db"},
		{"///tmp/a.db?cache=shared", "/tmp/a.db?cache=shared"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sqlitePath(tt.in))
		})
	}
}

func TestEncoder(t *testing.T) {
	b := ir.NewDeltaBuilder("gdho-42", "Organization")
	require.NoError(t, b.Add("name", "Acme", "ACME"))
	require.NoError(t, b.Add("website", "acme.org"))
	d := b.Seal()

	enc := NewEncoder("gdho", "run-1", NewClockAt(10))
	stmts := enc.Encode(d, "orgs")
	require.Len(t, stmts, 4)

	assert.Equal(t, ir.IDProperty, stmts[0].Property)
	assert.Equal(t, "gdho-42", stmts[0].Value)
	for _, st := range stmts {
		assert.Equal(t, "gdho-42", st.EntityID)
		assert.Equal(t, "Organization", st.Schema)
		assert.Equal(t, "gdho", st.Dataset)
		assert.Equal(t, "run-1/orgs", st.Origin)
		assert.Equal(t, int64(11), st.Seq)
	}
	assert.Equal(t, []string{"name", "name", "website"},
		[]string{stmts[1].Property, stmts[2].Property, stmts[3].Property})

	next := enc.Encode(d, "")
	assert.Equal(t, int64(12), next[0].Seq)
	assert.Equal(t, "run-1", next[0].Origin)
	assert.Equal(t, stmts[1].ID, next[1].ID, "identity ignores origin and seq")
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}
