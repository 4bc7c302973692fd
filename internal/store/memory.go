package store

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/roach88/stitch/internal/ir"
)

const memoryBackend = "memory"

// Memory is an in-process store. Contents live until Close.
type Memory struct {
	mu       sync.RWMutex
	closed   bool
	seen     map[string]struct{}
	entities map[string][]ir.Statement
	tags     map[string]string
	maxSeq   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		seen:     make(map[string]struct{}),
		entities: make(map[string][]ir.Statement),
		tags:     make(map[string]string),
	}
}

var (
	_ Store     = (*Memory)(nil)
	_ Tags      = (*Memory)(nil)
	_ Sequencer = (*Memory)(nil)
)

func (m *Memory) Put(ctx context.Context, stmts []ir.Statement) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, storeErr(memoryBackend, "put", ErrClosed)
	}
	inserted := 0
	for _, st := range stmts {
		if _, ok := m.seen[st.ID]; ok {
			continue
		}
		m.seen[st.ID] = struct{}{}
		m.entities[st.EntityID] = append(m.entities[st.EntityID], st)
		m.maxSeq = max(m.maxSeq, st.Seq)
		inserted++
	}
	return inserted, nil
}

func (m *Memory) Get(ctx context.Context, entityID string) ([]ir.Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, storeErr(memoryBackend, "get", ErrClosed)
	}
	stmts := slices.Clone(m.entities[entityID])
	if stmts == nil {
		stmts = []ir.Statement{}
	}
	ir.SortStatements(stmts)
	return stmts, nil
}

// Scan snapshots the id set when iteration starts.
func (m *Memory) Scan(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield("", storeErr(memoryBackend, "scan", ErrClosed))
			return
		}
		ids := make([]string, 0, len(m.entities))
		for id := range m.entities {
			ids = append(ids, id)
		}
		m.mu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (m *Memory) HasTag(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tags[key]
	return ok, nil
}

func (m *Memory) PutTag(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tags[key]; !ok {
		m.tags[key] = value
	}
	return nil
}

func (m *Memory) MaxSeq(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSeq, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entities = nil
	m.seen = nil
	return nil
}
