package visuals

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("visuals: not found")

// Source yields the full universe of saved visuals of a kind. The resolver
// only ever reads; anything that can enumerate visuals can feed it.
type Source interface {
	All(ctx context.Context, kind string) (map[Key]Visual, error)
}

// Table is the persistence contract for saved visuals. Builtin visuals are
// seeded at startup; user visuals are replaced wholesale on every edit, there
// are no partial updates.
type Table interface {
	Source
	Get(ctx context.Context, kind string, key Key) (Visual, error)
	Put(ctx context.Context, kind string, visual Visual) error
	Delete(ctx context.Context, kind string, key Key) error
}

// MemoryTable implements Table with in-process concurrency safety.
type MemoryTable struct {
	mu     sync.RWMutex
	tables map[string]map[Key]Visual
}

// NewMemoryTable creates an empty set of visual tables.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{tables: make(map[string]map[Key]Visual)}
}

func (t *MemoryTable) All(ctx context.Context, kind string) (map[Key]Visual, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Key]Visual, len(t.tables[kind]))
	for k, v := range t.tables[kind] {
		out[k] = v
	}
	return out, nil
}

func (t *MemoryTable) Get(ctx context.Context, kind string, key Key) (Visual, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.tables[kind][key]
	if !ok {
		return Visual{}, ErrNotFound
	}
	return v, nil
}

func (t *MemoryTable) Put(ctx context.Context, kind string, visual Visual) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	table := t.tables[kind]
	if table == nil {
		table = make(map[Key]Visual)
		t.tables[kind] = table
	}
	table[Key{Owner: visual.Owner, Name: visual.Name}] = visual
	return nil
}

func (t *MemoryTable) Delete(ctx context.Context, kind string, key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	table, ok := t.tables[kind]
	if !ok {
		return ErrNotFound
	}
	if _, ok := table[key]; !ok {
		return ErrNotFound
	}
	delete(table, key)
	return nil
}

var _ Table = (*MemoryTable)(nil)
