package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memEntry struct {
	seq   uint64
	value []byte
}

// MemoryStore is an in-process Store. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	nextSeq uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry)}
}

// Backend implements Store.
func (m *MemoryStore) Backend() string { return "memory" }

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(e.value), nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, value)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return ErrNotFound
	}
	delete(m.entries, key)
	return nil
}

// Scan implements Store.
func (m *MemoryStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	type item struct {
		key string
		memEntry
	}

	m.mu.RLock()
	items := make([]item, 0, len(m.entries))
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			items = append(items, item{key: k, memEntry: memEntry{seq: e.seq, value: cloneBytes(e.value)}})
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(it.key, it.value); err != nil {
			return err
		}
	}
	return nil
}

// Update implements Store. Writes are staged in the transaction and applied
// under the store lock only when fn succeeds.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, pending: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, key := range tx.order {
		value := tx.pending[key]
		if value == nil {
			delete(m.entries, key)
			continue
		}
		m.putLocked(key, value)
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) putLocked(key string, value []byte) {
	e, ok := m.entries[key]
	if !ok {
		m.nextSeq++
		e.seq = m.nextSeq
	}
	e.value = cloneBytes(value)
	m.entries[key] = e
}

// memTx runs with the store lock already held. A nil pending value marks a
// delete.
type memTx struct {
	store   *MemoryStore
	pending map[string][]byte
	order   []string
}

func (t *memTx) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := t.pending[key]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return cloneBytes(v), nil
	}
	e, ok := t.store.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(e.value), nil
}

func (t *memTx) Put(_ context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	t.stage(key, cloneBytes(value))
	return nil
}

func (t *memTx) Delete(ctx context.Context, key string) error {
	if _, err := t.Get(ctx, key); err != nil {
		return err
	}
	t.stage(key, nil)
	return nil
}

func (t *memTx) stage(key string, value []byte) {
	if _, seen := t.pending[key]; !seen {
		t.order = append(t.order, key)
	}
	t.pending[key] = value
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
