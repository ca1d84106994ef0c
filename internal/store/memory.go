package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
)

// MemoryPath selects the in-memory backend in Open.
const MemoryPath = ":memory:"

// Memory is a thread-safe in-memory backend. Resources live in an LRU list;
// nothing survives a restart.
type Memory struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*node
	head    *node // most recently used
	tail    *node // least recently used

	pending []domain.PendingSyncItem
	history []domain.HistoryEntry // newest first
}

type node struct {
	entry Entry
	prev  *node
	next  *node
}

// NewMemory creates an empty in-memory backend.
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:    opts.withDefaults(),
		entries: make(map[string]*node),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if m.opts.expired(n.entry.StoredAt) {
		m.unlink(n)
		m.opts.evicted(1)
		return Entry{}, ErrNotFound
	}
	m.moveToFront(n)
	return cloneEntry(n.entry), nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	e = cloneEntry(e)
	if e.StoredAt.IsZero() {
		e.StoredAt = m.opts.Clock.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.entries[e.Key]; ok {
		n.entry = e
		m.moveToFront(n)
		return nil
	}

	n := &node{entry: e}
	m.entries[e.Key] = n
	m.addToFront(n)

	evicted := 0
	for len(m.entries) > m.opts.MaxEntries && m.tail != nil {
		m.unlink(m.tail)
		evicted++
	}
	m.opts.evicted(evicted)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.entries[key]; ok {
		m.unlink(n)
	}
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*node)
	m.head, m.tail = nil, nil
	return nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *Memory) moveToFront(n *node) {
	if n == m.head {
		return
	}
	m.remove(n)
	m.addToFront(n)
}

func (m *Memory) addToFront(n *node) {
	n.next = m.head
	n.prev = nil
	if m.head != nil {
		m.head.prev = n
	}
	m.head = n
	if m.tail == nil {
		m.tail = n
	}
}

func (m *Memory) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
}

func (m *Memory) unlink(n *node) {
	delete(m.entries, n.entry.Key)
	m.remove(n)
}

func cloneEntry(e Entry) Entry {
	e.Value = slices.Clone(e.Value)
	return e
}

func (m *Memory) Enqueue(_ context.Context, item domain.PendingSyncItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.opts.Clock.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.ID == item.ID {
			return fmt.Errorf("enqueueing %s: duplicate id", item.ID)
		}
	}
	m.pending = append(m.pending, item)
	return nil
}

func (m *Memory) Pending(_ context.Context, limit int) ([]domain.PendingSyncItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.pending
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return slices.Clone(items), nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("pending item %s: %w", id, ErrNotFound)
	}
	m.pending = slices.Delete(m.pending, i, i+1)
	return nil
}

func (m *Memory) MarkAttempt(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("pending item %s: %w", id, ErrNotFound)
	}
	m.pending[i].Attempts++
	return nil
}

func (m *Memory) PendingCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *Memory) indexOf(id string) int {
	return slices.IndexFunc(m.pending, func(p domain.PendingSyncItem) bool { return p.ID == id })
}

func (m *Memory) Append(_ context.Context, e domain.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Date.IsZero() {
		e.Date = m.opts.Clock.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = slices.Insert(m.history, 0, e)
	if len(m.history) > m.opts.HistoryLimit {
		m.history = m.history[:m.opts.HistoryLimit]
	}
	return nil
}

func (m *Memory) List(_ context.Context, limit int) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.history
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return slices.Clone(entries), nil
}

func (m *Memory) ClearHistory(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	return nil
}
