// README: In-memory audit log for local runs and tests.
package audit

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.AppendBatch([]*Entry{e})
	return nil
}

// AppendBatch writes all entries under one lock, assigning ids in order.
func (m *MemoryStore) AppendBatch(entries []*Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.nextID++
		e.ID = m.nextID
		m.entries = append(m.entries, cloneEntry(*e))
	}
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			out := cloneEntry(e)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for i := range m.entries {
		if f.Match(&m.entries[i]) {
			out = append(out, cloneEntry(m.entries[i]))
		}
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].At.Equal(entries[j].At) {
			return entries[i].At.After(entries[j].At)
		}
		return entries[i].ID > entries[j].ID
	})
}

func cloneEntry(e Entry) Entry {
	e.Old = cloneSnapshot(e.Old)
	e.New = cloneSnapshot(e.New)
	if e.UserID != nil {
		v := *e.UserID
		e.UserID = &v
	}
	return e
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
