// README: In-memory fleet store for local runs and tests.
package fleet

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu          sync.RWMutex
	pharmacies  map[string]Pharmacy
	riders      map[int64]Rider
	motorcycles map[int64]Motorcycle // keyed by rider id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pharmacies:  make(map[string]Pharmacy),
		riders:      make(map[int64]Rider),
		motorcycles: make(map[int64]Motorcycle),
	}
}

func (m *MemoryStore) PutPharmacy(p Pharmacy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pharmacies[p.LocalID] = p
}

func (m *MemoryStore) PutRider(r Rider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[r.ID] = r
}

// AssignMotorcycle replaces the rider's active assignment.
func (m *MemoryStore) AssignMotorcycle(riderID int64, moto Motorcycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motorcycles[riderID] = moto
}

func (m *MemoryStore) GetPharmacy(_ context.Context, localID string) (*Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pharmacies[localID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListPharmacies(_ context.Context) ([]Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Pharmacy, 0, len(m.pharmacies))
	for _, p := range m.pharmacies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out, nil
}

func (m *MemoryStore) GetRider(_ context.Context, id int64) (*Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ActiveMotorcycle(_ context.Context, riderID int64) (*Motorcycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	moto, ok := m.motorcycles[riderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &moto, nil
}
