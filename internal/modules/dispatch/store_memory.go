// README: In-memory dispatch store with per-dispatch locks and staged commits.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/types"
)

type MemoryStore struct {
	mu         sync.RWMutex
	dispatches map[int64]Dispatch
	codes      map[string]int64
	// reserved holds codes inserted by transactions that have not committed
	reserved   map[string]struct{}
	movements  map[int64][]Movement
	locks      map[int64]chan struct{}
	audit      *audit.MemoryStore
	lockWait   time.Duration

	nextID         int64
	nextMovementID int64
	codeSeq        int64
}

// NewMemoryStore shares auditLog so the audit service reads the same rows.
func NewMemoryStore(auditLog *audit.MemoryStore, lockWait time.Duration) *MemoryStore {
	if auditLog == nil {
		auditLog = audit.NewMemoryStore()
	}
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &MemoryStore{
		dispatches: make(map[int64]Dispatch),
		codes:      make(map[string]int64),
		reserved:   make(map[string]struct{}),
		movements:  make(map[int64][]Movement),
		locks:      make(map[int64]chan struct{}),
		audit:      auditLog,
		lockWait:   lockWait,
	}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{store: m, staged: make(map[int64]Dispatch)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) acquire(ctx context.Context, id int64) error {
	m.mu.Lock()
	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	m.mu.Unlock()

	timer := time.NewTimer(m.lockWait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrContention
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStore) releaseLock(id int64) {
	m.mu.RLock()
	ch := m.locks[id]
	m.mu.RUnlock()
	<-ch
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*Dispatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dispatches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) GetByCode(ctx context.Context, code string) (*Dispatch, error) {
	m.mu.RLock()
	id, ok := m.codes[code]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) Movements(_ context.Context, dispatchID int64) ([]Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Movement, len(m.movements[dispatchID]))
	copy(out, m.movements[dispatchID])
	return out, nil
}

func (m *MemoryStore) LatestPositions(_ context.Context, dispatchIDs []int64) (map[int64]types.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]types.Point)
	for _, id := range dispatchIDs {
		moves := m.movements[id]
		for i := len(moves) - 1; i >= 0; i-- {
			if moves[i].RiderPosition != nil {
				out[id] = *moves[i].RiderPosition
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) ListActive(_ context.Context, f ActiveFilter) ([]Dispatch, error) {
	out := m.filter(func(d *Dispatch) bool { return f.Match(d) })
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListPendingReturns(_ context.Context) ([]Dispatch, error) {
	out := m.filter(pendingReturn)
	sortByID(out)
	return out, nil
}

func (m *MemoryStore) ListRegistered(_ context.Context, from, to time.Time, pharmacyID string) ([]Dispatch, error) {
	out := m.filter(func(d *Dispatch) bool {
		if d.RegisteredAt.Before(from) || !d.RegisteredAt.Before(to) {
			return false
		}
		return pharmacyID == "" || d.OriginPharmacyID == pharmacyID
	})
	sortByID(out)
	return out, nil
}

func (m *MemoryStore) Audit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return m.audit.List(ctx, f)
}

func (m *MemoryStore) filter(keep func(d *Dispatch) bool) []Dispatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Dispatch
	for _, d := range m.dispatches {
		if keep(&d) {
			out = append(out, d)
		}
	}
	return out
}

func sortByID(ds []Dispatch) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
}

// memoryTx stages writes and publishes them on commit. Nothing staged is
// visible to other readers before that.
type memoryTx struct {
	store     *MemoryStore
	held      []int64
	staged    map[int64]Dispatch
	codes     []string
	movements []Movement
	audits    []*audit.Entry
}

func (tx *memoryTx) holds(id int64) bool {
	for _, h := range tx.held {
		if h == id {
			return true
		}
	}
	return false
}

func (tx *memoryTx) Lock(ctx context.Context, id int64) (*Dispatch, error) {
	if d, ok := tx.staged[id]; ok {
		return &d, nil
	}
	if !tx.holds(id) {
		if err := tx.store.acquire(ctx, id); err != nil {
			return nil, err
		}
		tx.held = append(tx.held, id)
	}
	d, err := tx.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.staged[id] = *d
	return d, nil
}

func (tx *memoryTx) NextCodeSequence(_ context.Context) (int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.codeSeq++
	return tx.store.codeSeq, nil
}

func (tx *memoryTx) Insert(_ context.Context, d *Dispatch) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if _, taken := tx.store.codes[d.Code]; taken {
		return ErrDuplicateCode
	}
	if _, taken := tx.store.reserved[d.Code]; taken {
		return ErrDuplicateCode
	}
	tx.store.reserved[d.Code] = struct{}{}
	tx.codes = append(tx.codes, d.Code)
	tx.store.nextID++
	d.ID = tx.store.nextID
	d.Version = 1
	tx.staged[d.ID] = *d
	return nil
}

func (tx *memoryTx) Update(_ context.Context, d *Dispatch) error {
	cur, ok := tx.staged[d.ID]
	if !ok || cur.Version != d.Version {
		return ErrContention
	}
	d.Version++
	tx.staged[d.ID] = *d
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, mv *Movement) error {
	tx.store.mu.Lock()
	tx.store.nextMovementID++
	mv.ID = tx.store.nextMovementID
	tx.store.mu.Unlock()
	tx.movements = append(tx.movements, *mv)
	return nil
}

func (tx *memoryTx) InsertAudit(_ context.Context, e *audit.Entry) error {
	tx.audits = append(tx.audits, e)
	return nil
}

func (tx *memoryTx) Audit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	committed, err := tx.store.audit.List(ctx, audit.Filter{
		Table: f.Table, RecordID: f.RecordID, Operations: f.Operations, Since: f.Since,
	})
	if err != nil {
		return nil, err
	}
	var staged []audit.Entry
	for i := len(tx.audits) - 1; i >= 0; i-- {
		if f.Match(tx.audits[i]) {
			staged = append(staged, *tx.audits[i])
		}
	}
	out := append(staged, committed...)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range tx.staged {
		s.dispatches[id] = d
		s.codes[d.Code] = id
	}
	for _, mv := range tx.movements {
		s.movements[mv.DispatchID] = append(s.movements[mv.DispatchID], mv)
	}
	for _, code := range tx.codes {
		delete(s.reserved, code)
	}
	tx.codes = nil
	s.audit.AppendBatch(tx.audits)
}

func (tx *memoryTx) release() {
	if len(tx.codes) > 0 {
		tx.store.mu.Lock()
		for _, code := range tx.codes {
			delete(tx.store.reserved, code)
		}
		tx.store.mu.Unlock()
		tx.codes = nil
	}
	for _, id := range tx.held {
		tx.store.releaseLock(id)
	}
	tx.held = nil
}
