// README: Shared fixtures: fixed clock, seeded fleet, fault-injecting store.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/modules/fleet"
	"pharmadispatch/internal/types"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	auditLog *audit.MemoryStore
	fleet    *fleet.MemoryStore
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	auditLog := audit.NewMemoryStore()
	store := NewMemoryStore(auditLog, 200*time.Millisecond)

	fleetStore := fleet.NewMemoryStore()
	fleetStore.PutPharmacy(fleet.Pharmacy{LocalID: "756", Name: "Farmacia Providencia", Commune: "Providencia", Active: true})
	fleetStore.PutPharmacy(fleet.Pharmacy{LocalID: "812", Name: "Farmacia Ñuñoa", Commune: "Ñuñoa", Active: true})
	fleetStore.PutPharmacy(fleet.Pharmacy{LocalID: "900", Name: "Farmacia Cerrada", Active: false})
	fleetStore.PutRider(fleet.Rider{
		ID: 1, FirstName: "Ana", LastName: "Rojas",
		LicenseExpiresOn: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), Active: true,
	})
	fleetStore.PutRider(fleet.Rider{
		ID: 2, FirstName: "Pedro", LastName: "Soto",
		LicenseExpiresOn: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), Active: true,
	})
	fleetStore.AssignMotorcycle(1, fleet.Motorcycle{ID: 10, Plate: "KLXT-21", Active: true})

	clock := &testClock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	svc := NewService(store, fleet.NewService(fleetStore), Options{}, zap.NewNop())
	svc.now = clock.Now

	return &testEnv{svc: svc, store: store, auditLog: auditLog, fleet: fleetStore, clock: clock}
}

func homeDelivery() CreateCommand {
	return CreateCommand{
		OriginPharmacyID: "756",
		RiderID:          1,
		Type:             "DOMICILIO",
		Priority:         "MEDIA",
		CustomerName:     "María González",
		CustomerPhone:    "+56 9 1234 5678",
		Address:          "Av. Providencia 1234, Providencia",
	}
}

func prescriptionResend(code string) CreateCommand {
	cmd := homeDelivery()
	cmd.Code = code
	cmd.Type = "REENVIO_RECETA"
	cmd.PrescriptionNumber = "RX-88812"
	return cmd
}

func mustCreate(t *testing.T, svc *Service, cmd CreateCommand) *Dispatch {
	t.Helper()
	d, err := svc.Create(context.Background(), cmd)
	require.NoError(t, err)
	return d
}

func mustMove(t *testing.T, svc *Service, id int64, state Status) *Movement {
	t.Helper()
	actor := int64(42)
	mv, err := svc.RecordMovement(context.Background(), MovementCommand{DispatchID: id, State: string(state), ActorID: &actor})
	require.NoError(t, err, "move to %s", state)
	return mv
}

func moveThrough(t *testing.T, svc *Service, id int64, states ...Status) {
	t.Helper()
	for _, s := range states {
		mustMove(t, svc, id, s)
	}
}

func assertStatus(t *testing.T, svc *Service, id int64, want Status) {
	t.Helper()
	d, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, d.Status)
}

// assertTrailConsistent checks estado against the last movement.
func assertTrailConsistent(t *testing.T, store Store, id int64) {
	t.Helper()
	ctx := context.Background()
	d, err := store.Get(ctx, id)
	require.NoError(t, err)
	moves, err := store.Movements(ctx, id)
	require.NoError(t, err)
	if len(moves) == 0 {
		assert.Equal(t, StatusPending, d.Status)
		return
	}
	assert.Equal(t, moves[len(moves)-1].To, d.Status)
	for i := 1; i < len(moves); i++ {
		assert.Equal(t, moves[i-1].To, moves[i].From, "movement chain broken at %d", i)
	}
}

func auditOps(t *testing.T, store Store, id int64) []audit.Operation {
	t.Helper()
	entries, err := store.Audit(context.Background(), audit.Filter{
		Table: audit.TableDispatch, RecordID: strconv.FormatInt(id, 10),
	})
	require.NoError(t, err)
	ops := make([]audit.Operation, len(entries))
	// oldest first reads better in assertions
	for i, e := range entries {
		ops[len(entries)-1-i] = e.Operation
	}
	return ops
}

var errInjected = errors.New("injected failure")

// faultyStore fails the named step of every transaction.
type faultyStore struct {
	Store
	failAt string
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, failAt: f.failAt})
	})
}

type faultyTx struct {
	Tx
	failAt string
}

func (t *faultyTx) InsertMovement(ctx context.Context, m *Movement) error {
	if t.failAt == "movement" {
		return errInjected
	}
	return t.Tx.InsertMovement(ctx, m)
}

func (t *faultyTx) Update(ctx context.Context, d *Dispatch) error {
	if t.failAt == "update" {
		return errInjected
	}
	return t.Tx.Update(ctx, d)
}

func (t *faultyTx) InsertAudit(ctx context.Context, e *audit.Entry) error {
	if t.failAt == "audit" {
		return errInjected
	}
	return t.Tx.InsertAudit(ctx, e)
}

type stubGeocoder struct {
	point *types.Point
	err   error
	calls int
}

func (g *stubGeocoder) Geocode(_ context.Context, _ string) (*types.Point, error) {
	g.calls++
	return g.point, g.err
}
